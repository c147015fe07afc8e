// Package logx is a thin structured-logging layer over zerolog.
//
// It provides:
//   - a value-type Logger with With()-style fixed fields
//   - a Service that can swap sinks/levels at runtime (config reload)
//   - an optional Telegram sink for operator alerts, rate-limited so a
//     flapping component cannot flood the chat
package logx
