// Package tgui provides small Telegram UI helpers: inline keyboard
// builders and callback data packing ("scope:action:payload").
package tgui
