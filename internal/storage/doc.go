package storage

// Package storage persists the bot's user-facing state in SQLite:
//
//   - currency display preferences
//   - base and personal price subscriptions
//   - user clock settings
//   - tier state and paid-period expiry
