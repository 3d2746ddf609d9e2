// Package storage persists habitbot's data model.
//
// It stores:
//   - Users (registered through the chat bot, keyed by chat id)
//   - Habits and their daily completions
//   - The reminder ledger used to avoid duplicate reminder sends
//
// Every Store method is one logical transaction against a shared sqlite file.
package storage
