// Package notifier delivers reminder text to a chat recipient.
//
// Recipient identifiers are opaque strings: a numeric Telegram chat id or a
// public "@channel" name both work. A Send call makes exactly one delivery
// attempt; retries are left to the caller.
package notifier
