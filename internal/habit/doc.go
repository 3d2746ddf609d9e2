// Package habit holds the habit tracker's data model: users, habits,
// completions and the reminder ledger, plus the clock-time rules shared by the
// store and the reminder dispatcher.
package habit
