package habit

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

var (
	reStrictClock  = regexp.MustCompile(`^(\d{2}):(\d{2})$`)
	reLenientClock = regexp.MustCompile(`^(\d{1,2}):(\d{1,2})$`)
)

// ParseClock validates a strict HH:MM value (two digits each, 00:00-23:59).
// "9:00", "24:00" and "09:60" are rejected.
func ParseClock(raw string) (string, error) {
	m := reStrictClock.FindStringSubmatch(raw)
	if m == nil {
		return "", fmt.Errorf("%w: %q, expected HH:MM", ErrInvalidTimeFormat, raw)
	}
	return clockFromParts(raw, m[1], m[2])
}

// NormalizeClock accepts one or two digit hours and minutes, surrounding
// whitespace included, and returns the canonical HH:MM form ("9:5" -> "09:05").
// Stored reminder times go through this.
func NormalizeClock(raw string) (string, error) {
	m := reLenientClock.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", fmt.Errorf("%w: %q, expected HH:MM", ErrInvalidTimeFormat, raw)
	}
	return clockFromParts(raw, m[1], m[2])
}

func clockFromParts(raw, hh, mm string) (string, error) {
	h, err := strconv.Atoi(hh)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeFormat, raw)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeFormat, raw)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return "", fmt.Errorf("%w: %q, expected 00:00-23:59", ErrInvalidTimeFormat, raw)
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// ClockOf formats t truncated to the minute.
func ClockOf(t time.Time) string { return t.Format(ClockLayout) }

// DateOf formats the calendar date of t.
func DateOf(t time.Time) string { return t.Format(DateLayout) }

// SentAtKey is the ledger key for a reminder: "<date> <HH:MM>".
func SentAtKey(day time.Time, clock string) string {
	return DateOf(day) + " " + clock
}
