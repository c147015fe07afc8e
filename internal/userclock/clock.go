// Package userclock converts between a user's local wall clock and UTC.
//
// Two methods are supported: an IANA zone captured from a shared location
// (DST-correct) and a fixed minute offset derived from a manually entered
// local time (no DST adjustment).
package userclock

import (
	"fmt"
	"time"
)

type Method string

const (
	MethodUnset    Method = ""
	MethodLocation Method = "location"
	MethodManual   Method = "manual"
)

// Setting is a user's time configuration. At most one per user;
// last write wins.
type Setting struct {
	Timezone      string // IANA name, only meaningful for MethodLocation
	OffsetMinutes int
	Method        Method
}

// IsSet reports whether the user configured their clock at all.
func (s Setting) IsSet() bool { return s.Method != MethodUnset }

func (s Setting) location() (*time.Location, bool) {
	if s.Method != MethodLocation || s.Timezone == "" {
		return nil, false
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, false
	}
	return loc, true
}

// ToLocal converts a UTC instant to the user's local wall clock.
func ToLocal(utc time.Time, s Setting) time.Time {
	if loc, ok := s.location(); ok {
		return utc.In(loc)
	}
	return utc.UTC().Add(time.Duration(s.OffsetMinutes) * time.Minute)
}

// ToUTC converts a user-local wall-clock time back to UTC.
// ToUTC(ToLocal(x)) == x for both methods.
func ToUTC(local time.Time, s Setting) time.Time {
	if loc, ok := s.location(); ok {
		// Reinterpret the wall clock in the user's zone.
		return time.Date(local.Year(), local.Month(), local.Day(),
			local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), loc).UTC()
	}
	return local.Add(-time.Duration(s.OffsetMinutes) * time.Minute).UTC()
}

// OffsetFromLocalHHMM derives a fixed offset from a manually entered local
// time. The entered HH:MM is assumed to be "now" on the user's clock; the
// result is rounded to 5 minutes and normalized into (-12h, +12h].
func OffsetFromLocalHHMM(hour, minute int, nowUTC time.Time) int {
	nowUTC = nowUTC.UTC()
	local := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), hour, minute, 0, 0, time.UTC)
	if local.Before(nowUTC) {
		local = local.Add(24 * time.Hour)
	}
	minutes := local.Sub(nowUTC).Minutes()
	offset := int(minutes/5.0+0.5) * 5
	if offset > 720 {
		offset -= 1440
	}
	return offset
}

// FormatOffset renders a signed minute offset as "UTC+05:30" / "UTC-05:00".
func FormatOffset(offsetMinutes int) string {
	sign := "+"
	if offsetMinutes < 0 {
		sign = "-"
		offsetMinutes = -offsetMinutes
	}
	return fmt.Sprintf("UTC%s%02d:%02d", sign, offsetMinutes/60, offsetMinutes%60)
}

// ParseHHMM validates a "HH:MM" 24-hour string.
func ParseHHMM(text string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(text, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", text)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %q out of range", text)
	}
	return hour, minute, nil
}
