package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ClockTime is a wall-clock time of day stored as minutes since midnight.
type ClockTime int

// NewClockTime builds a ClockTime from hours and minutes.
func NewClockTime(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

// ParseClockTime parses an HH:MM string.
func ParseClockTime(raw string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return NewClockTime(hour, minute), nil
}

// String renders the time as HH:MM.
func (t ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// MarshalText implements encoding.TextMarshaler.
func (t ClockTime) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ClockTime) UnmarshalText(text []byte) error {
	parsed, err := ParseClockTime(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TimeWindow is a recurring weekly interval. DayOfWeek runs 1 (Monday) to 7 (Sunday).
type TimeWindow struct {
	DayOfWeek int       `json:"day_of_week" yaml:"day_of_week" validate:"min=1,max=7"`
	Start     ClockTime `json:"start" yaml:"start"`
	End       ClockTime `json:"end" yaml:"end"`
}

// Contains reports whether [start,end) on day fits entirely inside the window.
func (w TimeWindow) Contains(day int, start, end ClockTime) bool {
	return w.DayOfWeek == day && w.Start <= start && end <= w.End
}

// Overlaps reports whether two intervals share any time on the same day.
func Overlaps(dayA int, startA, endA ClockTime, dayB int, startB, endB ClockTime) bool {
	return dayA == dayB && startA < endB && startB < endA
}

// WindowsContain reports whether any window fully contains the interval.
func WindowsContain(windows []TimeWindow, day int, start, end ClockTime) bool {
	for _, w := range windows {
		if w.Contains(day, start, end) {
			return true
		}
	}
	return false
}
