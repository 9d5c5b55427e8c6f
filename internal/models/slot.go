package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// TimeSlot is a parsed "HH:mm-HH:mm" label anchored on a booking date.
type TimeSlot struct {
	Label string
	Start time.Time
	End   time.Time
}

// ParseDate parses a YYYY-MM-DD civil date at midnight in loc.
func ParseDate(date string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}
	return d, nil
}

// ParseSlot turns a slot label into instants on date. "24:00" is accepted as an end of day.
// Slots whose end is not after their start are rejected.
func ParseSlot(date, label string, loc *time.Location) (TimeSlot, error) {
	day, err := ParseDate(date, loc)
	if err != nil {
		return TimeSlot{}, err
	}

	parts := strings.Split(strings.TrimSpace(label), "-")
	if len(parts) != 2 {
		return TimeSlot{}, fmt.Errorf("invalid slot %q, expected HH:mm-HH:mm", label)
	}

	start, err := ClockOnDate(day, parts[0])
	if err != nil {
		return TimeSlot{}, fmt.Errorf("slot %q: %w", label, err)
	}
	end, err := ClockOnDate(day, parts[1])
	if err != nil {
		return TimeSlot{}, fmt.Errorf("slot %q: %w", label, err)
	}
	if !end.After(start) {
		return TimeSlot{}, fmt.Errorf("slot %q: end must be after start", label)
	}

	return TimeSlot{Label: strings.TrimSpace(label), Start: start, End: end}, nil
}

// ClockOnDate places an "HH:mm" wall-clock value on day.
func ClockOnDate(day time.Time, clock string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) != 2 || len(parts[1]) != 2 {
		return time.Time{}, fmt.Errorf("invalid time %q, expected HH:mm", clock)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid hour in %q", clock)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid minute in %q", clock)
	}
	if hour < 0 || hour > 24 || minute < 0 || minute > 59 || (hour == 24 && minute != 0) {
		return time.Time{}, fmt.Errorf("time %q out of range", clock)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location()), nil
}

// Overlaps reports whether two slots share any instant.
func (s TimeSlot) Overlaps(other TimeSlot) bool {
	return s.Start.Before(other.End) && other.Start.Before(s.End)
}

// Duration of the slot.
func (s TimeSlot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}
