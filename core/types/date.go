// Package types - calendar date handling
package types

import (
	"fmt"
	"time"
)

// DateLayout is the canonical date format used in log keys and CLI input
const DateLayout = "2006-01-02"

// Date is a calendar day with no time-of-day component. The zero value is
// the zero date and reports IsZero.
type Date struct {
	t time.Time
}

// NewDate creates a date from year, month and day
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a date in YYYY-MM-DD form
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// DateOf truncates a time to its calendar day
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// Today returns the current calendar day
func Today() Date {
	return DateOf(time.Now())
}

// String returns the YYYY-MM-DD representation
func (d Date) String() string {
	return d.t.Format(DateLayout)
}

// IsZero reports whether the date is the zero value
func (d Date) IsZero() bool {
	return d.t.IsZero()
}

// Time returns the date as a UTC midnight time
func (d Date) Time() time.Time {
	return d.t
}

// Year returns the year
func (d Date) Year() int { return d.t.Year() }

// Month returns the month
func (d Date) Month() time.Month { return d.t.Month() }

// Day returns the day of the month
func (d Date) Day() int { return d.t.Day() }

// AddDays returns the date n days later (earlier for negative n)
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// Before reports whether d is before other
func (d Date) Before(other Date) bool { return d.t.Before(other.t) }

// After reports whether d is after other
func (d Date) After(other Date) bool { return d.t.After(other.t) }

// Equal reports whether two dates are the same day
func (d Date) Equal(other Date) bool { return d.t.Equal(other.t) }

// DaysUntil returns the number of whole days from d to other
func (d Date) DaysUntil(other Date) int {
	return int(other.t.Sub(d.t).Hours() / 24)
}

// FirstOfMonth returns the first day of d's month
func (d Date) FirstOfMonth() Date {
	return NewDate(d.Year(), d.Month(), 1)
}

// FirstOfNextMonth returns the first day of the following month
func (d Date) FirstOfNextMonth() Date {
	return NewDate(d.Year(), d.Month(), 1).addMonths(1)
}

// EndOfMonth returns the last day of d's month
func (d Date) EndOfMonth() Date {
	return d.FirstOfNextMonth().AddDays(-1)
}

// DaysInMonth returns the number of days in d's month
func (d Date) DaysInMonth() int {
	return d.EndOfMonth().Day()
}

func (d Date) addMonths(n int) Date {
	return Date{t: d.t.AddDate(0, n, 0)}
}

// MarshalJSON encodes the date as a YYYY-MM-DD string
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON decodes a YYYY-MM-DD string
func (d *Date) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid date literal: %s", s)
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
