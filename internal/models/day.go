package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DayFormat is the ISO-8601 date layout used everywhere dates are persisted
// or exchanged. Lexicographic order of formatted days equals calendar order.
const DayFormat = "2006-01-02"

// Day is a calendar date with day-level granularity, represented internally
// as midnight UTC.
type Day struct {
	t time.Time
}

// NewDay returns a normalized Day for the given year, month and day.
func NewDay(year int, month time.Month, day int) Day {
	return Day{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf truncates an instant to its UTC calendar date.
func DayOf(t time.Time) Day {
	y, m, d := t.UTC().Date()
	return NewDay(y, m, d)
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayFormat, s)
	if err != nil {
		return Day{}, fmt.Errorf("invalid date %q, want format %q: %w", s, DayFormat, err)
	}
	return DayOf(t), nil
}

// MustDay is like ParseDay but panics on error. Intended for tests and constants.
func MustDay(s string) Day {
	d, err := ParseDay(s)
	if err != nil {
		panic(err.Error())
	}
	return d
}

func (d Day) String() string  { return d.t.Format(DayFormat) }
func (d Day) Year() int       { return d.t.Year() }
func (d Day) IsZero() bool    { return d.t.IsZero() }
func (d Day) Time() time.Time { return d.t }

// AddDays returns the day shifted by n calendar days (n may be negative).
func (d Day) AddDays(n int) Day {
	return Day{d.t.AddDate(0, 0, n)}
}

func (d Day) Before(x Day) bool { return d.t.Before(x.t) }
func (d Day) After(x Day) bool  { return d.t.After(x.t) }
func (d Day) Equal(x Day) bool  { return d.t.Equal(x.t) }

func (d Day) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Day) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDay(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

var _ json.Marshaler = (*Day)(nil)
var _ json.Unmarshaler = (*Day)(nil)
