package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2024-01-15")
	if err != nil {
		t.Fatalf("ParseDay failed: %v", err)
	}
	if d.String() != "2024-01-15" {
		t.Errorf("round trip = %q", d.String())
	}
	if d.Year() != 2024 {
		t.Errorf("Year() = %d", d.Year())
	}

	if _, err := ParseDay("15/01/2024"); err == nil {
		t.Error("non-ISO date accepted")
	}
}

func TestDayOf_TruncatesToUTCDate(t *testing.T) {
	loc := time.FixedZone("AEST", 10*60*60)
	// 2024-01-16 08:00 AEST is 2024-01-15 22:00 UTC.
	instant := time.Date(2024, 1, 16, 8, 0, 0, 0, loc)
	if got := DayOf(instant); got.String() != "2024-01-15" {
		t.Errorf("DayOf = %q, want 2024-01-15", got)
	}
}

func TestDayAddDays(t *testing.T) {
	d := MustDay("2024-03-01")
	if got := d.AddDays(-1); got.String() != "2024-02-29" {
		t.Errorf("AddDays(-1) = %q, want 2024-02-29", got)
	}
	if got := d.AddDays(365); got.String() != "2025-03-01" {
		t.Errorf("AddDays(365) = %q, want 2025-03-01", got)
	}
}

func TestDayJSON(t *testing.T) {
	d := MustDay("2024-01-15")
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `"2024-01-15"` {
		t.Errorf("Marshal = %s", data)
	}

	var back Day
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !back.Equal(d) {
		t.Errorf("round trip = %q", back)
	}

	if err := json.Unmarshal([]byte(`"not-a-date"`), &back); err == nil {
		t.Error("invalid date accepted")
	}
}

func TestDayOrdering(t *testing.T) {
	a := MustDay("2024-01-14")
	b := MustDay("2024-01-15")
	if !a.Before(b) || b.Before(a) {
		t.Error("Before ordering wrong")
	}
	if !b.After(a) || a.After(b) {
		t.Error("After ordering wrong")
	}
	if !a.Equal(MustDay("2024-01-14")) {
		t.Error("Equal failed")
	}
}
