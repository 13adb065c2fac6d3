package market

import (
	"testing"
	"time"
)

func testCalendar(t *testing.T, at time.Time) *Calendar {
	t.Helper()
	cal, err := NewCalendar("America/New_York", "09:30", "16:00")
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	return cal.WithClock(func() time.Time { return at })
}

func nyTime(t *testing.T, value string) time.Time {
	t.Helper()
	loc, _ := time.LoadLocation("America/New_York")
	ts, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return ts
}

func TestCalendar_OpenDuringTradingHours(t *testing.T) {
	// Wednesday noon.
	cal := testCalendar(t, nyTime(t, "2025-06-11 12:00"))
	if !cal.IsTradingDay() {
		t.Error("Wednesday should be a trading day")
	}
	if !cal.IsOpen() {
		t.Error("market should be open Wednesday noon")
	}
}

func TestCalendar_ClosedOnWeekend(t *testing.T) {
	cal := testCalendar(t, nyTime(t, "2025-06-14 12:00")) // Saturday
	if cal.IsTradingDay() {
		t.Error("Saturday should not be a trading day")
	}
	if cal.IsOpen() {
		t.Error("market should be closed Saturday")
	}
}

func TestCalendar_Boundaries(t *testing.T) {
	cases := []struct {
		at   string
		open bool
	}{
		{"2025-06-11 09:29", false},
		{"2025-06-11 09:30", true},  // open is inclusive
		{"2025-06-11 15:59", true},
		{"2025-06-11 16:00", false}, // close is exclusive
		{"2025-06-11 20:00", false},
	}
	for _, tc := range cases {
		cal := testCalendar(t, nyTime(t, tc.at))
		if got := cal.IsOpen(); got != tc.open {
			t.Errorf("IsOpen at %s = %v, want %v", tc.at, got, tc.open)
		}
	}
}

func TestNewCalendar_Invalid(t *testing.T) {
	if _, err := NewCalendar("Not/AZone", "09:30", "16:00"); err == nil {
		t.Error("expected error for bad timezone")
	}
	if _, err := NewCalendar("UTC", "junk", "16:00"); err == nil {
		t.Error("expected error for bad open time")
	}
	if _, err := NewCalendar("UTC", "16:00", "09:30"); err == nil {
		t.Error("expected error for close before open")
	}
}

func TestValidSymbol(t *testing.T) {
	valid := []string{"A", "AAPL", "MSFT", "GOOGL", "BRK.B"}
	for _, s := range valid {
		if !ValidSymbol(s) {
			t.Errorf("ValidSymbol(%q) = false, want true", s)
		}
	}
	invalid := []string{"", "aapl", "TOOLONGG", "AA-PL", "123", "BRK.BB", ".A"}
	for _, s := range invalid {
		if ValidSymbol(s) {
			t.Errorf("ValidSymbol(%q) = true, want false", s)
		}
	}
}
