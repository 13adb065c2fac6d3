package market

import (
	"fmt"
	"time"
)

// Calendar implements the market-hours gate: weekday trading days and a
// configurable open/close window in the exchange's timezone.
type Calendar struct {
	loc       *time.Location
	openMins  int // minutes since midnight
	closeMins int
	now       func() time.Time
}

// NewCalendar builds a calendar for the given timezone and "HH:MM"
// open/close times.
func NewCalendar(timezone, open, close string) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("market: load timezone %s: %w", timezone, err)
	}
	openMins, err := parseClock(open)
	if err != nil {
		return nil, err
	}
	closeMins, err := parseClock(close)
	if err != nil {
		return nil, err
	}
	if closeMins <= openMins {
		return nil, fmt.Errorf("market: close %s not after open %s", close, open)
	}
	return &Calendar{
		loc:       loc,
		openMins:  openMins,
		closeMins: closeMins,
		now:       time.Now,
	}, nil
}

// WithClock overrides the time source. Used in tests.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	c.now = now
	return c
}

// IsTradingDay reports whether today (exchange time) is Monday–Friday.
func (c *Calendar) IsTradingDay() bool {
	wd := c.now().In(c.loc).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsOpen reports whether the market is open right now: a trading day and
// within [open, close). The close minute itself is outside the window.
func (c *Calendar) IsOpen() bool {
	if !c.IsTradingDay() {
		return false
	}
	t := c.now().In(c.loc)
	mins := t.Hour()*60 + t.Minute()
	return mins >= c.openMins && mins < c.closeMins
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("market: invalid clock time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("market: invalid clock time %q", s)
	}
	return h*60 + m, nil
}
