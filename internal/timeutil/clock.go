package timeutil

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTimezone is the clinic zone used when TZ is not set.
const DefaultTimezone = "Asia/Riyadh"

// Clock supplies the current time in the clinic's zone. All calendar math in
// the service (slot parsing, demand cell keys, reminder lead times) reads
// through it so tests can substitute a fake source.
type Clock struct {
	clockwork.Clock
	loc *time.Location
}

// NewClock loads the named IANA zone over the real system clock.
func NewClock(tz string) (*Clock, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timeutil: load zone %q: %w", tz, err)
	}
	return &Clock{Clock: clockwork.NewRealClock(), loc: loc}, nil
}

// NewClockAt wraps an injected time source with the given zone. Tests pass
// clockwork.NewFakeClockAt.
func NewClockAt(src clockwork.Clock, loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{Clock: src, loc: loc}
}

// Now returns the current instant localized to the clinic zone.
func (c *Clock) Now() time.Time {
	return c.Clock.Now().In(c.loc)
}

// In localizes an arbitrary instant to the clinic zone.
func (c *Clock) In(t time.Time) time.Time {
	return t.In(c.loc)
}

// Location returns the clinic zone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// MonthBounds returns the half-open interval [start, end) covering the
// calendar month that contains t, in the clinic zone.
func (c *Clock) MonthBounds(t time.Time) (time.Time, time.Time) {
	t = t.In(c.loc)
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, c.loc)
	return start, start.AddDate(0, 1, 0)
}

// PreviousMonth returns the year and month immediately before the month
// containing t, in the clinic zone.
func (c *Clock) PreviousMonth(t time.Time) (int, time.Month) {
	start, _ := c.MonthBounds(t)
	prev := start.AddDate(0, -1, 0)
	return prev.Year(), prev.Month()
}
