// Package calendar answers date questions in the market's timezone:
// trading days, holiday gaps, day counts and intraday cutoffs.
package calendar

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Clock is a wall-clock time of day in the market timezone.
type Clock struct {
	Hour   int
	Minute int
}

func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

type Calendar struct {
	loc      *time.Location
	holidays map[string]struct{}
}

func New(tz string, holidays []string) (*Calendar, error) {
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", tz, err)
		}
		loc = l
	}
	c := &Calendar{loc: loc, holidays: make(map[string]struct{}, len(holidays))}
	for _, h := range holidays {
		d, err := time.ParseInLocation(dateLayout, h, loc)
		if err != nil {
			return nil, fmt.Errorf("parse holiday %q: %w", h, err)
		}
		c.holidays[d.Format(dateLayout)] = struct{}{}
	}
	return c, nil
}

func (c *Calendar) Location() *time.Location { return c.loc }

// Date truncates t to local midnight.
func (c *Calendar) Date(t time.Time) time.Time {
	y, m, d := t.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

func (c *Calendar) IsHoliday(t time.Time) bool {
	_, ok := c.holidays[t.In(c.loc).Format(dateLayout)]
	return ok
}

func (c *Calendar) IsTradingDay(t time.Time) bool {
	switch t.In(c.loc).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.IsHoliday(t)
}

func (c *Calendar) NextTradingDay(t time.Time) time.Time {
	d := c.Date(t).AddDate(0, 0, 1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// OnOrBefore walks back from t to the closest trading day.
func (c *Calendar) OnOrBefore(t time.Time) time.Time {
	d := c.Date(t)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// DaysBetween counts calendar days from the date of a to the date of b.
func (c *Calendar) DaysBetween(a, b time.Time) int {
	ay, am, ad := a.In(c.loc).Date()
	by, bm, bd := b.In(c.loc).Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// IsLastTradingDayBeforeGap: t trades and the next calendar day does not.
func (c *Calendar) IsLastTradingDayBeforeGap(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	return !c.IsTradingDay(c.Date(t).AddDate(0, 0, 1))
}

// At returns the instant of clock on t's local date.
func (c *Calendar) At(t time.Time, clock Clock) time.Time {
	y, m, d := t.In(c.loc).Date()
	return time.Date(y, m, d, clock.Hour, clock.Minute, 0, 0, c.loc)
}

// WeekStart is the local Monday midnight of t's week.
func (c *Calendar) WeekStart(t time.Time) time.Time {
	d := c.Date(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}
