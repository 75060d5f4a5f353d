// Package expiry picks the contract expiry for a new position and re-checks
// it right before the order goes out.
package expiry

import (
	"fmt"
	"time"

	"risk_desk/internal/calendar"
	"risk_desk/internal/models"
)

type Type string

const (
	Current Type = "CURRENT"
	Next    Type = "NEXT"
)

type StrategyClass string

const (
	OptionsSelling StrategyClass = "OPTIONS_SELLING"
	OptionsBuying  StrategyClass = "OPTIONS_BUYING"
	Futures        StrategyClass = "FUTURES"
)

// StrategyFor maps a position to the strategy class its expiry floor comes from.
func StrategyFor(class models.InstrumentClass, dir models.Direction) StrategyClass {
	if class == models.ClassFutures {
		return Futures
	}
	if dir == models.DirectionNeutral || dir == models.DirectionShort {
		return OptionsSelling
	}
	return OptionsBuying
}

type Policy struct {
	OptionsMinDays int          // gamma-risk floor
	FuturesMinDays int          // liquidity floor
	Weekday        time.Weekday // weekly and monthly contracts expire on this weekday
}

func DefaultPolicy() Policy {
	return Policy{OptionsMinDays: 1, FuturesMinDays: 15, Weekday: time.Thursday}
}

type Selection struct {
	Expiry        time.Time `json:"expiry"`
	Type          Type      `json:"type"`
	DaysRemaining int       `json:"days_remaining"`
	Skipped       bool      `json:"skipped"`
}

type Selector struct {
	cal    *calendar.Calendar
	policy Policy
	now    func() time.Time
}

func NewSelector(cal *calendar.Calendar, policy Policy, now func() time.Time) *Selector {
	if now == nil {
		now = time.Now
	}
	return &Selector{cal: cal, policy: policy, now: now}
}

func (s *Selector) MinDays(class models.InstrumentClass) int {
	if class == models.ClassFutures {
		return s.policy.FuturesMinDays
	}
	return s.policy.OptionsMinDays
}

// SelectExpiry returns the nearest expiry when it leaves at least minDays,
// otherwise the following cycle. The rolled expiry is not re-checked against
// the floor: cycles are always at least minDays apart for supported classes.
func (s *Selector) SelectExpiry(class models.InstrumentClass, minDays int) (time.Time, Selection, error) {
	now := s.now()
	nearest, err := s.nearest(class, now)
	if err != nil {
		return time.Time{}, Selection{}, err
	}

	days := s.cal.DaysBetween(now, nearest)
	if days >= minDays {
		return nearest, Selection{Expiry: nearest, Type: Current, DaysRemaining: days}, nil
	}

	next := s.following(class, nearest)
	return next, Selection{
		Expiry:        next,
		Type:          Next,
		DaysRemaining: s.cal.DaysBetween(now, next),
		Skipped:       true,
	}, nil
}

// Validate re-derives the floor for the strategy class and re-checks expiry.
func (s *Selector) Validate(expiry time.Time, class StrategyClass) (bool, string) {
	var floor int
	switch class {
	case OptionsSelling, OptionsBuying:
		floor = s.policy.OptionsMinDays
	case Futures:
		floor = s.policy.FuturesMinDays
	default:
		return false, fmt.Sprintf("unknown strategy class %q", class)
	}

	days := s.cal.DaysBetween(s.now(), expiry)
	if days < floor {
		return false, fmt.Sprintf("expiry %s is %d days out, %s needs at least %d",
			expiry.Format("2006-01-02"), days, class, floor)
	}
	return true, fmt.Sprintf("expiry %s ok: %d days remaining", expiry.Format("2006-01-02"), days)
}

func (s *Selector) nearest(class models.InstrumentClass, now time.Time) (time.Time, error) {
	today := s.cal.Date(now)
	switch class {
	case models.ClassOptions:
		e := s.weekly(today)
		if e.Before(today) {
			e = s.weekly(today.AddDate(0, 0, 7))
		}
		return e, nil
	case models.ClassFutures:
		e := s.monthly(today.Year(), today.Month())
		if e.Before(today) {
			y, m := addMonth(today.Year(), today.Month())
			e = s.monthly(y, m)
		}
		return e, nil
	default:
		return time.Time{}, &models.InvalidInputError{Field: "instrument_class", Reason: fmt.Sprintf("unsupported %q", class)}
	}
}

func (s *Selector) following(class models.InstrumentClass, cur time.Time) time.Time {
	if class == models.ClassFutures {
		y, m := addMonth(cur.Year(), cur.Month())
		return s.monthly(y, m)
	}
	// cur may already be pulled back by a holiday; step from its nominal weekday
	return s.weekly(s.nominalWeekly(cur).AddDate(0, 0, 1))
}

// weekly: first expiry weekday on or after from, moved back over holidays.
func (s *Selector) weekly(from time.Time) time.Time {
	return s.cal.OnOrBefore(s.nominalWeekly(from))
}

func (s *Selector) nominalWeekly(from time.Time) time.Time {
	d := s.cal.Date(from)
	offset := (int(s.policy.Weekday) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset)
}

// monthly: last expiry weekday of the month, moved back over holidays.
func (s *Selector) monthly(y int, m time.Month) time.Time {
	ny, nm := addMonth(y, m)
	last := time.Date(ny, nm, 1, 0, 0, 0, 0, s.cal.Location()).AddDate(0, 0, -1)
	offset := (int(last.Weekday()) - int(s.policy.Weekday) + 7) % 7
	return s.cal.OnOrBefore(last.AddDate(0, 0, -offset))
}

func addMonth(y int, m time.Month) (int, time.Month) {
	if m == time.December {
		return y + 1, time.January
	}
	return y, m + 1
}
