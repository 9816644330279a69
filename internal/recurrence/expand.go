package recurrence

import (
	"fmt"
	"sort"
	"time"

	"github.com/hearthkit/family-sync/internal/domain"
)

const (
	// MaxInstances caps every expansion regardless of count or end date.
	MaxInstances = 365
	// maxSteps bounds the candidate loop.
	maxSteps = 500_000
)

// Validate checks the rule without expanding it.
func Validate(rule domain.RecurrenceRule) error {
	if !rule.Pattern.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPattern, rule.Pattern)
	}
	if rule.Interval <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidInterval, rule.Interval)
	}
	if rule.Count != nil && *rule.Count <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCount, *rule.Count)
	}
	for _, wd := range rule.DaysOfWeek {
		if wd < time.Sunday || wd > time.Saturday {
			return fmt.Errorf("%w: %d", ErrInvalidWeekday, wd)
		}
	}
	return nil
}

// Expand returns the instance dates of rule anchored at anchor, strictly
// increasing, excluding the anchor itself.
//
// Termination is the earliest of: the end date (inclusive), the count, and
// MaxInstances. Without an end date or count the horizon is one year after
// the anchor (inclusive).
func Expand(rule domain.RecurrenceRule, anchor time.Time) ([]time.Time, error) {
	if err := Validate(rule); err != nil {
		return nil, err
	}
	anchor = domain.DateOf(anchor)

	limit := MaxInstances
	if rule.Count != nil && *rule.Count < limit {
		limit = *rule.Count
	}

	var bound time.Time
	switch {
	case rule.EndDate != nil:
		bound = domain.DateOf(*rule.EndDate)
		if bound.Before(anchor) {
			return []time.Time{}, nil
		}
	case rule.Count == nil:
		bound = anchor.AddDate(1, 0, 0)
	}

	next := stepper(rule, anchor)
	out := make([]time.Time, 0, min(limit, 64))
	for steps := 0; len(out) < limit; steps++ {
		if steps >= maxSteps {
			return nil, errRunaway
		}
		d, ok := next()
		if !bound.IsZero() && d.After(bound) {
			break
		}
		if !ok {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// stepper returns a generator of successive candidates after the anchor.
// Each call yields a candidate and whether it passes the inclusion test.
// Candidates never decrease, so a candidate past the bound ends the walk.
func stepper(rule domain.RecurrenceRule, anchor time.Time) func() (time.Time, bool) {
	switch rule.Pattern {
	case domain.PatternDaily:
		k := 0
		return func() (time.Time, bool) {
			k++
			return anchor.AddDate(0, 0, k*rule.Interval), true
		}

	case domain.PatternWeekly:
		if len(rule.DaysOfWeek) == 0 {
			k := 0
			return func() (time.Time, bool) {
				k++
				return anchor.AddDate(0, 0, 7*k*rule.Interval), true
			}
		}
		days := weekdaySet(rule.DaysOfWeek)
		k := 0
		return func() (time.Time, bool) {
			k++
			// Skip whole off-interval weeks, counted from the anchor.
			if weeks := k / 7; weeks%rule.Interval != 0 {
				k = (weeks/rule.Interval + 1) * rule.Interval * 7
			}
			d := anchor.AddDate(0, 0, k)
			return d, days[d.Weekday()]
		}

	case domain.PatternMonthly:
		day := anchor.Day()
		k := 0
		return func() (time.Time, bool) {
			k++
			first := time.Date(anchor.Year(), anchor.Month()+time.Month(k*rule.Interval), 1, 0, 0, 0, 0, time.UTC)
			return onDay(first.Year(), first.Month(), day)
		}

	default: // yearly
		k := 0
		return func() (time.Time, bool) {
			k++
			return onDay(anchor.Year()+k*rule.Interval, anchor.Month(), anchor.Day())
		}
	}
}

// onDay builds year/month/day without normalizing overflow. When the month
// lacks the day, the first of the following month is returned as a
// non-matching candidate so the bound check still sees progress.
func onDay(year int, month time.Month, day int) (time.Time, bool) {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if d.Month() != month {
		return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC), false
	}
	return d, true
}

func weekdaySet(days []time.Weekday) map[time.Weekday]bool {
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		set[d] = true
	}
	return set
}

// SortedWeekdays returns a deduplicated copy of days in Sunday-first order.
func SortedWeekdays(days []time.Weekday) []time.Weekday {
	set := weekdaySet(days)
	out := make([]time.Weekday, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
