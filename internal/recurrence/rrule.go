package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/hearthkit/family-sync/internal/domain"
)

var freqToPattern = map[rrule.Frequency]domain.RecurrencePattern{
	rrule.DAILY:   domain.PatternDaily,
	rrule.WEEKLY:  domain.PatternWeekly,
	rrule.MONTHLY: domain.PatternMonthly,
	rrule.YEARLY:  domain.PatternYearly,
}

var patternToFreq = map[domain.RecurrencePattern]rrule.Frequency{
	domain.PatternDaily:   rrule.DAILY,
	domain.PatternWeekly:  rrule.WEEKLY,
	domain.PatternMonthly: rrule.MONTHLY,
	domain.PatternYearly:  rrule.YEARLY,
}

var rruleWeekdays = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// ParseRRule converts RFC 5545 rule text ("FREQ=WEEKLY;BYDAY=TU,TH", with or
// without the "RRULE:" prefix) into a rule.
//
// RFC COUNT includes the first occurrence, which here is the parent event,
// so COUNT=N becomes N-1 instances. An omitted INTERVAL means 1; INTERVAL=0
// is rejected. Only FREQ, INTERVAL, BYDAY (weekly),
// COUNT, UNTIL and WKST are accepted.
func ParseRRule(text string) (domain.RecurrenceRule, error) {
	opt, err := rrule.StrToROption(strings.TrimSpace(text))
	if err != nil {
		return domain.RecurrenceRule{}, fmt.Errorf("%w: %v", ErrUnsupportedRule, err)
	}

	pattern, ok := freqToPattern[opt.Freq]
	if !ok {
		return domain.RecurrenceRule{}, fmt.Errorf("%w: FREQ=%s", ErrInvalidPattern, opt.Freq)
	}
	if len(opt.Bysetpos)+len(opt.Bymonth)+len(opt.Bymonthday)+len(opt.Byyearday)+
		len(opt.Byweekno)+len(opt.Byhour)+len(opt.Byminute)+len(opt.Bysecond)+len(opt.Byeaster) > 0 {
		return domain.RecurrenceRule{}, fmt.Errorf("%w: only FREQ, INTERVAL, BYDAY, COUNT and UNTIL are supported", ErrUnsupportedRule)
	}

	// rrule-go reports an absent INTERVAL as 0, so an explicit one is
	// looked up in the text before defaulting.
	rule := domain.RecurrenceRule{Pattern: pattern, Interval: opt.Interval}
	if rule.Interval == 0 && !hasPart(text, "INTERVAL") {
		rule.Interval = 1
	}

	if len(opt.Byweekday) > 0 {
		if pattern != domain.PatternWeekly {
			return domain.RecurrenceRule{}, fmt.Errorf("%w: BYDAY requires FREQ=WEEKLY", ErrUnsupportedRule)
		}
		for _, wd := range opt.Byweekday {
			if wd.N() != 0 {
				return domain.RecurrenceRule{}, fmt.Errorf("%w: positional BYDAY %s", ErrUnsupportedRule, wd)
			}
			rule.DaysOfWeek = append(rule.DaysOfWeek, time.Weekday((wd.Day()+1)%7))
		}
		rule.DaysOfWeek = SortedWeekdays(rule.DaysOfWeek)
	}

	if opt.Count != 0 {
		if opt.Count < 2 {
			return domain.RecurrenceRule{}, fmt.Errorf("%w: COUNT=%d leaves no instances", ErrInvalidCount, opt.Count)
		}
		n := opt.Count - 1
		rule.Count = &n
	}
	if !opt.Until.IsZero() {
		end := domain.DateOf(opt.Until)
		rule.EndDate = &end
	}

	return rule, Validate(rule)
}

// hasPart reports whether the rule text names the property key.
func hasPart(text, key string) bool {
	fields := strings.FieldsFunc(strings.ToUpper(text), func(r rune) bool {
		return r == ';' || r == ':' || r == '\n' || r == '\r' || r == ' '
	})
	for _, f := range fields {
		if strings.HasPrefix(f, key+"=") {
			return true
		}
	}
	return false
}

// FormatRRule renders rule as RFC 5545 text, the inverse of ParseRRule.
// A non-zero anchor adds a DTSTART line.
func FormatRRule(rule domain.RecurrenceRule, anchor time.Time) (string, error) {
	if err := Validate(rule); err != nil {
		return "", err
	}
	opt := rrule.ROption{
		Freq:     patternToFreq[rule.Pattern],
		Interval: rule.Interval,
	}
	if !anchor.IsZero() {
		opt.Dtstart = domain.DateOf(anchor)
	}
	if rule.Interval == 1 {
		opt.Interval = 0
	}
	for _, wd := range SortedWeekdays(rule.DaysOfWeek) {
		opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
	}
	if rule.Count != nil {
		opt.Count = *rule.Count + 1
	}
	if rule.EndDate != nil {
		opt.Until = domain.DateOf(*rule.EndDate)
	}
	return opt.String(), nil
}
