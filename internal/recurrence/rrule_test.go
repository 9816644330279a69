package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthkit/family-sync/internal/domain"
)

func TestParseRRule_Weekly(t *testing.T) {
	rule, err := ParseRRule("RRULE:FREQ=WEEKLY;BYDAY=TH,TU;COUNT=5")
	require.NoError(t, err)

	assert.Equal(t, domain.PatternWeekly, rule.Pattern)
	assert.Equal(t, 1, rule.Interval)
	assert.Equal(t, []time.Weekday{time.Tuesday, time.Thursday}, rule.DaysOfWeek)
	require.NotNil(t, rule.Count)
	assert.Equal(t, 4, *rule.Count, "COUNT includes the parent occurrence")
}

func TestParseRRule_Until(t *testing.T) {
	rule, err := ParseRRule("FREQ=MONTHLY;INTERVAL=2;UNTIL=20261231T000000Z")
	require.NoError(t, err)

	assert.Equal(t, domain.PatternMonthly, rule.Pattern)
	assert.Equal(t, 2, rule.Interval)
	require.NotNil(t, rule.EndDate)
	assert.Equal(t, domain.NewDate(2026, time.December, 31), *rule.EndDate)
	assert.Nil(t, rule.Count)
}

func TestParseRRule_Rejects(t *testing.T) {
	_, err := ParseRRule("FREQ=HOURLY")
	assert.True(t, errors.Is(err, ErrInvalidPattern))

	_, err = ParseRRule("FREQ=DAILY;COUNT=1")
	assert.True(t, errors.Is(err, ErrInvalidCount))

	_, err = ParseRRule("FREQ=MONTHLY;BYMONTHDAY=15")
	assert.True(t, errors.Is(err, ErrUnsupportedRule))

	_, err = ParseRRule("FREQ=DAILY;BYDAY=MO")
	assert.True(t, errors.Is(err, ErrUnsupportedRule))

	_, err = ParseRRule("not a rule")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestParseRRule_Interval(t *testing.T) {
	rule, err := ParseRRule("FREQ=DAILY;COUNT=3")
	require.NoError(t, err)
	assert.Equal(t, 1, rule.Interval, "absent INTERVAL defaults to 1")

	for _, text := range []string{
		"FREQ=DAILY;INTERVAL=0;COUNT=3",
		"RRULE:FREQ=WEEKLY;BYDAY=MO;interval=0",
	} {
		_, err := ParseRRule(text)
		assert.ErrorIs(t, err, ErrInvalidInterval, text)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, text)
	}
}

func TestFormatRRule(t *testing.T) {
	rule := domain.RecurrenceRule{
		Pattern:    domain.PatternWeekly,
		Interval:   1,
		DaysOfWeek: []time.Weekday{time.Thursday, time.Tuesday},
		Count:      intPtr(4),
	}
	text, err := FormatRRule(rule, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "FREQ=WEEKLY;COUNT=5;BYDAY=TU,TH", text)

	back, err := ParseRRule(text)
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Tuesday, time.Thursday}, back.DaysOfWeek)
	assert.Equal(t, 4, *back.Count)
}

func TestFormatRRule_WithAnchor(t *testing.T) {
	text, err := FormatRRule(domain.RecurrenceRule{Pattern: domain.PatternDaily, Interval: 3}, domain.NewDate(2025, time.May, 5))
	require.NoError(t, err)
	assert.Equal(t, "DTSTART:20250505T000000Z\nRRULE:FREQ=DAILY;INTERVAL=3", text)
}
