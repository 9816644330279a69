package domain

import "time"

// RecurrencePattern enumerates the supported rule frequencies.
type RecurrencePattern string

const (
	PatternDaily   RecurrencePattern = "daily"
	PatternWeekly  RecurrencePattern = "weekly"
	PatternMonthly RecurrencePattern = "monthly"
	PatternYearly  RecurrencePattern = "yearly"
)

// Valid reports whether p is a known pattern.
func (p RecurrencePattern) Valid() bool {
	switch p {
	case PatternDaily, PatternWeekly, PatternMonthly, PatternYearly:
		return true
	}
	return false
}

// RecurrenceRule describes how a parent event repeats. It is embedded in the
// parent event and never stored on instances.
type RecurrenceRule struct {
	Pattern    RecurrencePattern `json:"pattern"`
	Interval   int               `json:"interval"`
	DaysOfWeek []time.Weekday    `json:"days_of_week,omitempty"`
	EndDate    *time.Time        `json:"end_date,omitempty"`
	Count      *int              `json:"count,omitempty"`
}
