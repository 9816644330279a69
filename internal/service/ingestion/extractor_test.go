package ingestion

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthkit/family-sync/internal/domain"
)

func draft(title string, date time.Time) domain.EventDraft {
	return domain.EventDraft{Title: title, Date: date, Confidence: 0.9}
}

func TestValidateDrafts_RejectsMissingFields(t *testing.T) {
	d := domain.NewDate(2025, time.November, 3)
	valid, rejected := ValidateDrafts([]domain.EventDraft{
		draft("", d),
		draft("Recital", time.Time{}),
		draft("  Recital  ", d),
	}, nil, 0)

	require.Len(t, valid, 1)
	assert.Equal(t, "Recital", valid[0].Title)
	require.Len(t, rejected, 2)
	assert.Equal(t, RejectMissingTitle, rejected[0].Reason)
	assert.Equal(t, RejectMissingDate, rejected[1].Reason)
}

func TestValidateDrafts_PersonTagRequiredWithRoster(t *testing.T) {
	roster := []domain.Person{{Name: "Maya", Nicknames: []string{"May"}}, {Name: "Leo"}}
	d := domain.NewDate(2025, time.November, 3)

	tagged := draft("Swim", d)
	tagged.PersonTag = "may"
	untagged := draft("Bake sale", d)
	stranger := draft("Chess", d)
	stranger.PersonTag = "Sam"

	valid, rejected := ValidateDrafts([]domain.EventDraft{tagged, untagged, stranger}, roster, 0)
	require.Len(t, valid, 1)
	assert.Equal(t, "Maya", valid[0].PersonTag)
	require.Len(t, rejected, 2)
	for _, r := range rejected {
		assert.Equal(t, RejectPersonTag, r.Reason)
	}
}

func TestValidateDrafts_NoRosterKeepsUntagged(t *testing.T) {
	valid, _ := ValidateDrafts([]domain.EventDraft{draft("Bake sale", domain.NewDate(2025, 1, 2))}, nil, 0)
	assert.Len(t, valid, 1)
}

func TestValidateDrafts_ConfidenceAndTimes(t *testing.T) {
	d := domain.NewDate(2025, time.November, 3)
	low := draft("Maybe", d)
	low.Confidence = 0.2

	timed := draft("Game", d)
	timed.StartTime = "9:30"
	timed.EndTime = "08:00"

	garbled := draft("Party", d)
	garbled.StartTime = "afternoon"
	garbled.EndTime = "17:00"

	valid, rejected := ValidateDrafts([]domain.EventDraft{low, timed, garbled}, nil, 0.5)
	require.Len(t, rejected, 1)
	assert.Equal(t, RejectLowConfidence, rejected[0].Reason)

	require.Len(t, valid, 2)
	assert.Equal(t, "09:30", valid[0].StartTime)
	assert.Empty(t, valid[0].EndTime, "end before start is dropped")
	assert.Empty(t, valid[1].StartTime)
	assert.Empty(t, valid[1].EndTime, "end without start is dropped")
}

func TestResolveDate(t *testing.T) {
	today := domain.NewDate(2025, time.October, 8) // Wednesday

	cases := map[string]time.Time{
		"today":            today,
		"Tomorrow":         domain.NewDate(2025, time.October, 9),
		"wednesday":        today,
		"Friday":           domain.NewDate(2025, time.October, 10),
		"this mon":         domain.NewDate(2025, time.October, 13),
		"next Wednesday":   domain.NewDate(2025, time.October, 15),
		"next friday":      domain.NewDate(2025, time.October, 10),
		"2025-11-01":       domain.NewDate(2025, time.November, 1),
		"2025-11-01T18:00": domain.NewDate(2025, time.November, 1),
		"11/1/2025":        domain.NewDate(2025, time.November, 1),
		"11/01/26":         domain.NewDate(2026, time.November, 1),
		"10/20":            domain.NewDate(2025, time.October, 20),
		"1/15":             domain.NewDate(2026, time.January, 15),
		"November 1, 2025": domain.NewDate(2025, time.November, 1),
		"nov 1":            domain.NewDate(2025, time.November, 1),
		"1 November 2025":  domain.NewDate(2025, time.November, 1),
	}
	for in, want := range cases {
		got, err := ResolveDate(in, today)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestResolveDate_Invalid(t *testing.T) {
	today := domain.NewDate(2025, time.October, 8)
	for _, in := range []string{"", "soon", "2/30", "13/01/2025"} {
		_, err := ResolveDate(in, today)
		assert.True(t, errors.Is(err, ErrUnresolvedDate), in)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput), in)
	}
}
