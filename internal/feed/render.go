// Package feed exports a family's confirmed events as an iCalendar feed and
// publishes it to S3 for read-only subscribers.
package feed

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/service/calsync"
)

const productID = "-//hearthkit//family-sync//EN"

// DefaultDuration applies to timed events without an end time.
const DefaultDuration = time.Hour

// Renderer builds iCalendar documents.
type Renderer struct {
	composer *calsync.Composer
}

// NewRenderer creates a renderer. Descriptions carry the same metadata
// block as pushed calendar events.
func NewRenderer() (*Renderer, error) {
	c, err := calsync.NewComposer()
	if err != nil {
		return nil, err
	}
	return &Renderer{composer: c}, nil
}

// Render produces a VCALENDAR with one VEVENT per confirmed event. Date-only
// events are all-day; timed events are placed in loc.
func (r *Renderer) Render(name string, loc *time.Location, events []domain.Event, now time.Time) (string, error) {
	if loc == nil {
		loc = time.UTC
	}
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)
	cal.SetCalscale("GREGORIAN")
	cal.SetName(name)
	cal.SetXWRCalName(name)
	cal.SetXWRTimezone(loc.String())
	cal.SetRefreshInterval("PT1H")

	for i := range events {
		e := &events[i]
		if !e.IsConfirmed() {
			continue
		}
		desc, err := r.composer.Compose(e)
		if err != nil {
			return "", err
		}

		ev := cal.AddEvent(e.ID + "@family-sync")
		ev.SetDtStampTime(now)
		ev.SetCreatedTime(e.CreatedAt)
		ev.SetModifiedAt(e.UpdatedAt)
		ev.SetSummary(e.Title)
		ev.SetStatus(ical.ObjectStatusConfirmed)
		if e.Location != "" {
			ev.SetLocation(e.Location)
		}
		if desc != "" {
			ev.SetDescription(desc)
		}
		if c := strings.TrimSpace(e.Category); c != "" {
			ev.AddCategory(c)
		}

		if e.IsAllDay() {
			ev.SetAllDayStartAt(e.Date)
			ev.SetAllDayEndAt(e.Date.AddDate(0, 0, 1))
			continue
		}
		start, end, ok := span(e, loc)
		if !ok {
			ev.SetAllDayStartAt(e.Date)
			ev.SetAllDayEndAt(e.Date.AddDate(0, 0, 1))
			continue
		}
		ev.SetStartAt(start)
		ev.SetEndAt(end)
	}
	return cal.Serialize(), nil
}

func span(e *domain.Event, loc *time.Location) (time.Time, time.Time, bool) {
	st, err := time.Parse(domain.ClockLayout, e.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	y, m, d := e.Date.Date()
	start := time.Date(y, m, d, st.Hour(), st.Minute(), 0, 0, loc)
	end := start.Add(DefaultDuration)
	if e.EndTime != "" {
		if et, err := time.Parse(domain.ClockLayout, e.EndTime); err == nil {
			if t := time.Date(y, m, d, et.Hour(), et.Minute(), 0, 0, loc); t.After(start) {
				end = t
			}
		}
	}
	return start, end, true
}
