package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hearthkit/family-sync/internal/domain"
)

// CalendarInfo is one calendar visible to the connected account.
type CalendarInfo struct {
	ID      string
	Name    string
	Primary bool
}

// ExternalEvent is the narrow event shape exchanged with a calendar
// provider. All-day events carry UTC-midnight Start and an exclusive End.
type ExternalEvent struct {
	ID          string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// Validate checks an event received from a provider before it enters
// reconciliation.
func (e *ExternalEvent) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: %s: missing title", ErrInvalidEvent, e.ID)
	}
	if e.Start.IsZero() {
		return fmt.Errorf("%w: %s: missing start", ErrInvalidEvent, e.ID)
	}
	if !e.End.IsZero() && e.End.Before(e.Start) {
		return fmt.Errorf("%w: %s: end before start", ErrInvalidEvent, e.ID)
	}
	return nil
}

// TimeWindow is a half-open [From, To) range.
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// WatchChannel is a registered push-notification channel.
type WatchChannel struct {
	ID         string
	ResourceID string
	Expiration time.Time
}

// Calendar is an external calendar service.
type Calendar interface {
	Refresher
	ListCalendars(ctx context.Context) ([]CalendarInfo, error)
	CreateCalendar(ctx context.Context, name, timezone string) (*CalendarInfo, error)
	ListEvents(ctx context.Context, calendarID string, w TimeWindow) ([]ExternalEvent, error)
	CreateEvent(ctx context.Context, calendarID string, e ExternalEvent) (string, error)
	UpdateEvent(ctx context.Context, calendarID string, e ExternalEvent) error
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	Watch(ctx context.Context, calendarID, channelID, address string, ttl time.Duration) (*WatchChannel, error)
}

// CalendarOpener builds a Calendar client for a stored connection.
type CalendarOpener interface {
	OpenCalendar(ctx context.Context, conn *domain.CalendarConnection) (Calendar, error)
}
