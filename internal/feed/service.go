package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/pkg/logger"
	"github.com/hearthkit/family-sync/internal/service/event"
)

// ContentType is the media type of a rendered feed.
const ContentType = "text/calendar; charset=utf-8"

// ErrPublishDisabled is returned by Publish when no publisher is configured.
var ErrPublishDisabled = errors.New("feed publishing is not configured")

// EventLister lists a family's events.
type EventLister interface {
	List(ctx context.Context, familyID string, f event.ListFilter) ([]domain.Event, error)
}

// ConnectionGetter supplies the family's calendar timezone.
type ConnectionGetter interface {
	GetConnection(ctx context.Context, familyID string) (*domain.CalendarConnection, error)
}

// Publisher stores a rendered feed.
type Publisher interface {
	Publish(ctx context.Context, familyID, body string) (string, error)
}

// Service builds and publishes family feeds.
type Service struct {
	events    EventLister
	conns     ConnectionGetter
	publisher Publisher
	renderer  *Renderer
	pastDays  int
	aheadDays int
	now       func() time.Time
}

// NewService creates a feed service. publisher may be nil when publishing
// is disabled.
func NewService(events EventLister, conns ConnectionGetter, publisher Publisher, pastDays, aheadDays int) (*Service, error) {
	r, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	if pastDays <= 0 {
		pastDays = 30
	}
	if aheadDays <= 0 {
		aheadDays = 365
	}
	return &Service{
		events:    events,
		conns:     conns,
		publisher: publisher,
		renderer:  r,
		pastDays:  pastDays,
		aheadDays: aheadDays,
		now:       time.Now,
	}, nil
}

// Build renders the family's feed over the configured window.
func (s *Service) Build(ctx context.Context, familyID string) (string, error) {
	loc := time.UTC
	name := "Family"
	conn, err := s.conns.GetConnection(ctx, familyID)
	switch {
	case err == nil:
		loc = conn.Location()
		if conn.CalendarName != "" {
			name = conn.CalendarName
		}
	case !errors.Is(err, domain.ErrNotFound):
		return "", fmt.Errorf("get connection: %w", err)
	}

	now := s.now()
	today := domain.DateOf(now.In(loc))
	from := today.AddDate(0, 0, -s.pastDays)
	to := today.AddDate(0, 0, s.aheadDays)
	events, err := s.events.List(ctx, familyID, event.ListFilter{From: &from, To: &to, Status: domain.EventConfirmed})
	if err != nil {
		return "", fmt.Errorf("list events: %w", err)
	}
	return s.renderer.Render(name, loc, events, now)
}

// Publish renders and uploads the family's feed.
func (s *Service) Publish(ctx context.Context, familyID string) (string, error) {
	if s.publisher == nil {
		return "", ErrPublishDisabled
	}
	body, err := s.Build(ctx, familyID)
	if err != nil {
		return "", err
	}
	key, err := s.publisher.Publish(ctx, familyID, body)
	if err != nil {
		return "", err
	}
	logger.Info("feed published", "family_id", familyID, "key", key, "bytes", len(body))
	return key, nil
}
