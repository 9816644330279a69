package calsync

import (
	"context"
	"time"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/provider"
)

// EventRepository is the event storage the synchronizer needs.
type EventRepository interface {
	// GetEvent returns one event. Returns ErrNotFound if it doesn't exist.
	GetEvent(ctx context.Context, familyID, id string) (*domain.Event, error)

	// CreateEvent inserts a new event.
	CreateEvent(ctx context.Context, e *domain.Event) error

	// ListPendingSync returns confirmed events that are unsynced or stale.
	ListPendingSync(ctx context.Context, familyID string) ([]domain.Event, error)

	// ListByExternalIDs returns the family's events linked to any of ids,
	// keyed by external id.
	ListByExternalIDs(ctx context.Context, familyID string, ids []string) (map[string]domain.Event, error)

	// MarkSynced links an event to its external copy and stamps the sync
	// time, leaving updated_at untouched.
	MarkSynced(ctx context.Context, familyID, id, externalID string, at time.Time) error

	// ClearExternalID unlinks an event whose external copy is gone.
	ClearExternalID(ctx context.Context, familyID, id string) error

	// ApplyExternal overwrites the synced fields of e (title, date, times,
	// location, description) and sets updated_at and last_synced_at to at.
	ApplyExternal(ctx context.Context, e *domain.Event, at time.Time) error
}

// ConnectionRepository stores calendar connections.
type ConnectionRepository interface {
	// GetConnection returns the family's connection. Returns ErrNotFound if
	// none exists.
	GetConnection(ctx context.Context, familyID string) (*domain.CalendarConnection, error)

	// SetCalendarID stores the resolved external calendar id.
	SetCalendarID(ctx context.Context, familyID, calendarID string) error

	// SaveWatch stores the active push-notification channel.
	SaveWatch(ctx context.Context, familyID string, w provider.WatchChannel) error

	// FindByWatchChannel returns the connection owning a channel. Returns
	// ErrNotFound if no connection has it.
	FindByWatchChannel(ctx context.Context, channelID string) (*domain.CalendarConnection, error)
}
