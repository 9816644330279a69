package event

import (
	"context"
	"time"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/service/recurrence"
)

// Repository defines the data access contract for events.
// Implementations must be safe for concurrent use.
type Repository interface {
	// GetEvent returns a single event. Returns ErrNotFound if it doesn't exist.
	GetEvent(ctx context.Context, familyID, id string) (*domain.Event, error)

	// ListEvents returns events matching the filter ordered by date, then
	// start time.
	ListEvents(ctx context.Context, familyID string, f ListFilter) ([]domain.Event, error)

	// CreateEvent inserts a new event.
	CreateEvent(ctx context.Context, e *domain.Event) error

	// UpdateEvent overwrites every mutable field of e and bumps updated_at.
	UpdateEvent(ctx context.Context, e *domain.Event) error

	// DeleteEvent removes one event. Returns ErrNotFound if it doesn't exist.
	DeleteEvent(ctx context.Context, familyID, id string) error
}

// ListFilter controls filtering and pagination for event lists. Zero values
// are not applied.
type ListFilter struct {
	From      *time.Time
	To        *time.Time
	Status    domain.EventStatus
	PersonTag string
	ParentID  string
	Limit     int
	Offset    int
}

// Regenerator maintains recurrence instances.
type Regenerator interface {
	Regenerate(ctx context.Context, familyID, parentID string) (*recurrence.Result, error)
	Clear(ctx context.Context, familyID, parentID string) ([]domain.Event, error)
}

// Pusher mirrors events to the external calendar.
type Pusher interface {
	PushCreate(ctx context.Context, familyID, eventID string) (string, error)
	PushUpdate(ctx context.Context, familyID, eventID string) (string, error)
	PushDelete(ctx context.Context, familyID, externalID string) error
}
