package recurrence

import (
	"context"

	"github.com/hearthkit/family-sync/internal/domain"
)

// Repository defines the storage the regeneration service needs.
type Repository interface {
	// GetEvent returns one event. Returns ErrNotFound if it doesn't exist.
	GetEvent(ctx context.Context, familyID, id string) (*domain.Event, error)

	// ReplaceInstances deletes every instance of parentID and inserts
	// instances in a single transaction. It returns the deleted rows so
	// their external copies can be removed.
	ReplaceInstances(ctx context.Context, familyID, parentID string, instances []domain.Event) ([]domain.Event, error)
}
