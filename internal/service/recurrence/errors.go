package recurrence

import (
	"errors"

	"github.com/hearthkit/family-sync/internal/domain"
)

// Sentinel errors for the regeneration service.
var (
	ErrNotFound          = domain.ErrNotFound
	ErrNotParent         = errors.New("event is not a recurrence parent")
	ErrParentUnconfirmed = errors.New("recurrence parent is not confirmed")
)
