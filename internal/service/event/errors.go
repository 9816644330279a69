package event

import (
	"errors"

	"github.com/hearthkit/family-sync/internal/domain"
)

// Sentinel errors for the event service layer.
var (
	ErrNotFound         = domain.ErrNotFound
	ErrValidation       = domain.ErrInvalidInput
	ErrAlreadyConfirmed = errors.New("event is already confirmed")
)
