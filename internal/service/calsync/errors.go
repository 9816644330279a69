package calsync

import (
	"errors"

	"github.com/hearthkit/family-sync/internal/domain"
)

// Sentinel errors for the sync service layer.
var (
	ErrNotFound = domain.ErrNotFound

	// ErrNoCalendar means the family has not connected a calendar. It is
	// reported to the caller and never fatal to a batch.
	ErrNoCalendar = errors.New("no calendar connected")

	// ErrNeedsReconnect means the external grant lacks the required scope
	// or was revoked. Never retried automatically.
	ErrNeedsReconnect = errors.New("calendar needs reconnect")

	ErrNotConfirmed   = errors.New("event is not confirmed")
	ErrUnknownChannel = errors.New("unknown watch channel")
)
