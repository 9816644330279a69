package ingestion

import (
	"errors"
	"fmt"

	"github.com/hearthkit/family-sync/internal/domain"
)

// Sentinel errors for the ingestion service layer.
var (
	ErrNotFound = domain.ErrNotFound

	// ErrAlreadyProcessed is returned by RecordRepository.AdmitMessage when
	// the message already has a processed record. The gate treats it as a
	// successful no-op.
	ErrAlreadyProcessed = errors.New("message already processed")

	ErrInvalidFilter  = fmt.Errorf("%w: sender filter", domain.ErrInvalidInput)
	ErrUnresolvedDate = fmt.Errorf("%w: unresolvable date", domain.ErrInvalidInput)
)
