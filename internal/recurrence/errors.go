package recurrence

import (
	"errors"
	"fmt"

	"github.com/hearthkit/family-sync/internal/domain"
)

var (
	ErrInvalidInterval = fmt.Errorf("%w: recurrence interval must be positive", domain.ErrInvalidInput)
	ErrInvalidPattern  = fmt.Errorf("%w: unknown recurrence pattern", domain.ErrInvalidInput)
	ErrInvalidCount    = fmt.Errorf("%w: recurrence count must be positive", domain.ErrInvalidInput)
	ErrInvalidWeekday  = fmt.Errorf("%w: weekday out of range", domain.ErrInvalidInput)
	ErrUnsupportedRule = fmt.Errorf("%w: unsupported RRULE", domain.ErrInvalidInput)

	// errRunaway signals the iteration guard tripped. It means a rule that
	// can never produce enough matches slipped past validation.
	errRunaway = errors.New("recurrence: iteration guard exceeded")
)
