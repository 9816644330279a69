package ingestion

import (
	"context"
	"time"

	"github.com/hearthkit/family-sync/internal/domain"
)

// FilterRepository stores per-family sender filters.
type FilterRepository interface {
	// FindFilters returns the filters whose pattern equals address or
	// senderDomain, in any order.
	FindFilters(ctx context.Context, familyID, address, senderDomain string) ([]domain.SenderFilter, error)

	// ListFilters returns all filters of a family ordered by pattern.
	ListFilters(ctx context.Context, familyID string) ([]domain.SenderFilter, error)

	// UpsertFilter creates or replaces the filter for (family, pattern).
	UpsertFilter(ctx context.Context, f *domain.SenderFilter) error

	// InsertFilterIfAbsent creates the filter only when no filter exists for
	// (family, pattern). Reports whether a row was written.
	InsertFilterIfAbsent(ctx context.Context, f *domain.SenderFilter) (bool, error)

	// DeleteFilter removes a filter. Returns ErrNotFound if it doesn't exist.
	DeleteFilter(ctx context.Context, familyID, id string) error
}

// RecordRepository stores ingestion records and performs admission.
type RecordRepository interface {
	// GetRecord returns the record for a message. Returns ErrNotFound if
	// the message was never seen.
	GetRecord(ctx context.Context, mailboxID, messageID string) (*domain.IngestionRecord, error)

	// ListRecords returns the records of the given messages keyed by
	// message id. Unknown ids are absent from the map.
	ListRecords(ctx context.Context, mailboxID string, messageIDs []string) (map[string]domain.IngestionRecord, error)

	// AdmitMessage inserts events and writes rec with status processed in
	// one transaction. A message that already has a processed record yields
	// ErrAlreadyProcessed and writes nothing.
	AdmitMessage(ctx context.Context, rec *domain.IngestionRecord, events []domain.Event) error

	// SaveRecord upserts a skipped or error record. A processed record is
	// never overwritten.
	SaveRecord(ctx context.Context, rec *domain.IngestionRecord) error
}

// MailboxRepository stores connected mailboxes.
type MailboxRepository interface {
	// GetMailbox returns a mailbox. Returns ErrNotFound if it doesn't exist.
	GetMailbox(ctx context.Context, familyID, id string) (*domain.Mailbox, error)

	// MarkMailboxSynced advances the mailbox's last clean scan time.
	MarkMailboxSynced(ctx context.Context, id string, at time.Time) error
}

// PeopleRepository reads a family's tracked roster.
type PeopleRepository interface {
	ListPeople(ctx context.Context, familyID string) ([]domain.Person, error)
}
