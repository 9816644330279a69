package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/pkg/logger"
)

// MessageRef identifies the message a batch of drafts came from.
type MessageRef struct {
	MailboxID  string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt time.Time
}

// Gate admits validated drafts as unconfirmed events, at most once per
// message.
type Gate struct {
	records       RecordRepository
	people        PeopleRepository
	minConfidence float64
	now           func() time.Time
}

// NewGate creates an admission gate. Drafts below minConfidence are dropped.
func NewGate(records RecordRepository, people PeopleRepository, minConfidence float64) *Gate {
	return &Gate{records: records, people: people, minConfidence: minConfidence, now: time.Now}
}

// Admit validates drafts, inserts one unconfirmed event per valid draft and
// marks the message processed, all in one transaction. A message that was
// already processed returns no ids and no error.
func (g *Gate) Admit(ctx context.Context, familyID string, ref MessageRef, drafts []domain.EventDraft) ([]string, error) {
	existing, err := g.records.GetRecord(ctx, ref.MailboxID, ref.MessageID)
	switch {
	case err == nil && existing.Status == domain.IngestionProcessed:
		return nil, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("get ingestion record: %w", err)
	}

	roster, err := g.people.ListPeople(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("list people: %w", err)
	}
	valid, rejected := ValidateDrafts(drafts, roster, g.minConfidence)
	for _, r := range rejected {
		logger.Debug("draft rejected",
			"message_id", ref.MessageID, "index", r.Index, "title", r.Title, "reason", string(r.Reason))
	}

	now := g.now().UTC()
	events := make([]domain.Event, 0, len(valid))
	ids := make([]string, 0, len(valid))
	for _, d := range valid {
		e := draftToEvent(familyID, ref, d, now)
		events = append(events, e)
		ids = append(ids, e.ID)
	}

	rec := &domain.IngestionRecord{
		ID:              uuid.NewString(),
		FamilyID:        familyID,
		MailboxID:       ref.MailboxID,
		MessageID:       ref.MessageID,
		Subject:         ref.Subject,
		Sender:          ref.Sender,
		ReceivedAt:      ref.ReceivedAt,
		EventsExtracted: len(events),
		Status:          domain.IngestionProcessed,
		ProcessedAt:     now,
	}
	if err := g.records.AdmitMessage(ctx, rec, events); err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			return nil, nil
		}
		return nil, fmt.Errorf("admit message %s: %w", ref.MessageID, err)
	}
	return ids, nil
}

func draftToEvent(familyID string, ref MessageRef, d domain.EventDraft, now time.Time) domain.Event {
	return domain.Event{
		ID:             uuid.NewString(),
		FamilyID:       familyID,
		Title:          d.Title,
		Description:    d.Description,
		Location:       d.Location,
		Category:       d.Category,
		Date:           d.Date,
		StartTime:      d.StartTime,
		EndTime:        d.EndTime,
		PersonTag:      d.PersonTag,
		RequiresAction: d.ActionRequired,
		ActionDeadline: d.ActionDeadline,
		Source: &domain.EventSource{
			MailboxID: ref.MailboxID,
			MessageID: ref.MessageID,
			Subject:   ref.Subject,
		},
		Status:    domain.EventUnconfirmed,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
