package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/service/event"
)

// EventRepo implements event.Repository, recurrence.Repository and
// calsync.EventRepository against PostgreSQL.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

const eventColumns = `id, family_id, title, description, location, category, event_date,
		       start_time, end_time, person_tag, requires_action, action_deadline,
		       source_mailbox_id, source_message_id, source_subject, status,
		       external_id, last_synced_at, recurrence, parent_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(s rowScanner) (*domain.Event, error) {
	var (
		e                                  domain.Event
		deadline, syncedAt                 sql.NullTime
		srcMailbox, srcMessage, srcSubject sql.NullString
		externalID, parentID               sql.NullString
		rule                               []byte
	)
	if err := s.Scan(
		&e.ID, &e.FamilyID, &e.Title, &e.Description, &e.Location, &e.Category, &e.Date,
		&e.StartTime, &e.EndTime, &e.PersonTag, &e.RequiresAction, &deadline,
		&srcMailbox, &srcMessage, &srcSubject, &e.Status,
		&externalID, &syncedAt, &rule, &parentID, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	e.Date = domain.DateOf(e.Date)
	if deadline.Valid {
		d := domain.DateOf(deadline.Time)
		e.ActionDeadline = &d
	}
	if srcMailbox.Valid {
		e.Source = &domain.EventSource{MailboxID: srcMailbox.String, MessageID: srcMessage.String, Subject: srcSubject.String}
	}
	if externalID.Valid {
		e.ExternalID = &externalID.String
	}
	if syncedAt.Valid {
		t := syncedAt.Time.UTC()
		e.LastSyncedAt = &t
	}
	if parentID.Valid {
		e.ParentID = &parentID.String
	}
	if len(rule) > 0 {
		e.Recurrence = &domain.RecurrenceRule{}
		if err := json.Unmarshal(rule, e.Recurrence); err != nil {
			return nil, fmt.Errorf("decode recurrence of %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, ex execer, e *domain.Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	rule, err := encodeRule(e.Recurrence)
	if err != nil {
		return err
	}
	var srcMailbox, srcMessage, srcSubject any
	if e.Source != nil {
		srcMailbox, srcMessage, srcSubject = e.Source.MailboxID, e.Source.MessageID, e.Source.Subject
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22)
	`, e.ID, e.FamilyID, e.Title, e.Description, e.Location, e.Category, e.Date,
		e.StartTime, e.EndTime, e.PersonTag, e.RequiresAction, e.ActionDeadline,
		srcMailbox, srcMessage, srcSubject, e.Status,
		e.ExternalID, e.LastSyncedAt, rule, e.ParentID, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func encodeRule(r *domain.RecurrenceRule) (any, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode recurrence: %w", err)
	}
	return b, nil
}

func (r *EventRepo) GetEvent(ctx context.Context, familyID, id string) (*domain.Event, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE id = $1 AND family_id = $2
	`, id, familyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (r *EventRepo) ListEvents(ctx context.Context, familyID string, f event.ListFilter) ([]domain.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE family_id = $1`
	args := []any{familyID}
	add := func(cond string, val any) {
		args = append(args, val)
		q += fmt.Sprintf(" AND "+cond, len(args))
	}
	if f.From != nil {
		add("event_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("event_date <= $%d", *f.To)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.PersonTag != "" {
		add("person_tag = $%d", f.PersonTag)
	}
	if f.ParentID != "" {
		add("parent_id = $%d", f.ParentID)
	}
	q += " ORDER BY event_date, start_time, created_at"
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		q += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return scanEvents(rows)
}

func (r *EventRepo) CreateEvent(ctx context.Context, e *domain.Event) error {
	return insertEvent(ctx, r.db, e)
}

func (r *EventRepo) UpdateEvent(ctx context.Context, e *domain.Event) error {
	rule, err := encodeRule(e.Recurrence)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE events SET
			title = $3, description = $4, location = $5, category = $6, event_date = $7,
			start_time = $8, end_time = $9, person_tag = $10, requires_action = $11,
			action_deadline = $12, status = $13, external_id = $14, last_synced_at = $15,
			recurrence = $16, parent_id = $17, updated_at = $18
		WHERE id = $1 AND family_id = $2
	`, e.ID, e.FamilyID, e.Title, e.Description, e.Location, e.Category, e.Date,
		e.StartTime, e.EndTime, e.PersonTag, e.RequiresAction,
		e.ActionDeadline, e.Status, e.ExternalID, e.LastSyncedAt,
		rule, e.ParentID, now)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	e.UpdatedAt = now
	return nil
}

func (r *EventRepo) DeleteEvent(ctx context.Context, familyID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1 AND family_id = $2`, id, familyID)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ReplaceInstances swaps the generated instances of a parent in one
// transaction and returns the rows it deleted.
func (r *EventRepo) ReplaceInstances(ctx context.Context, familyID, parentID string, instances []domain.Event) ([]domain.Event, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		DELETE FROM events
		WHERE family_id = $1 AND parent_id = $2
		RETURNING `+eventColumns,
		familyID, parentID)
	if err != nil {
		return nil, fmt.Errorf("delete instances: %w", err)
	}
	deleted, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	for i := range instances {
		if err := insertEvent(ctx, tx, &instances[i]); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit instances: %w", err)
	}
	return deleted, nil
}

func (r *EventRepo) ListPendingSync(ctx context.Context, familyID string) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE family_id = $1 AND status = 'confirmed'
		  AND (external_id IS NULL OR last_synced_at IS NULL OR updated_at > last_synced_at)
		ORDER BY event_date, start_time
	`, familyID)
	if err != nil {
		return nil, fmt.Errorf("list pending sync: %w", err)
	}
	return scanEvents(rows)
}

func (r *EventRepo) ListByExternalIDs(ctx context.Context, familyID string, ids []string) (map[string]domain.Event, error) {
	out := make(map[string]domain.Event, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE family_id = $1 AND external_id = ANY($2)
	`, familyID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list by external ids: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		out[*e.ExternalID] = e
	}
	return out, nil
}

func (r *EventRepo) MarkSynced(ctx context.Context, familyID, id, externalID string, at time.Time) error {
	return r.execOne(ctx, "mark synced", `
		UPDATE events SET external_id = $3, last_synced_at = $4
		WHERE id = $1 AND family_id = $2
	`, id, familyID, externalID, at)
}

func (r *EventRepo) ClearExternalID(ctx context.Context, familyID, id string) error {
	return r.execOne(ctx, "clear external id", `
		UPDATE events SET external_id = NULL, last_synced_at = NULL
		WHERE id = $1 AND family_id = $2
	`, id, familyID)
}

func (r *EventRepo) ApplyExternal(ctx context.Context, e *domain.Event, at time.Time) error {
	return r.execOne(ctx, "apply external", `
		UPDATE events SET
			title = $3, event_date = $4, start_time = $5, end_time = $6,
			location = $7, description = $8, updated_at = $9, last_synced_at = $9
		WHERE id = $1 AND family_id = $2
	`, e.ID, e.FamilyID, strings.TrimSpace(e.Title), e.Date, e.StartTime, e.EndTime,
		e.Location, e.Description, at)
}

func (r *EventRepo) execOne(ctx context.Context, op, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
