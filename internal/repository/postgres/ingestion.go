package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/service/ingestion"
)

// IngestionRepo implements ingestion.RecordRepository.
type IngestionRepo struct{ db *sql.DB }

// NewIngestionRepo creates a Postgres-backed ingestion record repository.
func NewIngestionRepo(db *sql.DB) *IngestionRepo { return &IngestionRepo{db: db} }

const recordColumns = `id, family_id, mailbox_id, message_id, subject, sender, received_at,
		       events_extracted, status, COALESCE(error, ''), processed_at`

func scanRecord(s rowScanner) (*domain.IngestionRecord, error) {
	var rec domain.IngestionRecord
	if err := s.Scan(
		&rec.ID, &rec.FamilyID, &rec.MailboxID, &rec.MessageID, &rec.Subject, &rec.Sender, &rec.ReceivedAt,
		&rec.EventsExtracted, &rec.Status, &rec.Error, &rec.ProcessedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *IngestionRepo) GetRecord(ctx context.Context, mailboxID, messageID string) (*domain.IngestionRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM ingestion_records
		WHERE mailbox_id = $1 AND message_id = $2
	`, mailboxID, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ingestion record: %w", err)
	}
	return rec, nil
}

func (r *IngestionRepo) ListRecords(ctx context.Context, mailboxID string, messageIDs []string) (map[string]domain.IngestionRecord, error) {
	out := make(map[string]domain.IngestionRecord, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM ingestion_records
		WHERE mailbox_id = $1 AND message_id = ANY($2)
	`, mailboxID, pq.Array(messageIDs))
	if err != nil {
		return nil, fmt.Errorf("list ingestion records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ingestion record: %w", err)
		}
		out[rec.MessageID] = *rec
	}
	return out, rows.Err()
}

// upsertRecord writes rec unless a processed record already exists. It
// reports whether a row was written.
func upsertRecord(ctx context.Context, ex execer, rec *domain.IngestionRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	res, err := ex.ExecContext(ctx, `
		INSERT INTO ingestion_records
			(id, family_id, mailbox_id, message_id, subject, sender, received_at,
			 events_extracted, status, error, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11)
		ON CONFLICT (mailbox_id, message_id) DO UPDATE SET
			subject = EXCLUDED.subject, sender = EXCLUDED.sender,
			events_extracted = EXCLUDED.events_extracted, status = EXCLUDED.status,
			error = EXCLUDED.error, processed_at = EXCLUDED.processed_at
		WHERE ingestion_records.status <> 'processed'
	`, rec.ID, rec.FamilyID, rec.MailboxID, rec.MessageID, rec.Subject, rec.Sender, rec.ReceivedAt,
		rec.EventsExtracted, rec.Status, rec.Error, rec.ProcessedAt)
	if err != nil {
		return false, fmt.Errorf("upsert ingestion record: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AdmitMessage inserts the events and the processed record together. The
// conditional upsert is what makes a concurrent second admission of the
// same message write nothing.
func (r *IngestionRepo) AdmitMessage(ctx context.Context, rec *domain.IngestionRecord, events []domain.Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rec.Status = domain.IngestionProcessed
	rec.EventsExtracted = len(events)
	written, err := upsertRecord(ctx, tx, rec)
	if err != nil {
		return err
	}
	if !written {
		return ingestion.ErrAlreadyProcessed
	}
	for i := range events {
		if err := insertEvent(ctx, tx, &events[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit admission: %w", err)
	}
	return nil
}

func (r *IngestionRepo) SaveRecord(ctx context.Context, rec *domain.IngestionRecord) error {
	if rec.Status == domain.IngestionProcessed {
		return fmt.Errorf("%w: processed records are written by AdmitMessage", domain.ErrInvalidInput)
	}
	_, err := upsertRecord(ctx, r.db, rec)
	return err
}

// FilterRepo implements ingestion.FilterRepository.
type FilterRepo struct{ db *sql.DB }

// NewFilterRepo creates a Postgres-backed sender filter repository.
func NewFilterRepo(db *sql.DB) *FilterRepo { return &FilterRepo{db: db} }

func (r *FilterRepo) query(ctx context.Context, q string, args ...any) ([]domain.SenderFilter, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sender filters: %w", err)
	}
	defer rows.Close()
	var out []domain.SenderFilter
	for rows.Next() {
		var f domain.SenderFilter
		if err := rows.Scan(&f.ID, &f.FamilyID, &f.Pattern, &f.IsDomain, &f.Type, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sender filter: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *FilterRepo) FindFilters(ctx context.Context, familyID, address, senderDomain string) ([]domain.SenderFilter, error) {
	return r.query(ctx, `
		SELECT id, family_id, pattern, is_domain, filter_type, created_at
		FROM sender_filters
		WHERE family_id = $1 AND pattern IN ($2, $3)
	`, familyID, address, senderDomain)
}

func (r *FilterRepo) ListFilters(ctx context.Context, familyID string) ([]domain.SenderFilter, error) {
	return r.query(ctx, `
		SELECT id, family_id, pattern, is_domain, filter_type, created_at
		FROM sender_filters
		WHERE family_id = $1
		ORDER BY pattern
	`, familyID)
}

func (r *FilterRepo) UpsertFilter(ctx context.Context, f *domain.SenderFilter) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sender_filters (id, family_id, pattern, is_domain, filter_type, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (family_id, pattern) DO UPDATE SET
			is_domain = EXCLUDED.is_domain, filter_type = EXCLUDED.filter_type
		RETURNING id, created_at
	`, f.ID, f.FamilyID, f.Pattern, f.IsDomain, f.Type).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert sender filter: %w", err)
	}
	return nil
}

func (r *FilterRepo) InsertFilterIfAbsent(ctx context.Context, f *domain.SenderFilter) (bool, error) {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sender_filters (id, family_id, pattern, is_domain, filter_type, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (family_id, pattern) DO NOTHING
	`, f.ID, f.FamilyID, f.Pattern, f.IsDomain, f.Type)
	if err != nil {
		return false, fmt.Errorf("insert sender filter: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *FilterRepo) DeleteFilter(ctx context.Context, familyID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sender_filters WHERE id = $1 AND family_id = $2`, id, familyID)
	if err != nil {
		return fmt.Errorf("delete sender filter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MailboxRepo implements ingestion.MailboxRepository and gmail.TokenStore.
type MailboxRepo struct{ db *sql.DB }

// NewMailboxRepo creates a Postgres-backed mailbox repository.
func NewMailboxRepo(db *sql.DB) *MailboxRepo { return &MailboxRepo{db: db} }

const mailboxColumns = `id, family_id, provider, address, access_token, refresh_token, token_expiry, last_sync_at`

func scanMailbox(s rowScanner) (*domain.Mailbox, error) {
	var (
		mb     domain.Mailbox
		expiry sql.NullTime
		synced sql.NullTime
	)
	if err := s.Scan(&mb.ID, &mb.FamilyID, &mb.Provider, &mb.Address,
		&mb.AccessToken, &mb.RefreshToken, &expiry, &synced); err != nil {
		return nil, err
	}
	if expiry.Valid {
		mb.TokenExpiry = expiry.Time
	}
	if synced.Valid {
		t := synced.Time.UTC()
		mb.LastSyncAt = &t
	}
	return &mb, nil
}

func (r *MailboxRepo) GetMailbox(ctx context.Context, familyID, id string) (*domain.Mailbox, error) {
	mb, err := scanMailbox(r.db.QueryRowContext(ctx, `
		SELECT `+mailboxColumns+`
		FROM mailboxes
		WHERE id = $1 AND family_id = $2
	`, id, familyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mailbox: %w", err)
	}
	return mb, nil
}

// ListMailboxes returns every connected mailbox. The scheduler walks this
// list; familyID narrows it when non-empty.
func (r *MailboxRepo) ListMailboxes(ctx context.Context, familyID string) ([]domain.Mailbox, error) {
	q := `SELECT ` + mailboxColumns + ` FROM mailboxes`
	var args []any
	if familyID != "" {
		q += ` WHERE family_id = $1`
		args = append(args, familyID)
	}
	q += ` ORDER BY family_id, id`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}
	defer rows.Close()
	var out []domain.Mailbox
	for rows.Next() {
		mb, err := scanMailbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mailbox: %w", err)
		}
		out = append(out, *mb)
	}
	return out, rows.Err()
}

// SaveMailbox creates or replaces a mailbox connection.
func (r *MailboxRepo) SaveMailbox(ctx context.Context, mb *domain.Mailbox) error {
	if mb.ID == "" {
		mb.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mailboxes (id, family_id, provider, address, access_token, refresh_token, token_expiry)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			provider = EXCLUDED.provider, address = EXCLUDED.address,
			access_token = EXCLUDED.access_token, refresh_token = EXCLUDED.refresh_token,
			token_expiry = EXCLUDED.token_expiry
	`, mb.ID, mb.FamilyID, mb.Provider, mb.Address, mb.AccessToken, mb.RefreshToken, nullTime(mb.TokenExpiry))
	if err != nil {
		return fmt.Errorf("save mailbox: %w", err)
	}
	return nil
}

func (r *MailboxRepo) MarkMailboxSynced(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE mailboxes SET last_sync_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark mailbox synced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MailboxRepo) SaveMailboxToken(ctx context.Context, mailboxID, accessToken, refreshToken string, expiry time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE mailboxes SET access_token = $2, refresh_token = $3, token_expiry = $4
		WHERE id = $1
	`, mailboxID, accessToken, refreshToken, nullTime(expiry))
	if err != nil {
		return fmt.Errorf("save mailbox token: %w", err)
	}
	return nil
}

// PeopleRepo implements ingestion.PeopleRepository.
type PeopleRepo struct{ db *sql.DB }

// NewPeopleRepo creates a Postgres-backed roster repository.
func NewPeopleRepo(db *sql.DB) *PeopleRepo { return &PeopleRepo{db: db} }

func (r *PeopleRepo) ListPeople(ctx context.Context, familyID string) ([]domain.Person, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, nicknames FROM family_people
		WHERE family_id = $1
		ORDER BY name
	`, familyID)
	if err != nil {
		return nil, fmt.Errorf("list people: %w", err)
	}
	defer rows.Close()
	var out []domain.Person
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(&p.Name, pq.Array(&p.Nicknames)); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReplacePeople overwrites the family's roster.
func (r *PeopleRepo) ReplacePeople(ctx context.Context, familyID string, people []domain.Person) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM family_people WHERE family_id = $1`, familyID); err != nil {
		return fmt.Errorf("clear people: %w", err)
	}
	for _, p := range people {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO family_people (family_id, name, nicknames) VALUES ($1, $2, $3)
		`, familyID, p.Name, pq.Array(p.Nicknames)); err != nil {
			return fmt.Errorf("insert person %s: %w", p.Name, err)
		}
	}
	return tx.Commit()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
