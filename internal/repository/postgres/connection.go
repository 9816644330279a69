package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/provider"
)

// ConnectionRepo implements calsync.ConnectionRepository and
// gcal.TokenStore.
type ConnectionRepo struct{ db *sql.DB }

// NewConnectionRepo creates a Postgres-backed calendar connection repository.
func NewConnectionRepo(db *sql.DB) *ConnectionRepo { return &ConnectionRepo{db: db} }

const connectionColumns = `family_id, provider, access_token, refresh_token, token_expiry,
		       COALESCE(calendar_id, ''), calendar_name, timezone,
		       COALESCE(watch_channel_id, ''), COALESCE(watch_resource_id, ''), watch_expires_at`

func scanConnection(s rowScanner) (*domain.CalendarConnection, error) {
	var (
		c              domain.CalendarConnection
		expiry, wexpAt sql.NullTime
	)
	if err := s.Scan(&c.FamilyID, &c.Provider, &c.AccessToken, &c.RefreshToken, &expiry,
		&c.CalendarID, &c.CalendarName, &c.Timezone,
		&c.WatchChannelID, &c.WatchResourceID, &wexpAt); err != nil {
		return nil, err
	}
	if expiry.Valid {
		c.TokenExpiry = expiry.Time
	}
	if wexpAt.Valid {
		t := wexpAt.Time.UTC()
		c.WatchExpiresAt = &t
	}
	return &c, nil
}

func (r *ConnectionRepo) get(ctx context.Context, where string, arg string) (*domain.CalendarConnection, error) {
	c, err := scanConnection(r.db.QueryRowContext(ctx, `
		SELECT `+connectionColumns+`
		FROM calendar_connections
		WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar connection: %w", err)
	}
	return c, nil
}

func (r *ConnectionRepo) GetConnection(ctx context.Context, familyID string) (*domain.CalendarConnection, error) {
	return r.get(ctx, "family_id = $1", familyID)
}

func (r *ConnectionRepo) FindByWatchChannel(ctx context.Context, channelID string) (*domain.CalendarConnection, error) {
	return r.get(ctx, "watch_channel_id = $1", channelID)
}

// ListConnections returns every family's connection.
func (r *ConnectionRepo) ListConnections(ctx context.Context) ([]domain.CalendarConnection, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+connectionColumns+` FROM calendar_connections ORDER BY family_id`)
	if err != nil {
		return nil, fmt.Errorf("list calendar connections: %w", err)
	}
	defer rows.Close()
	var out []domain.CalendarConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan calendar connection: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SaveConnection creates or replaces the family's connection. A changed
// calendar name clears the resolved calendar id so the next sync
// bootstraps again.
func (r *ConnectionRepo) SaveConnection(ctx context.Context, c *domain.CalendarConnection) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO calendar_connections
			(family_id, provider, access_token, refresh_token, token_expiry, calendar_name, timezone)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (family_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expiry = EXCLUDED.token_expiry,
			calendar_id = CASE WHEN calendar_connections.calendar_name = EXCLUDED.calendar_name
			                   THEN calendar_connections.calendar_id END,
			calendar_name = EXCLUDED.calendar_name,
			timezone = EXCLUDED.timezone
	`, c.FamilyID, c.Provider, c.AccessToken, c.RefreshToken, nullTime(c.TokenExpiry), c.CalendarName, c.Timezone)
	if err != nil {
		return fmt.Errorf("save calendar connection: %w", err)
	}
	return nil
}

func (r *ConnectionRepo) SetCalendarID(ctx context.Context, familyID, calendarID string) error {
	return r.update(ctx, "set calendar id",
		`UPDATE calendar_connections SET calendar_id = $2 WHERE family_id = $1`, familyID, calendarID)
}

func (r *ConnectionRepo) SaveWatch(ctx context.Context, familyID string, w provider.WatchChannel) error {
	return r.update(ctx, "save watch", `
		UPDATE calendar_connections
		SET watch_channel_id = $2, watch_resource_id = $3, watch_expires_at = $4
		WHERE family_id = $1
	`, familyID, w.ID, w.ResourceID, w.Expiration)
}

func (r *ConnectionRepo) SaveCalendarToken(ctx context.Context, familyID, accessToken, refreshToken string, expiry time.Time) error {
	return r.update(ctx, "save calendar token", `
		UPDATE calendar_connections
		SET access_token = $2, refresh_token = $3, token_expiry = $4
		WHERE family_id = $1
	`, familyID, accessToken, refreshToken, nullTime(expiry))
}

func (r *ConnectionRepo) update(ctx context.Context, op, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
