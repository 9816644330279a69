package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hearthkit/family-sync/internal/pkg/logger"
)

var (
	// ErrLocked is returned by WithLock when another worker holds the key.
	ErrLocked = errors.New("lock held by another worker")
	// ErrLeaseLost is returned by WithLock when the lock lapsed or was taken
	// over while fn was still running.
	ErrLeaseLost = errors.New("lock lease lost")
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Leaser is a DistLock that lapses after its TTL unless extended.
type Leaser interface {
	DistLock
	TTL() time.Duration
	// Extend renews the lease and reports whether it is still owned.
	Extend(ctx context.Context) (bool, error)
}

// Key builders for the critical sections of the sync engine.
func MailboxScanKey(mailboxID string) string { return "scan:mailbox:" + mailboxID }
func RecurrenceKey(parentID string) string { return "recurrence:parent:" + parentID }
func EventSyncKey(eventID string) string { return "sync:event:" + eventID }
func FamilySyncKey(familyID string) string { return "sync:family:" + familyID }
func WatchRenewKey(familyID string) string { return "sync:watch:" + familyID }

// NewLock creates a distributed lock using the best available backend.
// If redisClient is non-nil, uses Redis (preferred for cross-host locking).
// Otherwise falls back to PostgreSQL advisory locks.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// Locker hands out locks for keys. Services depend on this instead of on
// a concrete backend.
type Locker interface {
	Lock(key string) DistLock
}

// Factory is the production Locker.
type Factory struct {
	redis *redis.Client
	db    *sql.DB
	ttl   time.Duration
}

// NewFactory returns a Locker over Redis, or Postgres when redisClient is nil.
func NewFactory(redisClient *redis.Client, db *sql.DB, ttl time.Duration) *Factory {
	return &Factory{redis: redisClient, db: db, ttl: ttl}
}

// Lock implements Locker.
func (f *Factory) Lock(key string) DistLock {
	return NewLock(f.redis, f.db, key, f.ttl)
}

// WithLock runs fn while holding key. A nil locker runs fn unguarded.
// Leased locks are renewed every third of their TTL while fn runs; if the
// lease is lost fn's context is cancelled and ErrLeaseLost is returned.
func WithLock(ctx context.Context, locker Locker, key string, fn func(ctx context.Context) error) error {
	if locker == nil {
		return fn(ctx)
	}
	l := locker.Lock(key)
	ok, err := l.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", key, ErrLocked)
	}
	// Release on a fresh context so a cancelled caller still frees the key.
	defer l.Release(context.WithoutCancel(ctx))

	lease, ok := l.(Leaser)
	if !ok || lease.TTL() <= 0 {
		return fn(ctx)
	}
	return runLeased(ctx, lease, key, fn)
}

func runLeased(ctx context.Context, lease Leaser, key string, fn func(ctx context.Context) error) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ttl := lease.TTL()
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		renewed := time.Now()
		for {
			select {
			case <-stop:
				return
			case <-runCtx.Done():
				return
			case <-ticker.C:
			}
			owned, err := lease.Extend(runCtx)
			switch {
			case err == nil && owned:
				renewed = time.Now()
			case err == nil:
				cancel(fmt.Errorf("%s: %w", key, ErrLeaseLost))
				return
			case time.Since(renewed) >= ttl:
				cancel(fmt.Errorf("%s: %w: %v", key, ErrLeaseLost, err))
				return
			default:
				// Retried on the next tick while the lease has time left.
				logger.Warn("lock extend failed", "key", key, "error", err)
			}
		}
	}()

	err := fn(runCtx)
	close(stop)
	<-stopped
	if cause := context.Cause(runCtx); err != nil && errors.Is(cause, ErrLeaseLost) {
		return cause
	}
	return err
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// pg_try_advisory_lock is session-scoped; a dropped connection frees the lock
// the way a Redis TTL would.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	conn   *sql.Conn
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock without blocking. The lock is
// taken on a dedicated connection so Release unlocks the same session.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release releases the advisory lock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
