package provider

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy shared by every adapter.
var (
	// ErrUnauthorized means the credential expired or was revoked. Callers
	// refresh once and retry.
	ErrUnauthorized = errors.New("provider: unauthorized")
	// ErrForbidden means the granted scope is insufficient. Never retried.
	ErrForbidden = errors.New("provider: forbidden")
	// ErrNotFound means the remote object does not exist.
	ErrNotFound = errors.New("provider: not found")
	// ErrRateLimited means the provider throttled the call.
	ErrRateLimited = errors.New("provider: rate limited")
	// ErrTimeout means the call exceeded its deadline.
	ErrTimeout = errors.New("provider: timeout")
	// ErrInvalidEvent means an external event failed boundary validation.
	ErrInvalidEvent = errors.New("provider: invalid external event")
)

// Refresher can renew its own credential.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RetryAuth runs fn, and on ErrUnauthorized refreshes the credential and
// runs fn exactly once more. A failed refresh is returned wrapped in
// ErrForbidden since only a reconnect can fix it.
func RetryAuth(ctx context.Context, r Refresher, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}
	if rerr := r.Refresh(ctx); rerr != nil {
		if errors.Is(rerr, ErrForbidden) || errors.Is(rerr, ErrUnauthorized) {
			return errors.Join(ErrForbidden, rerr)
		}
		return rerr
	}
	return fn(ctx)
}

// WithTimeout runs fn under a deadline and reports an expired deadline as
// ErrTimeout. A zero timeout leaves ctx unchanged.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := fn(cctx)
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return errors.Join(ErrTimeout, err)
	}
	return err
}

// Call runs fn through RetryAuth under a single deadline that covers the
// first attempt, the credential refresh and the retry.
func Call(ctx context.Context, r Refresher, d time.Duration, fn func(ctx context.Context) error) error {
	return WithTimeout(ctx, d, func(ctx context.Context) error {
		return RetryAuth(ctx, r, fn)
	})
}
