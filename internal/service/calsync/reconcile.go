package calsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/pkg/distlock"
	"github.com/hearthkit/family-sync/internal/pkg/logger"
	"github.com/hearthkit/family-sync/internal/provider"
)

// ReconcileResult summarizes one pull from the external calendar.
type ReconcileResult struct {
	Fetched   int                `json:"fetched"`
	Created   int                `json:"created"`
	Updated   int                `json:"updated"`
	Unchanged int                `json:"unchanged"`
	Skipped   int                `json:"skipped"`
	Errors    []domain.ItemError `json:"errors,omitempty"`
}

// SyncResult summarizes a full push-then-pull pass for one family.
type SyncResult struct {
	Pushed         int                `json:"pushed"`
	Errors         []domain.ItemError `json:"errors,omitempty"`
	Pull           *ReconcileResult   `json:"pull,omitempty"`
	NeedsReconnect bool               `json:"needs_reconnect"`
}

// PullReconcile imports external changes inside the pull window. Unknown
// external events become confirmed local events; linked events whose synced
// fields differ are overwritten. Locally modified events that have not been
// pushed yet keep their local state.
func (s *Service) PullReconcile(ctx context.Context, familyID string) (*ReconcileResult, error) {
	var res *ReconcileResult
	err := distlock.WithLock(ctx, s.locker, distlock.FamilySyncKey(familyID), func(ctx context.Context) error {
		sess, err := s.open(ctx, familyID)
		if err != nil {
			return err
		}
		res, err = s.pull(ctx, sess)
		return err
	})
	return res, err
}

func (s *Service) pull(ctx context.Context, sess *session) (*ReconcileResult, error) {
	familyID := sess.conn.FamilyID
	now := s.now()
	y, m, d := now.In(sess.loc).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, sess.loc)
	window := provider.TimeWindow{From: from, To: from.AddDate(0, 0, s.opts.PullWindowDays)}

	var remote []provider.ExternalEvent
	err := s.call(ctx, sess, func(ctx context.Context) error {
		var err error
		remote, err = sess.cal.ListEvents(ctx, sess.calendarID, window)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list external events: %w", err)
	}

	res := &ReconcileResult{Fetched: len(remote)}
	valid := make([]provider.ExternalEvent, 0, len(remote))
	ids := make([]string, 0, len(remote))
	for _, ext := range remote {
		if err := ext.Validate(); err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, domain.NewItemError(ext.ID, "validate", err))
			continue
		}
		valid = append(valid, ext)
		ids = append(ids, ext.ID)
	}

	local, err := s.events.ListByExternalIDs(ctx, familyID, ids)
	if err != nil {
		return nil, fmt.Errorf("list linked events: %w", err)
	}

	for _, ext := range valid {
		incoming := s.fromExternal(ext, sess.loc)
		existing, ok := local[ext.ID]
		if !ok {
			if err := s.importEvent(ctx, familyID, ext.ID, incoming); err != nil {
				res.Errors = append(res.Errors, domain.NewItemError(ext.ID, "import", err))
				continue
			}
			res.Created++
			continue
		}

		changed, err := s.applyIfChanged(ctx, existing.ID, familyID, incoming)
		switch {
		case err != nil:
			res.Errors = append(res.Errors, domain.NewItemError(existing.ID, "apply", err))
		case changed:
			res.Updated++
		default:
			res.Unchanged++
		}
	}

	logger.Info("calendar pull complete",
		"family_id", familyID,
		"fetched", res.Fetched,
		"created", res.Created,
		"updated", res.Updated,
		"errors", len(res.Errors),
	)
	return res, nil
}

// fromExternal maps an external event onto the synced local fields.
func (s *Service) fromExternal(ext provider.ExternalEvent, loc *time.Location) domain.Event {
	e := domain.Event{
		Title:       ext.Title,
		Location:    ext.Location,
		Description: StripMetadata(ext.Description),
	}
	if ext.AllDay {
		e.Date = domain.DateOf(ext.Start)
		return e
	}
	start := ext.Start.In(loc)
	e.Date = domain.DateOf(start)
	e.StartTime = start.Format(domain.ClockLayout)
	if !ext.End.IsZero() {
		end := ext.End.In(loc)
		if domain.DateOf(end).Equal(e.Date) && end.After(start) {
			e.EndTime = end.Format(domain.ClockLayout)
		}
	}
	return e
}

func (s *Service) importEvent(ctx context.Context, familyID, externalID string, in domain.Event) error {
	now := s.now().UTC()
	extID := externalID
	e := in
	e.ID = uuid.NewString()
	e.FamilyID = familyID
	e.Status = domain.EventConfirmed
	e.ExternalID = &extID
	e.LastSyncedAt = &now
	e.CreatedAt = now
	e.UpdatedAt = now
	if err := e.Validate(); err != nil {
		return err
	}
	return s.events.CreateEvent(ctx, &e)
}

func (s *Service) applyIfChanged(ctx context.Context, eventID, familyID string, in domain.Event) (bool, error) {
	var changed bool
	err := distlock.WithLock(ctx, s.locker, distlock.EventSyncKey(eventID), func(ctx context.Context) error {
		cur, err := s.events.GetEvent(ctx, familyID, eventID)
		if err != nil {
			return err
		}
		if cur.SyncState() == domain.SyncStale {
			return nil
		}
		if sameSyncedFields(cur, &in) {
			return nil
		}

		end := in.EndTime
		if cur.EndTime == "" && in.StartTime != "" && defaultLength(in, s.opts.DefaultEventLen) {
			end = ""
		}
		cur.Title = in.Title
		cur.Date = in.Date
		cur.StartTime = in.StartTime
		cur.EndTime = end
		cur.Location = in.Location
		cur.Description = in.Description
		if err := s.events.ApplyExternal(ctx, cur, s.now().UTC()); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

func sameSyncedFields(cur, in *domain.Event) bool {
	return cur.Title == in.Title &&
		cur.Date.Equal(in.Date) &&
		cur.StartTime == in.StartTime &&
		cur.Location == in.Location &&
		cur.Description == in.Description
}

// defaultLength reports whether in spans exactly the length a push assigns
// to events without an end time.
func defaultLength(in domain.Event, d time.Duration) bool {
	if in.EndTime == "" {
		return true
	}
	start, err1 := time.Parse(domain.ClockLayout, in.StartTime)
	end, err2 := time.Parse(domain.ClockLayout, in.EndTime)
	if err1 != nil || err2 != nil {
		return false
	}
	return end.Sub(start) == d
}

// SyncFamily pushes every unsynced or stale confirmed event and then pulls
// external changes. Item failures are collected; a revoked grant stops the
// pass and sets NeedsReconnect.
func (s *Service) SyncFamily(ctx context.Context, familyID string) (*SyncResult, error) {
	res := &SyncResult{}
	err := distlock.WithLock(ctx, s.locker, distlock.FamilySyncKey(familyID), func(ctx context.Context) error {
		sess, err := s.open(ctx, familyID)
		if err != nil {
			if errors.Is(err, ErrNeedsReconnect) {
				res.NeedsReconnect = true
			}
			return err
		}

		pending, err := s.events.ListPendingSync(ctx, familyID)
		if err != nil {
			return fmt.Errorf("list pending: %w", err)
		}
		for _, e := range pending {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			err := s.pushOne(ctx, sess, e.ID)
			if errors.Is(err, ErrNeedsReconnect) {
				res.NeedsReconnect = true
				res.Errors = append(res.Errors, domain.NewItemError(e.ID, "push", err))
				return nil
			}
			if err != nil {
				res.Errors = append(res.Errors, domain.NewItemError(e.ID, "push", err))
				continue
			}
			res.Pushed++
		}

		pull, err := s.pull(ctx, sess)
		if errors.Is(err, ErrNeedsReconnect) {
			res.NeedsReconnect = true
			return nil
		}
		if err != nil {
			res.Errors = append(res.Errors, domain.NewItemError(familyID, "pull", err))
			return nil
		}
		res.Pull = pull
		return nil
	})
	if err != nil {
		return res, err
	}
	if res.NeedsReconnect {
		logger.Warn("calendar needs reconnect", "family_id", familyID)
	}
	return res, nil
}

func (s *Service) pushOne(ctx context.Context, sess *session, eventID string) error {
	return distlock.WithLock(ctx, s.locker, distlock.EventSyncKey(eventID), func(ctx context.Context) error {
		e, err := s.events.GetEvent(ctx, sess.conn.FamilyID, eventID)
		if err != nil {
			return err
		}
		if !e.IsConfirmed() || e.SyncState() == domain.SyncSynced {
			return nil
		}
		_, err = s.push(ctx, sess, e)
		return err
	})
}

// RenewWatch registers a push-notification channel for the family's
// calendar unless the current one outlives the renewal margin.
func (s *Service) RenewWatch(ctx context.Context, familyID, address string) (*provider.WatchChannel, error) {
	var out *provider.WatchChannel
	err := distlock.WithLock(ctx, s.locker, distlock.WatchRenewKey(familyID), func(ctx context.Context) error {
		sess, err := s.open(ctx, familyID)
		if err != nil {
			return err
		}
		c := sess.conn
		if c.WatchChannelID != "" && c.WatchExpiresAt != nil && c.WatchExpiresAt.After(s.now().Add(s.opts.WatchRenewBefore)) {
			out = &provider.WatchChannel{ID: c.WatchChannelID, ResourceID: c.WatchResourceID, Expiration: *c.WatchExpiresAt}
			return nil
		}

		channelID := uuid.NewString()
		err = s.call(ctx, sess, func(ctx context.Context) error {
			var err error
			out, err = sess.cal.Watch(ctx, sess.calendarID, channelID, address, s.opts.WatchTTL)
			return err
		})
		if err != nil {
			return fmt.Errorf("watch calendar: %w", err)
		}
		if err := s.conns.SaveWatch(ctx, familyID, *out); err != nil {
			return fmt.Errorf("save watch: %w", err)
		}
		logger.Info("calendar watch renewed", "family_id", familyID, "channel_id", out.ID, "expires", out.Expiration)
		return nil
	})
	return out, err
}

// HandleNotification reacts to a change ping from the external calendar by
// pulling the owning family's calendar.
func (s *Service) HandleNotification(ctx context.Context, channelID string) (*ReconcileResult, error) {
	conn, err := s.conns.FindByWatchChannel(ctx, channelID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", channelID, ErrUnknownChannel)
	}
	if err != nil {
		return nil, fmt.Errorf("find channel: %w", err)
	}
	return s.PullReconcile(ctx, conn.FamilyID)
}
