package main

import (
	"context"
	"errors"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/pkg/distlock"
	"github.com/hearthkit/family-sync/internal/pkg/logger"
	"github.com/hearthkit/family-sync/internal/provider"
	"github.com/hearthkit/family-sync/internal/service/calsync"
	"github.com/hearthkit/family-sync/internal/service/ingestion"
)

type mailboxLister interface {
	ListMailboxes(ctx context.Context, familyID string) ([]domain.Mailbox, error)
}

type connectionLister interface {
	ListConnections(ctx context.Context) ([]domain.CalendarConnection, error)
}

type scanner interface {
	Scan(ctx context.Context, familyID, mailboxID string) (*ingestion.ScanResult, error)
}

type syncer interface {
	SyncFamily(ctx context.Context, familyID string) (*calsync.SyncResult, error)
	RenewWatch(ctx context.Context, familyID, address string) (*provider.WatchChannel, error)
}

type publisher interface {
	Publish(ctx context.Context, familyID string) (string, error)
}

// jobs are the scheduled passes. Each pass walks every family and keeps
// going when one of them fails.
type jobs struct {
	mailboxes   mailboxLister
	connections connectionLister
	scanner     scanner
	sync        syncer
	feed        publisher
	webhookURL  string
}

// scanAll scans every connected mailbox.
func (j *jobs) scanAll(ctx context.Context) {
	mbs, err := j.mailboxes.ListMailboxes(ctx, "")
	if err != nil {
		logger.Error("scan: list mailboxes", "error", err)
		return
	}
	var admitted, failed int
	for _, mb := range mbs {
		if ctx.Err() != nil {
			return
		}
		res, err := j.scanner.Scan(ctx, mb.FamilyID, mb.ID)
		if err != nil {
			if errors.Is(err, distlock.ErrLocked) {
				logger.Info("scan: mailbox busy", "mailbox_id", mb.ID)
				continue
			}
			failed++
			logger.Error("scan failed", "family_id", mb.FamilyID, "mailbox_id", mb.ID, "error", err)
			continue
		}
		admitted += res.Admitted
		if len(res.Errors) > 0 {
			logger.Warn("scan finished with errors", "mailbox_id", mb.ID, "errors", len(res.Errors))
		}
	}
	logger.Info("scan pass done", "mailboxes", len(mbs), "admitted", admitted, "failed", failed)
}

// syncAll pushes and pulls every connected calendar.
func (j *jobs) syncAll(ctx context.Context) {
	j.eachFamily(ctx, "sync", func(ctx context.Context, familyID string) error {
		res, err := j.sync.SyncFamily(ctx, familyID)
		if err != nil {
			return err
		}
		if res.NeedsReconnect {
			logger.Warn("sync: calendar needs reconnect", "family_id", familyID)
		}
		return nil
	})
}

// renewWatches keeps push-notification channels alive. It does nothing
// without a public webhook address.
func (j *jobs) renewWatches(ctx context.Context) {
	if j.webhookURL == "" {
		return
	}
	j.eachFamily(ctx, "watch renew", func(ctx context.Context, familyID string) error {
		_, err := j.sync.RenewWatch(ctx, familyID, j.webhookURL)
		return err
	})
}

// publishFeeds uploads every family's iCalendar feed.
func (j *jobs) publishFeeds(ctx context.Context) {
	j.eachFamily(ctx, "feed publish", func(ctx context.Context, familyID string) error {
		_, err := j.feed.Publish(ctx, familyID)
		return err
	})
}

func (j *jobs) eachFamily(ctx context.Context, name string, fn func(ctx context.Context, familyID string) error) {
	conns, err := j.connections.ListConnections(ctx)
	if err != nil {
		logger.Error(name+": list connections", "error", err)
		return
	}
	var failed int
	for _, c := range conns {
		if ctx.Err() != nil {
			return
		}
		err := fn(ctx, c.FamilyID)
		switch {
		case err == nil:
		case errors.Is(err, distlock.ErrLocked):
			logger.Info(name+": family busy", "family_id", c.FamilyID)
		case errors.Is(err, calsync.ErrNeedsReconnect):
			logger.Warn(name+": calendar needs reconnect", "family_id", c.FamilyID)
		default:
			failed++
			logger.Error(name+" failed", "family_id", c.FamilyID, "error", err)
		}
	}
	logger.Info(name+" pass done", "families", len(conns), "failed", failed)
}
