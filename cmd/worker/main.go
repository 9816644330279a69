// Command worker runs the scheduled passes: mailbox scans, calendar sync,
// watch renewal and feed publishing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"github.com/hearthkit/family-sync/internal/app"
	"github.com/hearthkit/family-sync/internal/config"
	"github.com/hearthkit/family-sync/internal/pkg/logger"
)

func main() {
	configPath := pflag.StringP("config", "c", "config/config.yaml", "path to the YAML config file")
	pflag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	j := &jobs{
		mailboxes:   a.MailboxRepo,
		connections: a.ConnectionRepo,
		scanner:     a.Pipeline,
		sync:        a.Sync,
		feed:        a.Feed,
		webhookURL:  a.WebhookURL(),
	}
	if cfg.Feed.S3Bucket == "" {
		cfg.Schedule.FeedPublish = ""
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	if err := schedule(ctx, c, cfg.Schedule, j); err != nil {
		logger.Error("schedule jobs", "error", err)
		os.Exit(1)
	}
	c.Start()
	logger.Info("worker running", "jobs", len(c.Entries()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")
	cancel()
	select {
	case <-c.Stop().Done():
	case <-time.After(30 * time.Second):
		logger.Warn("jobs still running at shutdown")
	}
	logger.Info("worker stopped")
}

// schedule registers every job with a non-empty spec.
func schedule(ctx context.Context, c *cron.Cron, s config.ScheduleConfig, j *jobs) error {
	for _, job := range []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{"scan", s.Scan, j.scanAll},
		{"sync", s.Sync, j.syncAll},
		{"watch_renew", s.WatchRenew, j.renewWatches},
		{"feed_publish", s.FeedPublish, j.publishFeeds},
	} {
		if job.spec == "" {
			logger.Info("job disabled", "job", job.name)
			continue
		}
		run := job.run
		if _, err := c.AddFunc(job.spec, func() { run(ctx) }); err != nil {
			return fmt.Errorf("%s: %w", job.name, err)
		}
		logger.Info("job scheduled", "job", job.name, "spec", job.spec)
	}
	return nil
}
