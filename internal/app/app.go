// Package app assembles the services shared by the API server and the
// background worker from a loaded configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/hearthkit/family-sync/internal/bedrock"
	"github.com/hearthkit/family-sync/internal/config"
	"github.com/hearthkit/family-sync/internal/feed"
	"github.com/hearthkit/family-sync/internal/gcal"
	"github.com/hearthkit/family-sync/internal/gmail"
	"github.com/hearthkit/family-sync/internal/pkg/distlock"
	"github.com/hearthkit/family-sync/internal/pkg/httpretry"
	"github.com/hearthkit/family-sync/internal/pkg/logger"
	"github.com/hearthkit/family-sync/internal/provider"
	"github.com/hearthkit/family-sync/internal/repository/postgres"
	"github.com/hearthkit/family-sync/internal/rsssource"
	"github.com/hearthkit/family-sync/internal/service/calsync"
	"github.com/hearthkit/family-sync/internal/service/event"
	"github.com/hearthkit/family-sync/internal/service/ingestion"
	"github.com/hearthkit/family-sync/internal/service/recurrence"
)

// App holds the wired services.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client
	OAuth  *oauth2.Config

	EventRepo      *postgres.EventRepo
	IngestionRepo  *postgres.IngestionRepo
	FilterRepo     *postgres.FilterRepo
	MailboxRepo    *postgres.MailboxRepo
	PeopleRepo     *postgres.PeopleRepo
	ConnectionRepo *postgres.ConnectionRepo

	Events     *event.Service
	Recurrence *recurrence.Service
	Filters    *ingestion.FilterService
	Pipeline   *ingestion.Pipeline
	Sync       *calsync.Service
	Feed       *feed.Service
}

// New connects to the stores and builds every service. Redis is optional:
// when it is unset or unreachable, locks fall back to Postgres advisory
// locks.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.Redact())

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: db}
	a.Redis = connectRedis(ctx, cfg.Redis.URL)
	locker := distlock.NewFactory(a.Redis, db, cfg.Redis.LockTTL())

	a.EventRepo = postgres.NewEventRepo(db)
	a.IngestionRepo = postgres.NewIngestionRepo(db)
	a.FilterRepo = postgres.NewFilterRepo(db)
	a.MailboxRepo = postgres.NewMailboxRepo(db)
	a.PeopleRepo = postgres.NewPeopleRepo(db)
	a.ConnectionRepo = postgres.NewConnectionRepo(db)

	doer := httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 3)
	if cfg.Google.ClientID != "" {
		a.OAuth = provider.GoogleOAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL,
			provider.ScopeGmailReadonly, provider.ScopeCalendar)
	} else {
		logger.Warn("google oauth not configured; gmail and calendar tokens cannot be refreshed")
	}

	a.Sync, err = calsync.NewService(a.EventRepo, a.ConnectionRepo, &gcal.Opener{
		OAuth:    a.OAuth,
		Tokens:   a.ConnectionRepo,
		HTTP:     doer,
		Endpoint: cfg.Google.CalendarURL,
	}, locker, calsync.Options{
		PullWindowDays:   cfg.Sync.PullWindowDays,
		CallTimeout:      cfg.Sync.CallTimeout(),
		WatchTTL:         time.Duration(cfg.Sync.WatchTTLHours) * time.Hour,
		WatchRenewBefore: time.Duration(cfg.Sync.WatchRenewBeforeHours) * time.Hour,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("calendar sync: %w", err)
	}

	a.Recurrence = recurrence.NewService(a.EventRepo, locker)
	a.Events = event.NewService(a.EventRepo, a.Recurrence, a.Sync)

	if err := a.buildPipeline(ctx, doer, locker); err != nil {
		db.Close()
		return nil, err
	}

	var publisher feed.Publisher
	if cfg.Feed.S3Bucket != "" {
		pub, err := feed.NewS3Publisher(ctx, cfg.Feed.Region, cfg.Feed.S3Bucket, cfg.Feed.S3Prefix)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("feed publisher: %w", err)
		}
		publisher = pub
	}
	a.Feed, err = feed.NewService(a.Events, a.ConnectionRepo, publisher, cfg.Feed.PastDays, cfg.Feed.AheadDays)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("feed: %w", err)
	}

	logger.Info("services initialized",
		"redis_locks", a.Redis != nil, "paid_classifier", cfg.Bedrock.PaidClassifier, "feed_publish", publisher != nil)
	return a, nil
}

func (a *App) buildPipeline(ctx context.Context, doer httpretry.HTTPDoer, locker distlock.Locker) error {
	cfg := a.Config
	runtime, err := bedrock.NewRuntime(ctx, cfg.Bedrock.Region)
	if err != nil {
		return fmt.Errorf("bedrock: %w", err)
	}

	var paid ingestion.PaidClassifier
	if cfg.Bedrock.PaidClassifier {
		paid = bedrock.NewClassifier(runtime, cfg.Bedrock.ClassifyModel)
	}

	a.Filters = ingestion.NewFilterService(a.FilterRepo)
	router := provider.MailboxRouter{
		"gmail": &gmail.Opener{
			OAuth:    a.OAuth,
			Tokens:   a.MailboxRepo,
			HTTP:     doer,
			Endpoint: cfg.Google.GmailBaseURL,
		},
		rsssource.ProviderName: &rsssource.Opener{Parser: gofeed.NewParser()},
	}

	a.Pipeline = ingestion.NewPipeline(ingestion.Deps{
		Classifier: ingestion.NewClassifier(a.FilterRepo, ingestion.Vocabulary{
			Keywords: cfg.Ingestion.Keywords,
			Domains:  cfg.Ingestion.Domains,
		}),
		Paid:      paid,
		Extractor: bedrock.NewExtractor(runtime, cfg.Bedrock.ExtractModel),
		Gate:      ingestion.NewGate(a.IngestionRepo, a.PeopleRepo, cfg.Ingestion.MinConfidence),
		Filters:   a.Filters,
		Mailboxes: a.MailboxRepo,
		Records:   a.IngestionRepo,
		People:    a.PeopleRepo,
		Opener:    router,
		Locker:    locker,
	}, ingestion.Options{
		ExtractDelay:   cfg.Ingestion.ExtractDelay(),
		LookbackDays:   cfg.Ingestion.LookbackDays,
		MaxMessages:    cfg.Ingestion.MaxMessages,
		LearnThreshold: cfg.Ingestion.LearnThreshold,
		Query:          cfg.Ingestion.Query,
		CallTimeout:    cfg.Bedrock.Timeout(),
	})
	return nil
}

// WebhookURL is the public address Google posts calendar changes to, or
// empty when push notifications are disabled.
func (a *App) WebhookURL() string {
	base := strings.TrimRight(a.Config.Google.WebhookBaseURL, "/")
	if base == "" {
		return ""
	}
	return base + "/webhooks/calendar"
}

// Close releases the store connections.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	a.DB.Close()
}

func connectRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		logger.Info("redis not configured; using postgres advisory locks")
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable; falling back to postgres advisory locks", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected; distributed locking enabled")
	return client
}
