package api

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/feed"
	"github.com/hearthkit/family-sync/internal/pkg/distlock"
	"github.com/hearthkit/family-sync/internal/pkg/httputil"
	"github.com/hearthkit/family-sync/internal/provider"
	"github.com/hearthkit/family-sync/internal/service/calsync"
	"github.com/hearthkit/family-sync/internal/service/event"
	"github.com/hearthkit/family-sync/internal/service/ingestion"
	"github.com/hearthkit/family-sync/internal/service/recurrence"
)

// EventService is the event lifecycle.
type EventService interface {
	Get(ctx context.Context, familyID, id string) (*domain.Event, error)
	List(ctx context.Context, familyID string, f event.ListFilter) ([]domain.Event, error)
	Create(ctx context.Context, familyID string, in event.CreateInput) (*event.Result, error)
	Update(ctx context.Context, familyID, id string, in event.UpdateInput) (*event.Result, error)
	Confirm(ctx context.Context, familyID, id string) (*event.Result, error)
	Delete(ctx context.Context, familyID, id string) error
}

// Scanner runs mailbox scans.
type Scanner interface {
	Scan(ctx context.Context, familyID, mailboxID string) (*ingestion.ScanResult, error)
	ListCandidates(ctx context.Context, familyID, mailboxID, query string) ([]domain.MessageSummary, error)
}

// FilterService manages sender filters.
type FilterService interface {
	Set(ctx context.Context, familyID, pattern string, typ domain.SenderFilterType) (*domain.SenderFilter, error)
	List(ctx context.Context, familyID string) ([]domain.SenderFilter, error)
	Delete(ctx context.Context, familyID, id string) error
}

// Syncer is the external calendar synchronizer.
type Syncer interface {
	SyncFamily(ctx context.Context, familyID string) (*calsync.SyncResult, error)
	PullReconcile(ctx context.Context, familyID string) (*calsync.ReconcileResult, error)
	RenewWatch(ctx context.Context, familyID, address string) (*provider.WatchChannel, error)
	HandleNotification(ctx context.Context, channelID string) (*calsync.ReconcileResult, error)
}

// FeedService renders and publishes iCalendar feeds.
type FeedService interface {
	Build(ctx context.Context, familyID string) (string, error)
	Publish(ctx context.Context, familyID string) (string, error)
}

// ConnectionStore saves calendar connections.
type ConnectionStore interface {
	SaveConnection(ctx context.Context, c *domain.CalendarConnection) error
}

// MailboxStore saves and lists mailboxes.
type MailboxStore interface {
	SaveMailbox(ctx context.Context, mb *domain.Mailbox) error
	ListMailboxes(ctx context.Context, familyID string) ([]domain.Mailbox, error)
}

// PeopleStore reads and replaces the tracked roster.
type PeopleStore interface {
	ListPeople(ctx context.Context, familyID string) ([]domain.Person, error)
	ReplacePeople(ctx context.Context, familyID string, people []domain.Person) error
}

// Deps are the collaborators of Handlers. OAuth is only needed to exchange
// authorization codes; WebhookURL is the public address of
// /webhooks/calendar.
type Deps struct {
	Events      EventService
	Scanner     Scanner
	Filters     FilterService
	Sync        Syncer
	Feed        FeedService
	Connections ConnectionStore
	Mailboxes   MailboxStore
	People      PeopleStore
	OAuth       *oauth2.Config
	WebhookURL  string
}

// Handlers contains all HTTP handlers
type Handlers struct {
	Deps
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{Deps: deps}
}

// writeError maps service errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 without detail.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, calsync.ErrNeedsReconnect):
		httputil.ErrorCode(w, http.StatusFailedDependency, "needs_reconnect", "calendar access was revoked; reconnect the calendar")
	case errors.Is(err, calsync.ErrNoCalendar):
		httputil.Conflict(w, "no_calendar", "no calendar connected")
	case errors.Is(err, distlock.ErrLocked):
		httputil.Conflict(w, "locked", "another run is in progress")
	case errors.Is(err, event.ErrAlreadyConfirmed):
		httputil.Conflict(w, "already_confirmed", err.Error())
	case errors.Is(err, calsync.ErrNotConfirmed), errors.Is(err, recurrence.ErrParentUnconfirmed):
		httputil.Conflict(w, "not_confirmed", err.Error())
	case errors.Is(err, feed.ErrPublishDisabled):
		httputil.ErrorCode(w, http.StatusServiceUnavailable, "publish_disabled", err.Error())
	case errors.Is(err, recurrence.ErrNotParent):
		httputil.Conflict(w, "not_recurring", err.Error())
	case errors.Is(err, calsync.ErrUnknownChannel), errors.Is(err, domain.ErrNotFound):
		httputil.NotFound(w, "not found")
	case errors.Is(err, domain.ErrInvalidInput):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
