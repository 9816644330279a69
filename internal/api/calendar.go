package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/feed"
	"github.com/hearthkit/family-sync/internal/pkg/httputil"
	"github.com/hearthkit/family-sync/internal/pkg/logger"
	"github.com/hearthkit/family-sync/internal/service/calsync"
)

// exchange trades an OAuth authorization code for a token.
func (h *Handlers) exchange(r *http.Request, code string) (*oauth2.Token, error) {
	if h.OAuth == nil {
		return nil, fmt.Errorf("%w: authorization codes are not accepted, send tokens", domain.ErrInvalidInput)
	}
	tok, err := h.OAuth.Exchange(r.Context(), code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("%w: authorization code rejected", domain.ErrInvalidInput)
		}
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return tok, nil
}

type connectCalendarRequest struct {
	Provider     string    `json:"provider"`
	CalendarName string    `json:"calendar_name"`
	Timezone     string    `json:"timezone"`
	Code         string    `json:"code"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenExpiry  time.Time `json:"token_expiry"`
}

// ConnectCalendar handles PUT /api/families/{familyID}/calendar
//
// The calendar is resolved by name on the next sync and stored by id from
// then on.
func (h *Handlers) ConnectCalendar(w http.ResponseWriter, r *http.Request) {
	var req connectCalendarRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	c := &domain.CalendarConnection{
		FamilyID:     chi.URLParam(r, "familyID"),
		Provider:     strings.ToLower(strings.TrimSpace(req.Provider)),
		CalendarName: strings.TrimSpace(req.CalendarName),
		Timezone:     strings.TrimSpace(req.Timezone),
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		TokenExpiry:  req.TokenExpiry,
	}
	if c.Provider == "" {
		c.Provider = "google"
	}
	if c.CalendarName == "" {
		c.CalendarName = calsync.DefaultCalendarName
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		writeError(w, fmt.Errorf("%w: timezone %q", domain.ErrInvalidInput, c.Timezone))
		return
	}
	if req.Code != "" {
		tok, err := h.exchange(r, req.Code)
		if err != nil {
			writeError(w, err)
			return
		}
		c.AccessToken, c.RefreshToken, c.TokenExpiry = tok.AccessToken, tok.RefreshToken, tok.Expiry
	}
	if c.RefreshToken == "" && c.AccessToken == "" {
		httputil.BadRequest(w, "code or tokens are required")
		return
	}
	if err := h.Connections.SaveConnection(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

// SyncCalendar handles POST /api/families/{familyID}/calendar/sync
//
// Pushes pending events, then pulls external changes. A revoked grant is
// reported in the body with 424 so clients can prompt a reconnect.
func (h *Handlers) SyncCalendar(w http.ResponseWriter, r *http.Request) {
	res, err := h.Sync.SyncFamily(r.Context(), chi.URLParam(r, "familyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if res.NeedsReconnect {
		httputil.JSON(w, http.StatusFailedDependency, res)
		return
	}
	httputil.OK(w, res)
}

// PullCalendar handles POST /api/families/{familyID}/calendar/pull
func (h *Handlers) PullCalendar(w http.ResponseWriter, r *http.Request) {
	res, err := h.Sync.PullReconcile(r.Context(), chi.URLParam(r, "familyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

// RenewWatch handles POST /api/families/{familyID}/calendar/watch
func (h *Handlers) RenewWatch(w http.ResponseWriter, r *http.Request) {
	if h.WebhookURL == "" {
		httputil.ErrorCode(w, http.StatusServiceUnavailable, "webhooks_disabled", "no public webhook address configured")
		return
	}
	ch, err := h.Sync.RenewWatch(r.Context(), chi.URLParam(r, "familyID"), h.WebhookURL)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"channel_id": ch.ID, "expires_at": ch.Expiration})
}

// CalendarWebhook handles POST /webhooks/calendar
//
// Google sends a "sync" message when a channel opens and "exists" on every
// change. Changes trigger a pull of the owning family's calendar.
func (h *Handlers) CalendarWebhook(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get("X-Goog-Channel-ID")
	state := r.Header.Get("X-Goog-Resource-State")
	if channelID == "" {
		httputil.BadRequest(w, "missing channel id")
		return
	}
	if state == "sync" {
		httputil.NoContent(w)
		return
	}

	res, err := h.Sync.HandleNotification(r.Context(), channelID)
	if err != nil {
		if errors.Is(err, calsync.ErrUnknownChannel) {
			logger.Warn("webhook for unknown channel", "channel_id", channelID)
		}
		writeError(w, err)
		return
	}
	logger.Info("webhook pull",
		"channel_id", channelID, "fetched", res.Fetched, "created", res.Created, "updated", res.Updated)
	httputil.NoContent(w)
}

// GetFeed handles GET /feeds/{familyID}.ics
func (h *Handlers) GetFeed(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Feed.Build(r.Context(), chi.URLParam(r, "familyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", feed.ContentType)
	w.Header().Set("Cache-Control", "max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// PublishFeed handles POST /api/families/{familyID}/feed/publish
func (h *Handlers) PublishFeed(w http.ResponseWriter, r *http.Request) {
	key, err := h.Feed.Publish(r.Context(), chi.URLParam(r, "familyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"key": key})
}
