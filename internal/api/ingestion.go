package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/pkg/httputil"
)

// ScanMailbox handles POST /api/families/{familyID}/mailboxes/{mailboxID}/scan
func (h *Handlers) ScanMailbox(w http.ResponseWriter, r *http.Request) {
	res, err := h.Scanner.Scan(r.Context(), chi.URLParam(r, "familyID"), chi.URLParam(r, "mailboxID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

// ListCandidates handles GET /api/families/{familyID}/mailboxes/{mailboxID}/messages?q=
//
// Lists recent messages for manual review, annotated with ingestion status.
func (h *Handlers) ListCandidates(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Scanner.ListCandidates(r.Context(),
		chi.URLParam(r, "familyID"), chi.URLParam(r, "mailboxID"), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.MessageSummary{}
	}
	httputil.OK(w, map[string]any{"messages": msgs, "count": len(msgs)})
}

// ListMailboxes handles GET /api/families/{familyID}/mailboxes
func (h *Handlers) ListMailboxes(w http.ResponseWriter, r *http.Request) {
	mbs, err := h.Mailboxes.ListMailboxes(r.Context(), chi.URLParam(r, "familyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if mbs == nil {
		mbs = []domain.Mailbox{}
	}
	httputil.OK(w, map[string]any{"mailboxes": mbs})
}

type connectMailboxRequest struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	Address      string    `json:"address"`
	Code         string    `json:"code"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenExpiry  time.Time `json:"token_expiry"`
}

// ConnectMailbox handles POST /api/families/{familyID}/mailboxes
//
// Gmail mailboxes carry either an authorization code or tokens; RSS
// mailboxes carry only the feed URL as address.
func (h *Handlers) ConnectMailbox(w http.ResponseWriter, r *http.Request) {
	var req connectMailboxRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	if req.Provider == "" || strings.TrimSpace(req.Address) == "" {
		httputil.BadRequest(w, "provider and address are required")
		return
	}

	mb := &domain.Mailbox{
		ID:           req.ID,
		FamilyID:     chi.URLParam(r, "familyID"),
		Provider:     req.Provider,
		Address:      strings.TrimSpace(req.Address),
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		TokenExpiry:  req.TokenExpiry,
	}
	if req.Code != "" {
		tok, err := h.exchange(r, req.Code)
		if err != nil {
			writeError(w, err)
			return
		}
		mb.AccessToken, mb.RefreshToken, mb.TokenExpiry = tok.AccessToken, tok.RefreshToken, tok.Expiry
	}
	if err := h.Mailboxes.SaveMailbox(r.Context(), mb); err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, mb)
}

// ListFilters handles GET /api/families/{familyID}/filters
func (h *Handlers) ListFilters(w http.ResponseWriter, r *http.Request) {
	filters, err := h.Filters.List(r.Context(), chi.URLParam(r, "familyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if filters == nil {
		filters = []domain.SenderFilter{}
	}
	httputil.OK(w, map[string]any{"filters": filters})
}

// SetFilter handles PUT /api/families/{familyID}/filters
func (h *Handlers) SetFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pattern string                  `json:"pattern"`
		Type    domain.SenderFilterType `json:"type"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	f, err := h.Filters.Set(r.Context(), chi.URLParam(r, "familyID"), req.Pattern, req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, f)
}

// DeleteFilter handles DELETE /api/families/{familyID}/filters/{filterID}
func (h *Handlers) DeleteFilter(w http.ResponseWriter, r *http.Request) {
	id, err := rowID(r, "filterID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Filters.Delete(r.Context(), chi.URLParam(r, "familyID"), id); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ListPeople handles GET /api/families/{familyID}/people
func (h *Handlers) ListPeople(w http.ResponseWriter, r *http.Request) {
	people, err := h.People.ListPeople(r.Context(), chi.URLParam(r, "familyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if people == nil {
		people = []domain.Person{}
	}
	httputil.OK(w, map[string]any{"people": people})
}

// ReplacePeople handles PUT /api/families/{familyID}/people
func (h *Handlers) ReplacePeople(w http.ResponseWriter, r *http.Request) {
	var req struct {
		People []domain.Person `json:"people"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	seen := make(map[string]bool, len(req.People))
	for i, p := range req.People {
		name := strings.TrimSpace(p.Name)
		if name == "" || seen[strings.ToLower(name)] {
			writeError(w, fmt.Errorf("%w: person %d has an empty or duplicate name", domain.ErrInvalidInput, i))
			return
		}
		seen[strings.ToLower(name)] = true
		req.People[i].Name = name
	}
	if err := h.People.ReplacePeople(r.Context(), chi.URLParam(r, "familyID"), req.People); err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"people": req.People})
}
