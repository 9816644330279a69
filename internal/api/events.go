package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/pkg/httputil"
	"github.com/hearthkit/family-sync/internal/service/event"
)

// ListEvents handles GET /api/families/{familyID}/events
//
// Query parameters: from, to (YYYY-MM-DD), status, person, parent, limit,
// offset.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := h.Events.List(r.Context(), chi.URLParam(r, "familyID"), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	httputil.OK(w, map[string]any{"events": events, "count": len(events)})
}

func parseListFilter(r *http.Request) (event.ListFilter, error) {
	q := r.URL.Query()
	f := event.ListFilter{
		Status:    domain.EventStatus(q.Get("status")),
		PersonTag: q.Get("person"),
	}
	if v := q.Get("parent"); v != "" {
		if _, err := uuid.Parse(v); err != nil {
			return f, fmt.Errorf("%w: parent %q", domain.ErrInvalidInput, v)
		}
		f.ParentID = v
	}
	if v := q.Get("from"); v != "" {
		d, err := domain.ParseDate(v)
		if err != nil {
			return f, err
		}
		f.From = &d
	}
	if v := q.Get("to"); v != "" {
		d, err := domain.ParseDate(v)
		if err != nil {
			return f, err
		}
		f.To = &d
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return f, fmt.Errorf("%w: %s %q", domain.ErrInvalidInput, name, v)
			}
			*dst = n
		}
	}
	return f, nil
}

// rowID reads a UUID path parameter. Anything else cannot name a stored row
// and is reported as not found.
func rowID(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if _, err := uuid.Parse(v); err != nil {
		return "", domain.ErrNotFound
	}
	return v, nil
}

// GetEvent handles GET /api/families/{familyID}/events/{eventID}
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := rowID(r, "eventID")
	if err != nil {
		writeError(w, err)
		return
	}
	e, err := h.Events.Get(r.Context(), chi.URLParam(r, "familyID"), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, e)
}

// CreateEvent handles POST /api/families/{familyID}/events
func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var in event.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	res, err := h.Events.Create(r.Context(), chi.URLParam(r, "familyID"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, res)
}

// UpdateEvent handles PATCH /api/families/{familyID}/events/{eventID}
func (h *Handlers) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := rowID(r, "eventID")
	if err != nil {
		writeError(w, err)
		return
	}
	var in event.UpdateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	res, err := h.Events.Update(r.Context(), chi.URLParam(r, "familyID"), id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

// ConfirmEvent handles POST /api/families/{familyID}/events/{eventID}/confirm
func (h *Handlers) ConfirmEvent(w http.ResponseWriter, r *http.Request) {
	id, err := rowID(r, "eventID")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.Events.Confirm(r.Context(), chi.URLParam(r, "familyID"), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

// DeleteEvent handles DELETE /api/families/{familyID}/events/{eventID}
func (h *Handlers) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := rowID(r, "eventID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Events.Delete(r.Context(), chi.URLParam(r, "familyID"), id); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}
