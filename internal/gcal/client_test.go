package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/provider"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	tok := provider.NewToken("access-1", "refresh-1", time.Now().Add(time.Hour))
	client, err := NewClient(context.Background(), server.URL, server.Client(), provider.NewOAuthSession(&oauth2.Config{}, tok, nil))
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestListCalendars(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/me/calendarList", r.URL.Path)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		writeJSON(w, map[string]interface{}{"items": []map[string]interface{}{
			{"id": "me@example.com", "summary": "me@example.com", "primary": true},
			{"id": "abc@group.calendar.google.com", "summary": "Family"},
		}})
	})

	cals, err := client.ListCalendars(context.Background())
	require.NoError(t, err)
	require.Len(t, cals, 2)
	assert.True(t, cals[0].Primary)
	assert.Equal(t, "Family", cals[1].Name)
}

func TestCreateEvent_AllDayAndTimedPayloads(t *testing.T) {
	var bodies []calendar.Event
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calendars/cal-1/events", r.URL.Path)
		var body calendar.Event
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		writeJSON(w, map[string]string{"id": "g-" + body.Summary})
	})
	ctx := context.Background()

	id, err := client.CreateEvent(ctx, "cal-1", provider.ExternalEvent{
		Title:  "Holiday",
		Start:  domain.NewDate(2025, time.October, 13),
		End:    domain.NewDate(2025, time.October, 14),
		AllDay: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "g-Holiday", id)

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	_, err = client.CreateEvent(ctx, "cal-1", provider.ExternalEvent{
		Title: "Dentist",
		Start: time.Date(2025, time.October, 10, 16, 0, 0, 0, ny),
		End:   time.Date(2025, time.October, 10, 17, 0, 0, 0, ny),
	})
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Equal(t, "2025-10-13", bodies[0].Start.Date)
	assert.Equal(t, "2025-10-14", bodies[0].End.Date)
	assert.Empty(t, bodies[0].Start.DateTime)
	assert.Equal(t, "2025-10-10T16:00:00-04:00", bodies[1].Start.DateTime)
	assert.Equal(t, "America/New_York", bodies[1].Start.TimeZone)
}

func TestListEvents_PaginatesAndDropsCancelled(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("singleEvents"))
		assert.Equal(t, "2025-10-01T00:00:00Z", q.Get("timeMin"))
		if q.Get("pageToken") == "" {
			writeJSON(w, map[string]interface{}{
				"items": []map[string]interface{}{
					{"id": "a", "summary": "Game", "start": map[string]string{"dateTime": "2025-10-04T10:00:00Z"}, "end": map[string]string{"dateTime": "2025-10-04T11:30:00Z"}},
					{"id": "b", "status": "cancelled", "summary": "Gone"},
				},
				"nextPageToken": "p2",
			})
			return
		}
		writeJSON(w, map[string]interface{}{
			"items": []map[string]interface{}{
				{"id": "c", "summary": "Fair", "start": map[string]string{"date": "2025-10-20"}, "end": map[string]string{"date": "2025-10-21"}},
			},
		})
	})

	got, err := client.ListEvents(context.Background(), "cal-1", provider.TimeWindow{
		From: time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, time.December, 30, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, got, 2)
	assert.Equal(t, time.Date(2025, time.October, 4, 10, 0, 0, 0, time.UTC), got[0].Start.UTC())
	assert.Equal(t, 90*time.Minute, got[0].End.Sub(got[0].Start))
	assert.True(t, got[1].AllDay)
	assert.Equal(t, domain.NewDate(2025, time.October, 20), got[1].Start)
	assert.NoError(t, got[1].Validate())
}

func TestDeleteEvent_GoneIsNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusGone)
	})
	err := client.DeleteEvent(context.Background(), "cal-1", "g-1")
	assert.True(t, errors.Is(err, provider.ErrNotFound))
}

func TestUpdateEvent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/calendars/cal-1/events/g-1", r.URL.Path)
		var body calendar.Event
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Moved", body.Summary)
		assert.Empty(t, body.Id)
		writeJSON(w, body)
	})
	err := client.UpdateEvent(context.Background(), "cal-1", provider.ExternalEvent{
		ID: "g-1", Title: "Moved", Start: time.Now().UTC(), End: time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, "", provider.ErrUnauthorized},
		{http.StatusForbidden, `{"error":{"errors":[{"reason":"forbidden"}]}}`, provider.ErrForbidden},
		{http.StatusForbidden, `{"error":{"errors":[{"reason":"rateLimitExceeded"}]}}`, provider.ErrRateLimited},
		{http.StatusNotFound, "", provider.ErrNotFound},
		{http.StatusTooManyRequests, "", provider.ErrRateLimited},
	}
	for _, tt := range tests {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(tt.body))
		})
		_, err := client.ListCalendars(context.Background())
		assert.True(t, errors.Is(err, tt.want), "status %d: got %v", tt.status, err)
	}
}

func TestWatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calendars/cal-1/events/watch", r.URL.Path)
		var body struct {
			ID      string            `json:"id"`
			Type    string            `json:"type"`
			Address string            `json:"address"`
			Params  map[string]string `json:"params"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "web_hook", body.Type)
		assert.Equal(t, "604800", body.Params["ttl"])
		writeJSON(w, map[string]string{"id": body.ID, "resourceId": "res-9", "expiration": "1760000000000"})
	})

	ch, err := client.Watch(context.Background(), "cal-1", "chan-1", "https://hooks.example.com/cal", 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "chan-1", ch.ID)
	assert.Equal(t, "res-9", ch.ResourceID)
	assert.Equal(t, time.UnixMilli(1760000000000).UTC(), ch.Expiration)
}
