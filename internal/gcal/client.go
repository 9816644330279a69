// Package gcal adapts the Google Calendar v3 API to provider.Calendar.
package gcal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/pkg/httpretry"
	"github.com/hearthkit/family-sync/internal/provider"
)

const listPageSize = 250

// Client is a Google Calendar client bound to one account.
type Client struct {
	svc  *calendar.Service
	auth *provider.OAuthSession
}

// NewClient creates a calendar client. Requests are authorized by auth and
// sent through doer. An empty endpoint uses the public API.
func NewClient(ctx context.Context, endpoint string, doer httpretry.HTTPDoer, auth *provider.OAuthSession) (*Client, error) {
	opts := []option.ClientOption{option.WithHTTPClient(auth.HTTPClient(doer))}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(endpoint, "/")+"/"))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return &Client{svc: svc, auth: auth}, nil
}

// Refresh implements provider.Refresher.
func (c *Client) Refresh(ctx context.Context) error {
	return c.auth.Refresh(ctx)
}

// ListCalendars implements provider.Calendar.
func (c *Client) ListCalendars(ctx context.Context) ([]provider.CalendarInfo, error) {
	var out []provider.CalendarInfo
	err := c.svc.CalendarList.List().Pages(ctx, func(page *calendar.CalendarList) error {
		for _, it := range page.Items {
			out = append(out, provider.CalendarInfo{ID: it.Id, Name: it.Summary, Primary: it.Primary})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", provider.FromGoogle(err))
	}
	return out, nil
}

// CreateCalendar implements provider.Calendar.
func (c *Client) CreateCalendar(ctx context.Context, name, timezone string) (*provider.CalendarInfo, error) {
	created, err := c.svc.Calendars.Insert(&calendar.Calendar{Summary: name, TimeZone: timezone}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("create calendar: %w", provider.FromGoogle(err))
	}
	return &provider.CalendarInfo{ID: created.Id, Name: created.Summary}, nil
}

// ListEvents implements provider.Calendar. Recurring external events are
// expanded by the API; cancelled events are dropped.
func (c *Client) ListEvents(ctx context.Context, calendarID string, w provider.TimeWindow) ([]provider.ExternalEvent, error) {
	var out []provider.ExternalEvent
	err := c.svc.Events.List(calendarID).
		TimeMin(w.From.Format(time.RFC3339)).
		TimeMax(w.To.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(listPageSize).
		Pages(ctx, func(page *calendar.Events) error {
			for _, it := range page.Items {
				if it.Status == "cancelled" {
					continue
				}
				out = append(out, fromAPI(it))
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", provider.FromGoogle(err))
	}
	return out, nil
}

// CreateEvent implements provider.Calendar.
func (c *Client) CreateEvent(ctx context.Context, calendarID string, e provider.ExternalEvent) (string, error) {
	created, err := c.svc.Events.Insert(calendarID, toAPI(e)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create event: %w", provider.FromGoogle(err))
	}
	return created.Id, nil
}

// UpdateEvent implements provider.Calendar.
func (c *Client) UpdateEvent(ctx context.Context, calendarID string, e provider.ExternalEvent) error {
	body := toAPI(e)
	body.Id = ""
	if _, err := c.svc.Events.Update(calendarID, e.ID, body).Context(ctx).Do(); err != nil {
		return fmt.Errorf("update event %s: %w", e.ID, provider.FromGoogle(err))
	}
	return nil
}

// DeleteEvent implements provider.Calendar. 404 and 410 surface as
// provider.ErrNotFound.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := c.svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete event %s: %w", eventID, provider.FromGoogle(err))
	}
	return nil
}

// Watch implements provider.Calendar.
func (c *Client) Watch(ctx context.Context, calendarID, channelID, address string, ttl time.Duration) (*provider.WatchChannel, error) {
	resp, err := c.svc.Events.Watch(calendarID, &calendar.Channel{
		Id:      channelID,
		Type:    "web_hook",
		Address: address,
		Params:  map[string]string{"ttl": strconv.FormatInt(int64(ttl/time.Second), 10)},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("watch calendar: %w", provider.FromGoogle(err))
	}
	ch := &provider.WatchChannel{ID: resp.Id, ResourceID: resp.ResourceId}
	if resp.Expiration > 0 {
		ch.Expiration = time.UnixMilli(resp.Expiration).UTC()
	}
	return ch, nil
}

func toAPI(e provider.ExternalEvent) *calendar.Event {
	out := &calendar.Event{Id: e.ID, Summary: e.Title, Description: e.Description, Location: e.Location}
	if e.AllDay {
		out.Start = &calendar.EventDateTime{Date: domain.FormatDate(e.Start)}
		out.End = &calendar.EventDateTime{Date: domain.FormatDate(e.End)}
		return out
	}
	out.Start = &calendar.EventDateTime{DateTime: e.Start.Format(time.RFC3339), TimeZone: zoneName(e.Start)}
	out.End = &calendar.EventDateTime{DateTime: e.End.Format(time.RFC3339), TimeZone: zoneName(e.End)}
	return out
}

func zoneName(t time.Time) string {
	if name := t.Location().String(); name != "Local" {
		return name
	}
	return ""
}

// fromAPI maps an API event. Unparseable times are left zero so Validate
// rejects the event at the boundary.
func fromAPI(it *calendar.Event) provider.ExternalEvent {
	out := provider.ExternalEvent{ID: it.Id, Title: it.Summary, Description: it.Description, Location: it.Location}
	if it.Start == nil {
		return out
	}
	if it.Start.Date != "" {
		out.AllDay = true
		out.Start, _ = domain.ParseDate(it.Start.Date)
		if it.End != nil && it.End.Date != "" {
			out.End, _ = domain.ParseDate(it.End.Date)
		}
		return out
	}
	out.Start, _ = time.Parse(time.RFC3339, it.Start.DateTime)
	if it.End != nil && it.End.DateTime != "" {
		out.End, _ = time.Parse(time.RFC3339, it.End.DateTime)
	}
	return out
}
