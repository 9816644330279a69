package calsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/pkg/distlock"
	"github.com/hearthkit/family-sync/internal/pkg/logger"
	"github.com/hearthkit/family-sync/internal/provider"
)

// DefaultCalendarName is used when a connection has no bootstrap name.
const DefaultCalendarName = "Family"

// Options tunes the synchronizer.
type Options struct {
	PullWindowDays   int
	CallTimeout      time.Duration
	WatchTTL         time.Duration
	WatchRenewBefore time.Duration
	DefaultEventLen  time.Duration
}

func (o *Options) applyDefaults() {
	if o.PullWindowDays <= 0 {
		o.PullWindowDays = 90
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 15 * time.Second
	}
	if o.WatchTTL <= 0 {
		o.WatchTTL = 7 * 24 * time.Hour
	}
	if o.WatchRenewBefore <= 0 {
		o.WatchRenewBefore = 24 * time.Hour
	}
	if o.DefaultEventLen <= 0 {
		o.DefaultEventLen = time.Hour
	}
}

// Service is the external calendar synchronizer.
type Service struct {
	events   EventRepository
	conns    ConnectionRepository
	opener   provider.CalendarOpener
	locker   distlock.Locker
	composer *Composer
	opts     Options
	now      func() time.Time
}

// NewService creates a synchronizer. locker may be nil in tests.
func NewService(events EventRepository, conns ConnectionRepository, opener provider.CalendarOpener, locker distlock.Locker, opts Options) (*Service, error) {
	composer, err := NewComposer()
	if err != nil {
		return nil, err
	}
	opts.applyDefaults()
	return &Service{
		events:   events,
		conns:    conns,
		opener:   opener,
		locker:   locker,
		composer: composer,
		opts:     opts,
		now:      time.Now,
	}, nil
}

// session is an opened calendar with its resolved target id.
type session struct {
	conn       *domain.CalendarConnection
	cal        provider.Calendar
	calendarID string
	loc        *time.Location
}

func (s *Service) open(ctx context.Context, familyID string) (*session, error) {
	conn, err := s.conns.GetConnection(ctx, familyID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoCalendar
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	cal, err := s.opener.OpenCalendar(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("open calendar: %w", err)
	}
	sess := &session{conn: conn, cal: cal, calendarID: conn.CalendarID, loc: conn.Location()}
	if sess.calendarID == "" {
		if err := s.bootstrapCalendar(ctx, sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// bootstrapCalendar finds the target calendar by name or creates it, then
// stores its id so later calls never look it up by name again.
func (s *Service) bootstrapCalendar(ctx context.Context, sess *session) error {
	name := sess.conn.CalendarName
	if name == "" {
		name = DefaultCalendarName
	}

	var cals []provider.CalendarInfo
	err := s.call(ctx, sess, func(ctx context.Context) error {
		var err error
		cals, err = sess.cal.ListCalendars(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("list calendars: %w", err)
	}
	for _, c := range cals {
		if strings.EqualFold(strings.TrimSpace(c.Name), name) {
			sess.calendarID = c.ID
			break
		}
	}

	if sess.calendarID == "" {
		var created *provider.CalendarInfo
		err := s.call(ctx, sess, func(ctx context.Context) error {
			var err error
			created, err = sess.cal.CreateCalendar(ctx, name, sess.loc.String())
			return err
		})
		if err != nil {
			return fmt.Errorf("create calendar: %w", err)
		}
		sess.calendarID = created.ID
		logger.Info("calendar created", "family_id", sess.conn.FamilyID, "calendar", name)
	}

	if err := s.conns.SetCalendarID(ctx, sess.conn.FamilyID, sess.calendarID); err != nil {
		return fmt.Errorf("store calendar id: %w", err)
	}
	sess.conn.CalendarID = sess.calendarID
	return nil
}

// call runs one provider call with the timeout, one refresh-and-retry on
// auth errors, and the forbidden → reconnect mapping.
func (s *Service) call(ctx context.Context, sess *session, fn func(ctx context.Context) error) error {
	err := provider.Call(ctx, sess.cal, s.opts.CallTimeout, fn)
	if errors.Is(err, provider.ErrForbidden) {
		return fmt.Errorf("%w: %w", ErrNeedsReconnect, err)
	}
	return err
}

// PushCreate mirrors a confirmed event to the external calendar and returns
// the external id. An event that is already linked is updated instead, so
// an event never gets two external copies.
func (s *Service) PushCreate(ctx context.Context, familyID, eventID string) (string, error) {
	var externalID string
	err := distlock.WithLock(ctx, s.locker, distlock.EventSyncKey(eventID), func(ctx context.Context) error {
		e, err := s.events.GetEvent(ctx, familyID, eventID)
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}
		if !e.IsConfirmed() {
			return fmt.Errorf("%s: %w", eventID, ErrNotConfirmed)
		}
		sess, err := s.open(ctx, familyID)
		if err != nil {
			return err
		}
		externalID, err = s.push(ctx, sess, e)
		return err
	})
	return externalID, err
}

// PushUpdate overwrites the external copy of an event with its current
// state. An unlinked event is created.
func (s *Service) PushUpdate(ctx context.Context, familyID, eventID string) (string, error) {
	return s.PushCreate(ctx, familyID, eventID)
}

func (s *Service) push(ctx context.Context, sess *session, e *domain.Event) (string, error) {
	payload, err := s.buildPayload(e, sess.loc)
	if err != nil {
		return "", err
	}

	if e.HasExternalID() {
		payload.ID = *e.ExternalID
		err := s.call(ctx, sess, func(ctx context.Context) error {
			return sess.cal.UpdateEvent(ctx, sess.calendarID, payload)
		})
		switch {
		case err == nil:
			return payload.ID, s.markSynced(ctx, e, payload.ID)
		case errors.Is(err, provider.ErrNotFound):
			logger.Warn("external copy missing, recreating", "event_id", e.ID, "external_id", payload.ID)
			if err := s.events.ClearExternalID(ctx, e.FamilyID, e.ID); err != nil {
				return "", fmt.Errorf("unlink event: %w", err)
			}
			e.ExternalID = nil
			payload.ID = ""
		default:
			return "", fmt.Errorf("update external event: %w", err)
		}
	}

	var externalID string
	err = s.call(ctx, sess, func(ctx context.Context) error {
		var err error
		externalID, err = sess.cal.CreateEvent(ctx, sess.calendarID, payload)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create external event: %w", err)
	}
	return externalID, s.markSynced(ctx, e, externalID)
}

func (s *Service) markSynced(ctx context.Context, e *domain.Event, externalID string) error {
	if err := s.events.MarkSynced(ctx, e.FamilyID, e.ID, externalID, s.now().UTC()); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// PushDelete removes an external event. An already absent event is success.
func (s *Service) PushDelete(ctx context.Context, familyID, externalID string) error {
	if externalID == "" {
		return nil
	}
	sess, err := s.open(ctx, familyID)
	if err != nil {
		return err
	}
	err = s.call(ctx, sess, func(ctx context.Context) error {
		return sess.cal.DeleteEvent(ctx, sess.calendarID, externalID)
	})
	if err != nil && !errors.Is(err, provider.ErrNotFound) {
		return fmt.Errorf("delete external event: %w", err)
	}
	return nil
}

// buildPayload maps an event to the external shape. Date-only events are
// all-day; timed events without an end last DefaultEventLen.
func (s *Service) buildPayload(e *domain.Event, loc *time.Location) (provider.ExternalEvent, error) {
	desc, err := s.composer.Compose(e)
	if err != nil {
		return provider.ExternalEvent{}, err
	}
	out := provider.ExternalEvent{Title: e.Title, Location: e.Location, Description: desc}

	if e.IsAllDay() {
		out.AllDay = true
		out.Start = domain.DateOf(e.Date)
		out.End = out.Start.AddDate(0, 0, 1)
		return out, nil
	}

	start, err := atClock(e.Date, e.StartTime, loc)
	if err != nil {
		return provider.ExternalEvent{}, err
	}
	out.Start = start
	out.End = start.Add(s.opts.DefaultEventLen)
	if e.EndTime != "" {
		end, err := atClock(e.Date, e.EndTime, loc)
		if err != nil {
			return provider.ExternalEvent{}, err
		}
		if end.After(start) {
			out.End = end
		}
	}
	return out, nil
}

func atClock(date time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(domain.ClockLayout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q", domain.ErrInvalidInput, clock)
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc), nil
}
