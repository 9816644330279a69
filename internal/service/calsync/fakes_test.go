package calsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/provider"
)

const testFamily = "fam-test"

var testNow = time.Date(2025, time.October, 1, 12, 0, 0, 0, time.UTC)

// memRepo implements EventRepository and ConnectionRepository in memory.
type memRepo struct {
	mu     sync.Mutex
	events map[string]domain.Event
	conns  map[string]domain.CalendarConnection
	writes int
}

func newMemRepo(events ...domain.Event) *memRepo {
	r := &memRepo{
		events: make(map[string]domain.Event),
		conns:  make(map[string]domain.CalendarConnection),
	}
	for _, e := range events {
		r.events[e.ID] = e
	}
	r.conns[testFamily] = domain.CalendarConnection{
		FamilyID:     testFamily,
		Provider:     "google",
		CalendarID:   "cal-family",
		CalendarName: "Family",
		Timezone:     "UTC",
	}
	return r
}

func (r *memRepo) GetEvent(_ context.Context, familyID, id string) (*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok || e.FamilyID != familyID {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (r *memRepo) CreateEvent(_ context.Context, e *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[e.ID] = *e
	r.writes++
	return nil
}

func (r *memRepo) ListPendingSync(_ context.Context, familyID string) ([]domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.FamilyID == familyID && e.IsConfirmed() && e.SyncState() != domain.SyncSynced {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) ListByExternalIDs(_ context.Context, familyID string, ids []string) (map[string]domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(map[string]domain.Event)
	for _, e := range r.events {
		if e.FamilyID == familyID && e.HasExternalID() && want[*e.ExternalID] {
			out[*e.ExternalID] = e
		}
	}
	return out, nil
}

func (r *memRepo) MarkSynced(_ context.Context, familyID, id, externalID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok || e.FamilyID != familyID {
		return ErrNotFound
	}
	e.ExternalID = &externalID
	e.LastSyncedAt = &at
	r.events[id] = e
	r.writes++
	return nil
}

func (r *memRepo) ClearExternalID(_ context.Context, familyID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok || e.FamilyID != familyID {
		return ErrNotFound
	}
	e.ExternalID = nil
	e.LastSyncedAt = nil
	r.events[id] = e
	r.writes++
	return nil
}

func (r *memRepo) ApplyExternal(_ context.Context, e *domain.Event, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	cp.UpdatedAt = at
	cp.LastSyncedAt = &at
	r.events[e.ID] = cp
	r.writes++
	return nil
}

func (r *memRepo) GetConnection(_ context.Context, familyID string) (*domain.CalendarConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[familyID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (r *memRepo) SetCalendarID(_ context.Context, familyID, calendarID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conns[familyID]
	c.CalendarID = calendarID
	r.conns[familyID] = c
	return nil
}

func (r *memRepo) SaveWatch(_ context.Context, familyID string, w provider.WatchChannel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conns[familyID]
	c.WatchChannelID = w.ID
	c.WatchResourceID = w.ResourceID
	exp := w.Expiration
	c.WatchExpiresAt = &exp
	r.conns[familyID] = c
	return nil
}

func (r *memRepo) FindByWatchChannel(_ context.Context, channelID string) (*domain.CalendarConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if c.WatchChannelID != "" && c.WatchChannelID == channelID {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) event(id string) domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[id]
}

func (r *memRepo) put(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[e.ID] = e
}

func (r *memRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// fakeCalendar is an in-memory external calendar.
type fakeCalendar struct {
	mu        sync.Mutex
	calendars []provider.CalendarInfo
	events    map[string]provider.ExternalEvent
	nextID    int

	creates, updates, deletes int
	refreshes                 int
	watches                   int

	unauthorizedOnce bool
	refreshErr       error
	forbidden        bool
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{
		calendars: []provider.CalendarInfo{{ID: "cal-family", Name: "Family"}},
		events:    make(map[string]provider.ExternalEvent),
	}
}

func (c *fakeCalendar) gate() error {
	if c.forbidden {
		return provider.ErrForbidden
	}
	if c.unauthorizedOnce {
		return provider.ErrUnauthorized
	}
	return nil
}

func (c *fakeCalendar) Refresh(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes++
	if c.refreshErr != nil {
		return c.refreshErr
	}
	c.unauthorizedOnce = false
	return nil
}

func (c *fakeCalendar) ListCalendars(context.Context) ([]provider.CalendarInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.gate(); err != nil {
		return nil, err
	}
	return append([]provider.CalendarInfo(nil), c.calendars...), nil
}

func (c *fakeCalendar) CreateCalendar(_ context.Context, name, _ string) (*provider.CalendarInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.gate(); err != nil {
		return nil, err
	}
	info := provider.CalendarInfo{ID: "cal-created", Name: name}
	c.calendars = append(c.calendars, info)
	return &info, nil
}

func (c *fakeCalendar) ListEvents(_ context.Context, _ string, w provider.TimeWindow) ([]provider.ExternalEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.gate(); err != nil {
		return nil, err
	}
	var out []provider.ExternalEvent
	for _, e := range c.events {
		if !e.Start.Before(w.From) && e.Start.Before(w.To) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *fakeCalendar) CreateEvent(_ context.Context, _ string, e provider.ExternalEvent) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.gate(); err != nil {
		return "", err
	}
	c.nextID++
	e.ID = fmt.Sprintf("ext-%d", c.nextID)
	c.events[e.ID] = e
	c.creates++
	return e.ID, nil
}

func (c *fakeCalendar) UpdateEvent(_ context.Context, _ string, e provider.ExternalEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.gate(); err != nil {
		return err
	}
	if _, ok := c.events[e.ID]; !ok {
		return provider.ErrNotFound
	}
	c.events[e.ID] = e
	c.updates++
	return nil
}

func (c *fakeCalendar) DeleteEvent(_ context.Context, _ string, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.gate(); err != nil {
		return err
	}
	if _, ok := c.events[id]; !ok {
		return provider.ErrNotFound
	}
	delete(c.events, id)
	c.deletes++
	return nil
}

func (c *fakeCalendar) Watch(_ context.Context, _, channelID, _ string, ttl time.Duration) (*provider.WatchChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.gate(); err != nil {
		return nil, err
	}
	c.watches++
	return &provider.WatchChannel{ID: channelID, ResourceID: "res-1", Expiration: testNow.Add(ttl)}, nil
}

func (c *fakeCalendar) external(id string) provider.ExternalEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[id]
}

type calOpener struct{ cal *fakeCalendar }

func (o calOpener) OpenCalendar(context.Context, *domain.CalendarConnection) (provider.Calendar, error) {
	return o.cal, nil
}

func newTestService(repo *memRepo, cal *fakeCalendar) *Service {
	svc, err := NewService(repo, repo, calOpener{cal}, nil, Options{})
	if err != nil {
		panic(err)
	}
	svc.now = func() time.Time { return testNow }
	return svc
}

func confirmedEvent(id string) domain.Event {
	created := testNow.Add(-time.Hour)
	return domain.Event{
		ID:        id,
		FamilyID:  testFamily,
		Title:     "Dentist",
		Date:      domain.NewDate(2025, time.October, 10),
		StartTime: "16:00",
		Location:  "Main St",
		Status:    domain.EventConfirmed,
		CreatedAt: created,
		UpdatedAt: created,
	}
}
