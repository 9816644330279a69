package event

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/service/calsync"
	"github.com/hearthkit/family-sync/internal/service/recurrence"
)

const testFamily = "fam-test"

// memRepo satisfies both Repository and recurrence.Repository so the real
// regeneration service can run against it.
type memRepo struct {
	mu     sync.Mutex
	events map[string]domain.Event
}

func newMemRepo() *memRepo {
	return &memRepo{events: make(map[string]domain.Event)}
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

func (r *memRepo) ListEvents(_ context.Context, familyID string, f ListFilter) ([]domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.FamilyID != familyID {
			continue
		}
		if f.From != nil && e.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && e.Date.After(*f.To) {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.ParentID != "" && (e.ParentID == nil || *e.ParentID != f.ParentID) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (r *memRepo) CreateEvent(_ context.Context, e *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[e.ID] = *e
	return nil
}

func (r *memRepo) UpdateEvent(_ context.Context, e *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[e.ID]; !ok {
		return ErrNotFound
	}
	r.events[e.ID] = *e
	return nil
}

func (r *memRepo) DeleteEvent(_ context.Context, familyID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.events[id]; !ok || e.FamilyID != familyID {
		return ErrNotFound
	}
	delete(r.events, id)
	return nil
}

func (r *memRepo) ReplaceInstances(_ context.Context, familyID, parentID string, instances []domain.Event) ([]domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged []domain.Event
	for id, e := range r.events {
		if e.FamilyID == familyID && e.ParentID != nil && *e.ParentID == parentID {
			purged = append(purged, e)
			delete(r.events, id)
		}
	}
	for _, inst := range instances {
		r.events[inst.ID] = inst
	}
	return purged, nil
}

func (r *memRepo) instances(parentID string) []domain.Event {
	out, _ := r.ListEvents(context.Background(), testFamily, ListFilter{ParentID: parentID})
	return out
}

func (r *memRepo) link(id, externalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.events[id]
	e.ExternalID = &externalID
	r.events[id] = e
}

// fakePusher records pushes and links events the way the synchronizer does.
type fakePusher struct {
	mu      sync.Mutex
	repo    *memRepo
	err     error
	created []string
	updated []string
	deleted []string
}

func (p *fakePusher) PushCreate(_ context.Context, _, eventID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.created = append(p.created, eventID)
	p.repo.link(eventID, "ext-"+eventID)
	return "ext-" + eventID, nil
}

func (p *fakePusher) PushUpdate(_ context.Context, _, eventID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.updated = append(p.updated, eventID)
	return "ext-" + eventID, nil
}

func (p *fakePusher) PushDelete(_ context.Context, _, externalID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, externalID)
	return nil
}

func newTestService() (*Service, *memRepo, *fakePusher) {
	repo := newMemRepo()
	pusher := &fakePusher{repo: repo}
	svc := NewService(repo, recurrence.NewService(repo, nil), pusher)
	svc.now = func() time.Time { return time.Date(2025, time.October, 1, 9, 0, 0, 0, time.UTC) }
	return svc, repo, pusher
}

func dates(events []domain.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = domain.FormatDate(e.Date)
	}
	return out
}

func TestCreate_ManualEventIsConfirmedAndPushed(t *testing.T) {
	svc, repo, pusher := newTestService()

	res, err := svc.Create(context.Background(), testFamily, CreateInput{
		Title:     "  Parent-teacher conference ",
		Date:      "2025-10-14",
		StartTime: "9:30",
		PersonTag: "Maya",
	})
	require.NoError(t, err)
	assert.Equal(t, "Parent-teacher conference", res.Event.Title)
	assert.Equal(t, "09:30", res.Event.StartTime)
	assert.Equal(t, domain.EventConfirmed, res.Event.Status)
	assert.Equal(t, "ext-"+res.Event.ID, res.ExternalID)
	assert.Equal(t, []string{res.Event.ID}, pusher.created)

	stored, err := repo.GetEvent(context.Background(), testFamily, res.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NewDate(2025, time.October, 14), stored.Date)
}

func TestCreate_RRuleExpandsInstances(t *testing.T) {
	svc, repo, pusher := newTestService()

	res, err := svc.Create(context.Background(), testFamily, CreateInput{
		Title:     "Swim practice",
		Date:      "2025-10-06",
		StartTime: "16:00",
		RRule:     "FREQ=WEEKLY;BYDAY=TU,TH;COUNT=5",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Instances)
	assert.Equal(t,
		[]string{"2025-10-07", "2025-10-09", "2025-10-14", "2025-10-16"},
		dates(repo.instances(res.Event.ID)))
	assert.Len(t, pusher.created, 1, "only the parent is pushed inline")
}

func TestCreate_Validation(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	zero, negative := 0, -2

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"missing title", CreateInput{Date: "2025-10-14"}},
		{"bad date", CreateInput{Title: "x", Date: "10/14/2025"}},
		{"bad time", CreateInput{Title: "x", Date: "2025-10-14", StartTime: "25:00"}},
		{"end before start", CreateInput{Title: "x", Date: "2025-10-14", StartTime: "10:00", EndTime: "09:00"}},
		{"bad pattern", CreateInput{Title: "x", Date: "2025-10-14", Recurrence: &RuleInput{Pattern: "hourly"}}},
		{"rule and rrule", CreateInput{Title: "x", Date: "2025-10-14", Recurrence: &RuleInput{Pattern: domain.PatternDaily}, RRule: "FREQ=DAILY"}},
		{"zero interval", CreateInput{Title: "x", Date: "2025-10-14", Recurrence: &RuleInput{Pattern: domain.PatternWeekly, Interval: &zero}}},
		{"negative interval", CreateInput{Title: "x", Date: "2025-10-14", Recurrence: &RuleInput{Pattern: domain.PatternDaily, Interval: &negative}}},
		{"zero rrule interval", CreateInput{Title: "x", Date: "2025-10-14", RRule: "FREQ=DAILY;INTERVAL=0;COUNT=3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, testFamily, tt.in)
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		})
	}
	assert.Empty(t, repo.events, "nothing is stored for rejected input")
}

func TestCreate_OmittedIntervalMeansEveryPeriod(t *testing.T) {
	svc, repo, _ := newTestService()
	count := 2
	res, err := svc.Create(context.Background(), testFamily, CreateInput{
		Title: "Swim", Date: "2025-10-06",
		Recurrence: &RuleInput{Pattern: domain.PatternWeekly, Count: &count},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Event.Recurrence)
	assert.Equal(t, 1, res.Event.Recurrence.Interval)
	assert.Equal(t, []string{"2025-10-13", "2025-10-20"}, dates(repo.instances(res.Event.ID)))
}

func TestUpdate_InstanceIsDetached(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	res, err := svc.Create(ctx, testFamily, CreateInput{
		Title: "Piano", Date: "2025-10-06", RRule: "FREQ=WEEKLY;COUNT=3",
	})
	require.NoError(t, err)
	parentID := res.Event.ID
	insts := repo.instances(parentID)
	require.Len(t, insts, 2)

	title := "Piano recital"
	upd, err := svc.Update(ctx, testFamily, insts[0].ID, UpdateInput{Title: &title})
	require.NoError(t, err)
	assert.Nil(t, upd.Event.ParentID)
	assert.Len(t, repo.instances(parentID), 1)

	// Regenerating the parent leaves the detached event alone.
	loc := "Hall B"
	_, err = svc.Update(ctx, testFamily, parentID, UpdateInput{Location: &loc})
	require.NoError(t, err)
	detached, err := repo.GetEvent(ctx, testFamily, insts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Piano recital", detached.Title)
}

func TestUpdate_RuleChangeRegeneratesAndDeletesExternalCopies(t *testing.T) {
	svc, repo, pusher := newTestService()
	ctx := context.Background()

	res, err := svc.Create(ctx, testFamily, CreateInput{
		Title: "Soccer", Date: "2025-10-06", RRule: "FREQ=WEEKLY;COUNT=3",
	})
	require.NoError(t, err)
	parentID := res.Event.ID
	for _, inst := range repo.instances(parentID) {
		repo.link(inst.ID, "ext-"+inst.ID)
	}

	count := 1
	upd, err := svc.Update(ctx, testFamily, parentID, UpdateInput{
		Recurrence: &RuleInput{Pattern: domain.PatternDaily, Count: &count},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, upd.Instances)
	assert.Equal(t, []string{"2025-10-07"}, dates(repo.instances(parentID)))
	assert.Len(t, pusher.deleted, 2)
	assert.Equal(t, []string{parentID}, pusher.updated)
}

func TestUpdate_ClearRecurrenceRemovesInstances(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	res, err := svc.Create(ctx, testFamily, CreateInput{
		Title: "Chess club", Date: "2025-10-06", RRule: "FREQ=DAILY;COUNT=4",
	})
	require.NoError(t, err)
	require.Len(t, repo.instances(res.Event.ID), 3)

	upd, err := svc.Update(ctx, testFamily, res.Event.ID, UpdateInput{ClearRecurrence: true})
	require.NoError(t, err)
	assert.Nil(t, upd.Event.Recurrence)
	assert.Empty(t, repo.instances(res.Event.ID))
}

func TestConfirm(t *testing.T) {
	svc, repo, pusher := newTestService()
	ctx := context.Background()

	count := 2
	draft := domain.Event{
		ID:         "ev-draft",
		FamilyID:   testFamily,
		Title:      "Book fair",
		Date:       domain.NewDate(2025, time.October, 20),
		Status:     domain.EventUnconfirmed,
		Recurrence: &domain.RecurrenceRule{Pattern: domain.PatternDaily, Interval: 1, Count: &count},
	}
	require.NoError(t, repo.CreateEvent(ctx, &draft))

	res, err := svc.Confirm(ctx, testFamily, "ev-draft")
	require.NoError(t, err)
	assert.Equal(t, domain.EventConfirmed, res.Event.Status)
	assert.Equal(t, 2, res.Instances)
	assert.Equal(t, []string{"ev-draft"}, pusher.created)

	_, err = svc.Confirm(ctx, testFamily, "ev-draft")
	assert.True(t, errors.Is(err, ErrAlreadyConfirmed))

	_, err = svc.Confirm(ctx, testFamily, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDelete_ParentRemovesInstancesAndExternalCopies(t *testing.T) {
	svc, repo, pusher := newTestService()
	ctx := context.Background()

	res, err := svc.Create(ctx, testFamily, CreateInput{
		Title: "Tutoring", Date: "2025-10-06", RRule: "FREQ=WEEKLY;COUNT=3",
	})
	require.NoError(t, err)
	insts := repo.instances(res.Event.ID)
	repo.link(insts[0].ID, "ext-"+insts[0].ID)

	require.NoError(t, svc.Delete(ctx, testFamily, res.Event.ID))
	all, err := repo.ListEvents(ctx, testFamily, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.ElementsMatch(t, []string{"ext-" + insts[0].ID, "ext-" + res.Event.ID}, pusher.deleted)
}

func TestPushFailureDoesNotFailOperation(t *testing.T) {
	svc, repo, pusher := newTestService()
	pusher.err = errors.New("rate limited")

	res, err := svc.Create(context.Background(), testFamily, CreateInput{Title: "Bake sale", Date: "2025-10-18"})
	require.NoError(t, err)
	assert.Equal(t, "rate limited", res.SyncError)

	stored, err := repo.GetEvent(context.Background(), testFamily, res.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncUnsynced, stored.SyncState())
}

func TestNoCalendarIsSilent(t *testing.T) {
	svc, _, pusher := newTestService()
	pusher.err = calsync.ErrNoCalendar

	res, err := svc.Create(context.Background(), testFamily, CreateInput{Title: "Bake sale", Date: "2025-10-18"})
	require.NoError(t, err)
	assert.Empty(t, res.SyncError)
	assert.Empty(t, res.ExternalID)
}

func TestList(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	for _, d := range []string{"2025-10-03", "2025-10-10", "2025-11-01"} {
		_, err := svc.Create(ctx, testFamily, CreateInput{Title: "Game", Date: d})
		require.NoError(t, err)
	}

	from := domain.NewDate(2025, time.October, 1)
	to := domain.NewDate(2025, time.October, 31)
	got, err := svc.List(ctx, testFamily, ListFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-10-03", "2025-10-10"}, dates(got))

	_, err = svc.List(ctx, testFamily, ListFilter{From: &to, To: &from})
	assert.True(t, errors.Is(err, ErrValidation))
}
