package recurrence

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
	"github.com/hearthkit/family-sync/internal/pkg/distlock"
)

const testFamily = "fam-test"

type memRepo struct {
	mu     sync.Mutex
	events map[string]domain.Event
}

func newMemRepo(events ...domain.Event) *memRepo {
	m := &memRepo{events: make(map[string]domain.Event)}
	for _, e := range events {
		m.events[e.ID] = e
	}
	return m
}

func (m *memRepo) GetEvent(_ context.Context, familyID, id string) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok || e.FamilyID != familyID {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *memRepo) ReplaceInstances(_ context.Context, familyID, parentID string, instances []domain.Event) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var purged []domain.Event
	for id, e := range m.events {
		if e.FamilyID == familyID && e.ParentID != nil && *e.ParentID == parentID {
			purged = append(purged, e)
			delete(m.events, id)
		}
	}
	for _, e := range instances {
		m.events[e.ID] = e
	}
	return purged, nil
}

func (m *memRepo) instanceDates(parentID string) []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for _, e := range m.events {
		if e.ParentID != nil && *e.ParentID == parentID {
			out = append(out, e.Date)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

type heldLocker struct{}

func (heldLocker) Lock(string) distlock.DistLock { return heldLock{} }

type heldLock struct{}

func (heldLock) Acquire(context.Context) (bool, error) { return false, nil }
func (heldLock) Release(context.Context) error { return nil }

func weeklyParent() domain.Event {
	count := 4
	return domain.Event{
		ID:        "parent-1",
		FamilyID:  testFamily,
		Title:     "Swim practice",
		Location:  "YMCA",
		Date:      domain.NewDate(2025, time.October, 6),
		StartTime: "16:00",
		EndTime:   "17:00",
		PersonTag: "Maya",
		Status:    domain.EventConfirmed,
		Recurrence: &domain.RecurrenceRule{
			Pattern:    domain.PatternWeekly,
			Interval:   1,
			DaysOfWeek: []time.Weekday{time.Tuesday, time.Thursday},
			Count:      &count,
		},
	}
}

func TestRegenerate_CreatesInstances(t *testing.T) {
	repo := newMemRepo(weeklyParent())
	svc := NewService(repo, nil)

	res, err := svc.Regenerate(context.Background(), testFamily, "parent-1")
	require.NoError(t, err)
	require.Len(t, res.Instances, 4)
	assert.Empty(t, res.Purged)

	for _, inst := range res.Instances {
		assert.Equal(t, domain.EventConfirmed, inst.Status)
		assert.Nil(t, inst.Recurrence)
		require.NotNil(t, inst.ParentID)
		assert.Equal(t, "parent-1", *inst.ParentID)
		assert.Equal(t, "Swim practice", inst.Title)
		assert.Equal(t, "16:00", inst.StartTime)
		assert.Equal(t, "Maya", inst.PersonTag)
		assert.Nil(t, inst.ExternalID)
		assert.NoError(t, inst.Validate())
	}
}

func TestRegenerate_Idempotent(t *testing.T) {
	repo := newMemRepo(weeklyParent())
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Regenerate(ctx, testFamily, "parent-1")
	require.NoError(t, err)
	first := repo.instanceDates("parent-1")

	res, err := svc.Regenerate(ctx, testFamily, "parent-1")
	require.NoError(t, err)
	second := repo.instanceDates("parent-1")

	assert.Equal(t, first, second)
	assert.Len(t, res.Purged, 4, "old instances are purged before the new batch")
	assert.Len(t, repo.events, 5)
}

func TestRegenerate_RuleChangeReplacesInstances(t *testing.T) {
	parent := weeklyParent()
	repo := newMemRepo(parent)
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Regenerate(ctx, testFamily, "parent-1")
	require.NoError(t, err)

	two := 2
	parent.Recurrence = &domain.RecurrenceRule{Pattern: domain.PatternDaily, Interval: 1, Count: &two}
	repo.events[parent.ID] = parent

	_, err = svc.Regenerate(ctx, testFamily, "parent-1")
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		domain.NewDate(2025, time.October, 7),
		domain.NewDate(2025, time.October, 8),
	}, repo.instanceDates("parent-1"))
}

func TestRegenerate_Rejects(t *testing.T) {
	standalone := domain.Event{ID: "solo", FamilyID: testFamily, Title: "Dentist", Date: domain.NewDate(2025, 1, 2), Status: domain.EventConfirmed}
	unconfirmed := weeklyParent()
	unconfirmed.ID = "draft-parent"
	unconfirmed.Status = domain.EventUnconfirmed
	repo := newMemRepo(standalone, unconfirmed)
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Regenerate(ctx, testFamily, "solo")
	assert.True(t, errors.Is(err, ErrNotParent))

	_, err = svc.Regenerate(ctx, testFamily, "draft-parent")
	assert.True(t, errors.Is(err, ErrParentUnconfirmed))

	_, err = svc.Regenerate(ctx, testFamily, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = svc.Regenerate(ctx, "other-family", "solo")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRegenerate_LockHeld(t *testing.T) {
	repo := newMemRepo(weeklyParent())
	svc := NewService(repo, heldLocker{})

	_, err := svc.Regenerate(context.Background(), testFamily, "parent-1")
	assert.True(t, errors.Is(err, distlock.ErrLocked))
	assert.Empty(t, repo.instanceDates("parent-1"))
}

func TestClear_RemovesInstances(t *testing.T) {
	repo := newMemRepo(weeklyParent())
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Regenerate(ctx, testFamily, "parent-1")
	require.NoError(t, err)

	purged, err := svc.Clear(ctx, testFamily, "parent-1")
	require.NoError(t, err)
	assert.Len(t, purged, 4)
	assert.Empty(t, repo.instanceDates("parent-1"))
}
