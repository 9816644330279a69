package recurrence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/pkg/distlock"
	"github.com/hearthkit/family-sync/internal/pkg/logger"
	rec "github.com/hearthkit/family-sync/internal/recurrence"
)

// Result reports what one regeneration wrote and removed.
type Result struct {
	Instances []domain.Event `json:"instances"`
	Purged    []domain.Event `json:"purged"`
}

// Service regenerates recurrence instances.
type Service struct {
	repo   Repository
	locker distlock.Locker
	now    func() time.Time
}

// NewService creates a regeneration service. locker may be nil in tests.
func NewService(repo Repository, locker distlock.Locker) *Service {
	return &Service{repo: repo, locker: locker, now: time.Now}
}

// Regenerate replaces the instances of parentID with a fresh expansion of
// its rule.
func (s *Service) Regenerate(ctx context.Context, familyID, parentID string) (*Result, error) {
	var res *Result
	err := distlock.WithLock(ctx, s.locker, distlock.RecurrenceKey(parentID), func(ctx context.Context) error {
		parent, err := s.repo.GetEvent(ctx, familyID, parentID)
		if err != nil {
			return fmt.Errorf("get parent: %w", err)
		}
		if !parent.IsRecurrenceParent() {
			return fmt.Errorf("%s: %w", parentID, ErrNotParent)
		}
		if !parent.IsConfirmed() {
			return fmt.Errorf("%s: %w", parentID, ErrParentUnconfirmed)
		}

		dates, err := rec.Expand(*parent.Recurrence, parent.Date)
		if err != nil {
			return err
		}
		instances := BuildInstances(parent, dates, s.now().UTC())

		purged, err := s.repo.ReplaceInstances(ctx, familyID, parentID, instances)
		if err != nil {
			return fmt.Errorf("replace instances: %w", err)
		}
		res = &Result{Instances: instances, Purged: purged}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("recurrence regenerated",
		"family_id", familyID, "parent_id", parentID,
		"instances", len(res.Instances), "purged", len(res.Purged))
	return res, nil
}

// Clear removes every instance of parentID, used when a rule is dropped or
// the parent is deleted.
func (s *Service) Clear(ctx context.Context, familyID, parentID string) ([]domain.Event, error) {
	var purged []domain.Event
	err := distlock.WithLock(ctx, s.locker, distlock.RecurrenceKey(parentID), func(ctx context.Context) error {
		var err error
		purged, err = s.repo.ReplaceInstances(ctx, familyID, parentID, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("clear instances: %w", err)
	}
	return purged, nil
}

// BuildInstances copies the parent onto each date. Instances are confirmed,
// carry the parent id and no rule.
func BuildInstances(parent *domain.Event, dates []time.Time, now time.Time) []domain.Event {
	out := make([]domain.Event, 0, len(dates))
	for _, d := range dates {
		parentID := parent.ID
		inst := domain.Event{
			ID:             uuid.NewString(),
			FamilyID:       parent.FamilyID,
			Title:          parent.Title,
			Description:    parent.Description,
			Location:       parent.Location,
			Category:       parent.Category,
			Date:           d,
			StartTime:      parent.StartTime,
			EndTime:        parent.EndTime,
			PersonTag:      parent.PersonTag,
			RequiresAction: parent.RequiresAction,
			ActionDeadline: parent.ActionDeadline,
			Source:         parent.Source,
			Status:         domain.EventConfirmed,
			ParentID:       &parentID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		out = append(out, inst)
	}
	return out
}
