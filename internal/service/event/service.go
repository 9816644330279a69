package event

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/pkg/logger"
	rec "github.com/hearthkit/family-sync/internal/recurrence"
	"github.com/hearthkit/family-sync/internal/service/calsync"
)

// Service implements event lifecycle logic. It coordinates the repository,
// recurrence regeneration and the external calendar push.
type Service struct {
	repo   Repository
	regen  Regenerator
	pusher Pusher
	now    func() time.Time
}

// NewService creates an event service. pusher may be nil when no external
// calendar integration is configured.
func NewService(repo Repository, regen Regenerator, pusher Pusher) *Service {
	return &Service{repo: repo, regen: regen, pusher: pusher, now: time.Now}
}

// Result is the outcome of a lifecycle operation.
type Result struct {
	Event      *domain.Event `json:"event"`
	Instances  int           `json:"instances"`
	ExternalID string        `json:"external_id,omitempty"`
	SyncError  string        `json:"sync_error,omitempty"`
}

// CreateInput holds the fields for a manually created event. A rule may be
// given either structured or as RFC 5545 RRULE text, not both.
type CreateInput struct {
	Title          string     `json:"title"`
	Date           string     `json:"date"`
	StartTime      string     `json:"start_time"`
	EndTime        string     `json:"end_time"`
	Location       string     `json:"location"`
	Description    string     `json:"description"`
	Category       string     `json:"category"`
	PersonTag      string     `json:"person_tag"`
	RequiresAction bool       `json:"requires_action"`
	ActionDeadline string     `json:"action_deadline"`
	Recurrence     *RuleInput `json:"recurrence"`
	RRule          string     `json:"rrule"`
}

// UpdateInput holds the mutable fields of an event. Nil fields are not
// applied. ClearRecurrence drops the rule and every instance.
type UpdateInput struct {
	Title           *string    `json:"title"`
	Date            *string    `json:"date"`
	StartTime       *string    `json:"start_time"`
	EndTime         *string    `json:"end_time"`
	Location        *string    `json:"location"`
	Description     *string    `json:"description"`
	Category        *string    `json:"category"`
	PersonTag       *string    `json:"person_tag"`
	RequiresAction  *bool      `json:"requires_action"`
	ActionDeadline  *string    `json:"action_deadline"`
	Recurrence      *RuleInput `json:"recurrence"`
	RRule           *string    `json:"rrule"`
	ClearRecurrence bool       `json:"clear_recurrence"`
}

// RuleInput is a structured recurrence rule as submitted by a client. An
// omitted interval means every period; an explicit zero is rejected.
type RuleInput struct {
	Pattern    domain.RecurrencePattern `json:"pattern"`
	Interval   *int                     `json:"interval"`
	DaysOfWeek []time.Weekday           `json:"days_of_week,omitempty"`
	EndDate    *time.Time               `json:"end_date,omitempty"`
	Count      *int                     `json:"count,omitempty"`
}

func (in *RuleInput) rule() domain.RecurrenceRule {
	r := domain.RecurrenceRule{
		Pattern:    in.Pattern,
		Interval:   1,
		DaysOfWeek: in.DaysOfWeek,
		EndDate:    in.EndDate,
		Count:      in.Count,
	}
	if in.Interval != nil {
		r.Interval = *in.Interval
	}
	return r
}

// Get returns a single event.
func (s *Service) Get(ctx context.Context, familyID, id string) (*domain.Event, error) {
	return s.repo.GetEvent(ctx, familyID, id)
}

// List returns events matching the filter.
func (s *Service) List(ctx context.Context, familyID string, f ListFilter) ([]domain.Event, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, fmt.Errorf("%w: range end before start", ErrValidation)
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 500
	}
	return s.repo.ListEvents(ctx, familyID, f)
}

// Create validates and persists a manual event. Manual events are confirmed
// on creation, so a rule is expanded and the event is pushed right away.
func (s *Service) Create(ctx context.Context, familyID string, in CreateInput) (*Result, error) {
	date, err := domain.ParseDate(in.Date)
	if err != nil {
		return nil, err
	}
	start, err := domain.ParseClock(in.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := domain.ParseClock(in.EndTime)
	if err != nil {
		return nil, err
	}
	deadline, err := optionalDate(in.ActionDeadline)
	if err != nil {
		return nil, err
	}
	rule, err := resolveRule(in.Recurrence, in.RRule)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	e := &domain.Event{
		ID:             uuid.NewString(),
		FamilyID:       familyID,
		Title:          strings.TrimSpace(in.Title),
		Description:    strings.TrimSpace(in.Description),
		Location:       strings.TrimSpace(in.Location),
		Category:       strings.TrimSpace(in.Category),
		Date:           date,
		StartTime:      start,
		EndTime:        end,
		PersonTag:      strings.TrimSpace(in.PersonTag),
		RequiresAction: in.RequiresAction,
		ActionDeadline: deadline,
		Status:         domain.EventConfirmed,
		Recurrence:     rule,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.CreateEvent(ctx, e); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	res := &Result{Event: e}
	if e.IsRecurrenceParent() {
		if err := s.regenerate(ctx, e, res); err != nil {
			return res, err
		}
	}
	s.push(ctx, e, res)
	return res, nil
}

// Update applies in to an event. Editing a recurrence instance detaches it
// from its parent; editing a confirmed parent regenerates its instances.
func (s *Service) Update(ctx context.Context, familyID, id string, in UpdateInput) (*Result, error) {
	e, err := s.repo.GetEvent(ctx, familyID, id)
	if err != nil {
		return nil, err
	}
	hadRule := e.IsRecurrenceParent()

	if err := apply(e, in); err != nil {
		return nil, err
	}
	if e.IsRecurrenceInstance() {
		e.Detach()
	}
	e.UpdatedAt = s.now().UTC()
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateEvent(ctx, e); err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}

	res := &Result{Event: e}
	switch {
	case e.IsRecurrenceParent() && e.IsConfirmed():
		if err := s.regenerate(ctx, e, res); err != nil {
			return res, err
		}
	case hadRule && !e.IsRecurrenceParent():
		purged, err := s.regen.Clear(ctx, familyID, e.ID)
		if err != nil {
			return res, err
		}
		s.deleteExternal(ctx, familyID, purged)
	}
	if e.IsConfirmed() {
		s.push(ctx, e, res)
	}
	return res, nil
}

// Confirm approves an extracted event, expands its rule and pushes it.
func (s *Service) Confirm(ctx context.Context, familyID, id string) (*Result, error) {
	e, err := s.repo.GetEvent(ctx, familyID, id)
	if err != nil {
		return nil, err
	}
	if e.IsConfirmed() {
		return nil, fmt.Errorf("%s: %w", id, ErrAlreadyConfirmed)
	}
	e.Status = domain.EventConfirmed
	e.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateEvent(ctx, e); err != nil {
		return nil, fmt.Errorf("confirm event: %w", err)
	}

	res := &Result{Event: e}
	if e.IsRecurrenceParent() {
		if err := s.regenerate(ctx, e, res); err != nil {
			return res, err
		}
	}
	s.push(ctx, e, res)
	return res, nil
}

// Delete removes an event. Deleting a parent removes its instances. External
// copies are deleted best effort.
func (s *Service) Delete(ctx context.Context, familyID, id string) error {
	e, err := s.repo.GetEvent(ctx, familyID, id)
	if err != nil {
		return err
	}
	if e.IsRecurrenceParent() {
		purged, err := s.regen.Clear(ctx, familyID, id)
		if err != nil {
			return err
		}
		s.deleteExternal(ctx, familyID, purged)
	}
	if err := s.repo.DeleteEvent(ctx, familyID, id); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	s.deleteExternal(ctx, familyID, []domain.Event{*e})
	logger.Info("event deleted", "family_id", familyID, "event_id", id)
	return nil
}

func (s *Service) regenerate(ctx context.Context, parent *domain.Event, res *Result) error {
	out, err := s.regen.Regenerate(ctx, parent.FamilyID, parent.ID)
	if err != nil {
		return fmt.Errorf("regenerate instances: %w", err)
	}
	res.Instances = len(out.Instances)
	s.deleteExternal(ctx, parent.FamilyID, out.Purged)
	return nil
}

// push mirrors e to the external calendar. Instances are left for the
// periodic re-sync.
func (s *Service) push(ctx context.Context, e *domain.Event, res *Result) {
	if s.pusher == nil {
		return
	}
	var (
		extID string
		err   error
	)
	if e.HasExternalID() {
		extID, err = s.pusher.PushUpdate(ctx, e.FamilyID, e.ID)
	} else {
		extID, err = s.pusher.PushCreate(ctx, e.FamilyID, e.ID)
	}
	switch {
	case err == nil:
		res.ExternalID = extID
	case errors.Is(err, calsync.ErrNoCalendar):
		logger.Debug("no calendar connected, push skipped", "family_id", e.FamilyID, "event_id", e.ID)
	default:
		res.SyncError = err.Error()
		logger.Warn("event push failed", "family_id", e.FamilyID, "event_id", e.ID, "error", err)
	}
}

func (s *Service) deleteExternal(ctx context.Context, familyID string, events []domain.Event) {
	if s.pusher == nil {
		return
	}
	for _, e := range events {
		if !e.HasExternalID() {
			continue
		}
		if err := s.pusher.PushDelete(ctx, familyID, *e.ExternalID); err != nil && !errors.Is(err, calsync.ErrNoCalendar) {
			logger.Warn("external delete failed", "family_id", familyID, "event_id", e.ID, "error", err)
		}
	}
}

func apply(e *domain.Event, in UpdateInput) error {
	if in.Title != nil {
		e.Title = strings.TrimSpace(*in.Title)
	}
	if in.Date != nil {
		d, err := domain.ParseDate(*in.Date)
		if err != nil {
			return err
		}
		e.Date = d
	}
	if in.StartTime != nil {
		t, err := domain.ParseClock(*in.StartTime)
		if err != nil {
			return err
		}
		e.StartTime = t
	}
	if in.EndTime != nil {
		t, err := domain.ParseClock(*in.EndTime)
		if err != nil {
			return err
		}
		e.EndTime = t
	}
	if in.Location != nil {
		e.Location = strings.TrimSpace(*in.Location)
	}
	if in.Description != nil {
		e.Description = strings.TrimSpace(*in.Description)
	}
	if in.Category != nil {
		e.Category = strings.TrimSpace(*in.Category)
	}
	if in.PersonTag != nil {
		e.PersonTag = strings.TrimSpace(*in.PersonTag)
	}
	if in.RequiresAction != nil {
		e.RequiresAction = *in.RequiresAction
	}
	if in.ActionDeadline != nil {
		d, err := optionalDate(*in.ActionDeadline)
		if err != nil {
			return err
		}
		e.ActionDeadline = d
	}

	if in.ClearRecurrence {
		if in.Recurrence != nil || in.RRule != nil {
			return fmt.Errorf("%w: clear_recurrence with a new rule", ErrValidation)
		}
		e.Recurrence = nil
		return nil
	}
	var text string
	if in.RRule != nil {
		text = *in.RRule
	}
	rule, err := resolveRule(in.Recurrence, text)
	if err != nil {
		return err
	}
	if rule != nil {
		e.Recurrence = rule
		e.Detach()
	}
	return nil
}

func resolveRule(in *RuleInput, text string) (*domain.RecurrenceRule, error) {
	text = strings.TrimSpace(text)
	if in != nil && text != "" {
		return nil, fmt.Errorf("%w: recurrence and rrule are mutually exclusive", ErrValidation)
	}
	if text != "" {
		parsed, err := rec.ParseRRule(text)
		if err != nil {
			return nil, err
		}
		return &parsed, nil
	}
	if in == nil {
		return nil, nil
	}
	r := in.rule()
	if err := rec.Validate(r); err != nil {
		return nil, err
	}
	r.DaysOfWeek = rec.SortedWeekdays(r.DaysOfWeek)
	if r.EndDate != nil {
		end := domain.DateOf(*r.EndDate)
		r.EndDate = &end
	}
	return &r, nil
}

func optionalDate(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := domain.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
