package domain

import (
	"fmt"
	"strings"
	"time"
)

// EventStatus enumerates the confirmation state of an event.
type EventStatus string

const (
	EventUnconfirmed EventStatus = "unconfirmed"
	EventConfirmed   EventStatus = "confirmed"
)

// SyncState is the derived external-calendar state of an event.
type SyncState string

const (
	SyncUnsynced SyncState = "unsynced"
	SyncSynced   SyncState = "synced"
	SyncStale    SyncState = "stale"
)

// EventSource links an event back to the message it was mined from.
type EventSource struct {
	MailboxID string `json:"mailbox_id"`
	MessageID string `json:"message_id"`
	Subject   string `json:"subject"`
}

// Event is the canonical stored event.
//
// An event is exactly one of: standalone (no rule, no parent), recurrence
// parent (Recurrence set, ParentID nil) or recurrence instance (ParentID set,
// Recurrence nil).
type Event struct {
	ID          string    `json:"id" db:"id"`
	FamilyID    string    `json:"family_id" db:"family_id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description,omitempty" db:"description"`
	Location    string    `json:"location,omitempty" db:"location"`
	Category    string    `json:"category,omitempty" db:"category"`
	Date        time.Time `json:"date" db:"event_date"`
	StartTime   string    `json:"start_time,omitempty" db:"start_time"`
	EndTime     string    `json:"end_time,omitempty" db:"end_time"`
	PersonTag   string    `json:"person_tag,omitempty" db:"person_tag"`

	RequiresAction bool       `json:"requires_action" db:"requires_action"`
	ActionDeadline *time.Time `json:"action_deadline,omitempty" db:"action_deadline"`

	Source *EventSource `json:"source,omitempty"`
	Status EventStatus  `json:"status" db:"status"`

	ExternalID   *string    `json:"external_id,omitempty" db:"external_id"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`

	Recurrence *RecurrenceRule `json:"recurrence,omitempty" db:"recurrence"`
	ParentID   *string         `json:"parent_id,omitempty" db:"parent_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsConfirmed reports whether a human approved the event.
func (e *Event) IsConfirmed() bool { return e.Status == EventConfirmed }

// IsRecurrenceParent reports whether the event carries a rule.
func (e *Event) IsRecurrenceParent() bool { return e.Recurrence != nil && e.ParentID == nil }

// IsRecurrenceInstance reports whether the event was generated from a parent.
func (e *Event) IsRecurrenceInstance() bool { return e.ParentID != nil }

// IsAllDay reports whether the event has no start time.
func (e *Event) IsAllDay() bool { return e.StartTime == "" }

// HasExternalID reports whether the event is linked to an external event.
func (e *Event) HasExternalID() bool { return e.ExternalID != nil && *e.ExternalID != "" }

// SyncState derives the external sync state from the external link and the
// last local modification.
func (e *Event) SyncState() SyncState {
	if !e.HasExternalID() || e.LastSyncedAt == nil {
		return SyncUnsynced
	}
	if e.UpdatedAt.After(*e.LastSyncedAt) {
		return SyncStale
	}
	return SyncSynced
}

// Detach turns a recurrence instance into a standalone event.
func (e *Event) Detach() {
	e.ParentID = nil
}

// Validate checks the structural invariants of an event.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.FamilyID) == "" {
		return fmt.Errorf("%w: family id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if e.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	if e.Recurrence != nil && e.ParentID != nil {
		return fmt.Errorf("%w: recurrence instance cannot carry its own rule", ErrInvalidInput)
	}
	if e.EndTime != "" && e.StartTime == "" {
		return fmt.Errorf("%w: end time without start time", ErrInvalidInput)
	}
	if e.StartTime != "" && e.EndTime != "" && e.EndTime < e.StartTime {
		return fmt.Errorf("%w: end time %s before start time %s", ErrInvalidInput, e.EndTime, e.StartTime)
	}
	switch e.Status {
	case EventUnconfirmed, EventConfirmed:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidInput, e.Status)
	}
	return nil
}

// EventDraft is a candidate event produced by an extractor. It becomes an
// Event only after admission.
type EventDraft struct {
	Title          string     `json:"title"`
	Date           time.Time  `json:"date"`
	StartTime      string     `json:"start_time,omitempty"`
	EndTime        string     `json:"end_time,omitempty"`
	Location       string     `json:"location,omitempty"`
	Description    string     `json:"description,omitempty"`
	Category       string     `json:"category,omitempty"`
	PersonTag      string     `json:"person_tag,omitempty"`
	ActionRequired bool       `json:"action_required,omitempty"`
	ActionDeadline *time.Time `json:"action_deadline,omitempty"`
	Confidence     float64    `json:"confidence"`
}

// Person is an entry in a family's tracked roster.
type Person struct {
	Name      string   `json:"name"`
	Nicknames []string `json:"nicknames,omitempty"`
}
