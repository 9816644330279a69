package domain

import "time"

// IngestionStatus enumerates the processing outcome of one message.
type IngestionStatus string

const (
	IngestionPending   IngestionStatus = "pending"
	IngestionProcessed IngestionStatus = "processed"
	IngestionError     IngestionStatus = "error"
	IngestionSkipped   IngestionStatus = "skipped"
)

// IngestionRecord is the per-message bookkeeping row. At most one exists per
// (MailboxID, MessageID).
type IngestionRecord struct {
	ID              string          `json:"id" db:"id"`
	FamilyID        string          `json:"family_id" db:"family_id"`
	MailboxID       string          `json:"mailbox_id" db:"mailbox_id"`
	MessageID       string          `json:"message_id" db:"message_id"`
	Subject         string          `json:"subject" db:"subject"`
	Sender          string          `json:"sender" db:"sender"`
	ReceivedAt      time.Time       `json:"received_at" db:"received_at"`
	EventsExtracted int             `json:"events_extracted" db:"events_extracted"`
	Status          IngestionStatus `json:"status" db:"status"`
	Error           string          `json:"error,omitempty" db:"error"`
	ProcessedAt     time.Time       `json:"processed_at" db:"processed_at"`
}

// SenderFilterType enumerates per-sender scanning decisions.
type SenderFilterType string

const (
	FilterAlwaysScan SenderFilterType = "always_scan"
	FilterNeverScan  SenderFilterType = "never_scan"
	FilterLearned    SenderFilterType = "learned"
)

// Valid reports whether t is a known filter type.
func (t SenderFilterType) Valid() bool {
	switch t {
	case FilterAlwaysScan, FilterNeverScan, FilterLearned:
		return true
	}
	return false
}

// SenderFilter short-circuits classification for a sender address or domain.
type SenderFilter struct {
	ID        string           `json:"id" db:"id"`
	FamilyID  string           `json:"family_id" db:"family_id"`
	Pattern   string           `json:"pattern" db:"pattern"`
	IsDomain  bool             `json:"is_domain" db:"is_domain"`
	Type      SenderFilterType `json:"type" db:"filter_type"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

// Mailbox is a connected e-mail account.
type Mailbox struct {
	ID           string     `json:"id" db:"id"`
	FamilyID     string     `json:"family_id" db:"family_id"`
	Provider     string     `json:"provider" db:"provider"`
	Address      string     `json:"address" db:"address"`
	AccessToken  string     `json:"-" db:"access_token"`
	RefreshToken string     `json:"-" db:"refresh_token"`
	TokenExpiry  time.Time  `json:"-" db:"token_expiry"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty" db:"last_sync_at"`
}

// MessageSummary is the listing-level view of a raw message.
type MessageSummary struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	Snippet    string    `json:"snippet,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	// Status is filled in for review listings from the ingestion record.
	Status IngestionStatus `json:"status,omitempty"`
}

// Attachment is inline binary content (images) passed to extraction.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// Message is the full content of a raw message.
type Message struct {
	MessageSummary
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
}
