package provider

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/hearthkit/family-sync/internal/domain"
)

// MessageQuery selects candidate messages.
type MessageQuery struct {
	// After restricts the listing to messages received after this instant.
	After time.Time
	// Text is an adapter-specific search expression appended to the query.
	Text string
	// Max bounds the number of summaries returned. Zero means adapter default.
	Max int
}

// Mailbox is a source of raw messages. Gmail accounts and RSS/Atom feeds
// both satisfy it.
type Mailbox interface {
	Refresher
	// ListCandidateMessages returns summaries newest first.
	ListCandidateMessages(ctx context.Context, q MessageQuery) ([]domain.MessageSummary, error)
	// GetMessage returns the full text and inline images of one message.
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
}

// MailboxOpener builds a Mailbox client for a stored mailbox.
type MailboxOpener interface {
	OpenMailbox(ctx context.Context, mb *domain.Mailbox) (Mailbox, error)
}

// SenderDomain returns the lower-cased domain part of an address, or "".
func SenderDomain(address string) string {
	at := strings.LastIndexByte(address, '@')
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}

// SenderAddress extracts the bare lower-cased address from a From header
// such as `"Coach Dan" <dan@league.org>`.
func SenderAddress(from string) string {
	if a, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(a.Address)
	}
	return strings.ToLower(strings.Trim(strings.TrimSpace(from), "<>"))
}
