package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"

	"github.com/hearthkit/family-sync/internal/domain"
)

// FromStatus maps an HTTP response status onto the shared taxonomy. 2xx
// returns nil. Google reports quota exhaustion as 403 with a rate-limit
// reason, so the body is inspected for that case.
func FromStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	switch code {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, code)
	case http.StatusForbidden:
		if strings.Contains(msg, "rateLimitExceeded") || strings.Contains(msg, "userRateLimitExceeded") {
			return fmt.Errorf("%w: status %d", ErrRateLimited, code)
		}
		return fmt.Errorf("%w: status %d: %s", ErrForbidden, code, msg)
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%w: status %d", ErrNotFound, code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, code)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", ErrTimeout, code)
	}
	return fmt.Errorf("API error (status %d): %s", code, msg)
}

// FromGoogle maps an error returned by a Google API call onto the shared
// taxonomy. Errors that carry no HTTP status pass through unchanged.
func FromGoogle(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	body := gerr.Body
	if body == "" {
		body = gerr.Message
	}
	for _, item := range gerr.Errors {
		body += " " + item.Reason
	}
	return FromStatus(gerr.Code, []byte(body))
}

// ListError reports listed messages whose details could not be read. The
// listing returned with it is still usable.
type ListError struct {
	Items []domain.ItemError
}

func (e *ListError) Error() string {
	return fmt.Sprintf("%d listed messages could not be read", len(e.Items))
}

// MailboxRouter opens a mailbox with the opener registered for its
// provider name.
type MailboxRouter map[string]MailboxOpener

// OpenMailbox implements MailboxOpener.
func (r MailboxRouter) OpenMailbox(ctx context.Context, mb *domain.Mailbox) (Mailbox, error) {
	o, ok := r[mb.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: unknown mailbox provider %q", domain.ErrInvalidInput, mb.Provider)
	}
	return o.OpenMailbox(ctx, mb)
}
