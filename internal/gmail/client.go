// Package gmail adapts the Gmail API to provider.Mailbox.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/pkg/htmltext"
	"github.com/hearthkit/family-sync/internal/pkg/httpretry"
	"github.com/hearthkit/family-sync/internal/provider"
)

// DefaultQuery narrows listings to mail a family is likely to care about.
const DefaultQuery = "-category:promotions -category:social -in:chats"

const (
	userID = "me"
	// maxPageSize is the largest page the list endpoint serves.
	maxPageSize = 500
)

var errListFull = errors.New("listing full")

// Client is a Gmail API client bound to one account.
type Client struct {
	svc       *gm.Service
	auth      *provider.OAuthSession
	baseQuery string
}

// NewClient creates a Gmail client. Requests are authorized by auth and sent
// through doer. An empty endpoint uses the public API.
func NewClient(ctx context.Context, endpoint string, doer httpretry.HTTPDoer, auth *provider.OAuthSession, baseQuery string) (*Client, error) {
	opts := []option.ClientOption{option.WithHTTPClient(auth.HTTPClient(doer))}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(endpoint, "/")+"/"))
	}
	svc, err := gm.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return &Client{svc: svc, auth: auth, baseQuery: baseQuery}, nil
}

// Refresh implements provider.Refresher.
func (c *Client) Refresh(ctx context.Context) error {
	return c.auth.Refresh(ctx)
}

// ListCandidateMessages implements provider.Mailbox. It follows page tokens
// until the window is exhausted or q.Max ids are collected. A message whose
// metadata cannot be read is reported in a *provider.ListError and the rest
// of the listing is still returned; credential failures abort the listing.
func (c *Client) ListCandidateMessages(ctx context.Context, q provider.MessageQuery) ([]domain.MessageSummary, error) {
	pageSize := int64(maxPageSize)
	if q.Max > 0 && q.Max < maxPageSize {
		pageSize = int64(q.Max)
	}

	var ids []string
	err := c.svc.Users.Messages.List(userID).
		Q(c.buildQuery(q)).
		MaxResults(pageSize).
		Pages(ctx, func(page *gm.ListMessagesResponse) error {
			for _, m := range page.Messages {
				ids = append(ids, m.Id)
				if q.Max > 0 && len(ids) == q.Max {
					return errListFull
				}
			}
			return nil
		})
	if err != nil && !errors.Is(err, errListFull) {
		return nil, fmt.Errorf("list messages: %w", provider.FromGoogle(err))
	}

	out := make([]domain.MessageSummary, 0, len(ids))
	var failed []domain.ItemError
	for _, id := range ids {
		msg, err := c.svc.Users.Messages.Get(userID, id).
			Format("metadata").
			MetadataHeaders("Subject", "From").
			Context(ctx).
			Do()
		if err != nil {
			err = provider.FromGoogle(err)
			if ctx.Err() != nil || errors.Is(err, provider.ErrUnauthorized) || errors.Is(err, provider.ErrForbidden) {
				return nil, fmt.Errorf("get message metadata %s: %w", id, err)
			}
			failed = append(failed, domain.NewItemError(id, "list", err))
			continue
		}
		out = append(out, summaryOf(msg))
	}
	if len(failed) > 0 {
		return out, &provider.ListError{Items: failed}
	}
	return out, nil
}

func (c *Client) buildQuery(q provider.MessageQuery) string {
	parts := make([]string, 0, 3)
	if c.baseQuery != "" {
		parts = append(parts, c.baseQuery)
	}
	if !q.After.IsZero() {
		parts = append(parts, "after:"+strconv.FormatInt(q.After.Unix(), 10))
	}
	if t := strings.TrimSpace(q.Text); t != "" {
		parts = append(parts, t)
	}
	return strings.Join(parts, " ")
}

// GetMessage implements provider.Mailbox. HTML-only bodies are converted to
// text; image parts are downloaded as attachments.
func (c *Client) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	msg, err := c.svc.Users.Messages.Get(userID, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, provider.FromGoogle(err))
	}

	out := &domain.Message{MessageSummary: summaryOf(msg)}
	var plain, html []string
	var walk func(p *gm.MessagePart) error
	walk = func(p *gm.MessagePart) error {
		if p == nil {
			return nil
		}
		mime := strings.ToLower(p.MimeType)
		switch {
		case strings.HasPrefix(mime, "multipart/"):
			for _, child := range p.Parts {
				if err := walk(child); err != nil {
					return err
				}
			}
		case mime == "text/plain" && p.Filename == "" && p.Body != nil:
			if s, err := decode(p.Body.Data); err == nil {
				plain = append(plain, string(s))
			}
		case mime == "text/html" && p.Filename == "" && p.Body != nil:
			if s, err := decode(p.Body.Data); err == nil {
				html = append(html, string(s))
			}
		case strings.HasPrefix(mime, "image/"):
			data, err := c.partData(ctx, id, p)
			if err != nil {
				return err
			}
			out.Attachments = append(out.Attachments, domain.Attachment{Filename: p.Filename, MimeType: mime, Data: data})
		}
		return nil
	}
	if err := walk(msg.Payload); err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}

	switch {
	case len(plain) > 0:
		out.Body = strings.TrimSpace(strings.Join(plain, "\n\n"))
	case len(html) > 0:
		texts := make([]string, 0, len(html))
		for _, h := range html {
			texts = append(texts, htmltext.ToText(h))
		}
		out.Body = strings.TrimSpace(strings.Join(texts, "\n\n"))
	default:
		out.Body = msg.Snippet
	}
	return out, nil
}

func (c *Client) partData(ctx context.Context, messageID string, p *gm.MessagePart) ([]byte, error) {
	if p.Body == nil {
		return nil, nil
	}
	if p.Body.Data != "" {
		return decode(p.Body.Data)
	}
	if p.Body.AttachmentId == "" {
		return nil, nil
	}
	att, err := c.svc.Users.Messages.Attachments.Get(userID, messageID, p.Body.AttachmentId).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", provider.FromGoogle(err))
	}
	return decode(att.Data)
}

func summaryOf(msg *gm.Message) domain.MessageSummary {
	s := domain.MessageSummary{ID: msg.Id, Snippet: msg.Snippet}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "subject":
				s.Subject = h.Value
			case "from":
				s.From = h.Value
			}
		}
	}
	if msg.InternalDate > 0 {
		s.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	return s
}

// decode reads Gmail's URL-safe base64, with or without padding.
func decode(data string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}
