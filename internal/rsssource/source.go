// Package rsssource exposes school and team RSS/Atom feeds as
// provider.Mailbox so their posts run through the ingestion pipeline.
//
// The mailbox address is the feed URL; item GUIDs (or links) are message
// ids.
package rsssource

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/pkg/htmltext"
	"github.com/hearthkit/family-sync/internal/provider"
)

// ProviderName is the Mailbox.Provider value routed to this package.
const ProviderName = "rss"

// Feed is one subscribed feed.
type Feed struct {
	url    string
	parser *gofeed.Parser

	mu    sync.Mutex
	items map[string]*gofeed.Item
	title string
}

// NewFeed creates a feed source.
func NewFeed(feedURL string, parser *gofeed.Parser) *Feed {
	if parser == nil {
		parser = gofeed.NewParser()
	}
	return &Feed{url: feedURL, parser: parser}
}

// Refresh implements provider.Refresher. Feeds carry no credential.
func (f *Feed) Refresh(context.Context) error { return nil }

// ListCandidateMessages implements provider.Mailbox. The window start is
// inclusive; undated items are always listed.
func (f *Feed) ListCandidateMessages(ctx context.Context, q provider.MessageQuery) ([]domain.MessageSummary, error) {
	feed, err := f.fetch(ctx)
	if err != nil {
		return nil, err
	}
	from := f.sender(feed.Title)

	var out []domain.MessageSummary
	for _, it := range feed.Items {
		at := published(it)
		if !q.After.IsZero() && !at.IsZero() && at.Before(q.After) {
			continue
		}
		out = append(out, domain.MessageSummary{
			ID:         itemID(it),
			Subject:    strings.TrimSpace(it.Title),
			From:       from,
			Snippet:    snippet(htmltext.ToText(it.Description)),
			ReceivedAt: at,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })

	if q.Max > 0 && len(out) > q.Max {
		out = out[:q.Max]
	}
	return out, nil
}

// GetMessage implements provider.Mailbox. Items are looked up in the last
// fetched copy of the feed, refetching once if the id is unknown.
func (f *Feed) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	f.mu.Lock()
	it, ok := f.items[id]
	title := f.title
	f.mu.Unlock()
	if !ok {
		feed, err := f.fetch(ctx)
		if err != nil {
			return nil, err
		}
		title = feed.Title
		f.mu.Lock()
		it, ok = f.items[id]
		f.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("%w: feed item %s", provider.ErrNotFound, id)
		}
	}

	body := it.Content
	if strings.TrimSpace(body) == "" {
		body = it.Description
	}
	text := htmltext.ToText(body)
	if it.Link != "" {
		text += "\n\n" + it.Link
	}
	return &domain.Message{
		MessageSummary: domain.MessageSummary{
			ID:         id,
			Subject:    strings.TrimSpace(it.Title),
			From:       f.sender(title),
			Snippet:    snippet(htmltext.ToText(it.Description)),
			ReceivedAt: published(it),
		},
		Body: strings.TrimSpace(text),
	}, nil
}

func (f *Feed) fetch(ctx context.Context) (*gofeed.Feed, error) {
	feed, err := f.parser.ParseURLWithContext(f.url, ctx)
	if err != nil {
		var he gofeed.HTTPError
		if errors.As(err, &he) {
			return nil, provider.FromStatus(he.StatusCode, []byte(he.Status))
		}
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	items := make(map[string]*gofeed.Item, len(feed.Items))
	for _, it := range feed.Items {
		items[itemID(it)] = it
	}
	f.mu.Lock()
	f.items = items
	f.title = feed.Title
	f.mu.Unlock()
	return feed, nil
}

// sender builds a From header whose domain is the feed host, so sender
// filters can target a feed by domain.
func (f *Feed) sender(title string) string {
	host := "feed.invalid"
	if u, err := url.Parse(f.url); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	name := strings.ReplaceAll(strings.TrimSpace(title), `"`, "")
	if name == "" {
		return "rss@" + host
	}
	return fmt.Sprintf("%q <rss@%s>", name, host)
}

func itemID(it *gofeed.Item) string {
	if it.GUID != "" {
		return it.GUID
	}
	return it.Link
}

func published(it *gofeed.Item) time.Time {
	switch {
	case it.PublishedParsed != nil:
		return it.PublishedParsed.UTC()
	case it.UpdatedParsed != nil:
		return it.UpdatedParsed.UTC()
	}
	return time.Time{}
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 200 {
		return string(r[:200])
	}
	return s
}

// Opener opens feed mailboxes.
type Opener struct {
	Parser *gofeed.Parser
}

// OpenMailbox implements provider.MailboxOpener.
func (o *Opener) OpenMailbox(_ context.Context, mb *domain.Mailbox) (provider.Mailbox, error) {
	if _, err := url.ParseRequestURI(mb.Address); err != nil {
		return nil, fmt.Errorf("%w: feed url %q", domain.ErrInvalidInput, mb.Address)
	}
	return NewFeed(mb.Address, o.Parser), nil
}
