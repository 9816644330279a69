package ingestion

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/provider"
)

const testFamily = "fam-test"

// memStore is an in-memory implementation of every repository the
// ingestion package depends on.
type memStore struct {
	mu        sync.Mutex
	filters   map[string]domain.SenderFilter // keyed by familyID:pattern
	records   map[string]domain.IngestionRecord
	events    []domain.Event
	mailboxes map[string]domain.Mailbox
	people    map[string][]domain.Person
	admits    int
}

func newMemStore() *memStore {
	return &memStore{
		filters:   make(map[string]domain.SenderFilter),
		records:   make(map[string]domain.IngestionRecord),
		mailboxes: make(map[string]domain.Mailbox),
		people:    make(map[string][]domain.Person),
	}
}

func (m *memStore) FindFilters(_ context.Context, familyID, address, senderDomain string) ([]domain.SenderFilter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SenderFilter
	for _, p := range []string{address, senderDomain} {
		if f, ok := m.filters[familyID+":"+p]; ok && p != "" {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memStore) ListFilters(_ context.Context, familyID string) ([]domain.SenderFilter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SenderFilter
	for _, f := range m.filters {
		if f.FamilyID == familyID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pattern < out[j].Pattern })
	return out, nil
}

func (m *memStore) UpsertFilter(_ context.Context, f *domain.SenderFilter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters[f.FamilyID+":"+f.Pattern] = *f
	return nil
}

func (m *memStore) InsertFilterIfAbsent(_ context.Context, f *domain.SenderFilter) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := f.FamilyID + ":" + f.Pattern
	if _, ok := m.filters[k]; ok {
		return false, nil
	}
	m.filters[k] = *f
	return true, nil
}

func (m *memStore) DeleteFilter(_ context.Context, familyID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, f := range m.filters {
		if f.FamilyID == familyID && f.ID == id {
			delete(m.filters, k)
			return nil
		}
	}
	return ErrNotFound
}

func recKey(mailboxID, messageID string) string { return mailboxID + "/" + messageID }

func (m *memStore) GetRecord(_ context.Context, mailboxID, messageID string) (*domain.IngestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[recKey(mailboxID, messageID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *memStore) ListRecords(_ context.Context, mailboxID string, ids []string) (map[string]domain.IngestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.IngestionRecord)
	for _, id := range ids {
		if r, ok := m.records[recKey(mailboxID, id)]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func (m *memStore) AdmitMessage(_ context.Context, rec *domain.IngestionRecord, events []domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recKey(rec.MailboxID, rec.MessageID)
	if r, ok := m.records[k]; ok && r.Status == domain.IngestionProcessed {
		return ErrAlreadyProcessed
	}
	m.records[k] = *rec
	m.events = append(m.events, events...)
	m.admits++
	return nil
}

func (m *memStore) SaveRecord(_ context.Context, rec *domain.IngestionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recKey(rec.MailboxID, rec.MessageID)
	if r, ok := m.records[k]; ok && r.Status == domain.IngestionProcessed {
		return nil
	}
	m.records[k] = *rec
	return nil
}

func (m *memStore) GetMailbox(_ context.Context, familyID, id string) (*domain.Mailbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.mailboxes[id]
	if !ok || mb.FamilyID != familyID {
		return nil, ErrNotFound
	}
	return &mb, nil
}

func (m *memStore) MarkMailboxSynced(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb := m.mailboxes[id]
	mb.LastSyncAt = &at
	m.mailboxes[id] = mb
	return nil
}

func (m *memStore) ListPeople(_ context.Context, familyID string) ([]domain.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.people[familyID], nil
}

func (m *memStore) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *memStore) record(mailboxID, messageID string) (domain.IngestionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[recKey(mailboxID, messageID)]
	return r, ok
}

// fakeMailbox serves canned messages newest first. Like Gmail's after:
// operator the window start is inclusive, and Max keeps the newest.
type fakeMailbox struct {
	mu           sync.Mutex
	messages     map[string]domain.Message
	unauthorized int // number of list calls that fail before a refresh
	unreadable   map[string]bool
	refreshes    int
	lastQuery    provider.MessageQuery
}

func newFakeMailbox(msgs ...domain.Message) *fakeMailbox {
	f := &fakeMailbox{messages: make(map[string]domain.Message)}
	for _, m := range msgs {
		f.messages[m.ID] = m
	}
	return f
}

func (f *fakeMailbox) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	f.unauthorized = 0
	return nil
}

func (f *fakeMailbox) ListCandidateMessages(_ context.Context, q provider.MessageQuery) ([]domain.MessageSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	if f.unauthorized > 0 {
		return nil, provider.ErrUnauthorized
	}
	var out []domain.MessageSummary
	for _, m := range f.messages {
		if !q.After.IsZero() && m.ReceivedAt.Before(q.After) {
			continue
		}
		out = append(out, m.MessageSummary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if q.Max > 0 && len(out) > q.Max {
		out = out[:q.Max]
	}
	var failed []domain.ItemError
	readable := out[:0]
	for _, m := range out {
		if f.unreadable[m.ID] {
			failed = append(failed, domain.NewItemError(m.ID, "list", provider.ErrNotFound))
			continue
		}
		readable = append(readable, m)
	}
	if len(failed) > 0 {
		return readable, &provider.ListError{Items: failed}
	}
	return readable, nil
}

func (f *fakeMailbox) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return &m, nil
}

type staticOpener struct{ mb provider.Mailbox }

func (o staticOpener) OpenMailbox(context.Context, *domain.Mailbox) (provider.Mailbox, error) {
	return o.mb, nil
}

// scriptedExtractor returns drafts keyed by a substring of the body.
type scriptedExtractor struct {
	mu     sync.Mutex
	byBody map[string][]domain.EventDraft
	failOn string
	calls  int
}

func (e *scriptedExtractor) Extract(_ context.Context, c Content, _ ExtractContext) ([]domain.EventDraft, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.failOn != "" && strings.Contains(c.Text, e.failOn) {
		return nil, provider.ErrRateLimited
	}
	for k, d := range e.byBody {
		if strings.Contains(c.Text, k) {
			return d, nil
		}
	}
	return nil, nil
}

// fakePaid answers by subject substring.
type fakePaid struct {
	reject map[string]float64 // subject substring → confidence of rejection
	calls  int
}

func (p *fakePaid) ClassifyActivity(_ context.Context, in PaidInput) (PaidVerdict, error) {
	p.calls++
	for k, conf := range p.reject {
		if strings.Contains(in.Subject, k) {
			return PaidVerdict{IsActivity: false, Confidence: conf, Reason: "newsletter"}, nil
		}
	}
	return PaidVerdict{IsActivity: true, Confidence: 0.9}, nil
}

func msg(id, from, subject, body string, received time.Time) domain.Message {
	return domain.Message{
		MessageSummary: domain.MessageSummary{ID: id, From: from, Subject: subject, ReceivedAt: received},
		Body:           body,
	}
}
