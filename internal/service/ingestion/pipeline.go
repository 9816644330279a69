package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/pkg/distlock"
	"github.com/hearthkit/family-sync/internal/pkg/logger"
	"github.com/hearthkit/family-sync/internal/provider"
)

// Options tunes a scan.
type Options struct {
	// ExtractDelay is inserted between extraction calls.
	ExtractDelay time.Duration
	// LookbackDays bounds the first scan of a mailbox.
	LookbackDays int
	// MaxMessages bounds the messages processed by one scan and the size of
	// a candidate listing. Zero means no bound.
	MaxMessages int
	// LearnThreshold is the paid-tier confidence at or above which a
	// rejected sender gets a learned filter. Zero disables learning.
	LearnThreshold float64
	// Query is appended to the provider listing query.
	Query string
	// CallTimeout bounds each provider and model call.
	CallTimeout time.Duration
}

// Deps are the collaborators of a Pipeline. Paid and Locker may be nil.
type Deps struct {
	Classifier *Classifier
	Paid       PaidClassifier
	Extractor  Extractor
	Gate       *Gate
	Filters    *FilterService
	Mailboxes  MailboxRepository
	Records    RecordRepository
	People     PeopleRepository
	Opener     provider.MailboxOpener
	Locker     distlock.Locker
}

// Pipeline runs mailbox scans.
type Pipeline struct {
	Deps
	opts  Options
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPipeline creates a scan pipeline.
func NewPipeline(deps Deps, opts Options) *Pipeline {
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 14
	}
	return &Pipeline{Deps: deps, opts: opts, now: time.Now, sleep: sleepCtx}
}

// ScanResult summarizes one mailbox scan.
type ScanResult struct {
	MailboxID     string             `json:"mailbox_id"`
	Listed        int                `json:"listed"`
	AlreadySeen   int                `json:"already_seen"`
	Rejected      int                `json:"rejected"`
	PaidCalls     int                `json:"paid_calls"`
	Extracted     int                `json:"extracted"`
	Admitted      int                `json:"admitted"`
	EventIDs      []string           `json:"event_ids"`
	LearnedFilter int                `json:"learned_filters"`
	Synced        bool               `json:"synced"`
	Truncated     bool               `json:"truncated"`
	Errors        []domain.ItemError `json:"errors,omitempty"`
}

// Scan processes every new candidate message of a mailbox, sequentially and
// oldest first. Per-message failures are collected; the mailbox's last sync
// time advances only when no message failed. A scan that stops at
// MaxMessages advances it only to the newest message it handled, so the
// rest of the window is picked up by the next run.
func (p *Pipeline) Scan(ctx context.Context, familyID, mailboxID string) (*ScanResult, error) {
	res := &ScanResult{MailboxID: mailboxID, EventIDs: []string{}}
	err := distlock.WithLock(ctx, p.Locker, distlock.MailboxScanKey(mailboxID), func(ctx context.Context) error {
		return p.scan(ctx, familyID, mailboxID, res)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("mailbox scanned",
		"family_id", familyID, "mailbox_id", mailboxID,
		"listed", res.Listed, "rejected", res.Rejected, "paid_calls", res.PaidCalls,
		"admitted", res.Admitted, "events", len(res.EventIDs), "errors", len(res.Errors))
	return res, nil
}

func (p *Pipeline) scan(ctx context.Context, familyID, mailboxID string, res *ScanResult) error {
	startedAt := p.now().UTC()

	mb, err := p.Mailboxes.GetMailbox(ctx, familyID, mailboxID)
	if err != nil {
		return fmt.Errorf("get mailbox: %w", err)
	}
	client, err := p.Opener.OpenMailbox(ctx, mb)
	if err != nil {
		return fmt.Errorf("open mailbox: %w", err)
	}

	q := provider.MessageQuery{After: p.since(mb), Text: p.opts.Query}
	summaries, err := p.list(ctx, client, q)
	var partial *provider.ListError
	switch {
	case errors.As(err, &partial):
		// Unreadable messages keep the window open so they are listed again.
		res.Errors = append(res.Errors, partial.Items...)
	case err != nil:
		return fmt.Errorf("list messages: %w", err)
	}
	res.Listed = len(summaries)

	seen, err := p.Records.ListRecords(ctx, mailboxID, summaryIDs(summaries))
	if err != nil {
		return fmt.Errorf("list ingestion records: %w", err)
	}
	roster, err := p.People.ListPeople(ctx, familyID)
	if err != nil {
		return fmt.Errorf("list people: %w", err)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].ReceivedAt.Before(summaries[j].ReceivedAt)
	})

	// cursor is the receive time of the newest message handled so far.
	var cursor time.Time
	handled := 0
	for _, m := range summaries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r, ok := seen[m.ID]; ok && (r.Status == domain.IngestionProcessed || r.Status == domain.IngestionSkipped) {
			res.AlreadySeen++
			cursor = m.ReceivedAt
			continue
		}
		if p.opts.MaxMessages > 0 && handled == p.opts.MaxMessages {
			res.Truncated = true
			break
		}
		handled++
		if stage, err := p.processMessage(ctx, familyID, mailboxID, client, m, roster, res); err != nil {
			logger.Warn("message failed",
				"mailbox_id", mailboxID, "message_id", m.ID, "stage", stage, "error", err)
			res.Errors = append(res.Errors, domain.NewItemError(m.ID, stage, err))
			p.saveRecord(ctx, familyID, mailboxID, m, domain.IngestionError, err.Error())
		}
		cursor = m.ReceivedAt
	}

	if len(res.Errors) == 0 {
		syncedTo := startedAt
		if res.Truncated {
			syncedTo = cursor.UTC()
		}
		if err := p.Mailboxes.MarkMailboxSynced(ctx, mailboxID, syncedTo); err != nil {
			return fmt.Errorf("mark mailbox synced: %w", err)
		}
		res.Synced = true
	}
	return nil
}

// processMessage runs one message through classify, extract and admit. It
// returns the failing stage with the error.
func (p *Pipeline) processMessage(ctx context.Context, familyID, mailboxID string, client provider.Mailbox, m domain.MessageSummary, roster []domain.Person, res *ScanResult) (string, error) {
	address := provider.SenderAddress(m.From)
	senderDomain := provider.SenderDomain(address)

	v, err := p.Classifier.Classify(ctx, familyID, address, senderDomain, m.Subject)
	if err != nil {
		return "classify", err
	}

	if v.NeedsPaidClassification && p.Paid != nil {
		var pv PaidVerdict
		err := provider.WithTimeout(ctx, p.opts.CallTimeout, func(ctx context.Context) error {
			var err error
			pv, err = p.Paid.ClassifyActivity(ctx, PaidInput{Subject: m.Subject, Sender: address, Snippet: m.Snippet})
			return err
		})
		res.PaidCalls++
		if err != nil {
			return "paid_classify", err
		}
		v = Verdict{Admit: pv.IsActivity, Tier: TierPaid, Cost: CostPaid, Reason: pv.Reason}
		if !pv.IsActivity && p.Filters != nil && p.opts.LearnThreshold > 0 && pv.Confidence >= p.opts.LearnThreshold && address != "" {
			if learned, err := p.Filters.Learn(ctx, familyID, address); err != nil {
				logger.Warn("learn sender filter", "sender", address, "error", err)
			} else if learned {
				res.LearnedFilter++
			}
		}
	}

	if !v.Admit {
		res.Rejected++
		logger.Debug("message rejected",
			"message_id", m.ID, "tier", string(v.Tier), "cost", string(v.Cost), "reason", v.Reason)
		p.saveRecord(ctx, familyID, mailboxID, m, domain.IngestionSkipped, "")
		return "", nil
	}

	var msg *domain.Message
	err = provider.Call(ctx, client, p.opts.CallTimeout, func(ctx context.Context) error {
		var err error
		msg, err = client.GetMessage(ctx, m.ID)
		return err
	})
	if err != nil {
		return "fetch", err
	}

	if res.Extracted > 0 && p.opts.ExtractDelay > 0 {
		if err := p.sleep(ctx, p.opts.ExtractDelay); err != nil {
			return "extract", err
		}
	}
	res.Extracted++

	var drafts []domain.EventDraft
	err = provider.WithTimeout(ctx, p.opts.CallTimeout, func(ctx context.Context) error {
		var err error
		drafts, err = p.Extractor.Extract(ctx,
			Content{Text: msg.Body, Images: imagesOf(msg.Attachments)},
			ExtractContext{Today: domain.DateOf(p.now()), People: roster, Subject: m.Subject, Sender: address})
		return err
	})
	if err != nil {
		return "extract", err
	}

	ids, err := p.Gate.Admit(ctx, familyID, MessageRef{
		MailboxID:  mailboxID,
		MessageID:  m.ID,
		Subject:    m.Subject,
		Sender:     address,
		ReceivedAt: m.ReceivedAt,
	}, drafts)
	if err != nil {
		return "admit", err
	}
	res.Admitted++
	res.EventIDs = append(res.EventIDs, ids...)
	return "", nil
}

// ListCandidates returns a mailbox listing for manual review: deduplicated
// by subject and annotated with each message's ingestion status.
func (p *Pipeline) ListCandidates(ctx context.Context, familyID, mailboxID, query string) ([]domain.MessageSummary, error) {
	mb, err := p.Mailboxes.GetMailbox(ctx, familyID, mailboxID)
	if err != nil {
		return nil, fmt.Errorf("get mailbox: %w", err)
	}
	client, err := p.Opener.OpenMailbox(ctx, mb)
	if err != nil {
		return nil, fmt.Errorf("open mailbox: %w", err)
	}

	q := provider.MessageQuery{Text: strings.TrimSpace(query), Max: p.opts.MaxMessages}
	if q.Text == "" {
		q.After = p.now().AddDate(0, 0, -p.opts.LookbackDays)
	}
	summaries, err := p.list(ctx, client, q)
	var partial *provider.ListError
	switch {
	case errors.As(err, &partial):
		logger.Warn("candidate listing incomplete", "mailbox_id", mailboxID, "unreadable", len(partial.Items))
	case err != nil:
		return nil, fmt.Errorf("list messages: %w", err)
	}

	summaries = DedupBySubject(summaries)
	records, err := p.Records.ListRecords(ctx, mailboxID, summaryIDs(summaries))
	if err != nil {
		return nil, fmt.Errorf("list ingestion records: %w", err)
	}
	for i := range summaries {
		summaries[i].Status = domain.IngestionPending
		if r, ok := records[summaries[i].ID]; ok {
			summaries[i].Status = r.Status
		}
	}
	return summaries, nil
}

func (p *Pipeline) list(ctx context.Context, client provider.Mailbox, q provider.MessageQuery) ([]domain.MessageSummary, error) {
	var out []domain.MessageSummary
	err := provider.Call(ctx, client, p.opts.CallTimeout, func(ctx context.Context) error {
		var err error
		out, err = client.ListCandidateMessages(ctx, q)
		return err
	})
	return out, err
}

func (p *Pipeline) since(mb *domain.Mailbox) time.Time {
	if mb.LastSyncAt != nil && !mb.LastSyncAt.IsZero() {
		return *mb.LastSyncAt
	}
	return p.now().UTC().AddDate(0, 0, -p.opts.LookbackDays)
}

func (p *Pipeline) saveRecord(ctx context.Context, familyID, mailboxID string, m domain.MessageSummary, status domain.IngestionStatus, errMsg string) {
	rec := &domain.IngestionRecord{
		ID:          uuid.NewString(),
		FamilyID:    familyID,
		MailboxID:   mailboxID,
		MessageID:   m.ID,
		Subject:     m.Subject,
		Sender:      provider.SenderAddress(m.From),
		ReceivedAt:  m.ReceivedAt,
		Status:      status,
		Error:       errMsg,
		ProcessedAt: p.now().UTC(),
	}
	if err := p.Records.SaveRecord(ctx, rec); err != nil {
		logger.Error("save ingestion record", "message_id", m.ID, "status", string(status), "error", err)
	}
}

func summaryIDs(ms []domain.MessageSummary) []string {
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.ID
	}
	return ids
}

func imagesOf(atts []domain.Attachment) []domain.Attachment {
	var out []domain.Attachment
	for _, a := range atts {
		if strings.HasPrefix(a.MimeType, "image/") && len(a.Data) > 0 {
			out = append(out, a)
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
