package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hearthkit/family-sync/internal/domain"
)

// Content is what an extractor reads: plain text (body, transcript or OCR
// output) plus optional inline images.
type Content struct {
	Text   string
	Images []domain.Attachment
}

// ExtractContext carries the facts an extractor needs to produce absolute
// dates and person tags.
type ExtractContext struct {
	Today   time.Time
	People  []domain.Person
	Subject string
	Sender  string
}

// Extractor turns content into event drafts, one per occurrence.
// Implementations are not trusted: callers run ValidateDrafts on the output.
type Extractor interface {
	Extract(ctx context.Context, c Content, ec ExtractContext) ([]domain.EventDraft, error)
}

// RejectReason names why a draft was dropped.
type RejectReason string

const (
	RejectMissingTitle  RejectReason = "missing_title"
	RejectMissingDate   RejectReason = "missing_date"
	RejectLowConfidence RejectReason = "low_confidence"
	RejectPersonTag     RejectReason = "person_tag"
)

// DraftRejection records one dropped draft.
type DraftRejection struct {
	Index  int
	Title  string
	Reason RejectReason
}

// ValidateDrafts returns the drafts fit for admission, normalized, and the
// reasons the others were dropped.
//
// When roster is non-empty every admitted draft must carry a person tag that
// names someone on it (by name or nickname, case-insensitively); the tag is
// rewritten to the roster name. Unparseable clock times are cleared rather
// than rejected, and an end before the start is dropped.
func ValidateDrafts(drafts []domain.EventDraft, roster []domain.Person, minConfidence float64) ([]domain.EventDraft, []DraftRejection) {
	names := rosterIndex(roster)
	var valid []domain.EventDraft
	var rejected []DraftRejection

	for i, d := range drafts {
		d.Title = strings.TrimSpace(d.Title)
		switch {
		case d.Title == "":
			rejected = append(rejected, DraftRejection{Index: i, Reason: RejectMissingTitle})
			continue
		case d.Date.IsZero():
			rejected = append(rejected, DraftRejection{Index: i, Title: d.Title, Reason: RejectMissingDate})
			continue
		case d.Confidence < minConfidence:
			rejected = append(rejected, DraftRejection{Index: i, Title: d.Title, Reason: RejectLowConfidence})
			continue
		}

		if len(names) > 0 {
			canonical, ok := names[strings.ToLower(strings.TrimSpace(d.PersonTag))]
			if !ok {
				rejected = append(rejected, DraftRejection{Index: i, Title: d.Title, Reason: RejectPersonTag})
				continue
			}
			d.PersonTag = canonical
		}

		d.Date = domain.DateOf(d.Date)
		d.StartTime = clockOrEmpty(d.StartTime)
		d.EndTime = clockOrEmpty(d.EndTime)
		if d.StartTime == "" || (d.EndTime != "" && d.EndTime < d.StartTime) {
			d.EndTime = ""
		}
		valid = append(valid, d)
	}
	return valid, rejected
}

func rosterIndex(roster []domain.Person) map[string]string {
	idx := make(map[string]string)
	for _, p := range roster {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		idx[strings.ToLower(name)] = name
		for _, n := range p.Nicknames {
			if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
				idx[n] = name
			}
		}
	}
	return idx
}

func clockOrEmpty(s string) string {
	c, err := domain.ParseClock(s)
	if err != nil {
		return ""
	}
	return c
}

var (
	slashDate = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})(?:/(\d{2}|\d{4}))?$`)
	weekdays  = map[string]time.Weekday{
		"sunday": time.Sunday, "sun": time.Sunday,
		"monday": time.Monday, "mon": time.Monday,
		"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
		"wednesday": time.Wednesday, "wed": time.Wednesday,
		"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
		"friday": time.Friday, "fri": time.Friday,
		"saturday": time.Saturday, "sat": time.Saturday,
	}
	monthLayouts    = []string{"January 2, 2006", "January 2 2006", "Jan 2, 2006", "Jan 2 2006", "2 January 2006", "2 Jan 2006"}
	monthDayLayouts = []string{"January 2", "Jan 2", "2 January", "2 Jan"}
)

// yearlessGrace is how far in the past a year-less date may fall before it
// is read as next year's.
const yearlessGrace = 30 * 24 * time.Hour

// ResolveDate turns a date phrase into an absolute date relative to today.
//
// Accepted forms: "today", "tonight", "tomorrow", a weekday name (the next
// such day, today included), "this <weekday>" (same), "next <weekday>" (the
// next such day strictly after today), ISO YYYY-MM-DD (a trailing time is
// ignored), MM/DD/YYYY, MM/DD/YY, MM/DD and "January 2[, 2006]". Year-less
// dates more than 30 days in the past roll to next year.
func ResolveDate(text string, today time.Time) (time.Time, error) {
	today = domain.DateOf(today)
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrUnresolvedDate)
	}

	switch s {
	case "today", "tonight":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	}

	if wd, ok := weekdays[s]; ok {
		return nextWeekday(today, wd, true), nil
	}
	if rest, ok := strings.CutPrefix(s, "this "); ok {
		if wd, ok := weekdays[rest]; ok {
			return nextWeekday(today, wd, true), nil
		}
	}
	if rest, ok := strings.CutPrefix(s, "next "); ok {
		if wd, ok := weekdays[rest]; ok {
			return nextWeekday(today, wd, false), nil
		}
	}

	if len(s) >= 10 {
		if t, err := time.Parse(domain.DateLayout, s[:10]); err == nil {
			return t, nil
		}
	}

	if m := slashDate.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year := 0
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
			if year < 100 {
				year += 2000
			}
		}
		return buildDate(year, time.Month(month), day, today, text)
	}

	// time.Parse month names are case-sensitive; restore title case.
	titled := titleWords(s)
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, titled); err == nil {
			return t, nil
		}
	}
	for _, layout := range monthDayLayouts {
		if t, err := time.Parse(layout, titled); err == nil {
			return buildDate(0, t.Month(), t.Day(), today, text)
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrUnresolvedDate, text)
}

func nextWeekday(today time.Time, wd time.Weekday, includeToday bool) time.Time {
	delta := (int(wd) - int(today.Weekday()) + 7) % 7
	if delta == 0 && !includeToday {
		delta = 7
	}
	return today.AddDate(0, 0, delta)
}

func buildDate(year int, month time.Month, day int, today time.Time, text string) (time.Time, error) {
	yearless := year == 0
	if yearless {
		year = today.Year()
	}
	d := domain.NewDate(year, month, day)
	if d.Month() != month || d.Day() != day {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnresolvedDate, text)
	}
	if yearless && today.Sub(d) > yearlessGrace {
		d = domain.NewDate(year+1, month, day)
	}
	return d, nil
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
