package ingestion

import (
	"sort"
	"strings"

	"github.com/hearthkit/family-sync/internal/domain"
)

var replyPrefixes = []string{"re:", "fw:", "fwd:", "aw:", "wg:"}

// NormalizeSubject folds case, collapses whitespace and strips reply and
// forward prefixes, repeatedly: "Re: FW:  Team Schedule" → "team schedule".
func NormalizeSubject(subject string) string {
	s := strings.ToLower(strings.Join(strings.Fields(subject), " "))
	for {
		stripped := false
		for _, p := range replyPrefixes {
			if rest, ok := strings.CutPrefix(s, p); ok {
				s = strings.TrimSpace(rest)
				stripped = true
			}
		}
		if !stripped {
			return s
		}
	}
}

// DedupBySubject collapses messages that share a normalized subject,
// keeping the earliest received of each group. Survivors keep their input
// order. It is a listing aid only and never affects admission.
func DedupBySubject(messages []domain.MessageSummary) []domain.MessageSummary {
	order := make([]int, len(messages))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return messages[order[a]].ReceivedAt.Before(messages[order[b]].ReceivedAt)
	})

	keep := make([]bool, len(messages))
	seen := make(map[string]bool, len(messages))
	for _, i := range order {
		key := NormalizeSubject(messages[i].Subject)
		if seen[key] {
			continue
		}
		seen[key] = true
		keep[i] = true
	}

	out := make([]domain.MessageSummary, 0, len(seen))
	for i, m := range messages {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out
}
