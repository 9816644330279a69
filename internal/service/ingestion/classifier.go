package ingestion

import (
	"context"
	"fmt"
	"strings"

	"github.com/hearthkit/family-sync/internal/domain"
)

// Tier names the classification stage that produced a verdict.
type Tier string

const (
	TierSenderFilter Tier = "sender_filter"
	TierDomainFilter Tier = "domain_filter"
	TierHeuristic    Tier = "heuristic"
	TierPaid         Tier = "paid"
)

// Cost records whether a verdict cost a model call.
type Cost string

const (
	CostFree Cost = "free"
	CostPaid Cost = "paid"
)

// Verdict is the outcome of classifying one message.
type Verdict struct {
	Admit bool `json:"admit"`
	// NeedsPaidClassification is set when the free tiers could not reject
	// the message. The caller must consult a PaidClassifier.
	NeedsPaidClassification bool   `json:"needs_paid_classification"`
	Tier                    Tier   `json:"tier"`
	Cost                    Cost   `json:"cost"`
	Reason                  string `json:"reason,omitempty"`
}

// DefaultKeywords are subject words that suggest a schedulable activity.
var DefaultKeywords = []string{
	"practice", "game", "tournament", "match", "meet", "rehearsal", "recital",
	"concert", "performance", "field trip", "conference", "schedule",
	"class", "lesson", "camp", "tryout", "registration", "deadline",
	"permission slip", "picture day", "early dismissal", "no school",
	"appointment", "volunteer", "sign up", "signup", "orientation",
	"open house", "party", "birthday", "playdate", "pickup", "drop-off",
	"reminder", "calendar", "event", "invitation",
}

// DefaultDomains are sender domain fragments of schools, leagues and
// activity platforms.
var DefaultDomains = []string{
	".edu", "k12", "school", "teamsnap", "sportsengine", "leagueapps",
	"signupgenius", "konstella", "classdojo", "parentsquare", "remind.com",
	"bloomz", "schoology", "seesaw", "gomotion", "teamreach", "ymca",
	"scouting", "littleleague",
}

// Vocabulary configures the free heuristic tier.
type Vocabulary struct {
	Keywords []string
	Domains  []string
}

// Classifier is the cost-tiered filter chain. The first matching tier wins.
type Classifier struct {
	filters  FilterRepository
	keywords []string
	domains  []string
}

// NewClassifier creates a classifier. Empty vocabularies fall back to the
// defaults.
func NewClassifier(filters FilterRepository, vocab Vocabulary) *Classifier {
	c := &Classifier{filters: filters, keywords: DefaultKeywords, domains: DefaultDomains}
	if len(vocab.Keywords) > 0 {
		c.keywords = lowerAll(vocab.Keywords)
	}
	if len(vocab.Domains) > 0 {
		c.domains = lowerAll(vocab.Domains)
	}
	return c
}

// Classify decides whether a message is worth extracting.
func (c *Classifier) Classify(ctx context.Context, familyID, senderAddress, senderDomain, subject string) (Verdict, error) {
	senderAddress = strings.ToLower(strings.TrimSpace(senderAddress))
	senderDomain = strings.ToLower(strings.TrimSpace(senderDomain))

	filters, err := c.filters.FindFilters(ctx, familyID, senderAddress, senderDomain)
	if err != nil {
		return Verdict{}, fmt.Errorf("find sender filters: %w", err)
	}

	var domainFilter *domain.SenderFilter
	for i := range filters {
		f := &filters[i]
		if !f.IsDomain && senderAddress != "" && f.Pattern == senderAddress {
			return filterVerdict(f, TierSenderFilter), nil
		}
		if f.IsDomain && senderDomain != "" && f.Pattern == senderDomain {
			domainFilter = f
		}
	}
	if domainFilter != nil {
		return filterVerdict(domainFilter, TierDomainFilter), nil
	}

	if !c.matchesKeyword(subject) && !c.matchesDomain(senderDomain) {
		return Verdict{Tier: TierHeuristic, Cost: CostFree, Reason: "no activity keyword or domain"}, nil
	}
	return Verdict{Admit: true, NeedsPaidClassification: true, Tier: TierHeuristic, Cost: CostFree}, nil
}

func filterVerdict(f *domain.SenderFilter, tier Tier) Verdict {
	v := Verdict{Tier: tier, Cost: CostFree, Reason: string(f.Type) + " " + f.Pattern}
	if f.Type == domain.FilterAlwaysScan {
		v.Admit = true
	}
	return v
}

func (c *Classifier) matchesKeyword(subject string) bool {
	s := strings.ToLower(subject)
	for _, k := range c.keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func (c *Classifier) matchesDomain(senderDomain string) bool {
	if senderDomain == "" {
		return false
	}
	for _, d := range c.domains {
		if strings.Contains(senderDomain, d) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// PaidInput is what the paid tier sees of a message.
type PaidInput struct {
	Subject string
	Sender  string
	Snippet string
}

// PaidVerdict is the cheap model's answer.
type PaidVerdict struct {
	IsActivity bool    `json:"is_activity"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// PaidClassifier is the model-backed final tier. Its rejection is final.
type PaidClassifier interface {
	ClassifyActivity(ctx context.Context, in PaidInput) (PaidVerdict, error)
}
