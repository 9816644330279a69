package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthkit/family-sync/internal/domain"
)

func seedFilter(t *testing.T, s *memStore, pattern string, isDomain bool, typ domain.SenderFilterType) {
	t.Helper()
	require.NoError(t, s.UpsertFilter(context.Background(), &domain.SenderFilter{
		ID: pattern, FamilyID: testFamily, Pattern: pattern, IsDomain: isDomain, Type: typ,
	}))
}

func TestClassify_SenderFilterWins(t *testing.T) {
	s := newMemStore()
	seedFilter(t, s, "coach@league.org", false, domain.FilterAlwaysScan)
	seedFilter(t, s, "league.org", true, domain.FilterNeverScan)
	c := NewClassifier(s, Vocabulary{})

	v, err := c.Classify(context.Background(), testFamily, "Coach@League.org", "league.org", "hello")
	require.NoError(t, err)
	assert.True(t, v.Admit)
	assert.False(t, v.NeedsPaidClassification)
	assert.Equal(t, TierSenderFilter, v.Tier)
	assert.Equal(t, CostFree, v.Cost)
}

func TestClassify_DomainFilter(t *testing.T) {
	s := newMemStore()
	seedFilter(t, s, "league.org", true, domain.FilterNeverScan)
	c := NewClassifier(s, Vocabulary{})

	v, err := c.Classify(context.Background(), testFamily, "news@league.org", "league.org", "Game schedule")
	require.NoError(t, err)
	assert.False(t, v.Admit)
	assert.Equal(t, TierDomainFilter, v.Tier)
}

func TestClassify_LearnedRejects(t *testing.T) {
	s := newMemStore()
	seedFilter(t, s, "promo@store.com", false, domain.FilterLearned)
	c := NewClassifier(s, Vocabulary{})

	v, err := c.Classify(context.Background(), testFamily, "promo@store.com", "store.com", "Birthday party deals")
	require.NoError(t, err)
	assert.False(t, v.Admit)
	assert.Equal(t, TierSenderFilter, v.Tier)
}

func TestClassify_FiltersAreFamilyScoped(t *testing.T) {
	s := newMemStore()
	seedFilter(t, s, "promo@store.com", false, domain.FilterAlwaysScan)
	c := NewClassifier(s, Vocabulary{})

	v, err := c.Classify(context.Background(), "other-family", "promo@store.com", "store.com", "weekly deals")
	require.NoError(t, err)
	assert.False(t, v.Admit)
	assert.Equal(t, TierHeuristic, v.Tier)
}

func TestClassify_Heuristic(t *testing.T) {
	c := NewClassifier(newMemStore(), Vocabulary{})
	ctx := context.Background()

	v, err := c.Classify(ctx, testFamily, "deals@shop.com", "shop.com", "50% off everything")
	require.NoError(t, err)
	assert.False(t, v.Admit)
	assert.Equal(t, TierHeuristic, v.Tier)

	v, err = c.Classify(ctx, testFamily, "deals@shop.com", "shop.com", "Soccer PRACTICE moved")
	require.NoError(t, err)
	assert.True(t, v.Admit)
	assert.True(t, v.NeedsPaidClassification)

	v, err = c.Classify(ctx, testFamily, "office@lincoln.k12.ca.us", "lincoln.k12.ca.us", "Newsletter")
	require.NoError(t, err)
	assert.True(t, v.Admit, "activity domain admits without a keyword")
	assert.True(t, v.NeedsPaidClassification)
}

func TestClassify_CustomVocabulary(t *testing.T) {
	c := NewClassifier(newMemStore(), Vocabulary{Keywords: []string{"Robotics"}, Domains: []string{"firstinspires.org"}})
	ctx := context.Background()

	v, err := c.Classify(ctx, testFamily, "a@b.com", "b.com", "robotics kickoff")
	require.NoError(t, err)
	assert.True(t, v.Admit)

	v, err = c.Classify(ctx, testFamily, "a@b.com", "b.com", "soccer practice")
	require.NoError(t, err)
	assert.False(t, v.Admit, "custom vocabulary replaces the defaults")
}
