package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hearthkit/family-sync/internal/domain"
)

// FilterService manages sender filters on behalf of users.
type FilterService struct {
	repo FilterRepository
	now  func() time.Time
}

// NewFilterService creates a filter service backed by the given repository.
func NewFilterService(repo FilterRepository) *FilterService {
	return &FilterService{repo: repo, now: time.Now}
}

// NormalizePattern lower-cases a sender address or domain and reports which
// one it is. A leading "@" marks a domain.
func NormalizePattern(pattern string) (string, bool, error) {
	p := strings.ToLower(strings.TrimSpace(pattern))
	p = strings.TrimPrefix(p, "@")
	if p == "" || strings.ContainsAny(p, " \t<>") {
		return "", false, fmt.Errorf("%w: %q", ErrInvalidFilter, pattern)
	}
	if at := strings.IndexByte(p, '@'); at >= 0 {
		if at == 0 || at == len(p)-1 || strings.Count(p, "@") != 1 {
			return "", false, fmt.Errorf("%w: %q", ErrInvalidFilter, pattern)
		}
		return p, false, nil
	}
	if !strings.Contains(p, ".") {
		return "", false, fmt.Errorf("%w: domain %q", ErrInvalidFilter, pattern)
	}
	return p, true, nil
}

// Set creates or replaces the filter for a sender or domain. Only explicit
// types can be set; learned filters are written by the scan pipeline.
func (s *FilterService) Set(ctx context.Context, familyID, pattern string, typ domain.SenderFilterType) (*domain.SenderFilter, error) {
	if typ != domain.FilterAlwaysScan && typ != domain.FilterNeverScan {
		return nil, fmt.Errorf("%w: type %q", ErrInvalidFilter, typ)
	}
	p, isDomain, err := NormalizePattern(pattern)
	if err != nil {
		return nil, err
	}
	f := &domain.SenderFilter{
		ID:        uuid.NewString(),
		FamilyID:  familyID,
		Pattern:   p,
		IsDomain:  isDomain,
		Type:      typ,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.UpsertFilter(ctx, f); err != nil {
		return nil, fmt.Errorf("upsert filter: %w", err)
	}
	return f, nil
}

// List returns every filter of the family.
func (s *FilterService) List(ctx context.Context, familyID string) ([]domain.SenderFilter, error) {
	return s.repo.ListFilters(ctx, familyID)
}

// Delete removes a filter.
func (s *FilterService) Delete(ctx context.Context, familyID, id string) error {
	return s.repo.DeleteFilter(ctx, familyID, id)
}

// Learn records a learned rejection for a sender address. An existing
// filter of any type is left untouched.
func (s *FilterService) Learn(ctx context.Context, familyID, address string) (bool, error) {
	p, isDomain, err := NormalizePattern(address)
	if err != nil {
		return false, err
	}
	return s.repo.InsertFilterIfAbsent(ctx, &domain.SenderFilter{
		ID:        uuid.NewString(),
		FamilyID:  familyID,
		Pattern:   p,
		IsDomain:  isDomain,
		Type:      domain.FilterLearned,
		CreatedAt: s.now().UTC(),
	})
}
