package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/go-api-guard/internal/domain"
	"github.com/go-api-guard/internal/pkg/cursor"
)

type InsightStore struct {
	mu       sync.RWMutex
	insights map[string]domain.Insight
}

func NewInsightStore() *InsightStore {
	return &InsightStore{insights: make(map[string]domain.Insight)}
}

func (s *InsightStore) Put(ctx context.Context, in *domain.Insight) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.insights[in.InsightID]; ok {
		return fmt.Errorf("insight %s exists: %w", in.InsightID, domain.ErrConflict)
	}
	s.insights[in.InsightID] = copyInsight(*in)
	return nil
}

// Finish moves a PENDING insight to its final status.
func (s *InsightStore) Finish(ctx context.Context, in *domain.Insight) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.insights[in.InsightID]
	if !ok {
		return fmt.Errorf("insight %s: %w", in.InsightID, domain.ErrNotFound)
	}
	if cur.Status != domain.InsightPending {
		return fmt.Errorf("insight %s already %s: %w", in.InsightID, cur.Status, domain.ErrConflict)
	}
	cur.Status = in.Status
	cur.Summary = in.Summary
	cur.RecommendedActions = slices.Clone(in.RecommendedActions)
	cur.FailureReason = in.FailureReason
	cur.UpdatedAt = in.UpdatedAt
	s.insights[in.InsightID] = cur
	return nil
}

// ListPage returns up to limit insights of subjectID strictly after the
// position in (created_at desc, insight_id desc) order.
func (s *InsightStore) ListPage(ctx context.Context, subjectID string, after *cursor.Position, limit int) ([]domain.Insight, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	items := make([]domain.Insight, 0)
	for _, in := range s.insights {
		if in.SubjectID != subjectID {
			continue
		}
		if after != nil && !cursor.Before(position(in), *after) {
			continue
		}
		items = append(items, copyInsight(in))
	}
	s.mu.RUnlock()

	slices.SortFunc(items, func(a, b domain.Insight) int {
		switch {
		case cursor.Before(position(b), position(a)):
			return -1
		case cursor.Before(position(a), position(b)):
			return 1
		}
		return 0
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func position(in domain.Insight) cursor.Position {
	return cursor.Position{CreatedAt: in.CreatedAt, ID: in.InsightID}
}

func copyInsight(in domain.Insight) domain.Insight {
	in.RecommendedActions = slices.Clone(in.RecommendedActions)
	return in
}
