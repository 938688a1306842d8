// Package insight runs rate-gated insight generation and pages through the
// results.
package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-api-guard/internal/application/ratelimit"
	"github.com/go-api-guard/internal/domain"
	"github.com/go-api-guard/internal/pkg/cursor"
	"github.com/go-api-guard/internal/pkg/id"
	"github.com/go-api-guard/internal/pkg/metrics"
)

// RefreshAction is the rate gate action for generation runs.
const RefreshAction = "insight-refresh"

type InsightStore interface {
	Put(ctx context.Context, in *domain.Insight) error
	Finish(ctx context.Context, in *domain.Insight) error
	// ListPage returns up to limit insights strictly after the position, newest first.
	ListPage(ctx context.Context, subjectID string, after *cursor.Position, limit int) ([]domain.Insight, error)
}

type AuditAppender interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
}

type RateGate interface {
	CheckPolicy(ctx context.Context, key string, p ratelimit.Policy) (domain.RateDecision, error)
}

type Service interface {
	Execute(ctx context.Context, subjectID string, maxToGenerate int) (domain.ExecuteResult, error)
	List(ctx context.Context, subjectID string, limit int, after string) (*domain.InsightPage, error)
}

type service struct {
	store       InsightStore
	generator   Generator
	gate        RateGate
	audit       AuditAppender
	policy      ratelimit.Policy
	maxPerRun   int
	listDefault int
	listMax     int
	now         func() time.Time
	metrics     *metrics.Metrics
}

type ServiceDeps struct {
	Store       InsightStore
	Generator   Generator
	Gate        RateGate
	Audit       AuditAppender
	Policy      ratelimit.Policy
	MaxPerRun   int
	ListDefault int
	ListMax     int
	Clock       func() time.Time
	Metrics     *metrics.Metrics
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		store:       deps.Store,
		generator:   deps.Generator,
		gate:        deps.Gate,
		audit:       deps.Audit,
		policy:      deps.Policy,
		maxPerRun:   deps.MaxPerRun,
		listDefault: deps.ListDefault,
		listMax:     deps.ListMax,
		now:         deps.Clock,
		metrics:     deps.Metrics,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.maxPerRun < 1 {
		s.maxPerRun = 5
	}
	if s.listMax < 1 {
		s.listMax = 25
	}
	if s.listDefault < 1 || s.listDefault > s.listMax {
		s.listDefault = min(10, s.listMax)
	}
	return s
}

// Execute checks the subject's refresh gate and, when allowed, generates up
// to maxToGenerate insights. A denied gate is reported in the result, not as
// an error, and performs no work.
func (s *service) Execute(ctx context.Context, subjectID string, maxToGenerate int) (domain.ExecuteResult, error) {
	if subjectID == "" {
		return domain.ExecuteResult{}, fmt.Errorf("subject is required: %w", domain.ErrValidation)
	}
	if maxToGenerate <= 0 {
		maxToGenerate = s.maxPerRun
	}

	d, err := s.gate.CheckPolicy(ctx, ratelimit.Key(RefreshAction, subjectID), s.policy)
	if err != nil {
		return domain.ExecuteResult{}, err
	}
	if !d.Allowed {
		return domain.ExecuteResult{RateLimited: true, RetryAfterSeconds: d.RetryAfterSeconds()}, nil
	}

	drafts, err := s.generator.Candidates(ctx, subjectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ExecuteResult{}, err
		}
		return domain.ExecuteResult{}, fmt.Errorf("insight candidates: %w: %v", domain.ErrTransient, err)
	}

	var res domain.ExecuteResult
	for i, draft := range drafts {
		if i >= maxToGenerate {
			res.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		switch s.generate(ctx, subjectID, draft) {
		case domain.InsightCompleted:
			res.Generated++
		default:
			res.Failed++
		}
	}
	slog.InfoContext(ctx, "insight run finished", "subject_id", subjectID,
		"generated", res.Generated, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// generate stores one PENDING insight and moves it to its final status.
func (s *service) generate(ctx context.Context, subjectID string, d Draft) domain.InsightStatus {
	now := s.now().UTC()
	in := &domain.Insight{
		InsightID:   id.NewAt(now),
		SubjectID:   subjectID,
		Status:      domain.InsightPending,
		Severity:    d.Severity,
		Fingerprint: d.Fingerprint,
		Title:       d.Title,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Put(ctx, in); err != nil {
		slog.ErrorContext(ctx, "insight put failed", "subject_id", subjectID, "fingerprint", d.Fingerprint, "error", err)
		s.metrics.Insight(string(domain.InsightFailed))
		return domain.InsightFailed
	}

	summary, actions, err := s.generator.Enrich(ctx, subjectID, d)
	if err != nil {
		in.Status = domain.InsightFailed
		in.FailureReason = err.Error()
	} else {
		in.Status = domain.InsightCompleted
		in.Summary = summary
		in.RecommendedActions = actions
	}
	in.UpdatedAt = s.now().UTC()
	if err := s.store.Finish(ctx, in); err != nil {
		slog.ErrorContext(ctx, "insight finish failed", "insight_id", in.InsightID, "error", err)
		s.metrics.Insight(string(domain.InsightFailed))
		return domain.InsightFailed
	}
	s.metrics.Insight(string(in.Status))

	if in.Status == domain.InsightCompleted && s.audit != nil {
		err := s.audit.Append(ctx, domain.AuditLogEntry{
			SubjectID:  subjectID,
			Action:     domain.AuditInsightGenerated,
			EntityType: "insight",
			EntityID:   in.InsightID,
			Metadata: map[string]interface{}{
				"fingerprint": in.Fingerprint,
				"severity":    string(in.Severity),
			},
		})
		if err != nil {
			slog.ErrorContext(ctx, "audit append failed", "insight_id", in.InsightID, "error", err)
		}
	}
	return in.Status
}

// List returns one page of the subject's insights, newest first. after is a
// cursor from a previous page, or empty for the first page.
func (s *service) List(ctx context.Context, subjectID string, limit int, after string) (*domain.InsightPage, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject is required: %w", domain.ErrValidation)
	}
	if limit <= 0 {
		limit = s.listDefault
	}
	limit = min(limit, s.listMax)

	var pos *cursor.Position
	if after != "" {
		p, err := cursor.Decode(after)
		if err != nil {
			return nil, err
		}
		pos = &p
	}

	items, err := s.store.ListPage(ctx, subjectID, pos, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w: %v", domain.ErrTransient, err)
	}
	page := &domain.InsightPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		next := cursor.Encode(cursor.Position{CreatedAt: last.CreatedAt, ID: last.InsightID})
		page.NextCursor = &next
	}
	if page.Items == nil {
		page.Items = []domain.Insight{}
	}
	return page, nil
}
