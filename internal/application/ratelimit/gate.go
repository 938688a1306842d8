// Package ratelimit implements the fixed-window rate gate that guards
// sensitive and expensive operations.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-api-guard/internal/domain"
	"github.com/go-api-guard/internal/pkg/metrics"
)

// CounterStore performs one atomic reset-or-increment of a fixed-window
// counter. Implementations must not split the read and the write.
type CounterStore interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (domain.CounterState, error)
}

// Policy is the limit applied to one action class.
type Policy struct {
	Limit  int
	Window time.Duration
}

type Gate struct {
	store   CounterStore
	now     func() time.Time
	metrics *metrics.Metrics
}

type GateDeps struct {
	Store   CounterStore
	Clock   func() time.Time
	Metrics *metrics.Metrics
}

func NewGate(deps GateDeps) *Gate {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Gate{store: deps.Store, now: clock, metrics: deps.Metrics}
}

// Key builds the counter key for an action performed by a subject.
func Key(action, subjectID string) string {
	return action + ":" + subjectID
}

// Check counts one attempt against key. Store failures wrap domain.ErrTransient.
func (g *Gate) Check(ctx context.Context, key string, limit int, window time.Duration) (domain.RateDecision, error) {
	if key == "" || limit < 1 || window <= 0 {
		return domain.RateDecision{}, fmt.Errorf("rate gate: key, limit and window are required: %w", domain.ErrValidation)
	}
	now := g.now()
	state, err := g.store.Hit(ctx, key, limit, window, now)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domain.RateDecision{}, err
		}
		return domain.RateDecision{}, fmt.Errorf("rate gate %s: %w: %v", key, domain.ErrTransient, err)
	}
	d := domain.RateDecision{
		Allowed:     state.Allowed,
		Count:       state.Count,
		Limit:       limit,
		WindowStart: state.WindowStart,
	}
	if !d.Allowed {
		d.RetryAfter = state.WindowStart.Add(window).Sub(now)
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
		slog.Debug("rate gate denied", "key", key, "count", state.Count, "limit", limit, "retry_after", d.RetryAfter)
	}
	g.metrics.GateDecision(action(key), d.Allowed)
	return d, nil
}

// CheckPolicy is Check with the limit and window taken from p.
func (g *Gate) CheckPolicy(ctx context.Context, key string, p Policy) (domain.RateDecision, error) {
	return g.Check(ctx, key, p.Limit, p.Window)
}

func action(key string) string {
	a, _, _ := strings.Cut(key, ":")
	return a
}
