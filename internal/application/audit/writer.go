// Package audit records security-relevant state changes after they commit.
//
// Entries are buffered and delivered by a small worker pool so a slow or
// failing sink never blocks, or rolls back, the operation being audited.
// Every sink must treat a repeated AuditID as already written: retries
// re-send the same entry.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/go-api-guard/internal/domain"
	"github.com/go-api-guard/internal/pkg/id"
	"github.com/go-api-guard/internal/pkg/metrics"
)

const (
	attemptTimeout = 5 * time.Second
	maxRequeues    = 2
)

var ErrClosed = errors.New("audit writer closed")

// Sink durably stores one entry.
type Sink interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
}

type pending struct {
	entry    domain.AuditLogEntry
	requeues int
}

type Writer struct {
	sink        Sink
	queue       chan pending
	maxAttempts uint
	initial     time.Duration
	max         time.Duration
	now         func() time.Time
	metrics     *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

type WriterDeps struct {
	Sink         Sink
	BufferSize   int
	Workers      int
	MaxAttempts  int
	RetryInitial time.Duration
	RetryMax     time.Duration
	Clock        func() time.Time
	Metrics      *metrics.Metrics
}

// NewWriter starts the delivery workers. Call Close to drain them.
func NewWriter(deps WriterDeps) *Writer {
	if deps.BufferSize < 1 {
		deps.BufferSize = 1
	}
	if deps.Workers < 1 {
		deps.Workers = 1
	}
	if deps.MaxAttempts < 1 {
		deps.MaxAttempts = 1
	}
	if deps.RetryInitial <= 0 {
		deps.RetryInitial = 200 * time.Millisecond
	}
	if deps.RetryMax < deps.RetryInitial {
		deps.RetryMax = deps.RetryInitial
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		sink:        deps.Sink,
		queue:       make(chan pending, deps.BufferSize),
		maxAttempts: uint(deps.MaxAttempts),
		initial:     deps.RetryInitial,
		max:         deps.RetryMax,
		now:         deps.Clock,
		metrics:     deps.Metrics,
		ctx:         ctx,
		cancel:      cancel,
	}
	for range deps.Workers {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

// Append assigns an ID and timestamp when missing and queues the entry. It
// never waits on the sink; a full buffer drops the entry with an error log.
func (w *Writer) Append(_ context.Context, entry domain.AuditLogEntry) error {
	if entry.Action == "" || entry.EntityType == "" {
		return fmt.Errorf("audit entry needs action and entity type: %w", domain.ErrValidation)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = w.now().UTC()
	}
	if entry.AuditID == "" {
		entry.AuditID = id.NewAt(entry.CreatedAt)
	}
	if !w.enqueue(pending{entry: entry}) {
		w.lost(entry, "buffer full or writer closed")
		return fmt.Errorf("audit %s: %w", entry.AuditID, domain.ErrTransient)
	}
	return nil
}

// Close stops intake and waits for queued entries to be delivered. If ctx
// expires first, in-flight retries are abandoned and remaining entries are
// logged as lost.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return ctx.Err()
	}
}

func (w *Writer) enqueue(p pending) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.queue <- p:
		w.metrics.AuditQueueDepth(len(w.queue))
		return true
	default:
		return false
	}
}

func (w *Writer) run() {
	defer w.wg.Done()
	for p := range w.queue {
		w.metrics.AuditQueueDepth(len(w.queue))
		w.deliver(p)
	}
}

func (w *Writer) deliver(p pending) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initial
	b.MaxInterval = w.max

	_, err := backoff.Retry(w.ctx, func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(w.ctx, attemptTimeout)
		defer cancel()
		err := w.sink.Append(ctx, p.entry)
		if errors.Is(err, domain.ErrValidation) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(w.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.metrics.AuditDelivery("retried")
			slog.Warn("audit append failed, retrying", "audit_id", p.entry.AuditID, "retry_in", next, "error", err)
		}),
	)
	if err == nil {
		w.metrics.AuditDelivery("written")
		return
	}

	if p.requeues < maxRequeues && w.ctx.Err() == nil && !errors.Is(err, domain.ErrValidation) {
		p.requeues++
		if w.enqueue(p) {
			w.metrics.AuditDelivery("requeued")
			slog.Warn("audit entry requeued", "audit_id", p.entry.AuditID, "requeues", p.requeues, "error", err)
			return
		}
	}
	w.lost(p.entry, err.Error())
}

// lost logs the full entry so it can be recovered from logs.
func (w *Writer) lost(e domain.AuditLogEntry, reason string) {
	w.metrics.AuditDelivery("lost")
	slog.Error("audit entry lost",
		"reason", reason,
		"audit_id", e.AuditID,
		"subject_id", e.SubjectID,
		"action", e.Action,
		"entity_type", e.EntityType,
		"entity_id", e.EntityID,
		"metadata", e.Metadata,
		"old_value", e.OldValue,
		"new_value", e.NewValue,
		"created_at", e.CreatedAt,
	)
}
