package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/go-api-guard/internal/domain"
)

// AuditLog is an append-only audit sink. Appending an entry whose ID is
// already present is a no-op, matching the DynamoDB conditional put.
type AuditLog struct {
	mu      sync.Mutex
	entries []domain.AuditLogEntry
	ids     map[string]struct{}
}

func NewAuditLog() *AuditLog {
	return &AuditLog{ids: make(map[string]struct{})}
}

func (l *AuditLog) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[entry.AuditID]; ok {
		return nil
	}
	l.ids[entry.AuditID] = struct{}{}
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns a snapshot in append order.
func (l *AuditLog) Entries() []domain.AuditLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}
