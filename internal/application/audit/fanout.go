package audit

import (
	"context"
	"errors"

	"github.com/go-api-guard/internal/domain"
)

type fanout []Sink

// Fanout writes every entry to all sinks. A failure in any sink fails the
// append, so the writer retries the whole set.
func Fanout(sinks ...Sink) Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return fanout(sinks)
}

func (f fanout) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	var errs []error
	for _, s := range f {
		if err := s.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
