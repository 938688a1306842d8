package cursor

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-api-guard/internal/domain"
)

// Position is the (created_at, id) of the last item a caller has seen.
type Position struct {
	CreatedAt time.Time
	ID        string
}

// Encode returns an opaque, URL-safe cursor for p.
func Encode(p Position) string {
	raw := strconv.FormatInt(p.CreatedAt.UnixNano(), 10) + ":" + p.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a cursor produced by Encode.
func Decode(s string) (Position, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Position{}, fmt.Errorf("invalid cursor: %w", domain.ErrValidation)
	}
	ts, id, ok := strings.Cut(string(b), ":")
	if !ok || id == "" {
		return Position{}, fmt.Errorf("invalid cursor: %w", domain.ErrValidation)
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || nanos < 0 {
		return Position{}, fmt.Errorf("invalid cursor: %w", domain.ErrValidation)
	}
	return Position{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// SortKey renders p as a fixed-width string whose lexicographic order is the
// (created_at, id) order. Used as a DynamoDB range key.
func SortKey(p Position) string {
	return fmt.Sprintf("%019d#%s", p.CreatedAt.UnixNano(), p.ID)
}

// Before reports whether a sorts after b in (created_at desc, id desc) order,
// i.e. whether a comes later in a newest-first listing.
func Before(a, b Position) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
