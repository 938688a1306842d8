package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/go-api-guard/internal/domain"
)

// AccountStore holds verification tokens and their subjects. Writes spanning
// both go through WithinTx.
type AccountStore struct {
	mu     sync.RWMutex
	tokens map[string]domain.VerificationToken // by token_hash
	users  map[string]domain.User
}

func NewAccountStore() *AccountStore {
	return &AccountStore{
		tokens: make(map[string]domain.VerificationToken),
		users:  make(map[string]domain.User),
	}
}

// Put stores a new token; a second token with the same hash is a conflict.
func (s *AccountStore) Put(ctx context.Context, t *domain.VerificationToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.TokenHash]; ok {
		return fmt.Errorf("token hash already present: %w", domain.ErrConflict)
	}
	s.tokens[t.TokenHash] = copyToken(*t)
	return nil
}

func (s *AccountStore) GetByHash(ctx context.Context, tokenHash string) (*domain.VerificationToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[tokenHash]
	if !ok {
		return nil, fmt.Errorf("verification token not found: %w", domain.ErrNotFound)
	}
	out := copyToken(t)
	return &out, nil
}

func (s *AccountStore) PutUser(ctx context.Context, u *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.UserID] = *u
	return nil
}

func (s *AccountStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	return &u, nil
}

// WithinTx runs fn against a staging transaction and commits its writes
// atomically. Conditions are evaluated again at commit, so a token consumed by
// a concurrent transaction after fn read it fails the whole commit.
func (s *AccountStore) WithinTx(ctx context.Context, fn func(domain.TokenTx) error) error {
	tx := &accountTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *AccountStore) commit(tx *accountTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range tx.consumes {
		t, ok := s.tokens[c.hash]
		if !ok || !t.Usable(c.now) {
			return fmt.Errorf("token no longer usable at commit: %w", domain.ErrInvalidToken)
		}
	}
	for _, v := range tx.verifications {
		if _, ok := s.users[v.userID]; !ok {
			return fmt.Errorf("subject %s missing at commit: %w", v.userID, domain.ErrInvalidToken)
		}
	}

	for _, c := range tx.consumes {
		t := s.tokens[c.hash]
		at := c.now
		t.ConsumedAt = &at
		s.tokens[c.hash] = t
	}
	for _, v := range tx.verifications {
		u := s.users[v.userID]
		at := v.now
		u.Email = v.email
		u.EmailVerified = true
		u.EmailVerifiedAt = &at
		u.UpdatedAt = v.now
		s.users[v.userID] = u
	}
	return nil
}

type stagedConsume struct {
	hash string
	now  time.Time
}

type stagedVerification struct {
	userID string
	email  string
	now    time.Time
}

type accountTx struct {
	store         *AccountStore
	consumes      []stagedConsume
	verifications []stagedVerification
}

func (tx *accountTx) ConsumeToken(ctx context.Context, tokenHash string, now time.Time) (*domain.VerificationToken, error) {
	t, err := tx.store.GetByHash(ctx, tokenHash)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("token not found: %w", domain.ErrInvalidToken)
	}
	if t.ConsumedAt != nil {
		return nil, fmt.Errorf("token already consumed: %w", domain.ErrInvalidToken)
	}
	if now.Unix() >= t.ExpiresAt {
		return nil, fmt.Errorf("token expired: %w", domain.ErrInvalidToken)
	}
	tx.consumes = append(tx.consumes, stagedConsume{hash: tokenHash, now: now})
	at := now
	t.ConsumedAt = &at
	return t, nil
}

func (tx *accountTx) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return tx.store.GetUser(ctx, userID)
}

func (tx *accountTx) MarkEmailVerified(_ context.Context, userID, email string, now time.Time) error {
	tx.verifications = append(tx.verifications, stagedVerification{userID: userID, email: email, now: now})
	return nil
}

func copyToken(t domain.VerificationToken) domain.VerificationToken {
	t.PurposeData = maps.Clone(t.PurposeData)
	if t.ConsumedAt != nil {
		at := *t.ConsumedAt
		t.ConsumedAt = &at
	}
	return t
}
