// Package verification issues and consumes single-use verification tokens.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/go-api-guard/internal/application/ratelimit"
	"github.com/go-api-guard/internal/domain"
	"github.com/go-api-guard/internal/pkg/id"
	"github.com/go-api-guard/internal/pkg/metrics"
	"github.com/go-api-guard/internal/pkg/token"
	"github.com/go-api-guard/internal/pkg/validate"
)

// IssueAction is the rate gate action for token issuance.
const IssueAction = "verification-issue"

// TokenStore persists tokens by hash. WithinTx commits everything fn stages
// atomically, or nothing.
type TokenStore interface {
	Put(ctx context.Context, t *domain.VerificationToken) error
	GetByHash(ctx context.Context, tokenHash string) (*domain.VerificationToken, error)
	WithinTx(ctx context.Context, fn func(domain.TokenTx) error) error
}

type UserReader interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

type AuditAppender interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
}

type RateGate interface {
	CheckPolicy(ctx context.Context, key string, p ratelimit.Policy) (domain.RateDecision, error)
}

type Service interface {
	Issue(ctx context.Context, subjectID, purpose string, purposeData map[string]string, ttl time.Duration) (tokenID, secret string, err error)
	IssueEmailVerification(ctx context.Context, req domain.IssueTokenRequest) (*domain.IssuedToken, error)
	FindUsable(ctx context.Context, secret string) (*domain.VerificationToken, error)
	Consume(ctx context.Context, secret string) (domain.ConsumeResult, error)
}

type service struct {
	tokens      TokenStore
	users       UserReader
	audit       AuditAppender
	gate        RateGate
	hasher      *token.Hasher
	defaultTTL  time.Duration
	issuePolicy ratelimit.Policy
	now         func() time.Time
	metrics     *metrics.Metrics
}

type ServiceDeps struct {
	Tokens      TokenStore
	Users       UserReader
	Audit       AuditAppender
	Gate        RateGate
	Hasher      *token.Hasher
	DefaultTTL  time.Duration
	IssuePolicy ratelimit.Policy
	Clock       func() time.Time
	Metrics     *metrics.Metrics
}

func NewService(deps ServiceDeps) Service {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := deps.DefaultTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &service{
		tokens:      deps.Tokens,
		users:       deps.Users,
		audit:       deps.Audit,
		gate:        deps.Gate,
		hasher:      deps.Hasher,
		defaultTTL:  ttl,
		issuePolicy: deps.IssuePolicy,
		now:         clock,
		metrics:     deps.Metrics,
	}
}

// Issue stores a new token for subjectID and returns its raw secret. The
// secret is never persisted and cannot be recovered later.
func (s *service) Issue(ctx context.Context, subjectID, purpose string, purposeData map[string]string, ttl time.Duration) (string, string, error) {
	if subjectID == "" || purpose == "" || ttl <= 0 {
		return "", "", fmt.Errorf("subject, purpose and ttl are required: %w", domain.ErrValidation)
	}

	if s.gate != nil && s.issuePolicy.Limit > 0 {
		d, err := s.gate.CheckPolicy(ctx, ratelimit.Key(IssueAction, subjectID), s.issuePolicy)
		if err != nil {
			s.metrics.TokenIssued("error")
			return "", "", err
		}
		if !d.Allowed {
			s.metrics.TokenIssued("rate_limited")
			return "", "", d.Err()
		}
	}

	secret, err := token.NewSecret()
	if err != nil {
		s.metrics.TokenIssued("error")
		return "", "", fmt.Errorf("issue token: %w: %v", domain.ErrTransient, err)
	}
	now := s.now().UTC()
	t := &domain.VerificationToken{
		TokenHash:   s.hasher.Hash(secret),
		TokenID:     id.NewAt(now),
		SubjectID:   subjectID,
		Purpose:     purpose,
		PurposeData: maps.Clone(purposeData),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl).Unix(),
	}
	if t.ExpiresAt <= now.Unix() {
		t.ExpiresAt = now.Unix() + 1
	}
	if err := s.tokens.Put(ctx, t); err != nil {
		s.metrics.TokenIssued("error")
		return "", "", transient("store token", err)
	}
	s.metrics.TokenIssued("issued")

	s.appendAudit(ctx, domain.AuditLogEntry{
		SubjectID:  subjectID,
		Action:     domain.AuditVerificationIssued,
		EntityType: "verification_token",
		EntityID:   t.TokenID,
		Metadata: map[string]interface{}{
			"purpose":    purpose,
			"expires_at": t.ExpiresAt,
		},
	})
	return t.TokenID, secret, nil
}

// IssueEmailVerification issues a token that, once consumed, marks req.Email
// as the subject's verified address.
func (s *service) IssueEmailVerification(ctx context.Context, req domain.IssueTokenRequest) (*domain.IssuedToken, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if _, err := s.users.GetUser(ctx, req.SubjectID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("subject %s: %w", req.SubjectID, domain.ErrNotFound)
		}
		return nil, transient("load subject", err)
	}
	ttl := s.defaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	tokenID, secret, err := s.Issue(ctx, req.SubjectID, domain.PurposeEmailVerification,
		map[string]string{domain.PurposeKeyEmail: req.Email}, ttl)
	if err != nil {
		return nil, err
	}
	return &domain.IssuedToken{TokenID: tokenID, Secret: secret, ExpiresAt: s.now().UTC().Add(ttl)}, nil
}

// FindUsable looks a token up without consuming it.
func (s *service) FindUsable(ctx context.Context, secret string) (*domain.VerificationToken, error) {
	if secret == "" {
		return nil, fmt.Errorf("token is required: %w", domain.ErrValidation)
	}
	if !token.WellFormed(secret) {
		return nil, fmt.Errorf("malformed token: %w", domain.ErrInvalidToken)
	}
	t, err := s.tokens.GetByHash(ctx, s.hasher.Hash(secret))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("unknown token: %w", domain.ErrInvalidToken)
	case err != nil:
		return nil, transient("find token", err)
	case t.ConsumedAt != nil:
		return nil, fmt.Errorf("token %s already consumed: %w", t.TokenID, domain.ErrInvalidToken)
	case !t.Usable(s.now()):
		return nil, fmt.Errorf("token %s expired: %w", t.TokenID, domain.ErrInvalidToken)
	}
	return t, nil
}

// Consume marks the token used and applies its effect in one unit of work.
// Unknown, expired and already used tokens all yield ConsumeInvalid with a
// nil error; the precise reason is only logged.
func (s *service) Consume(ctx context.Context, secret string) (domain.ConsumeResult, error) {
	if secret == "" {
		return domain.ConsumeResult{}, fmt.Errorf("token is required: %w", domain.ErrValidation)
	}
	if !token.WellFormed(secret) {
		return s.invalid(ctx, errors.New("malformed token")), nil
	}

	hash := s.hasher.Hash(secret)
	now := s.now().UTC()
	var (
		consumed *domain.VerificationToken
		before   domain.User
		email    string
	)
	err := s.tokens.WithinTx(ctx, func(tx domain.TokenTx) error {
		t, err := tx.ConsumeToken(ctx, hash, now)
		if err != nil {
			return err
		}
		if t.Purpose != domain.PurposeEmailVerification {
			return fmt.Errorf("token %s has purpose %q: %w", t.TokenID, t.Purpose, domain.ErrInvalidToken)
		}
		email = t.PurposeData[domain.PurposeKeyEmail]
		if email == "" {
			return fmt.Errorf("token %s carries no email: %w", t.TokenID, domain.ErrInvalidToken)
		}
		u, err := tx.GetUser(ctx, t.SubjectID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("subject %s of token %s is gone: %w", t.SubjectID, t.TokenID, domain.ErrInvalidToken)
		}
		if err != nil {
			return err
		}
		consumed, before = t, *u
		return tx.MarkEmailVerified(ctx, t.SubjectID, email, now)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToken) {
			return s.invalid(ctx, err), nil
		}
		s.metrics.TokenConsumed("error")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.ConsumeResult{}, ctxErr
		}
		return domain.ConsumeResult{}, transient("consume token", err)
	}

	s.metrics.TokenConsumed(string(domain.ConsumeApplied))
	slog.InfoContext(ctx, "verification token consumed", "token_id", consumed.TokenID, "subject_id", consumed.SubjectID)
	s.appendAudit(ctx, domain.AuditLogEntry{
		SubjectID:  consumed.SubjectID,
		Action:     domain.AuditEmailVerified,
		EntityType: "user",
		EntityID:   consumed.SubjectID,
		Metadata:   map[string]interface{}{"token_id": consumed.TokenID},
		OldValue: map[string]interface{}{
			"email":          before.Email,
			"email_verified": before.EmailVerified,
		},
		NewValue: map[string]interface{}{
			"email":             email,
			"email_verified":    true,
			"email_verified_at": now,
		},
		CreatedAt: now,
	})
	return domain.ConsumeResult{Outcome: domain.ConsumeApplied, SubjectID: consumed.SubjectID, TokenID: consumed.TokenID}, nil
}

func (s *service) invalid(ctx context.Context, reason error) domain.ConsumeResult {
	s.metrics.TokenConsumed(string(domain.ConsumeInvalid))
	slog.DebugContext(ctx, "verification token rejected", "reason", reason)
	return domain.ConsumeResult{Outcome: domain.ConsumeInvalid}
}

// appendAudit never fails the caller: the state change has already committed.
func (s *service) appendAudit(ctx context.Context, e domain.AuditLogEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, e); err != nil {
		slog.ErrorContext(ctx, "audit append failed", "action", e.Action, "subject_id", e.SubjectID, "error", err)
	}
}

// transient wraps store failures that are not already domain errors.
func transient(op string, err error) error {
	if errors.Is(err, domain.ErrTransient) || errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrConflict) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrTransient, err)
}
