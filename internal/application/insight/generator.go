package insight

import (
	"context"
	"fmt"
	"time"

	"github.com/go-api-guard/internal/domain"
)

// Draft is a candidate insight before it is stored.
type Draft struct {
	Fingerprint string
	Title       string
	Severity    domain.Severity
}

// Generator proposes drafts for a subject and fills in their details.
type Generator interface {
	Candidates(ctx context.Context, subjectID string) ([]Draft, error)
	Enrich(ctx context.Context, subjectID string, d Draft) (summary string, actions []string, err error)
}

type UserReader interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

const (
	fpEmailUnverified = "email-unverified"
	fpTwoFactorOff    = "two-factor-disabled"
	fpStalePassword   = "stale-password"
)

// RuleGenerator derives insights from the subject's account record.
type RuleGenerator struct {
	users          UserReader
	now            func() time.Time
	passwordMaxAge time.Duration
}

func NewRuleGenerator(users UserReader, clock func() time.Time) *RuleGenerator {
	if clock == nil {
		clock = time.Now
	}
	return &RuleGenerator{users: users, now: clock, passwordMaxAge: 180 * 24 * time.Hour}
}

// Candidates returns drafts ordered by severity, most severe first.
func (g *RuleGenerator) Candidates(ctx context.Context, subjectID string) ([]Draft, error) {
	u, err := g.users.GetUser(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("load subject %s: %w", subjectID, err)
	}
	var drafts []Draft
	if !u.TwoFactorEnabled {
		drafts = append(drafts, Draft{Fingerprint: fpTwoFactorOff, Title: "Two-factor authentication is off", Severity: domain.SeverityHigh})
	}
	if !u.EmailVerified {
		drafts = append(drafts, Draft{Fingerprint: fpEmailUnverified, Title: "Email address is not verified", Severity: domain.SeverityMedium})
	}
	if g.passwordStale(u) {
		drafts = append(drafts, Draft{Fingerprint: fpStalePassword, Title: "Password has not been changed recently", Severity: domain.SeverityLow})
	}
	return drafts, nil
}

func (g *RuleGenerator) Enrich(ctx context.Context, subjectID string, d Draft) (string, []string, error) {
	switch d.Fingerprint {
	case fpTwoFactorOff:
		return "Payments from this account are protected by a password alone.",
			[]string{"Enable an authenticator app", "Store backup codes offline"}, nil
	case fpEmailUnverified:
		return "Security alerts and receipts may not reach you until your address is confirmed.",
			[]string{"Open the verification link sent to your inbox"}, nil
	case fpStalePassword:
		return fmt.Sprintf("Your password is older than %d days.", int(g.passwordMaxAge.Hours()/24)),
			[]string{"Choose a new, unique password"}, nil
	}
	return "", nil, fmt.Errorf("no rule for fingerprint %q", d.Fingerprint)
}

func (g *RuleGenerator) passwordStale(u *domain.User) bool {
	changed := u.CreatedAt
	if u.PasswordChangedAt != nil {
		changed = *u.PasswordChangedAt
	}
	return !changed.IsZero() && g.now().Sub(changed) > g.passwordMaxAge
}
