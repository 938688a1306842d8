package domain

import (
	"context"
	"time"
)

// Token purposes.
const (
	PurposeEmailVerification = "email_verification"
)

// PurposeData keys.
const (
	PurposeKeyEmail = "email"
)

// VerificationToken is a single-use token. Only the keyed hash of the secret is stored.
// PK: token_hash.
type VerificationToken struct {
	TokenHash   string            `json:"-" dynamodbav:"token_hash"`
	TokenID     string            `json:"id" dynamodbav:"token_id"`
	SubjectID   string            `json:"subject_id" dynamodbav:"subject_id"`
	Purpose     string            `json:"purpose" dynamodbav:"purpose"`
	PurposeData map[string]string `json:"purpose_data" dynamodbav:"purpose_data"`
	CreatedAt   time.Time         `json:"created" dynamodbav:"created_at"`
	ExpiresAt   int64             `json:"expires_at" dynamodbav:"expires_at"` // Unix seconds
	ConsumedAt  *time.Time        `json:"consumed_at,omitempty" dynamodbav:"consumed_at,omitempty"`
}

// Usable reports whether the token can still be consumed at now.
func (t *VerificationToken) Usable(now time.Time) bool {
	return t.ConsumedAt == nil && now.Unix() < t.ExpiresAt
}

// ConsumeOutcome is the externally visible result of a consumption attempt.
type ConsumeOutcome string

const (
	ConsumeApplied ConsumeOutcome = "applied"
	ConsumeInvalid ConsumeOutcome = "invalid"
)

type ConsumeResult struct {
	Outcome   ConsumeOutcome `json:"outcome"`
	SubjectID string         `json:"-"`
	TokenID   string         `json:"-"`
}

// TokenTx stages the writes of one token consumption. Nothing staged is
// visible to other callers until the enclosing unit of work commits.
type TokenTx interface {
	// ConsumeToken stages consumed_at=now on the token with the given hash,
	// conditional on it still being unconsumed and unexpired at commit.
	ConsumeToken(ctx context.Context, tokenHash string, now time.Time) (*VerificationToken, error)
	GetUser(ctx context.Context, userID string) (*User, error)
	MarkEmailVerified(ctx context.Context, userID, email string, now time.Time) error
}

type IssueTokenRequest struct {
	SubjectID  string `json:"subject_id" validate:"required,max=64"`
	Email      string `json:"email" validate:"required,email"`
	TTLSeconds int    `json:"ttl_seconds" validate:"omitempty,min=60,max=604800"`
}

type IssuedToken struct {
	TokenID   string    `json:"token_id"`
	Secret    string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
