package domain

import "time"

// User is the subject record touched by token consumption and read by insight rules.
type User struct {
	UserID            string     `json:"id" dynamodbav:"user_id"`
	Email             string     `json:"email" dynamodbav:"email"`
	EmailVerified     bool       `json:"email_verified" dynamodbav:"email_verified"`
	EmailVerifiedAt   *time.Time `json:"email_verified_at,omitempty" dynamodbav:"email_verified_at,omitempty"`
	TwoFactorEnabled  bool       `json:"two_factor_enabled" dynamodbav:"two_factor_enabled"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty" dynamodbav:"password_changed_at,omitempty"`
	CreatedAt         time.Time  `json:"created" dynamodbav:"created_at"`
	UpdatedAt         time.Time  `json:"updated" dynamodbav:"updated_at"`
}
