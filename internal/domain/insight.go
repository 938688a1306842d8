package domain

import "time"

type InsightStatus string

const (
	InsightPending   InsightStatus = "PENDING"
	InsightCompleted InsightStatus = "COMPLETED"
	InsightFailed    InsightStatus = "FAILED"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Insight is a security recommendation produced by a rate-gated generation run.
// PK: insight_id. GSI subject_id-list_key-index orders by (created_at desc, insight_id desc).
type Insight struct {
	InsightID          string        `json:"id" dynamodbav:"insight_id"`
	SubjectID          string        `json:"subject_id" dynamodbav:"subject_id"`
	Status             InsightStatus `json:"status" dynamodbav:"status"`
	Severity           Severity      `json:"severity" dynamodbav:"severity"`
	Fingerprint        string        `json:"fingerprint" dynamodbav:"fingerprint"`
	Title              string        `json:"title" dynamodbav:"title"`
	Summary            string        `json:"summary,omitempty" dynamodbav:"summary,omitempty"`
	RecommendedActions []string      `json:"recommended_actions,omitempty" dynamodbav:"recommended_actions,omitempty"`
	FailureReason      string        `json:"failure_reason,omitempty" dynamodbav:"failure_reason,omitempty"`
	CreatedAt          time.Time     `json:"created" dynamodbav:"created_at"`
	UpdatedAt          time.Time     `json:"updated" dynamodbav:"updated_at"`
}

type GenerateInsightsRequest struct {
	MaxToGenerate int `json:"max_to_generate" validate:"omitempty,min=1,max=100"`
}

// ExecuteResult summarises one rate-gated generation run.
type ExecuteResult struct {
	RateLimited       bool `json:"rate_limited"`
	RetryAfterSeconds int  `json:"retry_after_seconds,omitempty"`
	Generated         int  `json:"generated"`
	Skipped           int  `json:"skipped"`
	Failed            int  `json:"failed"`
}

// InsightPage is one keyset page; NextCursor is nil at the end of the list.
type InsightPage struct {
	Items      []Insight `json:"items"`
	NextCursor *string   `json:"next_cursor"`
}
