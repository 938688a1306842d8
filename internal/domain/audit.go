package domain

import "time"

type AuditAction string

const (
	AuditEmailVerified      AuditAction = "EMAIL_VERIFIED"
	AuditInsightGenerated   AuditAction = "INSIGHT_GENERATED"
	AuditVerificationIssued AuditAction = "VERIFICATION_ISSUED"
)

// AuditLogEntry is an immutable record of a security-relevant state change.
// PK: audit_id. GSI subject_id-created_at-index serves external readers.
type AuditLogEntry struct {
	AuditID    string                 `json:"id" dynamodbav:"audit_id"`
	SubjectID  string                 `json:"subject_id" dynamodbav:"subject_id"`
	Action     AuditAction            `json:"action" dynamodbav:"action"`
	EntityType string                 `json:"entity_type" dynamodbav:"entity_type"`
	EntityID   string                 `json:"entity_id,omitempty" dynamodbav:"entity_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
	OldValue   map[string]interface{} `json:"old_value,omitempty" dynamodbav:"old_value,omitempty"`
	NewValue   map[string]interface{} `json:"new_value,omitempty" dynamodbav:"new_value,omitempty"`
	CreatedAt  time.Time              `json:"created" dynamodbav:"created_at"`
}
