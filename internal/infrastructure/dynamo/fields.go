package dynamo

// DynamoDB attribute names used in keys, conditions and update expressions.
const (
	fieldTokenHash       = "token_hash"
	fieldConsumedAt      = "consumed_at"
	fieldExpiresAt       = "expires_at"
	fieldUserID          = "user_id"
	fieldEmail           = "email"
	fieldEmailVerified   = "email_verified"
	fieldEmailVerifiedAt = "email_verified_at"
	fieldUpdatedAt       = "updated_at"
	fieldAuditID         = "audit_id"
	fieldInsightID       = "insight_id"
	fieldSubjectID       = "subject_id"
	fieldListKey         = "list_key"
	fieldStatus          = "status"
	fieldSummary         = "summary"
	fieldActions         = "recommended_actions"
	fieldFailureReason   = "failure_reason"
	fieldCreatedAt       = "created_at"
)

// Index names.
const (
	indexAuditBySubject    = "subject_id-created_at-index"
	indexInsightsBySubject = "subject_id-list_key-index"
)
