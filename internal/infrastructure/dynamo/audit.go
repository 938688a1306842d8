package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/go-api-guard/internal/domain"
)

// AuditRepo is the append-only audit table. It has no update or delete path.
// PK: audit_id. GSI subject_id-created_at-index.
type AuditRepo struct {
	client    API
	tableName string
}

func NewAuditRepo(client API, tableName string) *AuditRepo {
	return &AuditRepo{client: client, tableName: tableName}
}

// Append writes entry once. Re-sending an entry that is already stored
// succeeds without overwriting it.
func (r *AuditRepo) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w: %v", domain.ErrValidation, err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": fieldAuditID},
	})
	if isConditionFailed(err) {
		return nil
	}
	if err != nil {
		return storeErr("append audit entry", err)
	}
	return nil
}
