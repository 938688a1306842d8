package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/go-api-guard/internal/domain"
	"github.com/go-api-guard/internal/pkg/cursor"
)

// InsightRepo stores generated insights.
// PK: insight_id. GSI subject_id-list_key-index where list_key is
// cursor.SortKey(created_at, insight_id).
type InsightRepo struct {
	client    API
	tableName string
}

func NewInsightRepo(client API, tableName string) *InsightRepo {
	return &InsightRepo{client: client, tableName: tableName}
}

func (r *InsightRepo) Put(ctx context.Context, in *domain.Insight) error {
	item, err := attributevalue.MarshalMap(in)
	if err != nil {
		return fmt.Errorf("marshal insight: %w", err)
	}
	item[fieldListKey] = &types.AttributeValueMemberS{
		Value: cursor.SortKey(cursor.Position{CreatedAt: in.CreatedAt, ID: in.InsightID}),
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": fieldInsightID},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("insight %s exists: %w", in.InsightID, domain.ErrConflict)
	}
	if err != nil {
		return storeErr("put insight", err)
	}
	return nil
}

// Finish records the final status of a PENDING insight.
func (r *InsightRepo) Finish(ctx context.Context, in *domain.Insight) error {
	updates := map[string]interface{}{
		fieldStatus:    in.Status,
		fieldUpdatedAt: in.UpdatedAt,
	}
	if in.Summary != "" {
		updates[fieldSummary] = in.Summary
	}
	if len(in.RecommendedActions) > 0 {
		updates[fieldActions] = in.RecommendedActions
	}
	if in.FailureReason != "" {
		updates[fieldFailureReason] = in.FailureReason
	}
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	ue.Names["#id"] = fieldInsightID
	ue.Names["#st"] = fieldStatus
	ue.Values[":pending"] = &types.AttributeValueMemberS{Value: string(domain.InsightPending)}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldInsightID, in.InsightID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#id) AND #st = :pending"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if isConditionFailed(err) {
		return fmt.Errorf("insight %s is not pending: %w", in.InsightID, domain.ErrConflict)
	}
	if err != nil {
		return storeErr("finish insight", err)
	}
	return nil
}

// ListPage queries the subject index newest first, starting strictly after
// the given position.
func (r *InsightRepo) ListPage(ctx context.Context, subjectID string, after *cursor.Position, limit int) ([]domain.Insight, error) {
	keyCond := "#s = :sid"
	names := map[string]string{"#s": fieldSubjectID}
	values := map[string]types.AttributeValue{
		":sid": &types.AttributeValueMemberS{Value: subjectID},
	}
	if after != nil {
		keyCond += " AND #lk < :after"
		names["#lk"] = fieldListKey
		values[":after"] = &types.AttributeValueMemberS{Value: cursor.SortKey(*after)}
	}

	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(indexInsightsBySubject),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(int32(limit)),
	})

	items := make([]domain.Insight, 0, limit)
	for p.HasMorePages() && len(items) < limit {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, storeErr("query insights", err)
		}
		var page []domain.Insight
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal insights: %w", err)
		}
		items = append(items, page...)
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
