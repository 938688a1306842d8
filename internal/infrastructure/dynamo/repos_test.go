package dynamo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/go-api-guard/internal/config"
	"github.com/go-api-guard/internal/domain"
	"github.com/go-api-guard/internal/pkg/cursor"
)

type mockAPI struct{ mock.Mock }

func (m *mockAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}
func (m *mockAPI) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}
func (m *mockAPI) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.UpdateItemOutput)
	return out, args.Error(1)
}
func (m *mockAPI) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}
func (m *mockAPI) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.TransactWriteItemsOutput)
	return out, args.Error(1)
}
func (m *mockAPI) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.CreateTableOutput)
	return out, args.Error(1)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func tokenItem(t *testing.T, tok domain.VerificationToken) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(tok)
	require.NoError(t, err)
	return item
}

func userItem(t *testing.T, u domain.User) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(u)
	require.NoError(t, err)
	return item
}

func forTable(name string) interface{} {
	return mock.MatchedBy(func(in *dynamodb.GetItemInput) bool { return aws.ToString(in.TableName) == name })
}

func canceled(codes ...string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, c := range codes {
		reasons[i] = types.CancellationReason{Code: aws.String(c)}
	}
	return &types.TransactionCanceledException{Message: aws.String("cancelled"), CancellationReasons: reasons}
}

func newTokenRepo(api *mockAPI) *TokenRepo {
	r := NewTokenRepo(api, "verification_tokens", NewUserRepo(api, "users"))
	r.retryWait = time.Millisecond
	return r
}

func consumeFn(now time.Time) func(domain.TokenTx) error {
	return func(tx domain.TokenTx) error {
		ctx := context.Background()
		tok, err := tx.ConsumeToken(ctx, "h1", now)
		if err != nil {
			return err
		}
		if _, err := tx.GetUser(ctx, tok.SubjectID); err != nil {
			return err
		}
		return tx.MarkEmailVerified(ctx, tok.SubjectID, tok.PurposeData[domain.PurposeKeyEmail], now)
	}
}

func stubReads(t *testing.T, api *mockAPI) {
	api.On("GetItem", mock.Anything, forTable("verification_tokens")).Return(&dynamodb.GetItemOutput{Item: tokenItem(t, domain.VerificationToken{
		TokenHash: "h1", TokenID: "tok1", SubjectID: "u1", Purpose: domain.PurposeEmailVerification,
		PurposeData: map[string]string{domain.PurposeKeyEmail: "a@example.com"},
		CreatedAt:   t0, ExpiresAt: t0.Add(time.Hour).Unix(),
	})}, nil)
	api.On("GetItem", mock.Anything, forTable("users")).Return(&dynamodb.GetItemOutput{Item: userItem(t, domain.User{UserID: "u1"})}, nil)
}

func TestTokenRepo_WithinTx_CommitsConditionalWrites(t *testing.T) {
	api := &mockAPI{}
	stubReads(t, api)
	var got *dynamodb.TransactWriteItemsInput
	api.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(*dynamodb.TransactWriteItemsInput) }).
		Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	require.NoError(t, newTokenRepo(api).WithinTx(context.Background(), consumeFn(t0)))

	require.Len(t, got.TransactItems, 2)
	tokUpd := got.TransactItems[0].Update
	assert.Equal(t, "verification_tokens", aws.ToString(tokUpd.TableName))
	assert.Equal(t, "attribute_exists(#h) AND attribute_not_exists(#c) AND #e > :now_unix", aws.ToString(tokUpd.ConditionExpression))
	assert.Equal(t, &types.AttributeValueMemberN{Value: "1772366400"}, tokUpd.ExpressionAttributeValues[":now_unix"])

	userUpd := got.TransactItems[1].Update
	assert.Equal(t, "users", aws.ToString(userUpd.TableName))
	assert.Equal(t, "attribute_exists(#u)", aws.ToString(userUpd.ConditionExpression))
	assert.Equal(t, "SET #f0 = :v0, #f1 = :v1, #f2 = :v2, #f3 = :v3", aws.ToString(userUpd.UpdateExpression))
}

func TestTokenRepo_WithinTx_ConditionFailureIsInvalid(t *testing.T) {
	api := &mockAPI{}
	stubReads(t, api)
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, canceled("ConditionalCheckFailed", "None")).Once()

	err := newTokenRepo(api).WithinTx(context.Background(), consumeFn(t0))
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	api.AssertNumberOfCalls(t, "TransactWriteItems", 1)
}

func TestTokenRepo_WithinTx_RetriesConflicts(t *testing.T) {
	api := &mockAPI{}
	stubReads(t, api)
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, canceled("TransactionConflict", "None")).Once()
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

	require.NoError(t, newTokenRepo(api).WithinTx(context.Background(), consumeFn(t0)))
	api.AssertNumberOfCalls(t, "TransactWriteItems", 2)
}

func TestTokenRepo_WithinTx_ConflictsExhausted(t *testing.T) {
	api := &mockAPI{}
	stubReads(t, api)
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, &types.TransactionConflictException{Message: aws.String("busy")})

	err := newTokenRepo(api).WithinTx(context.Background(), consumeFn(t0))
	assert.ErrorIs(t, err, domain.ErrTransient)
	api.AssertNumberOfCalls(t, "TransactWriteItems", defaultTxAttempts)
}

func TestTokenRepo_ConsumeToken_RejectsWithoutWriting(t *testing.T) {
	consumedAt := t0
	cases := map[string]*dynamodb.GetItemOutput{
		"missing":  {},
		"expired":  {Item: tokenItem(t, domain.VerificationToken{TokenHash: "h1", ExpiresAt: t0.Unix()})},
		"consumed": {Item: tokenItem(t, domain.VerificationToken{TokenHash: "h1", ExpiresAt: t0.Add(time.Hour).Unix(), ConsumedAt: &consumedAt})},
	}
	for name, out := range cases {
		t.Run(name, func(t *testing.T) {
			api := &mockAPI{}
			api.On("GetItem", mock.Anything, mock.Anything).Return(out, nil)

			err := newTokenRepo(api).WithinTx(context.Background(), consumeFn(t0))
			assert.ErrorIs(t, err, domain.ErrInvalidToken)
			api.AssertNotCalled(t, "TransactWriteItems", mock.Anything, mock.Anything)
		})
	}
}

func TestTokenRepo_Put(t *testing.T) {
	api := &mockAPI{}
	api.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		_, hasSecret := in.Item["secret"]
		return aws.ToString(in.ConditionExpression) == "attribute_not_exists(#h)" && !hasSecret
	})).Return(nil, &types.ConditionalCheckFailedException{}).Once()
	api.On("PutItem", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

	r := newTokenRepo(api)
	tok := &domain.VerificationToken{TokenHash: "h1", TokenID: "tok1", ExpiresAt: t0.Unix()}
	assert.ErrorIs(t, r.Put(context.Background(), tok), domain.ErrConflict)
	assert.ErrorIs(t, r.Put(context.Background(), tok), domain.ErrTransient)
}

func TestUserRepo_GetUserNotFound(t *testing.T) {
	api := &mockAPI{}
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	_, err := NewUserRepo(api, "users").GetUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuditRepo_DuplicateAppendSucceeds(t *testing.T) {
	api := &mockAPI{}
	api.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return aws.ToString(in.ConditionExpression) == "attribute_not_exists(#id)"
	})).Return(nil, &types.ConditionalCheckFailedException{})

	err := NewAuditRepo(api, "audit_log").Append(context.Background(), domain.AuditLogEntry{AuditID: "a1", Action: domain.AuditEmailVerified})
	assert.NoError(t, err)
}

func TestAuditRepo_FailureIsTransient(t *testing.T) {
	api := &mockAPI{}
	api.On("PutItem", mock.Anything, mock.Anything).Return(nil, errors.New("InternalServerError"))

	err := NewAuditRepo(api, "audit_log").Append(context.Background(), domain.AuditLogEntry{AuditID: "a1"})
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestInsightRepo_PutAddsListKey(t *testing.T) {
	api := &mockAPI{}
	want := cursor.SortKey(cursor.Position{CreatedAt: t0, ID: "i1"})
	api.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		lk, ok := in.Item[fieldListKey].(*types.AttributeValueMemberS)
		return ok && lk.Value == want
	})).Return(&dynamodb.PutItemOutput{}, nil)

	err := NewInsightRepo(api, "security_insights").Put(context.Background(), &domain.Insight{InsightID: "i1", SubjectID: "u1", CreatedAt: t0})
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestInsightRepo_FinishRequiresPending(t *testing.T) {
	api := &mockAPI{}
	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return aws.ToString(in.ConditionExpression) == "attribute_exists(#id) AND #st = :pending"
	})).Return(nil, &types.ConditionalCheckFailedException{})

	err := NewInsightRepo(api, "security_insights").Finish(context.Background(),
		&domain.Insight{InsightID: "i1", Status: domain.InsightCompleted, Summary: "s", UpdatedAt: t0})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestInsightRepo_ListPageQueriesAfterCursor(t *testing.T) {
	api := &mockAPI{}
	after := cursor.Position{CreatedAt: t0, ID: "i9"}
	items := make([]map[string]types.AttributeValue, 0, 2)
	for _, id := range []string{"i8", "i7"} {
		item, err := attributevalue.MarshalMap(domain.Insight{InsightID: id, SubjectID: "u1", CreatedAt: t0})
		require.NoError(t, err)
		items = append(items, item)
	}
	api.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		av, _ := in.ExpressionAttributeValues[":after"].(*types.AttributeValueMemberS)
		return aws.ToString(in.IndexName) == indexInsightsBySubject &&
			aws.ToString(in.KeyConditionExpression) == "#s = :sid AND #lk < :after" &&
			!aws.ToBool(in.ScanIndexForward) &&
			av != nil && av.Value == cursor.SortKey(after)
	})).Return(&dynamodb.QueryOutput{Items: items}, nil)

	got, err := NewInsightRepo(api, "security_insights").ListPage(context.Background(), "u1", &after, 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "i8", got[0].InsightID)
	api.AssertNumberOfCalls(t, "Query", 1)
}

func TestBootstrap_CreatesTablesAndIgnoresExisting(t *testing.T) {
	api := &mockAPI{}
	api.On("CreateTable", mock.Anything, mock.MatchedBy(func(in *dynamodb.CreateTableInput) bool {
		return aws.ToString(in.TableName) == "users"
	})).Return(nil, &types.ResourceInUseException{})
	api.On("CreateTable", mock.Anything, mock.Anything).Return(&dynamodb.CreateTableOutput{}, nil)

	Bootstrap(context.Background(), api, config.DynamoTables{
		Users: "users", VerificationTokens: "verification_tokens", AuditLog: "audit_log", Insights: "security_insights",
	})
	api.AssertNumberOfCalls(t, "CreateTable", 4)
}
