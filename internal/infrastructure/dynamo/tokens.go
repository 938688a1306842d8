package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v5"

	"github.com/go-api-guard/internal/domain"
)

const defaultTxAttempts = 3

var errTxConflict = errors.New("transaction conflict")

// TokenRepo stores verification tokens keyed by the hash of their secret.
// PK: token_hash.
type TokenRepo struct {
	client      API
	tableName   string
	users       *UserRepo
	maxAttempts uint
	retryWait   time.Duration
}

func NewTokenRepo(client API, tableName string, users *UserRepo) *TokenRepo {
	return &TokenRepo{
		client:      client,
		tableName:   tableName,
		users:       users,
		maxAttempts: defaultTxAttempts,
		retryWait:   20 * time.Millisecond,
	}
}

func (r *TokenRepo) Put(ctx context.Context, t *domain.VerificationToken) error {
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#h)"),
		ExpressionAttributeNames: map[string]string{"#h": fieldTokenHash},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("token hash already present: %w", domain.ErrConflict)
	}
	if err != nil {
		return storeErr("put token", err)
	}
	return nil
}

func (r *TokenRepo) GetByHash(ctx context.Context, tokenHash string) (*domain.VerificationToken, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldTokenHash, tokenHash),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, storeErr("get token", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("verification token not found: %w", domain.ErrNotFound)
	}
	var t domain.VerificationToken
	if err := attributevalue.UnmarshalMap(out.Item, &t); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}
	return &t, nil
}

// WithinTx runs fn and commits the staged writes with one TransactWriteItems
// call. A failed write condition means another caller consumed or changed
// the records first and maps to domain.ErrInvalidToken. A transaction
// conflict re-runs fn so it observes the winner's write.
func (r *TokenRepo) WithinTx(ctx context.Context, fn func(domain.TokenTx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retryWait
	b.MaxInterval = 10 * r.retryWait

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.attempt(ctx, fn)
		if err == nil || errors.Is(err, errTxConflict) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.maxAttempts))
	if errors.Is(err, errTxConflict) {
		return fmt.Errorf("commit consumption after %d attempts: %w: %v", r.maxAttempts, domain.ErrTransient, err)
	}
	return err
}

func (r *TokenRepo) attempt(ctx context.Context, fn func(domain.TokenTx) error) error {
	tx := &tokenTx{repo: r}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.err != nil {
		return tx.err
	}
	if len(tx.items) == 0 {
		return nil
	}
	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: tx.items})
	if err == nil {
		return nil
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			switch aws.ToString(reason.Code) {
			case "ConditionalCheckFailed":
				return fmt.Errorf("write condition failed at commit: %w", domain.ErrInvalidToken)
			case "TransactionConflict":
				return fmt.Errorf("%w: %v", errTxConflict, err)
			}
		}
	}
	var conflict *types.TransactionConflictException
	if errors.As(err, &conflict) {
		return fmt.Errorf("%w: %v", errTxConflict, err)
	}
	return storeErr("commit consumption", err)
}

type tokenTx struct {
	repo  *TokenRepo
	items []types.TransactWriteItem
	err   error
}

func (tx *tokenTx) ConsumeToken(ctx context.Context, tokenHash string, now time.Time) (*domain.VerificationToken, error) {
	t, err := tx.repo.GetByHash(ctx, tokenHash)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("token not found: %w", domain.ErrInvalidToken)
	}
	if err != nil {
		return nil, err
	}
	if t.ConsumedAt != nil {
		return nil, fmt.Errorf("token %s already consumed: %w", t.TokenID, domain.ErrInvalidToken)
	}
	if now.Unix() >= t.ExpiresAt {
		return nil, fmt.Errorf("token %s expired: %w", t.TokenID, domain.ErrInvalidToken)
	}

	ue, err := buildUpdateExpr(map[string]interface{}{fieldConsumedAt: now})
	if err != nil {
		return nil, err
	}
	ue.Names["#h"] = fieldTokenHash
	ue.Names["#c"] = fieldConsumedAt
	ue.Names["#e"] = fieldExpiresAt
	ue.Values[":now_unix"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)}
	tx.items = append(tx.items, types.TransactWriteItem{Update: &types.Update{
		TableName:                 aws.String(tx.repo.tableName),
		Key:                       strKey(fieldTokenHash, tokenHash),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#h) AND attribute_not_exists(#c) AND #e > :now_unix"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	}})

	at := now
	t.ConsumedAt = &at
	return t, nil
}

func (tx *tokenTx) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return tx.repo.users.GetUser(ctx, userID)
}

func (tx *tokenTx) MarkEmailVerified(_ context.Context, userID, email string, now time.Time) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldEmail:           email,
		fieldEmailVerified:   true,
		fieldEmailVerifiedAt: now,
		fieldUpdatedAt:       now,
	})
	if err != nil {
		tx.err = err
		return err
	}
	ue.Names["#u"] = fieldUserID
	tx.items = append(tx.items, types.TransactWriteItem{Update: &types.Update{
		TableName:                 aws.String(tx.repo.users.tableName),
		Key:                       strKey(fieldUserID, userID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#u)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	}})
	return nil
}
