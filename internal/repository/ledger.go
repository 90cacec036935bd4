package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"support-agent/internal/domain"
)

const (
	skAccount    = "ACCT#"
	skPrefixTurn = "TURN#"

	// Fixed-width timestamp so turn sort keys order lexicographically.
	// RFC3339Nano trims trailing zeros and would break the ordering.
	turnTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// LedgerStore defines the account and message-log operations consumed by the
// usecase layer.
type LedgerStore interface {
	GetOrCreateAccount(ctx context.Context, userID int64) (domain.Account, error)
	SetFreeAnswers(ctx context.Context, userID int64, n int) error
	SetPaidCredits(ctx context.Context, userID int64, n int) error
	AppendTurn(ctx context.Context, userID int64, role, content string) error
	RecentTurns(ctx context.Context, userID int64, limit int) ([]domain.Turn, error)
}

// Client wraps a DynamoDB table holding one account item and an append-only
// turn log per user.
type Client struct {
	api          dynamodbAPI
	tableName    string
	freeTrial    int
	now          func() time.Time
	newTurnNonce func() string
}

// New creates a ledger Client. freeTrial is the free-answer allowance granted
// to accounts created on first sight of a user.
func New(api dynamodbAPI, tableName string, freeTrial int) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if freeTrial < 0 {
		return nil, errors.New("repository: free trial allowance must not be negative")
	}
	return &Client{
		api:          api,
		tableName:    tableName,
		freeTrial:    freeTrial,
		now:          time.Now,
		newTurnNonce: func() string { return uuid.NewString()[:8] },
	}, nil
}

// userPK returns the partition key shared by a user's account and turns.
func userPK(userID int64) string {
	return "USER#" + strconv.FormatInt(userID, 10)
}

// turnSK returns the sort key for a turn: a fixed-width UTC timestamp plus a
// random nonce so back-to-back appends never collide.
func (c *Client) turnSK(ts time.Time) string {
	return skPrefixTurn + ts.UTC().Format(turnTimeLayout) + "#" + c.newTurnNonce()
}

// GetOrCreateAccount returns the user's account, creating it with the free
// trial allowance and zero paid credits on first sight. Idempotent: a lost
// create race falls back to reading the winner's item.
func (c *Client) GetOrCreateAccount(ctx context.Context, userID int64) (domain.Account, error) {
	acct, found, err := c.getAccount(ctx, userID)
	if err != nil {
		return domain.Account{}, err
	}
	if found {
		return acct, nil
	}

	created := domain.Account{
		UserID:      userID,
		FreeAnswers: c.freeTrial,
		PaidCredits: 0,
		CreatedAt:   c.now().UTC(),
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                accountItem(created),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			// Another request created the account between our read and write.
			acct, found, err = c.getAccount(ctx, userID)
			if err != nil {
				return domain.Account{}, err
			}
			if !found {
				return domain.Account{}, errors.New("repository: GetOrCreateAccount: account vanished after create race")
			}
			return acct, nil
		}
		return domain.Account{}, fmt.Errorf("repository: GetOrCreateAccount put: %w", err)
	}
	return created, nil
}

func (c *Client) getAccount(ctx context.Context, userID int64) (domain.Account, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skAccount},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("repository: get account: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Account{}, false, nil
	}
	acct, err := itemToAccount(userID, out.Item)
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("repository: decode account: %w", err)
	}
	return acct, true, nil
}

// SetFreeAnswers overwrites the free-answer balance. Callers compute the new
// value; the store applies it verbatim.
func (c *Client) SetFreeAnswers(ctx context.Context, userID int64, n int) error {
	if err := c.setBalanceAttr(ctx, userID, "freeAnswers", n); err != nil {
		return fmt.Errorf("repository: SetFreeAnswers: %w", err)
	}
	return nil
}

// SetPaidCredits overwrites the paid-credit balance.
func (c *Client) SetPaidCredits(ctx context.Context, userID int64, n int) error {
	if err := c.setBalanceAttr(ctx, userID, "paidCredits", n); err != nil {
		return fmt.Errorf("repository: SetPaidCredits: %w", err)
	}
	return nil
}

func (c *Client) setBalanceAttr(ctx context.Context, userID int64, attr string, n int) error {
	if n < 0 {
		return fmt.Errorf("balance %s must not be negative, got %d", attr, n)
	}
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skAccount},
		},
		UpdateExpression:         aws.String("SET #attr = :n"),
		ExpressionAttributeNames: map[string]string{"#attr": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":n": &types.AttributeValueMemberN{Value: strconv.Itoa(n)},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	return err
}

// AppendTurn persists one conversation turn.
func (c *Client) AppendTurn(ctx context.Context, userID int64, role, content string) error {
	turn := domain.Turn{
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: c.now().UTC(),
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                turnItem(turn, c.turnSK(turn.CreatedAt)),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return nil
}

// RecentTurns returns at most limit of the user's newest turns in
// chronological order. The query reads newest-first so the limit keeps the
// most recent context, then reverses before returning.
func (c *Client) RecentTurns(ctx context.Context, userID int64, limit int) ([]domain.Turn, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: RecentTurns query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(userID, item)
		if err != nil {
			return nil, fmt.Errorf("repository: RecentTurns decode: %w", err)
		}
		turns = append(turns, turn)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func accountItem(acct domain.Account) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: userPK(acct.UserID)},
		"SK":          &types.AttributeValueMemberS{Value: skAccount},
		"freeAnswers": &types.AttributeValueMemberN{Value: strconv.Itoa(acct.FreeAnswers)},
		"paidCredits": &types.AttributeValueMemberN{Value: strconv.Itoa(acct.PaidCredits)},
		"createdAt":   &types.AttributeValueMemberS{Value: acct.CreatedAt.Format(time.RFC3339)},
	}
}

func turnItem(turn domain.Turn, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: userPK(turn.UserID)},
		"SK":        &types.AttributeValueMemberS{Value: sk},
		"role":      &types.AttributeValueMemberS{Value: turn.Role},
		"content":   &types.AttributeValueMemberS{Value: turn.Content},
		"createdAt": &types.AttributeValueMemberS{Value: turn.CreatedAt.Format(time.RFC3339Nano)},
	}
}

func itemToAccount(userID int64, item map[string]types.AttributeValue) (domain.Account, error) {
	free, err := intAttr(item, "freeAnswers")
	if err != nil {
		return domain.Account{}, err
	}
	paid, err := intAttr(item, "paidCredits")
	if err != nil {
		return domain.Account{}, err
	}
	createdAt, _ := strAttr(item, "createdAt") // allow missing on legacy items
	ts, _ := time.Parse(time.RFC3339, createdAt)
	return domain.Account{
		UserID:      userID,
		FreeAnswers: free,
		PaidCredits: paid,
		CreatedAt:   ts,
	}, nil
}

func itemToTurn(userID int64, item map[string]types.AttributeValue) (domain.Turn, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Turn{}, err
	}
	createdAt, _ := strAttr(item, "createdAt") // allow empty
	ts, _ := time.Parse(time.RFC3339Nano, createdAt)
	return domain.Turn{
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: ts,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
