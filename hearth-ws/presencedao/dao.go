package presencedao

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// DAO provides access to the per-user presence table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new presence DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Presence{}),
		api:       api,
		tableName: tableName,
	}
}

// Get retrieves the presence record for a user. Returns nil if the user has
// never connected.
func (d *DAO) Get(ctx context.Context, userID string) (*Presence, error) {
	var p Presence
	if err := d.table.Get(userID).ScanWithContext(ctx, &p); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get presence for user %v: %w", userID, err)
	}
	return &p, nil
}

// Increment atomically bumps the user's connection count and returns the new
// count. When the count reaches 1 the online flag is set alongside.
func (d *DAO) Increment(ctx context.Context, userID string, now int64) (int64, error) {
	count, err := d.add(ctx, userID, 1, now, "")
	if err != nil {
		return 0, fmt.Errorf("failed to increment connection count for user %v: %w", userID, err)
	}
	if count == 1 {
		if err := d.setOnline(ctx, userID, true, now); err != nil {
			return count, err
		}
	}
	return count, nil
}

// Decrement atomically lowers the user's connection count and returns the new
// count. The conditional expression refuses to drive the count negative, so a
// duplicate cleanup (disconnect racing a stale-connection prune) is a no-op
// rather than a corrupted counter; a refused decrement returns -1 so callers
// can tell it apart from a genuine drop to zero. When the count reaches 0 the
// online flag is cleared alongside.
func (d *DAO) Decrement(ctx context.Context, userID string, now int64) (int64, error) {
	count, err := d.add(ctx, userID, -1, now, "conn_count >= :one")
	if err != nil {
		if isConditionalCheckFailed(err) {
			return -1, nil
		}
		return 0, fmt.Errorf("failed to decrement connection count for user %v: %w", userID, err)
	}
	if count == 0 {
		if err := d.setOnline(ctx, userID, false, now); err != nil {
			return count, err
		}
	}
	return count, nil
}

// OnlineUsers returns every presence record currently flagged online. The
// scheduled audit job walks this set to find users whose connections have all
// silently died.
func (d *DAO) OnlineUsers(ctx context.Context) ([]Presence, error) {
	var out []Presence
	var parseErr error
	err := d.api.ScanPagesWithContext(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(d.tableName),
		FilterExpression: aws.String("is_online = :true"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":true": {BOOL: aws.Bool(true)},
		},
	}, func(page *dynamodb.ScanOutput, _ bool) bool {
		for _, item := range page.Items {
			var p Presence
			if parseErr = dynamodbattribute.UnmarshalMap(item, &p); parseErr != nil {
				return false
			}
			out = append(out, p)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan online users: %w", err)
	}
	if parseErr != nil {
		return nil, fmt.Errorf("unparseable presence record: %w", parseErr)
	}
	return out, nil
}

// ForceOffline zeroes a user's presence, but only while the count still
// matches the value the caller observed. A connect racing the repair bumps
// the count first and wins; the repair then reports false and changes
// nothing.
func (d *DAO) ForceOffline(ctx context.Context, userID string, observedCount, now int64) (bool, error) {
	_, err := d.api.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"pk": {S: aws.String(userID)},
		},
		UpdateExpression:    aws.String("SET conn_count = :zero, is_online = :false, last_seen = :now"),
		ConditionExpression: aws.String("conn_count = :observed"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":zero":     {N: aws.String("0")},
			":false":    {BOOL: aws.Bool(false)},
			":now":      {N: aws.String(strconv.FormatInt(now, 10))},
			":observed": {N: aws.String(strconv.FormatInt(observedCount, 10))},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to force user %v offline: %w", userID, err)
	}
	return true, nil
}

func (d *DAO) add(ctx context.Context, userID string, delta, now int64, condition string) (int64, error) {
	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"pk": {S: aws.String(userID)},
		},
		UpdateExpression: aws.String("ADD conn_count :delta SET last_seen = :now"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":delta": {N: aws.String(strconv.FormatInt(delta, 10))},
			":now":   {N: aws.String(strconv.FormatInt(now, 10))},
		},
		ReturnValues: aws.String(dynamodb.ReturnValueUpdatedNew),
	}
	if condition != "" {
		input.ConditionExpression = aws.String(condition)
		input.ExpressionAttributeValues[":one"] = &dynamodb.AttributeValue{N: aws.String("1")}
	}

	out, err := d.api.UpdateItemWithContext(ctx, input)
	if err != nil {
		return 0, err
	}

	attr, ok := out.Attributes["conn_count"]
	if !ok || attr.N == nil {
		return 0, fmt.Errorf("update for user %v returned no conn_count", userID)
	}
	count, err := strconv.ParseInt(*attr.N, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable conn_count for user %v: %w", userID, err)
	}
	return count, nil
}

// setOnline writes the denormalized online flag, conditioned on the counter
// still agreeing with the flag being written. A writer that raced past a
// counter change in the other direction fails the condition and changes
// nothing, so the flag never contradicts the count.
func (d *DAO) setOnline(ctx context.Context, userID string, online bool, now int64) error {
	condition := "conn_count = :zero"
	bound := &dynamodb.AttributeValue{N: aws.String("0")}
	key := ":zero"
	if online {
		condition = "conn_count >= :one"
		bound = &dynamodb.AttributeValue{N: aws.String("1")}
		key = ":one"
	}

	_, err := d.api.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"pk": {S: aws.String(userID)},
		},
		UpdateExpression:    aws.String("SET is_online = :online, last_seen = :now"),
		ConditionExpression: aws.String(condition),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":online": {BOOL: aws.Bool(online)},
			":now":    {N: aws.String(strconv.FormatInt(now, 10))},
			key:       bound,
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil
		}
		return fmt.Errorf("failed to set online=%v for user %v: %w", online, userID, err)
	}
	return nil
}

func isConditionalCheckFailed(err error) bool {
	return err != nil && strings.Contains(err.Error(), dynamodb.ErrCodeConditionalCheckFailedException)
}
