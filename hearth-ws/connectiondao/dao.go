package connectiondao

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// DAO provides access to the WebSocket connections table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new connections DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Connection{}),
		api:       api,
		tableName: tableName,
	}
}

// Put stores a connection record.
func (d *DAO) Put(ctx context.Context, conn Connection) error {
	return d.table.Put(conn).RunWithContext(ctx)
}

// Get retrieves a connection record by ID. Returns nil if the connection is
// not registered.
func (d *DAO) Get(ctx context.Context, connectionID string) (*Connection, error) {
	var conn Connection
	if err := d.table.Get(connectionID).ScanWithContext(ctx, &conn); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get connection %v: %w", connectionID, err)
	}
	return &conn, nil
}

// Delete removes a connection record by ID. Reports whether this call removed
// the record; when a concurrent cleanup already deleted it, the condition
// fails and Delete reports false, so only one caller ever owns the removal.
func (d *DAO) Delete(ctx context.Context, connectionID string) (bool, error) {
	_, err := d.api.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"pk": {S: aws.String(connectionID)},
		},
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete connection %v: %w", connectionID, err)
	}
	return true, nil
}

// QueryByUser returns all live connections owned by a user via the UserIndex
// GSI. This is the user -> connections index the broadcaster resolves
// recipients against.
func (d *DAO) QueryByUser(ctx context.Context, userID string) ([]Connection, error) {
	var conns []Connection
	err := d.table.Query("#UserID = ?", userID).
		IndexName("UserIndex").
		FindAllWithContext(ctx, &conns)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections for user %v: %w", userID, err)
	}
	return conns, nil
}

// Touch updates the last-seen timestamp of a connection. The condition keeps
// a late touch from resurrecting a connection that has already been removed.
func (d *DAO) Touch(ctx context.Context, connectionID string, lastSeen int64) error {
	_, err := d.api.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"pk": {S: aws.String(connectionID)},
		},
		UpdateExpression:    aws.String("SET last_seen_at = :now"),
		ConditionExpression: aws.String("attribute_exists(pk)"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":now": {N: aws.String(fmt.Sprintf("%d", lastSeen))},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil
		}
		return fmt.Errorf("failed to touch connection %v: %w", connectionID, err)
	}
	return nil
}

// AddSubscription records a chat the connection has expressed interest in.
// The set is informational; recipient resolution happens against chat
// membership, not this field.
func (d *DAO) AddSubscription(ctx context.Context, connectionID, chatID string) error {
	_, err := d.api.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"pk": {S: aws.String(connectionID)},
		},
		UpdateExpression:    aws.String("ADD subscriptions :chat"),
		ConditionExpression: aws.String("attribute_exists(pk)"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":chat": {SS: []*string{aws.String(chatID)}},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil
		}
		return fmt.Errorf("failed to add subscription %v to connection %v: %w", chatID, connectionID, err)
	}
	return nil
}

func isConditionalCheckFailed(err error) bool {
	return err != nil && strings.Contains(err.Error(), dynamodb.ErrCodeConditionalCheckFailedException)
}
