// Package memberdao provides access to chat membership, the domain context
// broadcasts resolve recipient sets from. The chat service owns writes to
// this table; the realtime subsystem mostly reads it.
package memberdao

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// DAO provides access to the chat membership table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new membership DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Membership{}),
		api:       api,
		tableName: tableName,
	}
}

func membershipID(chatID, userID string) string {
	return chatID + "#" + userID
}

// Put stores a membership record.
func (d *DAO) Put(ctx context.Context, m Membership) error {
	m.MembershipID = membershipID(m.ChatID, m.UserID)
	return d.table.Put(m).RunWithContext(ctx)
}

// Delete removes a membership record.
func (d *DAO) Delete(ctx context.Context, chatID, userID string) error {
	return d.table.Delete(membershipID(chatID, userID)).RunWithContext(ctx)
}

// IsMember reports whether the user participates in the chat.
func (d *DAO) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	var m Membership
	if err := d.table.Get(membershipID(chatID, userID)).ScanWithContext(ctx, &m); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get membership %v/%v: %w", chatID, userID, err)
	}
	return true, nil
}

// Recipients returns the user IDs participating in a chat via the ChatIndex
// GSI.
func (d *DAO) Recipients(ctx context.Context, chatID string) ([]string, error) {
	var members []Membership
	err := d.table.Query("#ChatID = ?", chatID).
		IndexName("ChatIndex").
		FindAllWithContext(ctx, &members)
	if err != nil {
		return nil, fmt.Errorf("failed to query members of chat %v: %w", chatID, err)
	}

	userIDs := make([]string, 0, len(members))
	for _, m := range members {
		userIDs = append(userIDs, m.UserID)
	}
	return userIDs, nil
}

// ChatsForUser returns the chats a user participates in via the UserIndex GSI.
func (d *DAO) ChatsForUser(ctx context.Context, userID string) ([]string, error) {
	var members []Membership
	err := d.table.Query("#UserID = ?", userID).
		IndexName("UserIndex").
		FindAllWithContext(ctx, &members)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats for user %v: %w", userID, err)
	}

	chatIDs := make([]string, 0, len(members))
	for _, m := range members {
		chatIDs = append(chatIDs, m.ChatID)
	}
	return chatIDs, nil
}

// ContactsForUser returns the distinct users who share at least one chat with
// the given user, excluding the user themselves. This is the audience for
// that user's presence transitions.
func (d *DAO) ContactsForUser(ctx context.Context, userID string) ([]string, error) {
	chatIDs, err := d.ChatsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	for _, chatID := range chatIDs {
		recipients, err := d.Recipients(ctx, chatID)
		if err != nil {
			return nil, err
		}
		for _, r := range recipients {
			if r == userID {
				continue
			}
			seen[r] = struct{}{}
		}
	}

	contacts := make([]string, 0, len(seen))
	for c := range seen {
		contacts = append(contacts, c)
	}
	sort.Strings(contacts)
	return contacts, nil
}
