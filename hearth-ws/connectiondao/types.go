package connectiondao

import (
	"time"

	"github.com/savaki/ddb"
)

// Connection represents one live WebSocket session stored in DynamoDB.
// DisplayName and Role are snapshots of the identity taken at connect time so
// broadcasts can be enriched without re-querying the identity provider.
type Connection struct {
	ConnectionID  string        `dynamodbav:"pk" ddb:"hash"`
	UserID        string        `dynamodbav:"user_id" ddb:"gsi_hash:UserIndex"`
	DisplayName   string        `dynamodbav:"display_name"`
	Role          string        `dynamodbav:"role"`
	Endpoint      string        `dynamodbav:"endpoint"`
	ConnectedAt   int64         `dynamodbav:"connected_at"`
	LastSeenAt    int64         `dynamodbav:"last_seen_at"`
	Subscriptions ddb.StringSet `dynamodbav:"subscriptions,omitempty"`
	TTL           int64         `dynamodbav:"ttl"`
}

// Expired reports whether the record has outlived its TTL. Deletion of an
// expired record is attributed to the table's TTL reaper, so presence
// accounting for it belongs to the stream consumer, not the deleting caller.
func (c Connection) Expired(now time.Time) bool {
	return c.TTL > 0 && c.TTL <= now.Unix()
}
