package presencedao

// Presence holds the derived online/offline state for a user. ConnCount is
// the authoritative value, maintained with atomic ADD updates so racing
// connects and disconnects for the same user can never both observe the same
// transition. Online is denormalized from the count for cheap reads.
type Presence struct {
	UserID    string `dynamodbav:"pk" ddb:"hash"`
	ConnCount int64  `dynamodbav:"conn_count"`
	Online    bool   `dynamodbav:"is_online"`
	LastSeen  int64  `dynamodbav:"last_seen"`
}
