package memberdao

// Membership records one user's participation in one chat.
// MembershipID is "{chatId}#{userId}".
type Membership struct {
	MembershipID string `dynamodbav:"pk" ddb:"hash"`
	ChatID       string `dynamodbav:"chat_id" ddb:"gsi_hash:ChatIndex"`
	UserID       string `dynamodbav:"user_id" ddb:"gsi_hash:UserIndex"`
	Role         string `dynamodbav:"role,omitempty"`
	JoinedAt     int64  `dynamodbav:"joined_at"`
}
