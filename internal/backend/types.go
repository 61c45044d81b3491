package backend

// Message is a direct message between two users. Immutable once created
// except for the read flag, which only the receiver's session sets.
type Message struct {
	ID         int64
	MsgID      string
	SenderID   string
	ReceiverID string
	Body       string
	Read       bool
	CreatedAt  int64
	ExpiresAt  int64 // unix ms; 0 = never expires
}

// Group is a group thread the user belongs to.
type Group struct {
	ID          string
	Name        string
	Description string
	ImageURL    string
	OwnerID     string
	CreatedAt   int64
}

// GroupInfo is a group with its derived member count.
type GroupInfo struct {
	Group
	MemberCount int
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ReceiverID   string
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
}
