// Package presence tracks the latest known online/typing status of peers
// over a shared broadcast channel. Records are transient and in-memory;
// each push event wins over whatever was held before (last-writer-wins).
package presence

// Record is one member's presence announcement.
type Record struct {
	UserID     string `json:"user_id"`
	LastSeenAt int64  `json:"last_seen_at"` // unix ms
	TypingTo   string `json:"typing_to,omitempty"`
	Left       bool   `json:"left,omitempty"` // tombstone: member is going away
}

// Entry is a tracked record plus freshness derived at read time.
type Entry struct {
	Record
	Stale bool `json:"stale"`
}
