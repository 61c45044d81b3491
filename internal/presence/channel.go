package presence

import "context"

// SyncFunc receives the channel's full reported member state. Implementations
// always deliver complete snapshots, never incremental patches, so a missed
// delivery heals on the next one.
type SyncFunc func(state map[string]Record)

// Channel is the shared broadcast primitive presence rides on. One channel
// is joined per session.
type Channel interface {
	// Join subscribes to the channel. onSync fires on every state change.
	Join(ctx context.Context, onSync SyncFunc) error
	// Announce publishes the local member's record to all subscribers.
	Announce(ctx context.Context, rec Record) error
	// Leave broadcasts a tombstone and unsubscribes.
	Leave() error
}
