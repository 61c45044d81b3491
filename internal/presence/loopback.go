package presence

import (
	"context"
	"sync"

	"github.com/crmoreira/beacon/internal/bus"
)

// announceKind is the bus namespace loopback channels exchange records on.
// It deliberately does not collide with the "presence.sync"/"presence.stale"
// kinds the tracker itself emits.
const announceKind = "presence-wire.announce"

// Loopback is an in-process Channel over the event bus. It is used when no
// NATS URL is configured (single-process deployments) and in tests, where
// several Loopbacks sharing one bus model several clients in a room.
type Loopback struct {
	bus *bus.Bus

	mu      sync.Mutex
	members map[string]Record
	onSync  SyncFunc
	self    Record
	unsub   func()
	cancel  context.CancelFunc
}

// NewLoopback creates a loopback channel on the given bus.
func NewLoopback(b *bus.Bus) *Loopback {
	return &Loopback{
		bus:     b,
		members: make(map[string]Record),
	}
}

// Join subscribes to announcements on the shared bus.
func (l *Loopback) Join(ctx context.Context, onSync SyncFunc) error {
	l.mu.Lock()
	l.onSync = onSync
	l.mu.Unlock()

	ch, unsub := l.bus.Subscribe(announceKind, 64)
	ctx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	l.unsub = unsub
	l.cancel = cancel
	l.mu.Unlock()

	go func() {
		for {
			select {
			case evt := <-ch:
				rec, ok := evt.Payload.(Record)
				if !ok {
					continue
				}
				l.apply(rec)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Announce publishes the record to every joined loopback on the bus.
func (l *Loopback) Announce(_ context.Context, rec Record) error {
	l.mu.Lock()
	l.self = rec
	l.mu.Unlock()

	l.bus.Emit(announceKind, rec)
	return nil
}

// Leave broadcasts a tombstone and stops listening.
func (l *Loopback) Leave() error {
	l.mu.Lock()
	self := l.self
	unsub := l.unsub
	cancel := l.cancel
	l.unsub = nil
	l.cancel = nil
	l.mu.Unlock()

	if self.UserID != "" {
		self.Left = true
		l.bus.Emit(announceKind, self)
	}
	if cancel != nil {
		cancel()
	}
	if unsub != nil {
		unsub()
	}
	return nil
}

func (l *Loopback) apply(rec Record) {
	l.mu.Lock()
	if rec.Left {
		delete(l.members, rec.UserID)
	} else {
		l.members[rec.UserID] = rec
	}
	state := make(map[string]Record, len(l.members))
	for id, r := range l.members {
		state[id] = r
	}
	onSync := l.onSync
	l.mu.Unlock()

	if onSync != nil {
		onSync(state)
	}
}
