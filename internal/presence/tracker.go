package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crmoreira/beacon/internal/bus"
	"go.uber.org/zap"
)

// Tracker reflects the latest known status of other users. It is fed full
// snapshots by the channel and replaces its map wholesale on each one, so
// no stale keys survive a sync. Records silent for longer than staleAfter
// are reported stale instead of being dropped; absence of events is never
// interpreted as offline.
type Tracker struct {
	selfID     string
	channel    Channel
	bus        *bus.Bus
	logger     *zap.Logger
	staleAfter time.Duration
	now        func() time.Time

	mu       sync.RWMutex
	records  map[string]Record
	reported map[string]bool // ids already reported stale
	typingTo string          // own current typing target, carried by heartbeats

	cancel context.CancelFunc
}

// NewTracker creates a tracker for the given local user.
func NewTracker(selfID string, ch Channel, b *bus.Bus, staleAfter time.Duration, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		selfID:     selfID,
		channel:    ch,
		bus:        b,
		logger:     logger,
		staleAfter: staleAfter,
		now:        time.Now,
		records:    make(map[string]Record),
		reported:   make(map[string]bool),
	}
}

// Start joins the channel, announces the local user online, and runs the
// heartbeat/staleness sweep until the context is cancelled.
func (t *Tracker) Start(ctx context.Context) error {
	if err := t.channel.Join(ctx, t.applySync); err != nil {
		return err
	}
	if err := t.AnnounceSelf(ctx, ""); err != nil {
		// Announce failure leaves peers blind to us but receiving still works.
		t.logger.Warn("initial presence announce failed", zap.Error(err))
	}

	ctx, t.cancel = context.WithCancel(ctx)
	go t.loop(ctx)
	return nil
}

// Stop broadcasts a leave tombstone and detaches from the channel.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	if err := t.channel.Leave(); err != nil {
		t.logger.Warn("presence leave failed", zap.Error(err))
	}
}

// SetSelf updates the local user id. Must be called before Start when the
// user was not known at construction time.
func (t *Tracker) SetSelf(userID string) {
	t.mu.Lock()
	t.selfID = userID
	t.mu.Unlock()
}

// AnnounceSelf publishes the local user's record with the given typing
// target ("" clears the flag). Called on start and on typing changes; the
// heartbeat re-announces with the last target.
func (t *Tracker) AnnounceSelf(ctx context.Context, typingTo string) error {
	t.mu.Lock()
	t.typingTo = typingTo
	self := t.selfID
	t.mu.Unlock()

	return t.channel.Announce(ctx, Record{
		UserID:     self,
		LastSeenAt: t.now().UnixMilli(),
		TypingTo:   typingTo,
	})
}

// Get returns the entry for a user and whether one is tracked.
func (t *Tracker) Get(userID string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[userID]
	if !ok {
		return Entry{}, false
	}
	return Entry{Record: rec, Stale: t.isStale(rec)}, true
}

// Snapshot returns all tracked entries ordered by user id.
func (t *Tracker) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]Entry, 0, len(t.records))
	for _, rec := range t.records {
		entries = append(entries, Entry{Record: rec, Stale: t.isStale(rec)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return entries
}

// applySync replaces the whole map with the channel's reported state.
// The local user's own record is not tracked.
func (t *Tracker) applySync(state map[string]Record) {
	t.mu.Lock()
	fresh := make(map[string]Record, len(state))
	for id, rec := range state {
		if id == "" || id == t.selfID {
			continue
		}
		fresh[id] = rec
	}
	t.records = fresh
	// Forget stale reports for users no longer present or seen again.
	for id := range t.reported {
		rec, ok := fresh[id]
		if !ok || !t.isStale(rec) {
			delete(t.reported, id)
		}
	}
	n := len(fresh)
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Emit(bus.KindPresenceSync, n)
	}
}

func (t *Tracker) loop(ctx context.Context) {
	interval := t.staleAfter / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.heartbeat(ctx)
			t.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) heartbeat(ctx context.Context) {
	t.mu.RLock()
	typingTo := t.typingTo
	t.mu.RUnlock()

	if err := t.AnnounceSelf(ctx, typingTo); err != nil {
		t.logger.Warn("presence heartbeat failed", zap.Error(err))
	}
}

// sweep reports records that crossed the staleness threshold since the
// last pass. Stale records stay in the map; they are flagged, not evicted.
func (t *Tracker) sweep() {
	var newlyStale []string

	t.mu.Lock()
	for id, rec := range t.records {
		if t.isStale(rec) && !t.reported[id] {
			t.reported[id] = true
			newlyStale = append(newlyStale, id)
		}
	}
	t.mu.Unlock()

	for _, id := range newlyStale {
		t.logger.Info("peer presence went stale", zap.String("user", id))
		if t.bus != nil {
			t.bus.Emit(bus.KindPresenceStale, id)
		}
	}
}

// isStale is called with t.mu held.
func (t *Tracker) isStale(rec Record) bool {
	return t.now().UnixMilli()-rec.LastSeenAt > t.staleAfter.Milliseconds()
}
