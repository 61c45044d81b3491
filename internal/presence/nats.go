package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSChannel broadcasts presence over a NATS subject tree, one subject
// per member under a shared room prefix. Each subscriber aggregates the
// member records it has observed and hands the tracker a full snapshot on
// every change; converging on already-online peers relies on their
// heartbeat re-announces.
type NATSChannel struct {
	nc     *nats.Conn
	room   string
	logger *zap.Logger

	mu      sync.Mutex
	members map[string]Record
	onSync  SyncFunc
	sub     *nats.Subscription
	self    Record // last announced record, reused for the leave tombstone
}

// NewNATSChannel wraps an established NATS connection. The connection is
// owned by the caller; Leave does not close it.
func NewNATSChannel(nc *nats.Conn, room string, logger *zap.Logger) *NATSChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSChannel{
		nc:      nc,
		room:    room,
		logger:  logger,
		members: make(map[string]Record),
	}
}

func (c *NATSChannel) subject(userID string) string {
	return fmt.Sprintf("presence.%s.%s", c.room, userID)
}

// Join subscribes to every member subject in the room.
func (c *NATSChannel) Join(_ context.Context, onSync SyncFunc) error {
	c.mu.Lock()
	c.onSync = onSync
	c.mu.Unlock()

	sub, err := c.nc.Subscribe(fmt.Sprintf("presence.%s.>", c.room), func(msg *nats.Msg) {
		c.handleUpdate(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe presence room %q: %w", c.room, err)
	}
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
	return nil
}

// Announce publishes the record to the member's subject.
func (c *NATSChannel) Announce(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal presence record: %w", err)
	}
	c.mu.Lock()
	c.self = rec
	c.mu.Unlock()

	if err := c.nc.Publish(c.subject(rec.UserID), data); err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	return nil
}

// Leave broadcasts a tombstone so peers drop the record, then unsubscribes.
func (c *NATSChannel) Leave() error {
	c.mu.Lock()
	self := c.self
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if self.UserID != "" {
		self.Left = true
		if data, err := json.Marshal(self); err == nil {
			if err := c.nc.Publish(c.subject(self.UserID), data); err != nil {
				c.logger.Warn("presence tombstone publish failed", zap.Error(err))
			}
		}
		_ = c.nc.Flush()
	}
	if sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}

// handleUpdate folds one wire record into the member map and delivers a
// full snapshot. Malformed payloads are logged and skipped.
func (c *NATSChannel) handleUpdate(data []byte) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		c.logger.Warn("malformed presence payload", zap.Error(err))
		return
	}
	if rec.UserID == "" {
		return
	}

	c.mu.Lock()
	if rec.Left {
		delete(c.members, rec.UserID)
	} else {
		c.members[rec.UserID] = rec
	}
	state := make(map[string]Record, len(c.members))
	for id, r := range c.members {
		state[id] = r
	}
	onSync := c.onSync
	c.mu.Unlock()

	if onSync != nil {
		onSync(state)
	}
}
