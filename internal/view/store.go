// Package view maintains the daemon's in-memory projection of chats and
// groups for the signed-in user. A refresh replaces the snapshot wholesale;
// readers always see either the previous state or the next one, never a mix.
package view

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crmoreira/beacon/internal/auth"
	"github.com/crmoreira/beacon/internal/backend"
	"github.com/crmoreira/beacon/internal/bus"
	"github.com/crmoreira/beacon/internal/chat"
)

// Store holds the current chat and group snapshots. Refreshes come from a
// fixed interval tick plus push invalidation off message events, so a send
// ack shows up without waiting out the poll period.
type Store struct {
	auth     auth.Provider
	db       *backend.DB
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration

	mu     sync.RWMutex
	chats  []chat.Chat
	groups []backend.GroupInfo
}

// NewStore creates a view store. interval is the background poll period.
func NewStore(p auth.Provider, db *backend.DB, b *bus.Bus, interval time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		auth:     p,
		db:       db,
		bus:      b,
		logger:   logger,
		interval: interval,
	}
}

// Start runs the refresh loop until ctx is cancelled. The first refresh of
// both views happens synchronously so a caller observing Start's return can
// already read a populated snapshot.
func (s *Store) Start(ctx context.Context) {
	if err := s.RefreshChats(ctx); err != nil {
		s.logger.Warn("initial chat refresh failed", zap.Error(err))
	}
	if err := s.RefreshGroups(ctx); err != nil {
		s.logger.Warn("initial group refresh failed", zap.Error(err))
	}

	events, unsub := s.bus.Subscribe("message.", 64)
	defer unsub()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RefreshChats(ctx); err != nil {
				s.logger.Warn("chat refresh failed", zap.Error(err))
			}
		case <-events:
			// A message landed or changed state; refresh now instead of
			// waiting out the tick.
			if err := s.RefreshChats(ctx); err != nil {
				s.logger.Warn("chat refresh failed", zap.Error(err))
			}
		}
	}
}

// RefreshChats fetches the user's messages and replaces the chat snapshot.
// Without a signed-in user the refresh is a no-op: existing state stays and
// no error is returned. A fetch failure also keeps the previous snapshot.
func (s *Store) RefreshChats(ctx context.Context) error {
	u, err := s.auth.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			// No user is not a failure; whatever snapshot exists stays.
			return nil
		}
		return fmt.Errorf("resolve user: %w", err)
	}

	msgs, err := s.db.ListMessagesForUser(u.ID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	s.setChats(chat.Project(u.ID, msgs))
	s.bus.Emit(bus.KindChatsUpdated, len(s.Chats()))
	return nil
}

// RefreshGroups fetches the user's group memberships and replaces the group
// snapshot. Same auth and failure semantics as RefreshChats.
func (s *Store) RefreshGroups(ctx context.Context) error {
	u, err := s.auth.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			return nil
		}
		return fmt.Errorf("resolve user: %w", err)
	}

	groups, err := s.db.ListGroupsForUser(u.ID)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}

	s.setGroups(groups)
	s.bus.Emit(bus.KindGroupsUpdated, len(groups))
	return nil
}

// Chats returns a copy of the current chat snapshot.
func (s *Store) Chats() []chat.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chat.Chat(nil), s.chats...)
}

// Groups returns a copy of the current group snapshot.
func (s *Store) Groups() []backend.GroupInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]backend.GroupInfo(nil), s.groups...)
}

func (s *Store) setChats(chats []chat.Chat) {
	s.mu.Lock()
	s.chats = chats
	s.mu.Unlock()
}

func (s *Store) setGroups(groups []backend.GroupInfo) {
	s.mu.Lock()
	s.groups = groups
	s.mu.Unlock()
}
