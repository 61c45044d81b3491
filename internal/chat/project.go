// Package chat projects a flat direct-message list into per-counterparty
// conversations. Projection is pure: same input, same output, no hidden
// state, and no message is dropped or duplicated.
package chat

import "github.com/crmoreira/beacon/internal/backend"

// Chat is the projected view of one conversation. It is derived on every
// refresh and never persisted.
type Chat struct {
	PeerID      string
	Messages    []backend.Message // newest first, as fetched
	LastMessage backend.Message
	UnreadCount int
}

// Project folds a newest-first message list into one Chat per distinct
// counterparty. Chats are ordered by the recency of their newest message,
// which equals first-appearance order in the input. Grouping is stable, so
// ties in created_at keep the backend's return order.
func Project(selfID string, msgs []backend.Message) []Chat {
	byPeer := make(map[string]int, len(msgs))
	var chats []Chat

	for _, m := range msgs {
		peer := m.SenderID
		if m.SenderID == selfID {
			peer = m.ReceiverID
		}

		idx, ok := byPeer[peer]
		if !ok {
			idx = len(chats)
			byPeer[peer] = idx
			// The head of a group is its newest message.
			chats = append(chats, Chat{PeerID: peer, LastMessage: m})
		}

		c := &chats[idx]
		c.Messages = append(c.Messages, m)
		if m.ReceiverID == selfID && !m.Read {
			c.UnreadCount++
		}
	}

	return chats
}

// Find returns the chat for the given counterparty, or nil.
func Find(chats []Chat, peerID string) *Chat {
	for i := range chats {
		if chats[i].PeerID == peerID {
			return &chats[i]
		}
	}
	return nil
}

// TotalUnread sums unread counts across all chats.
func TotalUnread(chats []Chat) int {
	total := 0
	for _, c := range chats {
		total += c.UnreadCount
	}
	return total
}
