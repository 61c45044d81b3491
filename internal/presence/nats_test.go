package presence

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"
)

// The aggregation logic is exercised directly against the wire payloads;
// the NATS connection itself is owned by the daemon and not needed here.
func newOfflineNATSChannel() *NATSChannel {
	return &NATSChannel{
		logger:  zap.NewNop(),
		room:    "lobby",
		members: make(map[string]Record),
	}
}

func mustMarshal(t *testing.T, rec Record) []byte {
	t.Helper()
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestHandleUpdateAggregatesSnapshots(t *testing.T) {
	c := newOfflineNATSChannel()

	var last map[string]Record
	c.onSync = func(state map[string]Record) { last = state }

	c.handleUpdate(mustMarshal(t, Record{UserID: "a", LastSeenAt: 1000}))
	c.handleUpdate(mustMarshal(t, Record{UserID: "b", LastSeenAt: 2000}))

	if len(last) != 2 {
		t.Fatalf("snapshot has %d members, want 2", len(last))
	}

	// A newer record for the same member replaces the old one wholesale.
	c.handleUpdate(mustMarshal(t, Record{UserID: "a", LastSeenAt: 3000, TypingTo: "b"}))
	if last["a"].LastSeenAt != 3000 || last["a"].TypingTo != "b" {
		t.Errorf("member a = %+v, want last_seen=3000 typing_to=b", last["a"])
	}
}

func TestHandleUpdateTombstoneRemovesMember(t *testing.T) {
	c := newOfflineNATSChannel()

	var last map[string]Record
	c.onSync = func(state map[string]Record) { last = state }

	c.handleUpdate(mustMarshal(t, Record{UserID: "a", LastSeenAt: 1000}))
	c.handleUpdate(mustMarshal(t, Record{UserID: "a", LastSeenAt: 2000, Left: true}))

	if len(last) != 0 {
		t.Errorf("snapshot = %v, want empty after tombstone", last)
	}
}

func TestHandleUpdateSkipsMalformedPayload(t *testing.T) {
	c := newOfflineNATSChannel()

	called := false
	c.onSync = func(map[string]Record) { called = true }

	c.handleUpdate([]byte("{not json"))
	c.handleUpdate([]byte(`{"last_seen_at": 1}`)) // no user id

	if called {
		t.Error("onSync fired for a payload that should be dropped")
	}
}

func TestSubjectLayout(t *testing.T) {
	c := newOfflineNATSChannel()
	if got := c.subject("u1"); got != "presence.lobby.u1" {
		t.Errorf("subject = %q, want presence.lobby.u1", got)
	}
}
