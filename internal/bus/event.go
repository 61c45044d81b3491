package bus

import "time"

// Event kinds published by the daemon. Subscribers filter by namespace
// prefix, so "message." matches every message event.
const (
	KindMessageUpserted   = "message.upserted"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"
	KindChatsUpdated      = "view.chats_updated"
	KindGroupsUpdated     = "view.groups_updated"
	KindPresenceSync      = "presence.sync"
	KindPresenceStale     = "presence.stale"
	KindStatusChanged     = "session.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
