package chord

// Ring update event types
const (
	EventNodeJoin          = "node_join"
	EventNodeLeave         = "node_leave"
	EventStabilization     = "stabilization"
	EventPredecessorChange = "predecessor_change"
	EventNodeFailure       = "node_failure"
)

// RingUpdateBroadcaster is an interface for broadcasting ring updates.
// This allows the ChordNode to notify external systems (like WebSocket clients)
// when the ring topology changes without creating circular dependencies.
type RingUpdateBroadcaster interface {
	// BroadcastRingUpdate sends a ring update notification.
	// The update parameter can be any data structure that will be serialized and sent.
	BroadcastRingUpdate(update any) error
}

// RingUpdateEvent represents a ring topology change event.
type RingUpdateEvent struct {
	Type      string `json:"type"`              // one of the Event* constants
	NodeID    string `json:"node_id"`           // ID of the node that emitted the event
	PeerID    string `json:"peer_id,omitempty"` // ID of the node the event is about, if any
	State     string `json:"state"`             // emitting node's state
	Timestamp int64  `json:"timestamp"`         // Unix timestamp
	Message   string `json:"message"`           // Human-readable message
}
