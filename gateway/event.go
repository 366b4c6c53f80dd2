package gateway

// EventKind is the kind of a gateway event
type EventKind int

// Gateway events
const (
	EventConnected EventKind = iota + 1
	EventAuthFailed
	EventDisconnected
	EventDispatched
	EventAcked
	EventRequeued
	EventCanceled
	EventAbandoned
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventAuthFailed:
		return "auth_failed"
	case EventDisconnected:
		return "disconnected"
	case EventDispatched:
		return "dispatched"
	case EventAcked:
		return "acked"
	case EventRequeued:
		return "requeued"
	case EventCanceled:
		return "canceled"
	case EventAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Event is emitted to the observer, used for metrics
type Event struct {
	Kind   EventKind
	Worker string
	TaskID string
}
