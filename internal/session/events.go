package session

import "aircast/internal/core/domain"

// EventType identifies what changed in a session controller.
type EventType string

const (
	EventPhaseChanged  EventType = "phase_changed"
	EventCountChanged  EventType = "count_changed"
	EventStatusChanged EventType = "status_changed"
	EventError         EventType = "error"
)

// Event is delivered on a controller's Events channel. The UI layer
// consumes these instead of registering ad hoc callbacks.
type Event struct {
	Type       EventType
	ListenerID domain.ListenerID
	Phase      domain.ConnectionPhase
	Count      int
	Status     string
	Err        error
}

const eventBuffer = 64

// emit delivers ev without blocking the state machine. A slow or absent
// consumer loses events rather than stalling teardown.
func emit(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
	}
}
