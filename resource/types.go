package resource

import "github.com/wippyai/composition/engine"

// Event types for handle lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventAddRef
	EventReleased
	EventDropped
)

func (e EventType) String() string {
	switch e {
	case EventCreated:
		return "created"
	case EventAddRef:
		return "addref"
	case EventReleased:
		return "released"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event represents a handle lifecycle event.
type Event struct {
	Value    any
	Handle   engine.ResourceHandle
	Type     engine.ResourceType
	RefCount uint32
	Kind     EventType
}

// Observer receives notifications about handle lifecycle events.
// Observers run with the table lock held and must not call back into it.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnResourceEvent(e Event) { f(e) }

// Dropper is optionally implemented by values that need cleanup when their
// last reference goes away.
type Dropper interface {
	Drop()
}
