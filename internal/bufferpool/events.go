package bufferpool

import "github.com/zachshallbetter/Kinect-Node/internal/types"

// EventType discriminates an Event published on Pool.Events().
type EventType string

const (
	EventPoolExhausted  EventType = "poolExhausted"
	EventBufferReleased EventType = "bufferReleased"
	EventPoolResized    EventType = "poolResized"
)

// Event is a point-in-time observation published by the Pool. Fields not
// relevant to Type are left at their zero value; callers switch on Type
// before reading anything else.
type Event struct {
	Type EventType

	Kind      types.StreamKind // EventPoolExhausted, EventBufferReleased
	Total     int              // EventPoolExhausted, EventPoolResized
	InUse     int              // EventPoolExhausted, EventBufferReleased
	Available int              // EventBufferReleased
	Max       int              // EventPoolResized
}
