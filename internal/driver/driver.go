// Package driver defines the boundary between Kinect-Node and the physical
// depth camera: a typed hardware SDK handle, not a network or RTSP source.
// Driver is the seam a Sensor talks to; MockDriver is the synthetic
// implementation used in tests and for running the pipeline without
// hardware attached.
package driver

import (
	"context"
	"fmt"

	"github.com/zachshallbetter/Kinect-Node/internal/types"
)

// LEDState is the device's status LED, set via SetLED.
type LEDState int

const (
	LEDOff LEDState = iota
	LEDGreen
	LEDRed
	LEDYellow
	LEDBlinkGreen
)

func (s LEDState) String() string {
	switch s {
	case LEDOff:
		return "off"
	case LEDGreen:
		return "green"
	case LEDRed:
		return "red"
	case LEDYellow:
		return "yellow"
	case LEDBlinkGreen:
		return "blink_green"
	default:
		return "unknown"
	}
}

// ParseLEDState maps the wire-protocol color name to an LEDState, per the
// enumerated set {off, green, red, yellow, blink_green}.
func ParseLEDState(color string) (LEDState, error) {
	switch color {
	case "off":
		return LEDOff, nil
	case "green":
		return LEDGreen, nil
	case "red":
		return LEDRed, nil
	case "yellow":
		return LEDYellow, nil
	case "blink_green":
		return LEDBlinkGreen, nil
	default:
		return LEDOff, fmt.Errorf("driver: unknown LED color %q", color)
	}
}

// EventType discriminates a driver Event.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
)

// Event is a connection-state notification pushed by the driver, independent
// of any particular stream kind's frame flow.
type Event struct {
	Type      EventType
	Kind      types.StreamKind // zero value when the event is device-wide
	Err       error
	Timestamp int64
}

// Driver is the hardware boundary a Sensor drives. Implementations open one
// channel per requested stream kind (Frames) plus a dedicated channel for
// body tracking (Bodies), since skeletal tracking delivers structured
// records rather than an encoded bitmap.
type Driver interface {
	// Open begins streaming the requested kinds. Open must be called
	// exactly once; calling it again before Close returns an error.
	Open(ctx context.Context, kinds []types.StreamKind) error

	// Close stops streaming and releases the device. Close is idempotent.
	Close() error

	// Frames returns the raw frame channel for kind. kind must be one of
	// KindDepth, KindColor, KindIR — callers asking for KindBody get an
	// error; use Bodies instead.
	Frames(kind types.StreamKind) (<-chan types.RawFrame, error)

	// Bodies returns the skeletal tracking channel. Each receive is the
	// full set of body records observed in one tracking frame (up to the
	// device's per-frame body limit).
	Bodies() (<-chan []types.BodyRecord, error)

	// Events returns the channel connection-state notifications are
	// published on.
	Events() <-chan Event

	SetLED(state LEDState) error
	SetIREmitter(on bool) error
	SetTilt(angleDegrees float64) error
}

// ErrNotOpen is returned by any Driver operation attempted before Open or
// after Close.
var ErrNotOpen = fmt.Errorf("driver: not open")

// ErrAlreadyOpen is returned by Open when called on an already-open Driver.
var ErrAlreadyOpen = fmt.Errorf("driver: already open")

// ErrUnsupportedKind is returned by Frames for a kind the driver does not
// stream through that method (currently just KindBody).
var ErrUnsupportedKind = fmt.Errorf("driver: unsupported kind for Frames; use Bodies")
