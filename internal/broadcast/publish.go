package broadcast

import (
	"github.com/zachshallbetter/Kinect-Node/internal/types"
)

// Publish translates one internal PipelineMessage into its wire shape and
// fans it out. This is the only place types.PipelineMessage crosses into the
// wire format, keeping the rest of the package free of the pipeline's
// internal types.
func (b *Broadcaster) Publish(pm types.PipelineMessage) {
	switch pm.Type {
	case types.MessageFrame:
		if pm.Frame == nil {
			return
		}
		fw := frameToWire(string(pm.Frame.Kind), pm.Frame.Seq, pm.Frame.TraceID, pm.Frame.CapturedAtMS, pm.Frame.EmittedAtMS,
			pm.Frame.Width, pm.Frame.Height, pm.Frame.Payload, pm.Frame.ProcessTimeMS)
		b.Broadcast(OutboundMessage{Type: OutFrame, Frame: &fw})

	case types.MessageSync:
		if pm.Bundle == nil {
			return
		}
		frames := make(map[string]FrameWire, len(pm.Bundle.Frames))
		for kind, raw := range pm.Bundle.Frames {
			frames[string(kind)] = FrameWire{Kind: string(kind), CapturedAtMS: raw.CapturedAtMS}
		}
		b.Broadcast(OutboundMessage{Type: OutFrameSync, Sync: &SyncBundleWire{
			Timestamp:  pm.Bundle.Timestamp,
			TraceID:    pm.Bundle.TraceID,
			Frames:     frames,
			MaxDelayMS: pm.Bundle.MaxDelayMS,
		}})

	case types.MessageMovement:
		if pm.Movement == nil {
			return
		}
		vel := make(map[string]Vector3Wire, len(pm.Movement.Velocities))
		for joint, v := range pm.Movement.Velocities {
			vel[string(joint)] = Vector3Wire{X: v.X, Y: v.Y, Z: v.Z}
		}
		b.Broadcast(OutboundMessage{Type: OutMovement, Movement: &MovementWire{
			TrackingID: pm.Movement.TrackingID,
			Velocities: vel,
			Timestamp:  pm.Movement.Timestamp,
		}})

	case types.MessageGesture:
		if pm.Gesture == nil {
			return
		}
		b.Broadcast(OutboundMessage{Type: OutGesture, Gesture: &GestureWire{
			TrackingID: pm.Gesture.TrackingID,
			Name:       pm.Gesture.Name,
			Timestamp:  pm.Gesture.Timestamp,
		}})

	case types.MessageStats:
		b.Broadcast(OutboundMessage{Type: OutStats, Stats: pm.Stats})

	case types.MessageError:
		errText := ""
		if pm.Err != nil {
			errText = pm.Err.Error()
		}
		b.Broadcast(OutboundMessage{Type: OutError, Error: errText})
	}
}
