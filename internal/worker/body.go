package worker

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/zachshallbetter/Kinect-Node/internal/types"
)

// BodyParams configures one call to BodyProcessor.Process.
//
// Unlike the depth/IR/color streams, a body frame from the driver is
// already a structured list of per-body joint records, not a flat byte
// buffer — skeletal tracking SDKs hand back positions and states directly,
// never an encoded bitmap. Records therefore carries the input instead of
// frame.Data, which BodyProcessor ignores.
type BodyParams struct {
	Records []types.BodyRecord
	TimestampMS int64

	SmoothingAlpha float64 // exponential smoothing factor in (0,1]; 1.0 disables smoothing
	SnapThreshold  float64 // a joint jump beyond this distance snaps instead of smoothing

	ComputeVelocity     bool
	ComputeCenterOfMass bool
	ComputeAABB         bool
	ComputeConfidence   bool

	DetectGestures bool
	SwipeMinSpeed  float64 // minimum hand speed, in units/sec, to count as a swipe
	SwipeWindowMS  int64   // how far back gesture detection looks at hand history
}

type handSample struct {
	pos types.Vector3
	tMS int64
}

type bodyState struct {
	prevJoints  map[types.JointName]types.Joint
	prevTSMS    int64
	leftWrist   []handSample
	rightWrist  []handSample
}

// BodyProcessor implements Processor for the body stream: exponential joint
// smoothing that snaps to the new reading on a jump beyond SnapThreshold,
// velocity, center of mass, AABB, confidence, and swipe gesture detection.
// Smoothed positions are not clamped to a maximum deviation from the
// previous position.
//
// BodyProcessor is stateful across frames (per TrackingID) and therefore,
// like every Processor, must only ever be driven by one ProcessingWorker
// goroutine at a time.
type BodyProcessor struct {
	mu     sync.Mutex
	tracks map[string]*bodyState

	// gestures accumulates side-channel Gesture messages detected during
	// the most recent Process call; the worker package has no side-channel
	// delivery of its own, so callers read them back via TakeGestures
	// immediately after receiving the corresponding Result.
	gestures []types.Gesture
}

func NewBodyProcessor() *BodyProcessor {
	return &BodyProcessor{tracks: make(map[string]*bodyState)}
}

func (bp *BodyProcessor) Kind() types.StreamKind { return types.KindBody }

// TakeGestures returns and clears the gestures detected during the Process
// call that produced the most recently completed Result. Call it on the
// same goroutine that reads from the worker's Results channel, after
// receiving each Result, to keep gestures correctly associated.
func (bp *BodyProcessor) TakeGestures() []types.Gesture {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	g := bp.gestures
	bp.gestures = nil
	return g
}

func (bp *BodyProcessor) Process(_ context.Context, _ types.RawFrame, params any) (any, Dimensions, error) {
	p, ok := params.(*BodyParams)
	if !ok {
		return nil, Dimensions{}, fmt.Errorf("body worker: params must be *BodyParams, got %T", params)
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	alpha := p.SmoothingAlpha
	if alpha <= 0 || alpha > 1 {
		alpha = 1.0
	}

	bodies := make([]types.Body, 0, len(p.Records))
	seen := make(map[string]bool, len(p.Records))

	for _, rec := range p.Records {
		seen[rec.TrackingID] = true
		st := bp.tracks[rec.TrackingID]
		if st == nil {
			st = &bodyState{}
			bp.tracks[rec.TrackingID] = st
		}

		body := types.Body{
			TrackingID: rec.TrackingID,
			Tracked:    rec.Tracked,
			Joints:     make(map[types.JointName]types.Joint, len(rec.Joints)),
			LeftHand:   rec.LeftHand,
			RightHand:  rec.RightHand,
		}

		for name, joint := range rec.Joints {
			smoothed := joint
			if prev, ok := st.prevJoints[name]; ok {
				dist := joint.Position.Sub(prev.Position)
				jumpDist := math.Sqrt(dist.X*dist.X + dist.Y*dist.Y + dist.Z*dist.Z)
				if p.SnapThreshold > 0 && jumpDist > p.SnapThreshold {
					smoothed.Position = joint.Position // snap: trust the new reading outright
				} else if alpha < 1.0 {
					smoothed.Position = types.Vector3{
						X: prev.Position.X + alpha*(joint.Position.X-prev.Position.X),
						Y: prev.Position.Y + alpha*(joint.Position.Y-prev.Position.Y),
						Z: prev.Position.Z + alpha*(joint.Position.Z-prev.Position.Z),
					}
				}
				pp := prev.Position
				smoothed.PreviousPosition = &pp
			}
			body.Joints[name] = smoothed
		}

		if p.ComputeVelocity && st.prevJoints != nil && p.TimestampMS > st.prevTSMS {
			dtSec := float64(p.TimestampMS-st.prevTSMS) / 1000.0
			vel := make(map[types.JointName]types.Vector3, len(body.Joints))
			for name, joint := range body.Joints {
				if prev, ok := st.prevJoints[name]; ok {
					d := joint.Position.Sub(prev.Position)
					vel[name] = d.Scale(1.0 / dtSec)
				}
			}
			body.Velocities = vel
		}

		if p.ComputeCenterOfMass && len(body.Joints) > 0 {
			sum := types.Vector3{}
			for _, joint := range body.Joints {
				sum = sum.Add(joint.Position)
			}
			com := sum.Scale(1.0 / float64(len(body.Joints)))
			body.CenterOfMass = &com
		}

		if p.ComputeAABB && len(body.Joints) > 0 {
			min := types.Vector3{X: math.MaxFloat64, Y: math.MaxFloat64, Z: math.MaxFloat64}
			max := types.Vector3{X: -math.MaxFloat64, Y: -math.MaxFloat64, Z: -math.MaxFloat64}
			for _, joint := range body.Joints {
				pos := joint.Position
				min.X, max.X = math.Min(min.X, pos.X), math.Max(max.X, pos.X)
				min.Y, max.Y = math.Min(min.Y, pos.Y), math.Max(max.Y, pos.Y)
				min.Z, max.Z = math.Min(min.Z, pos.Z), math.Max(max.Z, pos.Z)
			}
			body.AABBMin, body.AABBMax = &min, &max
		}

		if p.ComputeConfidence && len(body.Joints) > 0 {
			sum := 0.0
			for _, joint := range body.Joints {
				sum += joint.Confidence
			}
			avg := sum / float64(len(body.Joints))
			body.Confidence = &avg
		}

		if p.DetectGestures {
			if lw, ok := body.Joints[types.JointWristLeft]; ok {
				st.leftWrist = appendHandSample(st.leftWrist, lw.Position, p.TimestampMS, p.SwipeWindowMS)
				if name, detected := detectSwipe(st.leftWrist, p.SwipeMinSpeed); detected {
					bp.gestures = append(bp.gestures, types.Gesture{TrackingID: rec.TrackingID, Name: name, Timestamp: p.TimestampMS})
				}
			}
			if rw, ok := body.Joints[types.JointWristRight]; ok {
				st.rightWrist = appendHandSample(st.rightWrist, rw.Position, p.TimestampMS, p.SwipeWindowMS)
				if name, detected := detectSwipe(st.rightWrist, p.SwipeMinSpeed); detected {
					bp.gestures = append(bp.gestures, types.Gesture{TrackingID: rec.TrackingID, Name: name, Timestamp: p.TimestampMS})
				}
			}
		}

		st.prevJoints = body.Joints
		st.prevTSMS = p.TimestampMS

		bodies = append(bodies, body)
	}

	for id := range bp.tracks {
		if !seen[id] {
			delete(bp.tracks, id)
		}
	}

	return &types.BodyPayload{Bodies: bodies, Timestamp: p.TimestampMS}, Dimensions{}, nil
}

// appendHandSample appends a sample and trims samples older than windowMS
// relative to the newest one.
func appendHandSample(history []handSample, pos types.Vector3, tMS, windowMS int64) []handSample {
	history = append(history, handSample{pos: pos, tMS: tMS})
	if windowMS <= 0 {
		return history
	}
	cutoff := tMS - windowMS
	i := 0
	for i < len(history) && history[i].tMS < cutoff {
		i++
	}
	return history[i:]
}

// detectSwipe looks for a dominant, sustained horizontal motion across the
// sample window and classifies it as a left or right swipe once its average
// speed clears minSpeed. It is intentionally simple: a single dimension of
// motion over a bounded window, not a general gesture classifier.
func detectSwipe(history []handSample, minSpeed float64) (string, bool) {
	if len(history) < 2 || minSpeed <= 0 {
		return "", false
	}
	first, last := history[0], history[len(history)-1]
	dtSec := float64(last.tMS-first.tMS) / 1000.0
	if dtSec <= 0 {
		return "", false
	}
	dx := last.pos.X - first.pos.X
	speed := dx / dtSec
	if math.Abs(speed) < minSpeed {
		return "", false
	}
	if speed > 0 {
		return "swipeRight", true
	}
	return "swipeLeft", true
}
