package worker

import (
	"context"
	"testing"

	"github.com/zachshallbetter/Kinect-Node/internal/types"
)

func TestBodyProcessorSmoothsAndComputesDerived(t *testing.T) {
	bp := NewBodyProcessor()

	rec := func(x float64) types.BodyRecord {
		return types.BodyRecord{
			TrackingID: "body-1",
			Tracked:    true,
			Joints: map[types.JointName]types.Joint{
				types.JointHead:      {Position: types.Vector3{X: x, Y: 1, Z: 1}, TrackingState: types.TrackingTracked, Confidence: 0.9},
				types.JointSpineBase: {Position: types.Vector3{X: x, Y: 0, Z: 1}, TrackingState: types.TrackingTracked, Confidence: 0.8},
			},
		}
	}

	p1 := &BodyParams{
		Records: []types.BodyRecord{rec(0)}, TimestampMS: 0,
		SmoothingAlpha: 0.5, ComputeVelocity: true, ComputeCenterOfMass: true,
		ComputeAABB: true, ComputeConfidence: true,
	}
	payload1, _, err := bp.Process(context.Background(), types.RawFrame{}, p1)
	if err != nil {
		t.Fatalf("Process (frame 1): %v", err)
	}
	bodies1 := payload1.(*types.BodyPayload).Bodies
	if len(bodies1) != 1 {
		t.Fatalf("len(bodies) = %d, want 1", len(bodies1))
	}
	if bodies1[0].Velocities != nil {
		t.Fatal("no velocity expected on the first frame for a track (no previous sample)")
	}

	p2 := &BodyParams{
		Records: []types.BodyRecord{rec(1)}, TimestampMS: 1000,
		SmoothingAlpha: 0.5, ComputeVelocity: true, ComputeCenterOfMass: true,
		ComputeAABB: true, ComputeConfidence: true,
	}
	payload2, _, err := bp.Process(context.Background(), types.RawFrame{}, p2)
	if err != nil {
		t.Fatalf("Process (frame 2): %v", err)
	}
	body2 := payload2.(*types.BodyPayload).Bodies[0]

	head := body2.Joints[types.JointHead]
	if head.Position.X <= 0 || head.Position.X >= 1 {
		t.Fatalf("smoothed X = %v, want strictly between 0 and 1", head.Position.X)
	}
	if body2.Velocities == nil {
		t.Fatal("expected velocities on the second frame")
	}
	if body2.CenterOfMass == nil || body2.AABBMin == nil || body2.AABBMax == nil || body2.Confidence == nil {
		t.Fatal("expected center of mass, AABB, and confidence to be populated")
	}
}

func TestBodyProcessorSnapsOnLargeJump(t *testing.T) {
	bp := NewBodyProcessor()

	mkRecord := func(x float64) types.BodyRecord {
		return types.BodyRecord{
			TrackingID: "body-1",
			Joints: map[types.JointName]types.Joint{
				types.JointHead: {Position: types.Vector3{X: x}, TrackingState: types.TrackingTracked},
			},
		}
	}

	p1 := &BodyParams{Records: []types.BodyRecord{mkRecord(0)}, TimestampMS: 0, SmoothingAlpha: 0.1, SnapThreshold: 1.0}
	if _, _, err := bp.Process(context.Background(), types.RawFrame{}, p1); err != nil {
		t.Fatalf("Process (frame 1): %v", err)
	}

	p2 := &BodyParams{Records: []types.BodyRecord{mkRecord(100)}, TimestampMS: 10, SmoothingAlpha: 0.1, SnapThreshold: 1.0}
	payload, _, err := bp.Process(context.Background(), types.RawFrame{}, p2)
	if err != nil {
		t.Fatalf("Process (frame 2): %v", err)
	}
	head := payload.(*types.BodyPayload).Bodies[0].Joints[types.JointHead]
	if head.Position.X != 100 {
		t.Fatalf("expected a snap to the raw reading (100), got %v", head.Position.X)
	}
}

func TestBodyProcessorDropsStaleTracks(t *testing.T) {
	bp := NewBodyProcessor()

	rec1 := types.BodyRecord{TrackingID: "a", Joints: map[types.JointName]types.Joint{}}
	if _, _, err := bp.Process(context.Background(), types.RawFrame{}, &BodyParams{Records: []types.BodyRecord{rec1}, TimestampMS: 0}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, ok := bp.tracks["a"]; !ok {
		t.Fatal("expected track \"a\" to be present after its first frame")
	}

	if _, _, err := bp.Process(context.Background(), types.RawFrame{}, &BodyParams{Records: nil, TimestampMS: 1}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, ok := bp.tracks["a"]; ok {
		t.Fatal("expected track \"a\" to be dropped once absent from a frame")
	}
}
