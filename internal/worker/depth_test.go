package worker

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/zachshallbetter/Kinect-Node/internal/types"
)

func encodeDepth(values []uint16) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], v)
	}
	return out
}

func TestDepthProcessorFiltersAndNormalizes(t *testing.T) {
	p := &DepthParams{
		Width: 2, Height: 1,
		MinValid: 100, MaxValid: 1000,
		Normalize: true, Gamma: 1.0,
	}
	frame := types.RawFrame{Kind: types.KindDepth, Data: encodeDepth([]uint16{50, 1000})}

	payload, dims, err := (DepthProcessor{}).Process(context.Background(), frame, p)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if dims.Width != 2 || dims.Height != 1 {
		t.Fatalf("dims = %+v", dims)
	}

	dp := payload.(*types.DepthPayload)
	if dp.Processed[0] != 0 {
		t.Fatalf("out-of-range pixel should be filtered to 0, got %v", dp.Processed[0])
	}
	if dp.MinDepth != 1000 || dp.MaxDepth != 1000 {
		t.Fatalf("min/max = %d/%d, want 1000/1000 (only one valid pixel)", dp.MinDepth, dp.MaxDepth)
	}
}

func TestDepthProcessorPointCloudSkipsInvalidPixels(t *testing.T) {
	p := &DepthParams{
		Width: 2, Height: 1,
		MinValid: 1, MaxValid: 65535,
		ComputePointCloud: true,
		Intrinsics:        CameraIntrinsics{FX: 1, FY: 1, CX: 0, CY: 0},
	}
	frame := types.RawFrame{Kind: types.KindDepth, Data: encodeDepth([]uint16{0, 500})}

	payload, _, err := (DepthProcessor{}).Process(context.Background(), frame, p)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	dp := payload.(*types.DepthPayload)
	if len(dp.PointCloud) != 3 {
		t.Fatalf("PointCloud len = %d, want 3 (one valid point)", len(dp.PointCloud))
	}
}

func TestDepthProcessorRejectsWrongParamType(t *testing.T) {
	_, _, err := (DepthProcessor{}).Process(context.Background(), types.RawFrame{}, "wrong")
	if err == nil {
		t.Fatal("expected error for wrong params type")
	}
}

func TestDepthProcessorRejectsShortFrame(t *testing.T) {
	p := &DepthParams{Width: 4, Height: 4}
	_, _, err := (DepthProcessor{}).Process(context.Background(), types.RawFrame{Data: []byte{0, 0}}, p)
	if err == nil {
		t.Fatal("expected error for undersized frame data")
	}
}
