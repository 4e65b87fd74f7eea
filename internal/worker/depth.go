package worker

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zachshallbetter/Kinect-Node/internal/types"
)

// CameraIntrinsics are the pinhole parameters used to unproject a depth
// pixel into a 3D point. Values are in the depth sensor's native units.
type CameraIntrinsics struct {
	FX, FY float64
	CX, CY float64
}

// DepthParams configures one call to DepthProcessor.Process. A Sensor
// constructs these once at start and reuses the same value for every frame
// of that kind, so callers are free to share a single *DepthParams across
// frames as long as nothing mutates it concurrently with processing.
type DepthParams struct {
	Width, Height int

	// Reliability filter: depth values outside [MinValid, MaxValid] are
	// treated as invalid (zeroed) before any further processing.
	MinValid uint16
	MaxValid uint16

	Normalize bool
	Gamma     float64 // applied after normalization; 1.0 is a no-op

	ComputePointCloud bool
	Intrinsics        CameraIntrinsics

	Colorize bool
	LUT      []byte // 256 entries of 4 bytes (RGBA); required when Colorize is true
}

// DepthProcessor implements Processor for the depth stream: reliability
// filter, normalization + gamma, optional point-cloud projection, optional
// LUT colorization.
type DepthProcessor struct{}

func (DepthProcessor) Kind() types.StreamKind { return types.KindDepth }

func (DepthProcessor) Process(_ context.Context, frame types.RawFrame, params any) (any, Dimensions, error) {
	p, ok := params.(*DepthParams)
	if !ok {
		return nil, Dimensions{}, fmt.Errorf("depth worker: params must be *DepthParams, got %T", params)
	}

	count := p.Width * p.Height
	if len(frame.Data) < count*2 {
		return nil, Dimensions{}, fmt.Errorf("depth worker: frame has %d bytes, want >= %d for %dx%d", len(frame.Data), count*2, p.Width, p.Height)
	}
	if p.Colorize && len(p.LUT) != 256*4 {
		return nil, Dimensions{}, fmt.Errorf("depth worker: LUT must have 256 RGBA entries, got %d bytes", len(p.LUT))
	}
	if p.ComputePointCloud {
		if p.Intrinsics.FX <= 0 || p.Intrinsics.FY <= 0 {
			return nil, Dimensions{}, fmt.Errorf("depth worker: invalid calibration, focal length must be > 0 (got fx=%v, fy=%v)", p.Intrinsics.FX, p.Intrinsics.FY)
		}
		if math.IsNaN(p.Intrinsics.CX) || math.IsNaN(p.Intrinsics.CY) || math.IsInf(p.Intrinsics.CX, 0) || math.IsInf(p.Intrinsics.CY, 0) {
			return nil, Dimensions{}, fmt.Errorf("depth worker: invalid calibration, principal point must be numeric (got cx=%v, cy=%v)", p.Intrinsics.CX, p.Intrinsics.CY)
		}
	}

	raw := make([]uint16, count)
	for i := 0; i < count; i++ {
		raw[i] = binary.LittleEndian.Uint16(frame.Data[i*2 : i*2+2])
	}

	var minDepth, maxDepth uint16 = math.MaxUint16, 0
	for i, v := range raw {
		if v < p.MinValid || v > p.MaxValid {
			raw[i] = 0
			continue
		}
		if v < minDepth {
			minDepth = v
		}
		if v > maxDepth {
			maxDepth = v
		}
	}
	if maxDepth == 0 {
		minDepth, maxDepth = 0, 0
	}

	processed := make([]float32, count)
	spread := float64(maxDepth) - float64(minDepth)
	gamma := p.Gamma
	if gamma == 0 {
		gamma = 1.0
	}
	for i, v := range raw {
		if v == 0 {
			processed[i] = 0
			continue
		}
		var norm float64
		if p.Normalize {
			if spread > 0 {
				norm = (float64(v) - float64(minDepth)) / spread
			}
		} else {
			norm = float64(v)
		}
		if p.Normalize && gamma != 1.0 && norm > 0 {
			norm = math.Pow(norm, gamma)
		}
		processed[i] = float32(norm)
	}

	payload := &types.DepthPayload{
		Processed: processed,
		Width:     p.Width,
		Height:    p.Height,
		MinDepth:  minDepth,
		MaxDepth:  maxDepth,
	}

	if p.ComputePointCloud {
		payload.PointCloud = unproject(raw, p.Width, p.Height, p.Intrinsics)
	}

	if p.Colorize {
		payload.Colorized = colorize(processed, p.LUT)
	}

	return payload, Dimensions{Width: p.Width, Height: p.Height}, nil
}

// unproject converts valid (non-zero) depth pixels into camera-space 3D
// points using the standard pinhole back-projection. Invalid pixels are
// skipped entirely rather than emitted at the origin, so len(out)/3 is the
// count of valid points, not Width*Height.
func unproject(raw []uint16, width, height int, k CameraIntrinsics) []float32 {
	out := make([]float32, 0, len(raw)*3/4)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			d := raw[y*width+x]
			if d == 0 {
				continue
			}
			z := float64(d)
			wx := (float64(x) - k.CX) * z / k.FX
			wy := (float64(y) - k.CY) * z / k.FY
			out = append(out, float32(wx), float32(wy), float32(z))
		}
	}
	return out
}

// colorize maps each normalized depth value in [0,1] through an 256-entry
// RGBA LUT, producing a Width*Height*4 byte image. Zero (invalid) pixels map
// to LUT index 0 just like any other value — callers that want invalid
// pixels visually distinct should reserve LUT[0] for that purpose.
func colorize(normalized []float32, lut []byte) []byte {
	out := make([]byte, len(normalized)*4)
	for i, v := range normalized {
		idx := int(v * 255)
		if idx < 0 {
			idx = 0
		}
		if idx > 255 {
			idx = 255
		}
		copy(out[i*4:i*4+4], lut[idx*4:idx*4+4])
	}
	return out
}
