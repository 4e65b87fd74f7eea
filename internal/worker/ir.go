package worker

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zachshallbetter/Kinect-Node/internal/types"
)

// IRParams configures one call to IRProcessor.Process.
type IRParams struct {
	Width, Height int
	Gamma         float64 // applied to the [0,1]-normalized value; 1.0/0 is a no-op
	Format        string  // e.g. "gray16"; carried through to IRPayload unchanged
}

// IRProcessor implements Processor for the infrared stream: gamma correction
// only, no filtering or projection.
type IRProcessor struct{}

func (IRProcessor) Kind() types.StreamKind { return types.KindIR }

func (IRProcessor) Process(_ context.Context, frame types.RawFrame, params any) (any, Dimensions, error) {
	p, ok := params.(*IRParams)
	if !ok {
		return nil, Dimensions{}, fmt.Errorf("ir worker: params must be *IRParams, got %T", params)
	}

	count := p.Width * p.Height
	if len(frame.Data) < count*2 {
		return nil, Dimensions{}, fmt.Errorf("ir worker: frame has %d bytes, want >= %d for %dx%d", len(frame.Data), count*2, p.Width, p.Height)
	}

	gamma := p.Gamma
	if gamma == 0 {
		gamma = 1.0
	}

	out := make([]uint16, count)
	for i := 0; i < count; i++ {
		v := binary.LittleEndian.Uint16(frame.Data[i*2 : i*2+2])
		if gamma == 1.0 {
			out[i] = v
			continue
		}
		norm := float64(v) / float64(math.MaxUint16)
		norm = math.Pow(norm, gamma)
		out[i] = uint16(norm * float64(math.MaxUint16))
	}

	return &types.IRPayload{
		Processed: out,
		Width:     p.Width,
		Height:    p.Height,
		Format:    p.Format,
	}, Dimensions{Width: p.Width, Height: p.Height}, nil
}
