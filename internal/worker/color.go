package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/zachshallbetter/Kinect-Node/internal/types"
)

// ColorParams configures one call to ColorProcessor.Process.
type ColorParams struct {
	Width, Height int
	Format        string // carried through to ColorPayload.Format unchanged, e.g. "rgba"
	ForceAlpha    bool   // overwrite every 4th byte (the alpha channel) with 255
	Compress      bool   // attempt zstd compression of the final byte payload
}

// ColorProcessor implements Processor for the color stream: optional alpha
// channel force, optional compression.
//
// Compressed is true only when a zstd stream was actually produced and is
// smaller than the uncompressed input; otherwise the uncompressed payload is
// returned with Compressed=false. A payload is never mislabeled as
// compressed.
type ColorProcessor struct {
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	encErr      error
}

func (cp *ColorProcessor) Kind() types.StreamKind { return types.KindColor }

func (cp *ColorProcessor) Process(_ context.Context, frame types.RawFrame, params any) (any, Dimensions, error) {
	p, ok := params.(*ColorParams)
	if !ok {
		return nil, Dimensions{}, fmt.Errorf("color worker: params must be *ColorParams, got %T", params)
	}

	count := p.Width * p.Height
	if len(frame.Data) != count*4 {
		return nil, Dimensions{}, fmt.Errorf("color worker: frame has %d bytes, want %d for %dx%d RGBA", len(frame.Data), count*4, p.Width, p.Height)
	}

	data := make([]byte, len(frame.Data))
	copy(data, frame.Data)
	format := p.Format

	if p.ForceAlpha {
		for i := 3; i < len(data); i += 4 {
			data[i] = 255
		}
	}

	compressed := false
	if p.Compress {
		out, err := cp.compress(data)
		if err != nil {
			return nil, Dimensions{}, fmt.Errorf("color worker: compress: %w", err)
		}
		if len(out) < len(data) {
			data = out
			compressed = true
		}
	}

	payload := &types.ColorPayload{
		Processed:  data,
		Width:      p.Width,
		Height:     p.Height,
		Format:     format,
		Compressed: compressed,
	}
	return payload, Dimensions{Width: p.Width, Height: p.Height}, nil
}

// compress lazily constructs this worker's zstd encoder and runs it over
// in. The encoder is reused across frames, matching zstd's own guidance
// that encoder construction is comparatively expensive.
func (cp *ColorProcessor) compress(in []byte) ([]byte, error) {
	cp.encoderOnce.Do(func() {
		cp.encoder, cp.encErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	})
	if cp.encErr != nil {
		return nil, cp.encErr
	}
	return cp.encoder.EncodeAll(in, make([]byte, 0, len(in))), nil
}
