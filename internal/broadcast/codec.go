package broadcast

import "github.com/bytedance/sonic"

// codec wraps sonic's marshal/unmarshal so the rest of this package depends
// on a narrow interface rather than the library directly, matching
// DrBlury-protoflow's internal/runtime/jsoncodec seam.
type codec struct{}

func (codec) Marshal(v any) ([]byte, error)      { return sonic.Marshal(v) }
func (codec) Unmarshal(data []byte, v any) error { return sonic.Unmarshal(data, v) }

var defaultCodec = codec{}

func frameToWire(kind string, seq uint64, traceID string, capturedAtMS, emittedAtMS int64, width, height int, payload any, processTimeMS float64) FrameWire {
	return FrameWire{
		Kind:          kind,
		Seq:           seq,
		TraceID:       traceID,
		CapturedAtMS:  capturedAtMS,
		EmittedAtMS:   emittedAtMS,
		Width:         width,
		Height:        height,
		Payload:       payload,
		ProcessTimeMS: processTimeMS,
	}
}
