// Package types holds the data shapes shared across the capture-to-broadcast
// pipeline: stream kinds, raw and processed frames, and the tagged messages
// that travel between sensors, the synchronizer, and the broadcaster.
package types

// StreamKind identifies one of the four independent camera streams.
type StreamKind string

const (
	KindDepth StreamKind = "depth"
	KindColor StreamKind = "color"
	KindIR    StreamKind = "infrared"
	KindBody  StreamKind = "body"
)

// String satisfies fmt.Stringer so StreamKind prints cleanly in logs.
func (k StreamKind) String() string { return string(k) }

// Valid reports whether k is one of the four known stream kinds.
func (k StreamKind) Valid() bool {
	switch k {
	case KindDepth, KindColor, KindIR, KindBody:
		return true
	default:
		return false
	}
}

// BufferSpec describes the fixed shape of one kind's element buffers: how
// many elements of what width, and the resulting byte size. Specs are static
// per kind and never change for the lifetime of a pool.
type BufferSpec struct {
	Kind          StreamKind
	ElementWidth  int // bytes per element (2 for 16-bit depth/IR, 4 for RGBA)
	ElementCount  int // Width * Height
	ByteSize      int // ElementWidth * ElementCount
}

// NewBufferSpec computes ByteSize from the other fields.
func NewBufferSpec(kind StreamKind, width, height, elementWidth int) BufferSpec {
	count := width * height
	return BufferSpec{
		Kind:         kind,
		ElementWidth: elementWidth,
		ElementCount: count,
		ByteSize:     count * elementWidth,
	}
}

// RawFrame is the opaque byte payload handed from the driver to a Sensor,
// together with the capture timestamp in milliseconds, as reported by the
// driver. MockDriver stamps Unix wall-clock milliseconds
// (time.Now().UnixMilli()), not a monotonic clock reading.
type RawFrame struct {
	Kind      StreamKind
	Data      []byte
	CapturedAtMS int64
}

// ProcessedFrame is the kind-specific artifact a worker returns, plus the
// bookkeeping the Sensor and Supervisor need to emit and route it.
type ProcessedFrame struct {
	Kind          StreamKind
	Seq           uint64
	TraceID       string // monotonic, sortable; see NewTraceID
	CapturedAtMS  int64
	EmittedAtMS   int64
	Width         int
	Height        int
	Payload       any // *DepthPayload | *IRPayload | *ColorPayload | *BodyPayload
	ProcessTimeMS float64
}

// DepthPayload is the depth worker's artifact.
type DepthPayload struct {
	Processed  []float32 // normalized [0,1] (or raw distance if normalization disabled)
	Width      int
	Height     int
	MinDepth   uint16
	MaxDepth   uint16
	PointCloud []float32 // packed (x,y,z) triplets, valid points only; nil if not requested
	Colorized  []byte    // RGBA LUT-mapped bytes; nil if not requested
}

// IRPayload is the infrared worker's artifact.
type IRPayload struct {
	Processed []uint16
	Width     int
	Height    int
	Format    string
}

// ColorPayload is the color worker's artifact.
type ColorPayload struct {
	Processed  []byte
	Width      int
	Height     int
	Format     string
	Compressed bool
}

// BodyPayload is the body worker's artifact: one entry per body record
// present in the input frame (tracked or not).
type BodyPayload struct {
	Bodies    []Body
	Timestamp int64
}

// SyncBundle is what the MultiSourceSynchronizer emits once every required
// kind has a frame inside the configured sync window.
type SyncBundle struct {
	Timestamp  int64
	TraceID    string // monotonic, sortable; see NewTraceID
	Frames     map[StreamKind]RawFrame
	MaxDelayMS int64
}
