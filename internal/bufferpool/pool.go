// Package bufferpool implements a typed, per-stream reusable-buffer
// allocator: a mapping from stream kind to a LIFO free list, grown lazily up
// to a global cap, with buffer identity tracked so a caller cannot release
// something it never acquired.
//
// Acquire returns a Buffer token whose Release method is the only sanctioned way
// back into the free list. Unlike a destructor-based scheme, Release is
// still called explicitly — Go has no Drop — but the token carries its own
// identity so a double-release or a release of an untracked buffer is
// rejected at the call site rather than corrupting pool bookkeeping.
package bufferpool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zachshallbetter/Kinect-Node/internal/types"
)

// Sentinel errors callers branch on, matching the framebus pack's style of
// exported error values rather than typed error structs.
var (
	ErrPoolExhausted   = errors.New("bufferpool: exhausted")
	ErrUntrackedBuffer = errors.New("bufferpool: untracked buffer")
	ErrUnknownKind     = errors.New("bufferpool: unknown stream kind")
	ErrBuffersOutstanding = errors.New("bufferpool: buffers still outstanding")
	ErrBelowInUse      = errors.New("bufferpool: new max below current in-use")
)

// Buffer is a borrowed, fixed-size region owned by exactly one holder at a
// time. Equality is by identity (id), not by content — two Buffers with
// identical bytes are still different tokens.
type Buffer struct {
	id   uint64
	Kind types.StreamKind
	Data []byte
}

// ID returns the buffer's pool-assigned identity, used internally to verify
// release calls. Exposed so callers can log it without exposing Data.
func (b *Buffer) ID() uint64 { return b.id }

// Zero overwrites Data with zero bytes in place, leaving length unchanged.
func (b *Buffer) Zero() {
	for i := range b.Data {
		b.Data[i] = 0
	}
}

// kindPool holds the free list and outstanding set for one stream kind.
type kindPool struct {
	spec        types.BufferSpec
	freeList    []*Buffer          // LIFO: append/pop from the tail
	outstanding map[uint64]*Buffer
	total       int
}

// Pool is the multi-kind buffer allocator. All public methods are safe for
// concurrent use — every operation is atomic with respect to concurrent
// callers.
type Pool struct {
	mu          sync.Mutex
	kinds       map[types.StreamKind]*kindPool
	initialSize int
	expandSize  int
	maxPoolSize int
	nextID      uint64

	// global counters, read by Stats()
	hits, misses, created, released uint64
	peakInUse                       int

	events chan Event
}

// Config configures a new Pool. Specs must declare at least one kind.
type Config struct {
	Specs       map[types.StreamKind]types.BufferSpec
	InitialSize int // buffers pre-allocated per kind at construction
	ExpandSize  int // buffers allocated per growth step, per kind
	MaxPoolSize int // global cap across all kinds
	EventBuffer int // capacity of the Events() channel; 0 means a sane default
}

// New constructs a Pool and pre-allocates InitialSize buffers for each kind
// in cfg.Specs. Construction fails if the initial allocation would already
// exceed MaxPoolSize, or if the configuration is otherwise contradictory:
// contradictory values are construction errors, not runtime surprises.
func New(cfg Config) (*Pool, error) {
	if len(cfg.Specs) == 0 {
		return nil, fmt.Errorf("bufferpool: at least one stream kind must be configured")
	}
	if cfg.InitialSize < 0 || cfg.ExpandSize < 0 || cfg.MaxPoolSize <= 0 {
		return nil, fmt.Errorf("bufferpool: initial_size, expand_size, max_pool_size must be non-negative and max_pool_size > 0")
	}
	if cfg.InitialSize*len(cfg.Specs) > cfg.MaxPoolSize {
		return nil, fmt.Errorf("bufferpool: initial_size (%d) * kinds (%d) exceeds max_pool_size (%d)",
			cfg.InitialSize, len(cfg.Specs), cfg.MaxPoolSize)
	}

	eventBuf := cfg.EventBuffer
	if eventBuf <= 0 {
		eventBuf = 64
	}

	p := &Pool{
		kinds:       make(map[types.StreamKind]*kindPool, len(cfg.Specs)),
		initialSize: cfg.InitialSize,
		expandSize:  cfg.ExpandSize,
		maxPoolSize: cfg.MaxPoolSize,
		events:      make(chan Event, eventBuf),
	}

	for kind, spec := range cfg.Specs {
		p.kinds[kind] = &kindPool{spec: spec, outstanding: make(map[uint64]*Buffer)}
	}
	p.initializeLocked()

	return p, nil
}

// initializeLocked pre-allocates InitialSize buffers per kind. Callers must
// hold p.mu, or call it only from New/Clear before concurrent access starts.
func (p *Pool) initializeLocked() {
	for kind, kp := range p.kinds {
		for i := 0; i < p.initialSize; i++ {
			kp.freeList = append(kp.freeList, p.allocateLocked(kind, kp))
		}
	}
}

// allocateLocked creates one new Buffer for kind, bumping global counters.
// Callers must hold p.mu.
func (p *Pool) allocateLocked(kind types.StreamKind, kp *kindPool) *Buffer {
	p.nextID++
	kp.total++
	p.created++
	return &Buffer{id: p.nextID, Kind: kind, Data: make([]byte, kp.spec.ByteSize)}
}

// totalAllLocked sums buffers across all kinds. Callers must hold p.mu.
func (p *Pool) totalAllLocked() int {
	n := 0
	for _, kp := range p.kinds {
		n += kp.total
	}
	return n
}

// Acquire pops a free Buffer for kind, growing that kind's pool by up to
// ExpandSize (capped by the global max) on a free-list miss. Growth is
// fair per kind: only the requesting kind's pool grows, never another's.
//
// On exhaustion, Acquire emits an EventPoolExhausted event and returns ErrPoolExhausted
// with no buffer; the caller must drop the frame it was acquiring for.
func (p *Pool) Acquire(kind types.StreamKind) (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kp, ok := p.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	if n := len(kp.freeList); n > 0 {
		buf := kp.freeList[n-1]
		kp.freeList = kp.freeList[:n-1]
		kp.outstanding[buf.id] = buf
		p.hits++
		p.trackPeakLocked()
		return buf, nil
	}

	p.misses++

	room := p.maxPoolSize - p.totalAllLocked()
	grow := p.expandSize
	if grow > room {
		grow = room
	}
	if grow <= 0 {
		p.emit(Event{Type: EventPoolExhausted, Kind: kind, Total: kp.total, InUse: len(kp.outstanding)})
		return nil, ErrPoolExhausted
	}

	for i := 0; i < grow; i++ {
		kp.freeList = append(kp.freeList, p.allocateLocked(kind, kp))
	}

	n := len(kp.freeList)
	buf := kp.freeList[n-1]
	kp.freeList = kp.freeList[:n-1]
	kp.outstanding[buf.id] = buf
	p.trackPeakLocked()
	return buf, nil
}

// trackPeakLocked updates the global peak-in-use counter. Callers must hold p.mu.
func (p *Pool) trackPeakLocked() {
	inUse := 0
	for _, kp := range p.kinds {
		inUse += len(kp.outstanding)
	}
	if inUse > p.peakInUse {
		p.peakInUse = inUse
	}
}

// Release returns buf to kind's free list. buf must currently be in that
// kind's outstanding set, or Release reports ErrUntrackedBuffer and leaves
// pool state unchanged — this is the runtime half of the buffer-ownership
// invariant: every acquired Buffer is released exactly once, by the caller
// that acquired it.
//
// zero, when true, wipes the buffer's contents before it rejoins the free
// list. The Sensor releases its frame buffers with zero=false.
func (p *Pool) Release(kind types.StreamKind, buf *Buffer, zero bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	kp, ok := p.kinds[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	if _, tracked := kp.outstanding[buf.id]; !tracked {
		return ErrUntrackedBuffer
	}

	delete(kp.outstanding, buf.id)
	p.released++

	if zero {
		buf.Zero()
	}

	// Free-list buffers above a cap lowered by a concurrent Resize are
	// discarded rather than re-admitted.
	if p.totalAllLocked() <= p.capForKindLocked() {
		kp.freeList = append(kp.freeList, buf)
	} else {
		kp.total--
	}

	p.emit(Event{Type: EventBufferReleased, Kind: kind, Available: len(kp.freeList), InUse: len(kp.outstanding)})
	return nil
}

// capForKindLocked is the cap Release compares the pool-wide total against
// before re-admitting a buffer: the pool-wide max, not a per-kind share.
// headroomLocked is one more than a kind's own total; Release does not use it.
func (p *Pool) capForKindLocked() int { return p.maxPoolSize }
func (p *Pool) headroomLocked(kp *kindPool) int { return kp.total + 1 }

// Resize changes the global cap. It is rejected if newMax is below the
// current total in-use count across all kinds; on success, free-list
// buffers above the new cap are discarded immediately.
func (p *Pool) Resize(newMax int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	inUse := 0
	for _, kp := range p.kinds {
		inUse += len(kp.outstanding)
	}
	if newMax < inUse {
		return ErrBelowInUse
	}

	p.maxPoolSize = newMax

	total := p.totalAllLocked()
	for total > newMax {
		trimmed := false
		for _, kp := range p.kinds {
			if len(kp.freeList) > 0 {
				kp.freeList = kp.freeList[:len(kp.freeList)-1]
				kp.total--
				total--
				trimmed = true
				if total <= newMax {
					break
				}
			}
		}
		if !trimmed {
			break // nothing left to trim; remaining excess is all outstanding
		}
	}

	p.emit(Event{Type: EventPoolResized, Max: newMax, Total: p.totalAllLocked()})
	return nil
}

// Clear rejects while any buffer is outstanding, then re-initializes every
// kind back to InitialSize buffers.
func (p *Pool) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, kp := range p.kinds {
		if len(kp.outstanding) > 0 {
			return ErrBuffersOutstanding
		}
	}

	for _, kp := range p.kinds {
		kp.freeList = nil
		kp.total = 0
	}
	p.initializeLocked()
	return nil
}

// emit sends ev on the events channel without blocking; a full channel
// means nobody is draining events, and dropping rather than blocking the
// pool's hot path is the same backpressure policy the rest of the system
// applies everywhere else.
func (p *Pool) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
	}
}

// Events returns the channel PoolExhausted/BufferReleased/PoolResized
// events are published on. There is exactly one writer: the Pool itself.
func (p *Pool) Events() <-chan Event { return p.events }
