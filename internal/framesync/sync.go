// Package framesync implements the MultiSourceSynchronizer: it aligns raw
// frames from multiple stream kinds into SyncBundles, using a sliding time
// window to decide which frames count as "the same moment" and a drop_after
// horizon to discard frames too stale to ever be matched.
//
// The windowed-aggregation shape — track the latest arrival per source,
// emit once every required source has reported inside the window, drop
// what ages out — generalizes a publish/subscribe bookkeeping pattern from
// "fan a frame out to N subscribers" to "fan N sources in to one matched
// bundle."
package framesync

import (
	"fmt"
	"sync"

	"github.com/zachshallbetter/Kinect-Node/internal/types"
)

// Config configures a MultiSourceSynchronizer.
type Config struct {
	RequiredKinds []types.StreamKind
	SyncWindowMS  int64 // max allowed spread between the newest and oldest matched frame
	DropAfterMS   int64 // a frame older than this, relative to the newest candidate, is discarded unmatched
	BufferSize    int   // max unmatched frames retained per kind before the oldest is dropped
}

func (c Config) withDefaults() Config {
	if c.SyncWindowMS <= 0 {
		c.SyncWindowMS = 50
	}
	if c.DropAfterMS <= 0 {
		c.DropAfterMS = 500
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 4
	}
	return c
}

// Stats is a snapshot of synchronizer counters.
type Stats struct {
	Synced         uint64
	Dropped        uint64
	BufferOverflow uint64
	LastSyncDelayMS int64
}

// EventType discriminates an Event published on Events().
type EventType string

const (
	EventBufferOverflow EventType = "bufferOverflow"
	EventDropAfter      EventType = "dropAfter"
)

// Event is a non-bundle notification from the synchronizer.
type Event struct {
	Type EventType
	Kind types.StreamKind
}

// MultiSourceSynchronizer aligns frames from RequiredKinds into SyncBundles.
type MultiSourceSynchronizer struct {
	cfg Config

	mu    sync.Mutex
	slots map[types.StreamKind][]types.RawFrame
	stats Stats

	bundles chan types.SyncBundle
	events  chan Event
}

// New constructs a MultiSourceSynchronizer. At least one required kind must
// be configured; construction fails otherwise.
func New(cfg Config) (*MultiSourceSynchronizer, error) {
	if len(cfg.RequiredKinds) == 0 {
		return nil, fmt.Errorf("framesync: at least one required kind must be configured")
	}
	cfg = cfg.withDefaults()
	slots := make(map[types.StreamKind][]types.RawFrame, len(cfg.RequiredKinds))
	for _, k := range cfg.RequiredKinds {
		slots[k] = nil
	}
	return &MultiSourceSynchronizer{
		cfg:     cfg,
		slots:   slots,
		bundles: make(chan types.SyncBundle, 8),
		events:  make(chan Event, 16),
	}, nil
}

// Bundles returns the channel matched SyncBundles are published on.
func (s *MultiSourceSynchronizer) Bundles() <-chan types.SyncBundle { return s.bundles }

// Events returns the channel buffer-overflow/drop-after notifications are
// published on.
func (s *MultiSourceSynchronizer) Events() <-chan Event { return s.events }

// Push submits one raw frame from one stream kind. It is a no-op if kind is
// not in the synchronizer's RequiredKinds.
func (s *MultiSourceSynchronizer) Push(frame types.RawFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slots[frame.Kind]; !ok {
		return
	}

	slot := append(s.slots[frame.Kind], frame)
	if len(slot) > s.cfg.BufferSize {
		slot = slot[len(slot)-s.cfg.BufferSize:]
		s.stats.BufferOverflow++
		s.emitEvent(Event{Type: EventBufferOverflow, Kind: frame.Kind})
	}
	s.slots[frame.Kind] = slot

	s.tryEmit()
}

// tryEmit repeatedly matches and emits bundles, or drops stale frames, until
// neither is possible. Callers must hold s.mu.
func (s *MultiSourceSynchronizer) tryEmit() {
	for {
		latest, minTS, maxTS, ready := s.latestPerKindLocked()
		if !ready {
			return
		}

		if maxTS-minTS <= s.cfg.SyncWindowMS {
			bundle := types.SyncBundle{
				Timestamp:  maxTS,
				TraceID:    types.NewTraceID(),
				Frames:     latest,
				MaxDelayMS: maxTS - minTS,
			}
			for kind := range latest {
				slot := s.slots[kind]
				s.slots[kind] = slot[:len(slot)-1]
			}
			s.stats.Synced++
			s.stats.LastSyncDelayMS = bundle.MaxDelayMS
			s.emitBundle(bundle)
			continue
		}

		if maxTS-minTS > s.cfg.DropAfterMS {
			// Drop the kind holding the oldest candidate; it is not going
			// to get closer to the others by waiting longer.
			var staleKind types.StreamKind
			for kind, frame := range latest {
				if frame.CapturedAtMS == minTS {
					staleKind = kind
					break
				}
			}
			slot := s.slots[staleKind]
			s.slots[staleKind] = slot[:len(slot)-1]
			s.stats.Dropped++
			s.emitEvent(Event{Type: EventDropAfter, Kind: staleKind})
			continue
		}

		return // within drop_after but outside sync_window: wait for more data
	}
}

// latestPerKindLocked returns the most recent pending frame for every
// required kind, along with the min/max of their CapturedAtMS, and whether
// every required kind currently has at least one pending frame. Callers
// must hold s.mu.
func (s *MultiSourceSynchronizer) latestPerKindLocked() (map[types.StreamKind]types.RawFrame, int64, int64, bool) {
	latest := make(map[types.StreamKind]types.RawFrame, len(s.slots))
	var minTS, maxTS int64
	first := true

	for kind, slot := range s.slots {
		if len(slot) == 0 {
			return nil, 0, 0, false
		}
		frame := slot[len(slot)-1]
		latest[kind] = frame
		if first {
			minTS, maxTS = frame.CapturedAtMS, frame.CapturedAtMS
			first = false
			continue
		}
		if frame.CapturedAtMS < minTS {
			minTS = frame.CapturedAtMS
		}
		if frame.CapturedAtMS > maxTS {
			maxTS = frame.CapturedAtMS
		}
	}

	return latest, minTS, maxTS, true
}

func (s *MultiSourceSynchronizer) emitBundle(b types.SyncBundle) {
	select {
	case s.bundles <- b:
	default:
	}
}

func (s *MultiSourceSynchronizer) emitEvent(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// Stats returns a snapshot of the synchronizer's counters.
func (s *MultiSourceSynchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// SetSyncWindowMS adjusts the sync window at runtime — the narrow config
// hot-reload path the Broadcaster's setConfig command exercises. It takes
// effect on the next Push; ms must be positive.
func (s *MultiSourceSynchronizer) SetSyncWindowMS(ms int64) error {
	if ms <= 0 {
		return fmt.Errorf("framesync: sync window must be positive, got %d", ms)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.SyncWindowMS = ms
	return nil
}
