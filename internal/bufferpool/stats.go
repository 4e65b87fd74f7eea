package bufferpool

import "github.com/zachshallbetter/Kinect-Node/internal/types"

// KindStats is the per-kind breakdown inside Stats.
type KindStats struct {
	Total       int
	Available   int
	InUse       int
}

// Stats is a consistent snapshot of pool-wide and per-kind counters, taken
// under a single lock acquisition so the numbers agree with each other.
type Stats struct {
	Hits, Misses, Created, Released uint64
	PeakInUse                       int
	MaxPoolSize                     int
	ByKind                          map[types.StreamKind]KindStats
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	byKind := make(map[types.StreamKind]KindStats, len(p.kinds))
	for kind, kp := range p.kinds {
		byKind[kind] = KindStats{
			Total:     kp.total,
			Available: len(kp.freeList),
			InUse:     len(kp.outstanding),
		}
	}

	return Stats{
		Hits:         p.hits,
		Misses:       p.misses,
		Created:      p.created,
		Released:     p.released,
		PeakInUse:    p.peakInUse,
		MaxPoolSize:  p.maxPoolSize,
		ByKind:       byKind,
	}
}
