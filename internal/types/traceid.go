package types

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// traceSource is shared by every NewTraceID call, matching ulid.Monotonic's
// own requirement that one source be reused so ids generated within the
// same millisecond still sort correctly.
var (
	traceMu  sync.Mutex
	traceSrc = ulid.Monotonic(rand.Reader, 0)
)

// NewTraceID returns a monotonic, lexicographically sortable id for a
// ProcessedFrame or SyncBundle, so traces collected out of process order can
// still be ordered and deduplicated without comparing wall-clock timestamps.
func NewTraceID() string {
	traceMu.Lock()
	defer traceMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), traceSrc).String()
}
