// Package worker implements a single-slot "mailbox" processing worker: one
// goroutine per stream kind, a one-deep inbox that is overwritten (never
// queued) when the worker falls behind, and a small set of kind-specific
// Processors (depth, infrared, color, body) that do the actual
// transformation work.
//
// The mailbox is a sync.Mutex-guarded single pointer plus a sync.Cond the
// worker goroutine blocks on, with an overwrite-and-count-drops publish
// path, generalized from "frame in, nothing out" to "frame in, processed
// artifact or error out" via a bounded results channel.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zachshallbetter/Kinect-Node/internal/types"
)

// Dimensions is the width/height a Processor's artifact was produced at.
type Dimensions struct {
	Width  int
	Height int
}

// Processor is the kind-specific transformation a ProcessingWorker drives.
// Implementations must be safe for sequential reuse across frames but never
// need to be safe for concurrent calls — a ProcessingWorker calls Process
// from exactly one goroutine.
type Processor interface {
	Kind() types.StreamKind
	Process(ctx context.Context, frame types.RawFrame, params any) (payload any, dims Dimensions, err error)
}

// Job is one unit of mailbox content: a raw frame plus the kind-specific
// parameters the Processor needs to interpret it. Buffer is opaque to the
// worker — it is whatever lifecycle handle (e.g. a *bufferpool.Buffer) the
// caller attached to Frame.Data, carried through to the matching Result (or
// to OnDrop, if the job is overwritten before it runs) so the caller can
// release it exactly once.
type Job struct {
	Frame  types.RawFrame
	Params any
	Seq    uint64
	Buffer any
}

// Result is what a ProcessingWorker publishes after running a Job through
// its Processor. Exactly one of Frame or Err is set.
type Result struct {
	Frame  *types.ProcessedFrame
	Err    error
	Buffer any
}

// Stats is a point-in-time snapshot of one worker's health counters.
type Stats struct {
	Processed         uint64
	MailboxDropped    uint64 // jobs overwritten before being consumed
	ResultsDropped    uint64 // results dropped because the results channel was full
	TotalProcessTimeMS float64
	LastActivityMS    int64 // unix millis of the last completed Process call; 0 if none yet
	Busy              bool  // true while a job is inside Process, including its very first one
	JobStartedMS      int64 // unix millis Process was entered for the in-flight job; 0 if not Busy
	Alive             bool
}

// ProcessingWorker drives one Processor from a single goroutine, fed through
// a single-slot mailbox with overwrite semantics.
type ProcessingWorker struct {
	kind      types.StreamKind
	processor Processor
	results   chan Result

	// OnDrop, if set, is called with a job's Buffer whenever that job is
	// discarded without ever reaching Process: overwritten in the mailbox by
	// a newer Submit, or still pending when Stop tears the worker down.
	OnDrop func(buffer any)

	mu     sync.Mutex
	cond   *sync.Cond
	job    *Job
	closed bool

	statsMu            sync.Mutex
	processed          uint64
	mailboxDropped     uint64
	resultsDropped     uint64
	totalProcessTimeMS float64
	lastActivityMS     int64
	busy               bool
	jobStartedMS       int64

	alive bool

	wg sync.WaitGroup
}

// New constructs a ProcessingWorker around processor. resultsBuffer sizes
// the outgoing results channel; a worker whose consumer falls behind drops
// results rather than blocking the processing loop, matching the same
// backpressure philosophy as the mailbox itself.
func New(processor Processor, resultsBuffer int) *ProcessingWorker {
	if resultsBuffer <= 0 {
		resultsBuffer = 1
	}
	w := &ProcessingWorker{
		kind:      processor.Kind(),
		processor: processor,
		results:   make(chan Result, resultsBuffer),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Kind returns the stream kind this worker processes.
func (w *ProcessingWorker) Kind() types.StreamKind { return w.kind }

// Results returns the channel processed artifacts (or errors) are published
// on. There is exactly one writer: the worker's own goroutine.
func (w *ProcessingWorker) Results() <-chan Result { return w.results }

// Submit publishes job to the mailbox, overwriting any job not yet picked
// up by the worker goroutine. It returns true if it overwrote an unconsumed
// job (a drop), false if the mailbox was empty.
func (w *ProcessingWorker) Submit(job Job) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}

	dropped := w.job != nil
	if dropped {
		w.statsMu.Lock()
		w.mailboxDropped++
		w.statsMu.Unlock()
		if w.OnDrop != nil {
			w.OnDrop(w.job.Buffer)
		}
	}

	w.job = &job
	w.cond.Signal()
	return dropped
}

// Start launches the worker goroutine.
func (w *ProcessingWorker) Start(ctx context.Context) {
	w.statsMu.Lock()
	w.alive = true
	w.statsMu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)
}

// Restart relaunches the worker goroutine after a prior Stop has fully
// returned, reusing the same mailbox and results channel — a Sensor's
// watchdog calls this to recover a worker it judged hung, without losing
// any result consumer that is already reading from Results().
func (w *ProcessingWorker) Restart(ctx context.Context) {
	w.mu.Lock()
	w.closed = false
	w.job = nil
	w.mu.Unlock()

	w.Start(ctx)
}

func (w *ProcessingWorker) run(ctx context.Context) {
	defer w.wg.Done()
	defer func() {
		w.statsMu.Lock()
		w.alive = false
		w.statsMu.Unlock()
	}()

	for {
		job, ok := w.waitForJob()
		if !ok {
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		w.statsMu.Lock()
		w.busy = true
		w.jobStartedMS = start.UnixMilli()
		w.statsMu.Unlock()

		payload, dims, err := w.processor.Process(ctx, job.Frame, job.Params)
		elapsedMS := float64(time.Since(start)) / float64(time.Millisecond)

		w.statsMu.Lock()
		w.processed++
		w.totalProcessTimeMS += elapsedMS
		w.lastActivityMS = time.Now().UnixMilli()
		w.busy = false
		w.jobStartedMS = 0
		w.statsMu.Unlock()

		var res Result
		if err != nil {
			res = Result{Err: fmt.Errorf("worker[%s]: %w", w.kind, err), Buffer: job.Buffer}
		} else {
			res = Result{Buffer: job.Buffer, Frame: &types.ProcessedFrame{
				Kind:          w.kind,
				Seq:           job.Seq,
				TraceID:       types.NewTraceID(),
				CapturedAtMS:  job.Frame.CapturedAtMS,
				EmittedAtMS:   time.Now().UnixMilli(),
				Width:         dims.Width,
				Height:        dims.Height,
				Payload:       payload,
				ProcessTimeMS: elapsedMS,
			}}
		}

		select {
		case w.results <- res:
		default:
			w.statsMu.Lock()
			w.resultsDropped++
			w.statsMu.Unlock()
		}
	}
}

// waitForJob blocks until a job is published or the worker is stopped.
func (w *ProcessingWorker) waitForJob() (Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for w.job == nil && !w.closed {
		w.cond.Wait()
	}

	if w.closed {
		return Job{}, false
	}

	job := *w.job
	w.job = nil
	return job, true
}

// Stop closes the mailbox, wakes the worker goroutine so it can exit, and
// waits for it to finish. Stop is idempotent.
func (w *ProcessingWorker) Stop() {
	w.mu.Lock()
	alreadyClosed := w.closed
	w.closed = true
	pending := w.job
	w.job = nil
	w.cond.Signal()
	w.mu.Unlock()

	if !alreadyClosed {
		w.wg.Wait()
	}

	if pending != nil && w.OnDrop != nil {
		w.OnDrop(pending.Buffer)
	}
}

// Stats returns a snapshot of the worker's health counters.
func (w *ProcessingWorker) Stats() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return Stats{
		Processed:          w.processed,
		MailboxDropped:     w.mailboxDropped,
		ResultsDropped:      w.resultsDropped,
		TotalProcessTimeMS: w.totalProcessTimeMS,
		LastActivityMS:     w.lastActivityMS,
		Busy:               w.busy,
		JobStartedMS:       w.jobStartedMS,
		Alive:              w.alive,
	}
}
