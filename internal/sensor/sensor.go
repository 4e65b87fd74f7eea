// Package sensor drives one stream kind end to end: pulling raw frames (or,
// for body tracking, structured records) off a Driver, buffering them in a
// bounded head-drop queue, feeding a ProcessingWorker, and watching that
// worker's health so a hung worker gets restarted rather than silently
// starving its stream. When constructed with a bufferpool.Pool, a frame
// Sensor acquires a Buffer per frame, copies the driver's bytes into it, and
// releases it once the worker is done — on success, on error, on mailbox
// overwrite, or on Stop, whichever happens first.
//
// The lifecycle state machine and the health watchdog's adaptive timeout
// are generalized from a service-wide restart-once watchdog into a
// per-stream one, since this pipeline runs four independent streams rather
// than one inference pipeline.
package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zachshallbetter/Kinect-Node/internal/bufferpool"
	"github.com/zachshallbetter/Kinect-Node/internal/driver"
	"github.com/zachshallbetter/Kinect-Node/internal/types"
	"github.com/zachshallbetter/Kinect-Node/internal/worker"
)

// State is a Sensor's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned by Start when the Sensor is not in a state
// Start is valid from (Stopped or Failed).
var ErrAlreadyStarted = fmt.Errorf("sensor: already started")

// Config tunes a Sensor's queue depth and watchdog behavior.
type Config struct {
	QueueCapacity       int
	HealthCheckInterval time.Duration
	FrameTimeout        time.Duration
	MaxRestarts         int
	ResultsBuffer       int

	// SyncTap, when set, is called with every raw frame this Sensor reads
	// off the driver, before it enters the Sensor's own queue — the
	// Supervisor wires this to a MultiSourceSynchronizer.Push so the
	// synchronizer taps the same driver event the Sensor consumes. It must
	// not block; framesync.Push is already non-blocking.
	SyncTap func(types.RawFrame)

	// Pool, when set, backs every frame this Sensor forwards with a
	// bufferpool.Buffer acquired for its kind: the Sensor copies the
	// driver's raw bytes into the buffer, hands the buffer through the
	// worker job/result round trip, and releases it once the worker is done
	// with it (or immediately, if the job is overwritten or abandoned
	// before the worker ever sees it). Nil disables pool backing — the
	// Sensor forwards the driver's own byte slice unchanged, which is how
	// every Sensor test in this package except pool_test.go runs.
	Pool *bufferpool.Pool

	// ExpectedFrameBytes, when > 0, is the exact byte length every raw
	// frame from the driver must have (width*height*bytes_per_pixel for
	// this Sensor's kind). A mismatching frame is logged and dropped before
	// it ever reaches the queue or acquires a buffer. Zero disables the
	// check.
	ExpectedFrameBytes int
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 8
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 5 * time.Second
	}
	if c.FrameTimeout <= 0 {
		c.FrameTimeout = 2 * time.Second
	}
	if c.ResultsBuffer <= 0 {
		c.ResultsBuffer = 4
	}
	return c
}

// Status is a point-in-time snapshot of a Sensor's lifecycle and health.
type Status struct {
	State          State
	QueueDepth     int
	QueueDropped   uint64
	MissedFrames   uint64
	Restarts       uint64
	LastActivityMS int64
}

// Sensor drives one stream kind from a Driver through a ProcessingWorker.
// Construct one with New (depth/IR/color) or NewBody (body tracking).
type Sensor struct {
	kind      types.StreamKind
	drv       driver.Driver
	processor worker.Processor
	w         *worker.ProcessingWorker
	cfg       Config
	pool      *bufferpool.Pool
	logger    *slog.Logger

	params         any                  // static Processor params for frame kinds; nil for body
	bodyTemplate   *worker.BodyParams   // per-tick template for the body kind; nil otherwise
	bodyProc       *worker.BodyProcessor

	queue     *fifoQueue[types.RawFrame]
	bodyQueue *fifoQueue[[]types.BodyRecord]

	mu                sync.Mutex
	state             State
	seq               uint64
	missedFrames      uint64
	restarts          uint64
	consecutiveMisses int

	cancel context.CancelFunc
	wg     sync.WaitGroup

	results  chan worker.Result
	gestures chan types.Gesture
}

// New constructs a Sensor for a frame-bearing kind (depth, infrared, color).
// params is passed unchanged to processor.Process for every frame.
func New(kind types.StreamKind, drv driver.Driver, processor worker.Processor, params any, cfg Config, logger *slog.Logger) (*Sensor, error) {
	if kind == types.KindBody {
		return nil, fmt.Errorf("sensor: use NewBody for the body stream kind")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Sensor{
		kind:      kind,
		drv:       drv,
		processor: processor,
		params:    params,
		cfg:       cfg,
		pool:      cfg.Pool,
		logger:    logger,
		queue:     newFIFOQueue[types.RawFrame](cfg.QueueCapacity),
		results:   make(chan worker.Result, cfg.ResultsBuffer),
	}, nil
}

// NewBody constructs a Sensor for the body tracking stream. template
// supplies the smoothing/derived-computation flags; its Records and
// TimestampMS fields are overwritten per tick.
func NewBody(drv driver.Driver, bodyProc *worker.BodyProcessor, template *worker.BodyParams, cfg Config, logger *slog.Logger) *Sensor {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Sensor{
		kind:         types.KindBody,
		drv:          drv,
		processor:    bodyProc,
		bodyProc:     bodyProc,
		bodyTemplate: template,
		cfg:          cfg,
		logger:       logger,
		bodyQueue:    newFIFOQueue[[]types.BodyRecord](cfg.QueueCapacity),
		results:      make(chan worker.Result, cfg.ResultsBuffer),
		gestures:     make(chan types.Gesture, cfg.ResultsBuffer),
	}
}

// Kind returns the stream kind this Sensor drives.
func (s *Sensor) Kind() types.StreamKind { return s.kind }

// Results returns the channel processed artifacts (or errors) are
// published on.
func (s *Sensor) Results() <-chan worker.Result { return s.results }

// Gestures returns the channel swipe gestures are published on. It is nil
// for any Sensor not constructed with NewBody.
func (s *Sensor) Gestures() <-chan types.Gesture { return s.gestures }

// Start transitions the Sensor from Stopped/Failed into Running: it opens
// the worker, launches the pump/forward/drain/watchdog goroutines, and
// returns once everything is launched (it does not wait for the first
// frame).
func (s *Sensor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped && s.state != StateFailed {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.restarts = 0
	s.missedFrames = 0
	s.consecutiveMisses = 0
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.w = worker.New(s.processor, s.cfg.ResultsBuffer)
	if s.pool != nil {
		s.w.OnDrop = func(buf any) {
			if b, ok := buf.(*bufferpool.Buffer); ok {
				_ = s.pool.Release(s.kind, b, false)
			}
		}
	}
	s.w.Start(runCtx)

	s.wg.Add(1)
	if s.kind == types.KindBody {
		go s.pumpBodies(runCtx)
	} else {
		go s.pumpFrames(runCtx)
	}

	s.wg.Add(1)
	if s.kind == types.KindBody {
		go s.forwardBodies(runCtx)
	} else {
		go s.forwardFrames(runCtx)
	}

	s.wg.Add(1)
	go s.drainResults(runCtx)

	s.wg.Add(1)
	go s.watchHealth(runCtx)

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()

	s.logger.Info("sensor started", "kind", s.kind)
	return nil
}

// Stop transitions the Sensor to Stopped, tearing down every goroutine and
// the worker started by Start. Stop is idempotent.
func (s *Sensor) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.queue != nil {
		s.queue.Close()
	}
	if s.bodyQueue != nil {
		s.bodyQueue.Close()
	}
	if s.w != nil {
		s.w.Stop()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.logger.Info("sensor stopped", "kind", s.kind)
}

// Status returns a snapshot of the Sensor's current state and counters.
func (s *Sensor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queueDepth int
	var queueDropped uint64
	if s.queue != nil {
		queueDepth, queueDropped = s.queue.Len(), s.queue.Dropped()
	} else if s.bodyQueue != nil {
		queueDepth, queueDropped = s.bodyQueue.Len(), s.bodyQueue.Dropped()
	}

	var lastActivity int64
	if s.w != nil {
		lastActivity = s.w.Stats().LastActivityMS
	}

	return Status{
		State:          s.state,
		QueueDepth:     queueDepth,
		QueueDropped:   queueDropped,
		MissedFrames:   s.missedFrames,
		Restarts:       s.restarts,
		LastActivityMS: lastActivity,
	}
}

func (s *Sensor) pumpFrames(ctx context.Context) {
	defer s.wg.Done()

	ch, err := s.drv.Frames(s.kind)
	if err != nil {
		s.fail(err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if s.cfg.ExpectedFrameBytes > 0 && len(frame.Data) != s.cfg.ExpectedFrameBytes {
				s.logger.Error("sensor dropped a frame; unexpected size", "kind", s.kind,
					"got", len(frame.Data), "want", s.cfg.ExpectedFrameBytes)
				continue
			}
			if s.cfg.SyncTap != nil {
				s.cfg.SyncTap(frame)
			}
			s.queue.Push(frame)
		}
	}
}

func (s *Sensor) forwardFrames(ctx context.Context) {
	defer s.wg.Done()

	for {
		frame, ok := s.queue.Pop()
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		s.seq++
		seq := s.seq
		s.mu.Unlock()

		job := worker.Job{Frame: frame, Params: s.params, Seq: seq}

		if s.pool != nil {
			buf, err := s.pool.Acquire(s.kind)
			if err != nil {
				s.logger.Warn("sensor dropped a frame; buffer pool exhausted", "kind", s.kind, "error", err)
				continue
			}
			n := copy(buf.Data, frame.Data)
			job.Frame.Data = buf.Data[:n]
			job.Buffer = buf
		}

		s.w.Submit(job)
	}
}

func (s *Sensor) pumpBodies(ctx context.Context) {
	defer s.wg.Done()

	ch, err := s.drv.Bodies()
	if err != nil {
		s.fail(err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case recs, ok := <-ch:
			if !ok {
				return
			}
			s.bodyQueue.Push(recs)
		}
	}
}

func (s *Sensor) forwardBodies(ctx context.Context) {
	defer s.wg.Done()

	for {
		recs, ok := s.bodyQueue.Pop()
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		s.seq++
		seq := s.seq
		s.mu.Unlock()

		params := *s.bodyTemplate
		params.Records = recs
		params.TimestampMS = time.Now().UnixMilli()

		s.w.Submit(worker.Job{
			Frame:  types.RawFrame{Kind: types.KindBody, CapturedAtMS: params.TimestampMS},
			Params: &params,
			Seq:    seq,
		})
	}
}

func (s *Sensor) drainResults(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case res := <-s.w.Results():
			if res.Buffer != nil && s.pool != nil {
				if b, ok := res.Buffer.(*bufferpool.Buffer); ok {
					_ = s.pool.Release(s.kind, b, false)
				}
			}
			if s.bodyProc != nil {
				for _, g := range s.bodyProc.TakeGestures() {
					select {
					case s.gestures <- g:
					default:
					}
				}
			}
			select {
			case s.results <- res:
			default:
				s.logger.Warn("sensor dropped a result; consumer is not keeping up", "kind", s.kind)
			}
		}
	}
}

// watchHealth implements the adaptive-timeout watchdog: if the worker has
// produced nothing for longer than FrameTimeout, it is judged hung and
// restarted once; if it is still silent after MaxRestarts restarts, the
// Sensor fails.
func (s *Sensor) watchHealth(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.w.Stats()

			// A worker stuck inside its very first Process call never sets
			// LastActivityMS, so judge idleness against JobStartedMS whenever
			// a job is in flight — otherwise a hang on the first submitted
			// job would never be detected.
			var idle time.Duration
			var hasSignal bool
			switch {
			case stats.Busy && stats.JobStartedMS != 0:
				idle = time.Since(time.UnixMilli(stats.JobStartedMS))
				hasSignal = true
			case stats.LastActivityMS != 0:
				idle = time.Since(time.UnixMilli(stats.LastActivityMS))
				hasSignal = true
			}
			if !hasSignal {
				continue // worker has never been given a job and isn't running one
			}

			if idle <= s.cfg.FrameTimeout {
				s.mu.Lock()
				s.consecutiveMisses = 0
				s.mu.Unlock()
				continue
			}

			s.mu.Lock()
			s.missedFrames++
			s.consecutiveMisses++
			s.mu.Unlock()

			s.logger.Warn("sensor worker exceeded frame timeout", "kind", s.kind, "idle", idle)
			s.attemptRestart(ctx)
		}
	}
}

func (s *Sensor) attemptRestart(ctx context.Context) {
	s.mu.Lock()
	if s.restarts >= uint64(s.cfg.MaxRestarts) {
		s.state = StateFailed
		s.mu.Unlock()
		s.logger.Error("sensor worker exceeded max restarts, marking failed", "kind", s.kind)
		return
	}
	s.restarts++
	restarts := s.restarts
	s.mu.Unlock()

	s.logger.Warn("restarting hung worker", "kind", s.kind, "restart_count", restarts)
	s.w.Stop()
	s.w.Restart(ctx)
}

func (s *Sensor) fail(err error) {
	s.mu.Lock()
	s.state = StateFailed
	s.mu.Unlock()
	s.logger.Error("sensor failed", "kind", s.kind, "error", err)
}
