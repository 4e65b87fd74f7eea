package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/zachshallbetter/Kinect-Node/internal/driver"
	"github.com/zachshallbetter/Kinect-Node/internal/types"
	"github.com/zachshallbetter/Kinect-Node/internal/worker"
)

func TestSensorStartProducesResults(t *testing.T) {
	d := driver.NewMockDriver(driver.MockConfig{Width: 4, Height: 4, FPS: 60})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Open(ctx, []types.StreamKind{types.KindIR}); err != nil {
		t.Fatalf("driver Open: %v", err)
	}
	defer d.Close()

	params := &worker.IRParams{Width: 4, Height: 4, Format: "gray16"}
	s, err := New(types.KindIR, d, worker.IRProcessor{}, params, Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	select {
	case res := <-s.Results():
		if res.Err != nil {
			t.Fatalf("unexpected error result: %v", res.Err)
		}
		if res.Frame.Kind != types.KindIR {
			t.Fatalf("Kind = %v, want infrared", res.Frame.Kind)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a result")
	}

	if s.Status().State != StateRunning {
		t.Fatalf("State = %v, want running", s.Status().State)
	}
}

func TestSensorStartTwiceRejected(t *testing.T) {
	d := driver.NewMockDriver(driver.MockConfig{Width: 2, Height: 2, FPS: 30})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Open(ctx, []types.StreamKind{types.KindIR}); err != nil {
		t.Fatalf("driver Open: %v", err)
	}
	defer d.Close()

	s, err := New(types.KindIR, d, worker.IRProcessor{}, &worker.IRParams{Width: 2, Height: 2}, Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(ctx); err != ErrAlreadyStarted {
		t.Fatalf("second Start: got %v, want ErrAlreadyStarted", err)
	}
}

func TestSensorStopIsIdempotentAndReleasesGoroutines(t *testing.T) {
	d := driver.NewMockDriver(driver.MockConfig{Width: 2, Height: 2, FPS: 30})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Open(ctx, []types.StreamKind{types.KindDepth}); err != nil {
		t.Fatalf("driver Open: %v", err)
	}
	defer d.Close()

	s, err := New(types.KindDepth, d, worker.DepthProcessor{}, &worker.DepthParams{Width: 2, Height: 2, MaxValid: 65535}, Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.Stop()
	s.Stop() // must not hang

	if s.Status().State != StateStopped {
		t.Fatalf("State = %v, want stopped", s.Status().State)
	}
}

func TestBodySensorProducesResultsAndGestures(t *testing.T) {
	d := driver.NewMockDriver(driver.MockConfig{Width: 2, Height: 2, FPS: 30, BodyFPS: 60})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Open(ctx, []types.StreamKind{types.KindBody}); err != nil {
		t.Fatalf("driver Open: %v", err)
	}
	defer d.Close()

	bp := worker.NewBodyProcessor()
	template := &worker.BodyParams{
		ComputeVelocity: true, ComputeCenterOfMass: true,
		SmoothingAlpha: 1.0, DetectGestures: true, SwipeMinSpeed: 0.01, SwipeWindowMS: 1000,
	}
	s := NewBody(d, bp, template, Config{}, nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	select {
	case res := <-s.Results():
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if res.Frame.Kind != types.KindBody {
			t.Fatalf("Kind = %v, want body", res.Frame.Kind)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a body result")
	}

	// The mock's wrists sweep horizontally, well above SwipeMinSpeed.
	select {
	case g := <-s.Gestures():
		if g.Name != "swipeLeft" && g.Name != "swipeRight" {
			t.Fatalf("gesture Name = %q, want swipeLeft or swipeRight", g.Name)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a swipe gesture")
	}
}

// hangingProcessor always takes longer than any reasonable FrameTimeout to
// return, so it exercises the watchdog's hung-worker detection and restart
// path. It still respects ctx, so Stop can always reclaim its goroutine.
type hangingProcessor struct {
	kind  types.StreamKind
	delay time.Duration
}

func (h *hangingProcessor) Kind() types.StreamKind { return h.kind }

func (h *hangingProcessor) Process(ctx context.Context, frame types.RawFrame, params any) (any, worker.Dimensions, error) {
	select {
	case <-time.After(h.delay):
	case <-ctx.Done():
	}
	return nil, worker.Dimensions{Width: 1, Height: 1}, nil
}

func TestSensorRestartCapMarksFailed(t *testing.T) {
	d := driver.NewMockDriver(driver.MockConfig{Width: 2, Height: 2, FPS: 200})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Open(ctx, []types.StreamKind{types.KindIR}); err != nil {
		t.Fatalf("driver Open: %v", err)
	}
	defer d.Close()

	// A hung worker's very first job never sets LastActivityMS — this is
	// exactly the blind spot watchHealth's Busy/JobStartedMS tracking closes.
	proc := &hangingProcessor{kind: types.KindIR, delay: 200 * time.Millisecond}
	cfg := Config{
		HealthCheckInterval: 20 * time.Millisecond,
		FrameTimeout:        30 * time.Millisecond,
		MaxRestarts:         2,
	}
	s, err := New(types.KindIR, d, proc, nil, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for s.Status().State != StateFailed {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for the sensor to fail; last status = %+v", s.Status())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := s.Status().Restarts; got != uint64(cfg.MaxRestarts) {
		t.Fatalf("Restarts = %d, want %d", got, cfg.MaxRestarts)
	}
}
