package driver

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/zachshallbetter/Kinect-Node/internal/types"
)

// MockConfig configures a MockDriver's synthetic output.
type MockConfig struct {
	Width, Height int
	FPS           int
	BodyFPS       int // defaults to FPS when zero
	Logger        *slog.Logger
}

// MockDriver is a synthetic Driver used for tests and hardware-free
// development: one ticker-driven generator goroutine per stream kind, plus
// a dedicated skeletal tracking generator.
type MockDriver struct {
	cfg    MockConfig
	logger *slog.Logger

	mu       sync.Mutex
	open     bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	frameChs map[types.StreamKind]chan types.RawFrame
	bodyCh   chan []types.BodyRecord
	events   chan Event

	led       LEDState
	irEmitter bool
	tiltDeg   float64

	seq map[types.StreamKind]uint64
}

// NewMockDriver constructs a MockDriver. It does not start generating
// frames until Open is called.
func NewMockDriver(cfg MockConfig) *MockDriver {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.BodyFPS <= 0 {
		cfg.BodyFPS = cfg.FPS
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MockDriver{
		cfg:    cfg,
		logger: logger,
		seq:    make(map[types.StreamKind]uint64),
	}
}

func (d *MockDriver) Open(ctx context.Context, kinds []types.StreamKind) error {
	d.mu.Lock()
	if d.open {
		d.mu.Unlock()
		return ErrAlreadyOpen
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.frameChs = make(map[types.StreamKind]chan types.RawFrame)
	d.bodyCh = make(chan []types.BodyRecord, 4)
	d.events = make(chan Event, 16)
	d.open = true

	wantBody := false
	for _, kind := range kinds {
		if !kind.Valid() {
			d.open = false
			d.mu.Unlock()
			return fmt.Errorf("driver: invalid stream kind %q", kind)
		}
		if kind == types.KindBody {
			wantBody = true
			continue
		}
		d.frameChs[kind] = make(chan types.RawFrame, 4)
	}
	d.mu.Unlock()

	d.logger.Info("mock driver opening", "kinds", kinds, "width", d.cfg.Width, "height", d.cfg.Height, "fps", d.cfg.FPS)

	for kind, ch := range d.frameChs {
		d.wg.Add(1)
		go d.generateFrames(runCtx, kind, ch)
	}
	if wantBody {
		d.wg.Add(1)
		go d.generateBodies(runCtx)
	}

	d.emit(Event{Type: EventConnected, Timestamp: time.Now().UnixMilli()})
	return nil
}

func (d *MockDriver) Close() error {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return nil
	}
	d.open = false
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	d.wg.Wait()

	d.mu.Lock()
	for _, ch := range d.frameChs {
		close(ch)
	}
	close(d.bodyCh)
	d.mu.Unlock()

	d.emit(Event{Type: EventDisconnected, Timestamp: time.Now().UnixMilli()})
	d.logger.Info("mock driver closed")
	return nil
}

func (d *MockDriver) Frames(kind types.StreamKind) (<-chan types.RawFrame, error) {
	if kind == types.KindBody {
		return nil, ErrUnsupportedKind
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, ErrNotOpen
	}
	ch, ok := d.frameChs[kind]
	if !ok {
		return nil, fmt.Errorf("driver: kind %q was not requested at Open", kind)
	}
	return ch, nil
}

func (d *MockDriver) Bodies() (<-chan []types.BodyRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, ErrNotOpen
	}
	return d.bodyCh, nil
}

func (d *MockDriver) Events() <-chan Event { return d.events }

func (d *MockDriver) emit(ev Event) {
	select {
	case d.events <- ev:
	default:
	}
}

func (d *MockDriver) SetLED(state LEDState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ErrNotOpen
	}
	d.led = state
	d.logger.Debug("mock driver LED set", "state", state.String())
	return nil
}

func (d *MockDriver) SetIREmitter(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ErrNotOpen
	}
	d.irEmitter = on
	d.logger.Debug("mock driver IR emitter set", "on", on)
	return nil
}

func (d *MockDriver) SetTilt(angleDegrees float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ErrNotOpen
	}
	if angleDegrees < -30 || angleDegrees > 30 {
		return fmt.Errorf("driver: tilt angle %.1f out of range [-30, 30]", angleDegrees)
	}
	d.tiltDeg = angleDegrees
	d.logger.Debug("mock driver tilt set", "degrees", angleDegrees)
	return nil
}

// State returns the most recently set LED/IR/tilt values, for tests and
// diagnostics.
func (d *MockDriver) State() (led LEDState, irEmitter bool, tiltDeg float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.led, d.irEmitter, d.tiltDeg
}

func (d *MockDriver) elementWidth(kind types.StreamKind) int {
	switch kind {
	case types.KindColor:
		return 4
	default:
		return 2
	}
}

func (d *MockDriver) generateFrames(ctx context.Context, kind types.StreamKind, ch chan types.RawFrame) {
	defer d.wg.Done()

	period := time.Second / time.Duration(d.cfg.FPS)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	size := d.cfg.Width * d.cfg.Height * d.elementWidth(kind)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data := make([]byte, size)
			fillSynthetic(data, kind)

			frame := types.RawFrame{Kind: kind, Data: data, CapturedAtMS: time.Now().UnixMilli()}
			select {
			case ch <- frame:
			case <-ctx.Done():
				return
			default:
				// Mirror the Sensor's own backpressure policy: a full
				// channel at the driver boundary drops rather than blocks.
			}
		}
	}
}

// fillSynthetic writes a low-cost, non-zero pattern so depth/IR reliability
// filters and color alpha-forcing have something other than an all-zero
// frame to exercise.
func fillSynthetic(data []byte, kind types.StreamKind) {
	switch kind {
	case types.KindColor:
		for i := 0; i+3 < len(data); i += 4 {
			data[i] = byte(128 + rand.Intn(64))
			data[i+1] = byte(128 + rand.Intn(64))
			data[i+2] = byte(128 + rand.Intn(64))
			data[i+3] = 255
		}
	default:
		for i := 0; i+1 < len(data); i += 2 {
			v := uint16(500 + rand.Intn(2000))
			data[i] = byte(v)
			data[i+1] = byte(v >> 8)
		}
	}
}

func (d *MockDriver) generateBodies(ctx context.Context) {
	defer d.wg.Done()

	period := time.Second / time.Duration(d.cfg.BodyFPS)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	t := 0.0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t += 1.0 / float64(d.cfg.BodyFPS)
			records := []types.BodyRecord{{
				TrackingID: "mock-body-1",
				Tracked:    true,
				Joints: map[types.JointName]types.Joint{
					types.JointHead:      {Position: types.Vector3{X: 0, Y: 1.7, Z: 2}, TrackingState: types.TrackingTracked, Confidence: 0.95},
					types.JointSpineBase: {Position: types.Vector3{X: 0, Y: 0.9, Z: 2}, TrackingState: types.TrackingTracked, Confidence: 0.9},
					types.JointWristLeft: {Position: types.Vector3{X: -0.3 + 0.2*sinApprox(t), Y: 1.1, Z: 2}, TrackingState: types.TrackingTracked, Confidence: 0.8},
					types.JointWristRight: {Position: types.Vector3{X: 0.3 - 0.2*sinApprox(t), Y: 1.1, Z: 2}, TrackingState: types.TrackingTracked, Confidence: 0.8},
				},
				LeftHand:  types.HandStateOpen,
				RightHand: types.HandStateOpen,
			}}

			select {
			case d.bodyCh <- records:
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

// sinApprox avoids importing math just for a gentle oscillation in the mock
// body generator; a cheap triangle wave is visually indistinguishable here.
func sinApprox(t float64) float64 {
	period := 2.0
	phase := t / period
	phase -= float64(int(phase))
	if phase < 0.5 {
		return -1 + 4*phase
	}
	return 3 - 4*phase
}
