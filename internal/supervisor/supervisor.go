// Package supervisor wires the BufferPool, Driver, Sensors,
// MultiSourceSynchronizer, and Broadcaster into the top-level service: it
// constructs every component from a config.Config, routes Sensor/Synchronizer
// output to the Broadcaster, dispatches subscriber control commands back to
// the Sensors and Driver, and owns the shutdown sequence.
//
// The orchestration shape — one top-level struct assembling its
// dependencies in New, a single Run that blocks until its context is
// cancelled, and an explicit Shutdown ordering (producers before
// consumers, then wait, then release resources) — follows
// References/orion-prototipe/internal/core/orion.go's Orion type,
// generalized from one inference pipeline to four independent stream
// pipelines plus a cross-stream synchronizer.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/zachshallbetter/Kinect-Node/internal/broadcast"
	"github.com/zachshallbetter/Kinect-Node/internal/bufferpool"
	"github.com/zachshallbetter/Kinect-Node/internal/config"
	"github.com/zachshallbetter/Kinect-Node/internal/driver"
	"github.com/zachshallbetter/Kinect-Node/internal/framesync"
	"github.com/zachshallbetter/Kinect-Node/internal/sensor"
	"github.com/zachshallbetter/Kinect-Node/internal/types"
	"github.com/zachshallbetter/Kinect-Node/internal/worker"
)

// Supervisor is the top-level service: it owns the Driver handle and every
// other component's lifetime, and is the only place that routes messages
// between them.
type Supervisor struct {
	cfg    *config.Config
	drv    driver.Driver
	pool   *bufferpool.Pool
	sync   *framesync.MultiSourceSynchronizer
	bc     *broadcast.Broadcaster
	logger *slog.Logger

	sensors map[types.StreamKind]*sensor.Sensor
	kinds   []types.StreamKind // enabled kinds, construction order

	// logLevel lets setConfig adjust the running log level without a
	// restart; it is the same *slog.LevelVar the handler in cmd/kinectd was
	// constructed with, so mutating it here takes effect immediately.
	logLevel *slog.LevelVar

	mu           sync.Mutex
	running      bool
	startedAt    time.Time
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	healthServer *http.Server
}

// New constructs a Supervisor and every component it owns, wiring the
// Broadcaster's command handler and subscriber-count hook back into itself.
// It does not open the driver or start anything — call Run for that.
// logLevel may be nil if the caller does not need setConfig's logLevel field
// to take effect on a shared handler.
func New(cfg *config.Config, drv driver.Driver, logger *slog.Logger, logLevel *slog.LevelVar) (*Supervisor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if logLevel == nil {
		logLevel = new(slog.LevelVar)
	}

	s := &Supervisor{
		cfg:      cfg,
		drv:      drv,
		logger:   logger,
		logLevel: logLevel,
		sensors:  make(map[types.StreamKind]*sensor.Sensor),
	}

	specs := make(map[types.StreamKind]types.BufferSpec)
	if cfg.Sensors.Depth.Enabled {
		specs[types.KindDepth] = types.NewBufferSpec(types.KindDepth, cfg.Sensors.Depth.Width, cfg.Sensors.Depth.Height, 2)
	}
	if cfg.Sensors.Infrared.Enabled {
		specs[types.KindIR] = types.NewBufferSpec(types.KindIR, cfg.Sensors.Infrared.Width, cfg.Sensors.Infrared.Height, 2)
	}
	if cfg.Sensors.Color.Enabled {
		specs[types.KindColor] = types.NewBufferSpec(types.KindColor, cfg.Sensors.Color.Width, cfg.Sensors.Color.Height, 4)
	}

	if len(specs) > 0 {
		pool, err := bufferpool.New(bufferpool.Config{
			Specs:       specs,
			InitialSize: cfg.BufferPool.InitialSize,
			ExpandSize:  cfg.BufferPool.ExpandSize,
			MaxPoolSize: cfg.BufferPool.MaxPoolSize,
			EventBuffer: cfg.BufferPool.EventBuffer,
		})
		if err != nil {
			return nil, fmt.Errorf("supervisor: buffer pool: %w", err)
		}
		s.pool = pool
	}

	requiredKinds := make([]types.StreamKind, 0, len(cfg.FrameSync.RequiredKinds))
	for _, name := range cfg.FrameSync.RequiredKinds {
		requiredKinds = append(requiredKinds, types.StreamKind(name))
	}
	sync, err := framesync.New(framesync.Config{
		RequiredKinds: requiredKinds,
		SyncWindowMS:  cfg.FrameSync.SyncWindowMS,
		DropAfterMS:   cfg.FrameSync.DropAfterMS,
		BufferSize:    cfg.FrameSync.BufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("supervisor: synchronizer: %w", err)
	}
	s.sync = sync

	if err := s.buildSensors(); err != nil {
		return nil, err
	}

	s.bc = broadcast.New(broadcast.Config{
		Addr:               cfg.Network.Websocket.Addr,
		IdentifyTimeout:    time.Duration(cfg.Network.Websocket.IdentificationTimeoutMS) * time.Millisecond,
		SendBuffer:         cfg.Network.Websocket.SendBuffer,
		FanoutThreshold:    cfg.Network.Websocket.FanoutThreshold,
		MaxPortAttempts:    cfg.Network.Websocket.MaxPortAttempts,
		CommandHandler:     s.handleCommand,
		OnSubscriberChange: s.onSubscriberChange,
	}, logger)

	return s, nil
}

func (s *Supervisor) baseSensorConfig(expectedFrameBytes int) sensor.Config {
	bs := s.cfg.BaseSensor
	return sensor.Config{
		QueueCapacity:       bs.QueueCapacity,
		HealthCheckInterval: time.Duration(bs.HealthCheckIntervalMS) * time.Millisecond,
		FrameTimeout:        time.Duration(bs.FrameTimeoutMS) * time.Millisecond,
		MaxRestarts:         bs.MaxRestarts,
		ResultsBuffer:       bs.ResultsBuffer,
		SyncTap:             s.sync.Push,
		Pool:                s.pool,
		ExpectedFrameBytes:  expectedFrameBytes,
	}
}

func (s *Supervisor) buildSensors() error {
	dc := s.cfg.Sensors.Depth
	if dc.Enabled {
		lut, err := worker.NamedLUT(dc.ColorizeLUT)
		if err != nil {
			return fmt.Errorf("supervisor: depth sensor: %w", err)
		}
		params := &worker.DepthParams{
			Width:             dc.Width,
			Height:            dc.Height,
			MinValid:          uint16(dc.MinValid),
			MaxValid:          uint16(dc.MaxValid),
			Normalize:         dc.Normalize,
			Gamma:             dc.Gamma,
			ComputePointCloud: dc.ComputePointCloud,
			Intrinsics: worker.CameraIntrinsics{
				FX: dc.IntrinsicsFX, FY: dc.IntrinsicsFY,
				CX: dc.IntrinsicsCX, CY: dc.IntrinsicsCY,
			},
			Colorize: dc.Colorize,
			LUT:      lut,
		}
		sn, err := sensor.New(types.KindDepth, s.drv, worker.DepthProcessor{}, params,
			s.baseSensorConfig(dc.Width*dc.Height*2), s.logger)
		if err != nil {
			return fmt.Errorf("supervisor: depth sensor: %w", err)
		}
		s.sensors[types.KindDepth] = sn
		s.kinds = append(s.kinds, types.KindDepth)
	}

	ic := s.cfg.Sensors.Infrared
	if ic.Enabled {
		params := &worker.IRParams{Width: ic.Width, Height: ic.Height, Gamma: ic.Gamma, Format: ic.Format}
		sn, err := sensor.New(types.KindIR, s.drv, worker.IRProcessor{}, params,
			s.baseSensorConfig(ic.Width*ic.Height*2), s.logger)
		if err != nil {
			return fmt.Errorf("supervisor: infrared sensor: %w", err)
		}
		s.sensors[types.KindIR] = sn
		s.kinds = append(s.kinds, types.KindIR)
	}

	cc := s.cfg.Sensors.Color
	if cc.Enabled {
		params := &worker.ColorParams{Width: cc.Width, Height: cc.Height, Format: cc.Format, ForceAlpha: cc.ForceAlpha, Compress: cc.Compress}
		sn, err := sensor.New(types.KindColor, s.drv, &worker.ColorProcessor{}, params,
			s.baseSensorConfig(cc.Width*cc.Height*4), s.logger)
		if err != nil {
			return fmt.Errorf("supervisor: color sensor: %w", err)
		}
		s.sensors[types.KindColor] = sn
		s.kinds = append(s.kinds, types.KindColor)
	}

	bc := s.cfg.Sensors.Body
	if bc.Enabled {
		template := &worker.BodyParams{
			SmoothingAlpha:      bc.SmoothingAlpha,
			SnapThreshold:       bc.SnapThreshold,
			ComputeVelocity:     bc.ComputeVelocity,
			ComputeCenterOfMass: bc.ComputeCenterOfMass,
			ComputeAABB:         bc.ComputeAABB,
			ComputeConfidence:   bc.ComputeConfidence,
			DetectGestures:      bc.DetectGestures,
			SwipeMinSpeed:       bc.SwipeMinSpeed,
			SwipeWindowMS:       int64(bc.SwipeWindowMS),
		}
		sn := sensor.NewBody(s.drv, worker.NewBodyProcessor(), template, s.baseSensorConfig(0), s.logger)
		s.sensors[types.KindBody] = sn
		s.kinds = append(s.kinds, types.KindBody)
	}

	if len(s.kinds) == 0 {
		return fmt.Errorf("supervisor: no sensor kind is enabled")
	}
	return nil
}

// Run opens the driver for every enabled kind, starts every Sensor and the
// Broadcaster, routes their output until ctx is cancelled, then runs
// Shutdown. Run blocks until ctx is done or a fatal startup error occurs.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: already running")
	}
	s.running = true
	s.startedAt = time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.startHealthServer(s.cfg.Service.HealthPort)

	if err := s.drv.Open(runCtx, s.kinds); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.stopHealthServer()
		return fmt.Errorf("supervisor: driver open: %w", err)
	}

	if err := applyDeviceDefaults(s.drv, s.cfg.Device); err != nil {
		s.logger.Warn("supervisor: failed to apply device defaults", "error", err)
	}

	for _, kind := range s.kinds {
		if err := s.sensors[kind].Start(runCtx); err != nil {
			s.logger.Error("supervisor: sensor failed to start", "kind", kind, "error", err)
		}
	}

	if err := s.bc.Start(runCtx); err != nil {
		_ = s.Shutdown(context.Background())
		return fmt.Errorf("supervisor: broadcaster start: %w", err)
	}

	for _, kind := range s.kinds {
		s.wg.Add(1)
		go s.routeSensor(runCtx, s.sensors[kind])
	}
	s.wg.Add(1)
	go s.routeSync(runCtx)

	s.logger.Info("supervisor running", "kinds", s.kinds, "addr", s.bc.Addr())

	<-runCtx.Done()

	timeout := time.Duration(s.cfg.Service.ShutdownTimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()
	return s.Shutdown(shutdownCtx)
}

// routeSensor forwards one Sensor's Results/Gestures into PipelineMessages
// published on the Broadcaster, until ctx is cancelled.
func (s *Supervisor) routeSensor(ctx context.Context, sn *sensor.Sensor) {
	defer s.wg.Done()

	gestures := sn.Gestures()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-sn.Results():
			if !ok {
				return
			}
			if res.Err != nil {
				s.bc.Publish(types.PipelineMessage{Type: types.MessageError, Sensor: sn.Kind(), Err: res.Err})
				continue
			}
			s.bc.Publish(types.PipelineMessage{Type: types.MessageFrame, Sensor: sn.Kind(), Frame: res.Frame})
		case g, ok := <-gestures:
			if !ok {
				gestures = nil
				continue
			}
			s.bc.Publish(types.PipelineMessage{Type: types.MessageGesture, Sensor: sn.Kind(), Gesture: &g})
		}
	}
}

// routeSync forwards synchronized bundles and drop/overflow events until ctx
// is cancelled.
func (s *Supervisor) routeSync(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case bundle, ok := <-s.sync.Bundles():
			if !ok {
				return
			}
			s.bc.Publish(types.PipelineMessage{Type: types.MessageSync, Bundle: &bundle})
		case ev, ok := <-s.sync.Events():
			if !ok {
				return
			}
			s.logger.Debug("synchronizer event", "type", ev.Type, "kind", ev.Kind)
		}
	}
}

// handleCommand is the Broadcaster's CommandHandler: it dispatches a
// subscriber's decoded control message to the matching Sensor or Driver.
func (s *Supervisor) handleCommand(_ context.Context, sub broadcast.SubscriberInfo, cmd broadcast.InboundMessage) broadcast.CommandAckWire {
	ack := broadcast.CommandAckWire{Command: cmd.Type, Status: "ok"}

	switch cmd.Type {
	case broadcast.InStartSensor:
		sn, ok := s.sensors[types.StreamKind(cmd.Sensor)]
		if !ok {
			return errAck(cmd.Type, fmt.Sprintf("unknown sensor %q", cmd.Sensor))
		}
		// Sensor.Stop (called by Shutdown or onSubscriberChange) tears this
		// down regardless of the context a command-triggered Start used, so
		// a fresh background context is sufficient here.
		if err := sn.Start(context.Background()); err != nil && err != sensor.ErrAlreadyStarted {
			return errAck(cmd.Type, err.Error())
		}

	case broadcast.InStopSensor:
		sn, ok := s.sensors[types.StreamKind(cmd.Sensor)]
		if !ok {
			return errAck(cmd.Type, fmt.Sprintf("unknown sensor %q", cmd.Sensor))
		}
		sn.Stop()

	case broadcast.InSetLED:
		state, err := driver.ParseLEDState(cmd.LED)
		if err != nil {
			return errAck(cmd.Type, err.Error())
		}
		if err := s.drv.SetLED(state); err != nil {
			return errAck(cmd.Type, err.Error())
		}

	case broadcast.InSetIREmitter:
		if cmd.IREmitter == nil {
			return errAck(cmd.Type, "missing irEmitter value")
		}
		if err := s.drv.SetIREmitter(*cmd.IREmitter); err != nil {
			return errAck(cmd.Type, err.Error())
		}

	case broadcast.InSetConfig:
		if err := s.applySetConfig(cmd.Config); err != nil {
			return errAck(cmd.Type, err.Error())
		}

	default:
		s.logger.Warn("supervisor: unknown command", "type", cmd.Type, "subscriber", sub.ID)
		return errAck(cmd.Type, "unknown command type")
	}

	return ack
}

func errAck(command, msg string) broadcast.CommandAckWire {
	return broadcast.CommandAckWire{Command: command, Status: "error", Error: msg}
}

// applySetConfig applies the narrow, restart-free subset of config fields a
// subscriber may hot-reload: the synchronizer's sync window and the log
// level. Any other field requires a sensor restart and is rejected, matching
// References/orion-prototipe/internal/core/hotreload.go's "requires restart
// (not implemented yet)" pattern made explicit.
func (s *Supervisor) applySetConfig(fields map[string]any) error {
	if len(fields) == 0 {
		return fmt.Errorf("setConfig: no fields supplied")
	}
	for key := range fields {
		switch key {
		case "syncWindowMs", "logLevel":
		default:
			return fmt.Errorf("setConfig: field %q requires a sensor restart; use stopSensor/startSensor", key)
		}
	}

	if raw, ok := fields["syncWindowMs"]; ok {
		ms, ok := toInt64(raw)
		if !ok || ms <= 0 {
			return fmt.Errorf("setConfig: syncWindowMs must be a positive number")
		}
		if err := s.sync.SetSyncWindowMS(ms); err != nil {
			return err
		}
	}

	if raw, ok := fields["logLevel"]; ok {
		lvlStr, ok := raw.(string)
		if !ok {
			return fmt.Errorf("setConfig: logLevel must be a string")
		}
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(lvlStr)); err != nil {
			return fmt.Errorf("setConfig: invalid logLevel %q", lvlStr)
		}
		s.logLevel.Set(lvl)
	}

	return nil
}

// toInt64 accepts the numeric shapes setConfig's Config map can actually
// hold: float64 from a JSON-decoded "any", or a directly-constructed int/int64.
func toInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}

// onSubscriberChange is the Broadcaster's OnSubscriberChange hook: once the
// last identified subscriber disconnects, there is no one left to consume
// the stream, so every Sensor is stopped until a new subscriber arrives and
// issues startSensor again.
func (s *Supervisor) onSubscriberChange(count int) {
	if count > 0 {
		return
	}
	s.logger.Info("supervisor: last subscriber disconnected, stopping sensors")
	for _, sn := range s.sensors {
		sn.Stop()
	}
}

// Shutdown stops every Sensor, the Broadcaster, and the Driver, in that
// order, and clears the buffer pool. It is idempotent.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.stopHealthServer()

	for _, kind := range s.kinds {
		s.sensors[kind].Stop()
	}

	if err := s.bc.Stop(ctx); err != nil {
		s.logger.Error("supervisor: broadcaster stop failed", "error", err)
	}

	s.wg.Wait()

	if err := s.drv.Close(); err != nil {
		s.logger.Error("supervisor: driver close failed", "error", err)
	}

	if s.pool != nil {
		if err := s.pool.Clear(); err != nil {
			s.logger.Warn("supervisor: buffer pool clear failed", "error", err)
		}
	}

	s.logger.Info("supervisor shutdown complete")
	return nil
}

// Addr returns the address the Broadcaster actually bound to.
func (s *Supervisor) Addr() string { return s.bc.Addr() }

func applyDeviceDefaults(drv driver.Driver, dc config.DeviceConfig) error {
	if dc.LED != "" {
		state, err := driver.ParseLEDState(dc.LED)
		if err != nil {
			return err
		}
		if err := drv.SetLED(state); err != nil {
			return err
		}
	}
	if err := drv.SetIREmitter(dc.IREmitter); err != nil {
		return err
	}
	if dc.TiltDegrees != 0 {
		if err := drv.SetTilt(dc.TiltDegrees); err != nil {
			return err
		}
	}
	return nil
}
