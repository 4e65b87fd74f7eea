// Package config loads and validates the nested YAML configuration that
// wires a Supervisor: one baseSensor block of shared queue and watchdog
// settings, a per-stream-kind block, pool sizing, synchronizer windowing,
// the broadcaster's network settings, and debug/logging knobs.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Config is the complete daemon configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	BufferPool BufferPoolConfig `yaml:"bufferPool"`
	BaseSensor BaseSensorConfig `yaml:"baseSensor"`
	Sensors    SensorsConfig    `yaml:"sensors"`
	Device     DeviceConfig     `yaml:"device"`
	FrameSync  FrameSyncConfig  `yaml:"frameSync"`
	Network    NetworkConfig    `yaml:"network"`
	Debug      DebugConfig      `yaml:"debug"`
}

// ServiceConfig identifies this instance and bounds its shutdown.
type ServiceConfig struct {
	InstanceID       string `yaml:"instance_id"`
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_s"`
	HealthPort       int    `yaml:"health_port"`
}

// BufferPoolConfig sizes the shared BufferPool.
type BufferPoolConfig struct {
	InitialSize int `yaml:"initial_size"`
	ExpandSize  int `yaml:"expand_size"`
	MaxPoolSize int `yaml:"max_pool_size"`
	EventBuffer int `yaml:"event_buffer"`
}

// BaseSensorConfig holds the queue and watchdog settings every sensor uses;
// the per-sensor blocks have no fields that override them.
type BaseSensorConfig struct {
	QueueCapacity       int `yaml:"queue_capacity"`
	HealthCheckIntervalMS int `yaml:"health_check_interval_ms"`
	FrameTimeoutMS      int `yaml:"frame_timeout_ms"`
	MaxRestarts         int `yaml:"max_restarts"`
	ResultsBuffer       int `yaml:"results_buffer"`
}

// SensorsConfig holds the per-stream-kind blocks.
type SensorsConfig struct {
	Depth     DepthSensorConfig     `yaml:"depth"`
	Color     ColorSensorConfig     `yaml:"color"`
	Body      BodySensorConfig      `yaml:"body"`
	Infrared  InfraredSensorConfig  `yaml:"infrared"`
}

// DepthSensorConfig configures the depth stream and its worker.
type DepthSensorConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Width             int     `yaml:"width"`
	Height            int     `yaml:"height"`
	FPS               int     `yaml:"fps"`
	MinValid          int     `yaml:"min_valid"`
	MaxValid          int     `yaml:"max_valid"`
	Normalize         bool    `yaml:"normalize"`
	Gamma             float64 `yaml:"gamma"`
	ComputePointCloud bool    `yaml:"compute_point_cloud"`
	Colorize          bool    `yaml:"colorize"`
	ColorizeLUT       string  `yaml:"colorize_lut"`
	IntrinsicsFX      float64 `yaml:"intrinsics_fx"`
	IntrinsicsFY      float64 `yaml:"intrinsics_fy"`
	IntrinsicsCX      float64 `yaml:"intrinsics_cx"`
	IntrinsicsCY      float64 `yaml:"intrinsics_cy"`
}

// ColorSensorConfig configures the color stream and its worker.
type ColorSensorConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	FPS        int    `yaml:"fps"`
	Format     string `yaml:"format"`
	ForceAlpha bool   `yaml:"force_alpha"`
	Compress   bool   `yaml:"compress"`
}

// BodySensorConfig configures the body-tracking stream and its worker.
type BodySensorConfig struct {
	Enabled              bool    `yaml:"enabled"`
	FPS                  int     `yaml:"fps"`
	SmoothingAlpha       float64 `yaml:"smoothing_alpha"`
	SnapThreshold        float64 `yaml:"snap_threshold"`
	ComputeVelocity      bool    `yaml:"compute_velocity"`
	ComputeCenterOfMass  bool    `yaml:"compute_center_of_mass"`
	ComputeAABB          bool    `yaml:"compute_aabb"`
	ComputeConfidence    bool    `yaml:"compute_confidence"`
	DetectGestures       bool    `yaml:"detect_gestures"`
	SwipeMinSpeed        float64 `yaml:"swipe_min_speed"`
	SwipeWindowMS        int     `yaml:"swipe_window_ms"`
}

// InfraredSensorConfig configures the infrared stream and its worker.
type InfraredSensorConfig struct {
	Enabled bool    `yaml:"enabled"`
	Width   int     `yaml:"width"`
	Height  int     `yaml:"height"`
	FPS     int     `yaml:"fps"`
	Gamma   float64 `yaml:"gamma"`
	Format  string  `yaml:"format"`
}

// DeviceConfig holds the driver's initial control state.
type DeviceConfig struct {
	LED         string  `yaml:"led"`
	IREmitter   bool    `yaml:"ir_emitter"`
	TiltDegrees float64 `yaml:"tilt_degrees"`
}

// FrameSyncConfig configures the MultiSourceSynchronizer.
type FrameSyncConfig struct {
	RequiredKinds []string `yaml:"required_kinds"`
	SyncWindowMS  int64    `yaml:"sync_window_ms"`
	DropAfterMS   int64    `yaml:"drop_after_ms"`
	BufferSize    int      `yaml:"buffer_size"`
}

// NetworkConfig configures the broadcaster's transport.
type NetworkConfig struct {
	Websocket WebsocketConfig `yaml:"websocket"`
}

// WebsocketConfig configures the Broadcaster's listener and fan-out.
type WebsocketConfig struct {
	Addr                string `yaml:"addr"`
	IdentificationTimeoutMS int `yaml:"identification_timeout_ms"`
	SendBuffer          int    `yaml:"send_buffer"`
	FanoutThreshold     int    `yaml:"fanout_threshold"`
	MaxPortAttempts     int    `yaml:"max_port_attempts"`
}

// DebugConfig holds logging and diagnostic knobs.
type DebugConfig struct {
	LogLevel    string `yaml:"logLevel"`
	Logging     bool   `yaml:"logging"`
	Performance bool   `yaml:"performance"`
}

// Load reads, parses, and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills in documented defaults for any section the file left
// empty. It runs before Validate so contradictory explicit values (not
// defaults) are still caught as construction errors.
func applyDefaults(cfg *Config) {
	if cfg.Service.ShutdownTimeoutS == 0 {
		cfg.Service.ShutdownTimeoutS = 5
	}
	if cfg.Service.HealthPort == 0 {
		cfg.Service.HealthPort = 8080
	}

	if cfg.BufferPool.InitialSize == 0 {
		cfg.BufferPool.InitialSize = 4
	}
	if cfg.BufferPool.ExpandSize == 0 {
		cfg.BufferPool.ExpandSize = 4
	}
	if cfg.BufferPool.MaxPoolSize == 0 {
		cfg.BufferPool.MaxPoolSize = 64
	}
	if cfg.BufferPool.EventBuffer == 0 {
		cfg.BufferPool.EventBuffer = 16
	}

	if cfg.BaseSensor.QueueCapacity == 0 {
		cfg.BaseSensor.QueueCapacity = 8
	}
	if cfg.BaseSensor.HealthCheckIntervalMS == 0 {
		cfg.BaseSensor.HealthCheckIntervalMS = 5000
	}
	if cfg.BaseSensor.FrameTimeoutMS == 0 {
		cfg.BaseSensor.FrameTimeoutMS = 30000
	}
	if cfg.BaseSensor.MaxRestarts == 0 {
		cfg.BaseSensor.MaxRestarts = 3
	}
	if cfg.BaseSensor.ResultsBuffer == 0 {
		cfg.BaseSensor.ResultsBuffer = 4
	}

	if len(cfg.FrameSync.RequiredKinds) == 0 {
		cfg.FrameSync.RequiredKinds = []string{"depth", "color"}
	}
	if cfg.FrameSync.SyncWindowMS == 0 {
		cfg.FrameSync.SyncWindowMS = 50
	}
	if cfg.FrameSync.DropAfterMS == 0 {
		cfg.FrameSync.DropAfterMS = 500
	}
	if cfg.FrameSync.BufferSize == 0 {
		cfg.FrameSync.BufferSize = 4
	}

	if cfg.Network.Websocket.Addr == "" {
		cfg.Network.Websocket.Addr = "0.0.0.0:9001"
	}
	if cfg.Network.Websocket.IdentificationTimeoutMS == 0 {
		cfg.Network.Websocket.IdentificationTimeoutMS = 5000
	}
	if cfg.Network.Websocket.SendBuffer == 0 {
		cfg.Network.Websocket.SendBuffer = 32
	}
	if cfg.Network.Websocket.FanoutThreshold == 0 {
		cfg.Network.Websocket.FanoutThreshold = 8
	}
	if cfg.Network.Websocket.MaxPortAttempts == 0 {
		cfg.Network.Websocket.MaxPortAttempts = 10
	}

	if cfg.Device.LED == "" {
		cfg.Device.LED = "off"
	}

	if cfg.Sensors.Depth.ColorizeLUT == "" {
		cfg.Sensors.Depth.ColorizeLUT = "grayscale"
	}
	if cfg.Sensors.Depth.Width == 0 {
		cfg.Sensors.Depth.Width = 512
	}
	if cfg.Sensors.Depth.Height == 0 {
		cfg.Sensors.Depth.Height = 424
	}
	if cfg.Sensors.Infrared.Width == 0 {
		cfg.Sensors.Infrared.Width = 512
	}
	if cfg.Sensors.Infrared.Height == 0 {
		cfg.Sensors.Infrared.Height = 424
	}
	if cfg.Sensors.Color.Width == 0 {
		cfg.Sensors.Color.Width = 1920
	}
	if cfg.Sensors.Color.Height == 0 {
		cfg.Sensors.Color.Height = 1080
	}
	if cfg.Sensors.Color.Format == "" {
		cfg.Sensors.Color.Format = "rgba"
	}
	if cfg.Sensors.Infrared.Format == "" {
		cfg.Sensors.Infrared.Format = "gray16"
	}
	if cfg.Sensors.Body.SmoothingAlpha == 0 {
		cfg.Sensors.Body.SmoothingAlpha = 0.3
	}
	if cfg.Sensors.Body.SnapThreshold == 0 {
		cfg.Sensors.Body.SnapThreshold = 0.01
	}
	if cfg.Sensors.Body.SwipeMinSpeed == 0 {
		cfg.Sensors.Body.SwipeMinSpeed = 1.0
	}
	if cfg.Sensors.Body.SwipeWindowMS == 0 {
		cfg.Sensors.Body.SwipeWindowMS = 500
	}

	if cfg.Debug.LogLevel == "" {
		cfg.Debug.LogLevel = "info"
	}
}
