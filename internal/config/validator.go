package config

import "fmt"

// Validate checks cross-field invariants the YAML schema itself can't
// express. Contradictory explicit values (e.g. initial_size > max_pool_size)
// are construction errors, per the documented "missing sections fall back to
// defaults; contradictory values are construction errors" rule.
func Validate(cfg *Config) error {
	if cfg.Service.InstanceID != "" && !instanceIDPattern.MatchString(cfg.Service.InstanceID) {
		return fmt.Errorf("service.instance_id must match [a-z0-9-]+")
	}

	if cfg.BufferPool.InitialSize > cfg.BufferPool.MaxPoolSize {
		return fmt.Errorf("bufferPool.initial_size (%d) must not exceed bufferPool.max_pool_size (%d)",
			cfg.BufferPool.InitialSize, cfg.BufferPool.MaxPoolSize)
	}
	if cfg.BufferPool.ExpandSize < 0 {
		return fmt.Errorf("bufferPool.expand_size must be >= 0")
	}

	if cfg.BaseSensor.MaxRestarts < 0 {
		return fmt.Errorf("baseSensor.max_restarts must be >= 0")
	}
	if cfg.BaseSensor.QueueCapacity <= 0 {
		return fmt.Errorf("baseSensor.queue_capacity must be > 0")
	}

	if cfg.FrameSync.SyncWindowMS > cfg.FrameSync.DropAfterMS {
		return fmt.Errorf("frameSync.sync_window_ms (%d) must not exceed frameSync.drop_after_ms (%d)",
			cfg.FrameSync.SyncWindowMS, cfg.FrameSync.DropAfterMS)
	}
	for _, kind := range cfg.FrameSync.RequiredKinds {
		switch kind {
		case "depth", "color", "infrared", "body":
		default:
			return fmt.Errorf("frameSync.required_kinds: unknown kind %q", kind)
		}
	}

	if cfg.Network.Websocket.FanoutThreshold <= 0 {
		return fmt.Errorf("network.websocket.fanout_threshold must be > 0")
	}

	return nil
}
