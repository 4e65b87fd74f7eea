package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, yamlBody string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
service:
  instance_id: kinect-node-1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BufferPool.MaxPoolSize != 64 {
		t.Fatalf("MaxPoolSize = %d, want default 64", cfg.BufferPool.MaxPoolSize)
	}
	if cfg.FrameSync.SyncWindowMS != 50 {
		t.Fatalf("SyncWindowMS = %d, want default 50", cfg.FrameSync.SyncWindowMS)
	}
	if cfg.Network.Websocket.Addr == "" {
		t.Fatal("expected a default websocket addr")
	}
}

func TestLoadRejectsContradictoryPoolSizing(t *testing.T) {
	path := writeTempConfig(t, `
service:
  instance_id: kinect-node-1
bufferPool:
  initial_size: 100
  max_pool_size: 10
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error when initial_size exceeds max_pool_size")
	}
}

func TestLoadRejectsBadInstanceID(t *testing.T) {
	path := writeTempConfig(t, `
service:
  instance_id: "Not Valid!"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a malformed instance_id")
	}
}

func TestLoadRejectsUnknownRequiredKind(t *testing.T) {
	path := writeTempConfig(t, `
service:
  instance_id: kinect-node-1
frameSync:
  required_kinds: ["depth", "lidar"]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown required kind")
	}
}
