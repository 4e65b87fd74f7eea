package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zachshallbetter/Kinect-Node/internal/broadcast"
	"github.com/zachshallbetter/Kinect-Node/internal/config"
	"github.com/zachshallbetter/Kinect-Node/internal/driver"
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

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	path := writeTempConfig(t, `
service:
  instance_id: kinectd-test
  health_port: 0
sensors:
  depth:
    enabled: true
    width: 4
    height: 4
    fps: 60
    max_valid: 65535
  infrared:
    enabled: false
  color:
    enabled: false
  body:
    enabled: false
frameSync:
  required_kinds: ["depth"]
network:
  websocket:
    addr: "127.0.0.1:0"
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestSupervisorRunStartsAndShutsDownCleanly(t *testing.T) {
	cfg := loadTestConfig(t)
	drv := driver.NewMockDriver(driver.MockConfig{Width: cfg.Sensors.Depth.Width, Height: cfg.Sensors.Depth.Height, FPS: cfg.Sensors.Depth.FPS})

	sup, err := New(cfg, drv, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for sup.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the broadcaster to bind")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned an error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Run to return after cancellation")
	}
}

func TestSupervisorRejectsSecondRun(t *testing.T) {
	cfg := loadTestConfig(t)
	drv := driver.NewMockDriver(driver.MockConfig{Width: cfg.Sensors.Depth.Width, Height: cfg.Sensors.Depth.Height, FPS: cfg.Sensors.Depth.FPS})

	sup, err := New(cfg, drv, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for sup.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the broadcaster to bind")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := sup.Run(context.Background()); err == nil {
		t.Fatal("second Run: expected an error, got nil")
	}

	cancel()
	<-errCh
}

func TestHandleCommandSetConfig(t *testing.T) {
	cfg := loadTestConfig(t)
	drv := driver.NewMockDriver(driver.MockConfig{Width: cfg.Sensors.Depth.Width, Height: cfg.Sensors.Depth.Height, FPS: cfg.Sensors.Depth.FPS})

	sup, err := New(cfg, drv, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ack := sup.handleCommand(context.Background(), broadcast.SubscriberInfo{ID: "sub-1"}, broadcast.InboundMessage{
		Type:   broadcast.InSetConfig,
		Config: map[string]any{"syncWindowMs": float64(50), "logLevel": "debug"},
	})
	if ack.Status != "ok" {
		t.Fatalf("ack = %+v, want status ok", ack)
	}

	ack = sup.handleCommand(context.Background(), broadcast.SubscriberInfo{ID: "sub-1"}, broadcast.InboundMessage{
		Type:   broadcast.InSetConfig,
		Config: map[string]any{"width": float64(8)},
	})
	if ack.Status != "error" {
		t.Fatalf("ack = %+v, want an error for an out-of-scope field", ack)
	}
}

func TestNewRejectsNoEnabledSensors(t *testing.T) {
	path := writeTempConfig(t, `
service:
  instance_id: kinectd-test
sensors:
  depth:
    enabled: false
  infrared:
    enabled: false
  color:
    enabled: false
  body:
    enabled: false
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	drv := driver.NewMockDriver(driver.MockConfig{Width: 4, Height: 4, FPS: 30})
	if _, err := New(cfg, drv, nil, nil); err == nil {
		t.Fatal("expected an error when no sensor kind is enabled")
	}
}
