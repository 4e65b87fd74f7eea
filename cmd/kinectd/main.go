// Command kinectd runs the capture-to-broadcast pipeline: it loads the
// configuration, opens a Driver (the mock synthetic driver until a real SDK
// binding is wired in), constructs a Supervisor, and runs it until a signal
// or a fatal startup error.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zachshallbetter/Kinect-Node/internal/config"
	"github.com/zachshallbetter/Kinect-Node/internal/driver"
	"github.com/zachshallbetter/Kinect-Node/internal/supervisor"
)

const defaultConfigPath = "config/kinectd.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// levelVar is shared with the Supervisor so a subscriber's setConfig
	// logLevel command can adjust logging at runtime without rebuilding the
	// handler.
	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelInfo)
	if *debug {
		levelVar.Set(slog.LevelDebug)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	logger.Info("starting kinectd", "config", *configPath, "debug", *debug)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	drv := driver.NewMockDriver(driver.MockConfig{
		Width:  cfg.Sensors.Depth.Width,
		Height: cfg.Sensors.Depth.Height,
		FPS:    cfg.Sensors.Depth.FPS,
		Logger: logger,
	})

	sup, err := supervisor.New(cfg, drv, logger, levelVar)
	if err != nil {
		logger.Error("failed to construct supervisor", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- sup.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil {
			logger.Error("supervisor exited with error", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("kinectd stopped successfully")
}
