// screenpack-assistant waits for a screenpack-assisted peer and rebuilds
// its screen. The screen can be written to a PNG file at a fixed interval,
// and the session counters are logged every second.
package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/screenpack/screenpack/assistant"
	"github.com/screenpack/screenpack/config"
	"github.com/screenpack/screenpack/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath       string
		port             int
		logLevel         string
		snapshotPath     string
		snapshotInterval time.Duration
	)
	flagSet := pflag.NewFlagSet("screenpack-assistant", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "YAML configuration file; configuration changes are saved back to it")
	flagSet.IntVar(&port, "port", -1, "port to listen on (overrides the configuration file)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flagSet.StringVar(&snapshotPath, "snapshot", "", "write the assisted screen to this PNG file")
	flagSet.DurationVar(&snapshotInterval, "snapshot-interval", 2*time.Second, "how often the snapshot is written")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	var persister config.Persister
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, os.ErrNotExist):
			logger.Info("configuration file not found, using defaults", "path", configPath)
		default:
			return err
		}
		persister = config.NewFilePersister(configPath)
	}
	if port >= 0 {
		cfg.Network.Port = port
	}

	r := &renderer{logger: logger}
	a, err := assistant.New(cfg, persister, r, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if snapshotPath != "" {
		go r.writeSnapshots(ctx, snapshotPath, snapshotInterval)
	}
	return a.Run(ctx)
}

// renderer keeps the latest screen for the snapshot writer and logs the
// counters.
type renderer struct {
	logger *slog.Logger
	latest atomic.Pointer[image.Gray]
	id     atomic.Uint64
}

func (r *renderer) OnCaptureUpdated(id uint64, img *image.Gray) {
	r.latest.Store(img)
	r.id.Store(id)
}

func (r *renderer) OnMouseLocation(x, y int) {
	r.logger.Debug("mouse", "x", x, "y", y)
}

func (r *renderer) OnTelemetry(readings []telemetry.Reading) {
	attrs := make([]any, 0, 2*len(readings))
	for _, reading := range readings {
		attrs = append(attrs, reading.Name, reading.Value)
	}
	r.logger.Info("session", attrs...)
}

func (r *renderer) writeSnapshots(ctx context.Context, path string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var written uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		img, id := r.latest.Load(), r.id.Load()
		if img == nil || id == written {
			continue
		}
		if err := writePNG(path, img); err != nil {
			r.logger.Warn("snapshot not written", "path", path, "error", err)
			continue
		}
		written = id
	}
}

func writePNG(path string, img image.Image) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
