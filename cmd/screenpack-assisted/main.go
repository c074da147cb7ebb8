// screenpack-assisted shares a screen with a screenpack-assistant. The
// screen is read from an image file that an external screenshot tool
// keeps up to date, or drawn as a test pattern.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/screenpack/screenpack/assisted"
	"github.com/screenpack/screenpack/capture"
	"github.com/screenpack/screenpack/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath    string
		address       string
		logLevel      string
		imagePath     string
		width, height int
	)
	flagSet := pflag.NewFlagSet("screenpack-assisted", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "YAML configuration file")
	flagSet.StringVarP(&address, "address", "a", "", "assistant address (overrides the configuration file)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flagSet.StringVar(&imagePath, "image", "", "read the screen from this PNG or JPEG file instead of drawing a test pattern")
	flagSet.IntVar(&width, "width", 1280, "test pattern width")
	flagSet.IntVar(&height, "height", 800, "test pattern height")
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
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if address != "" {
		cfg.Address = address
	}

	var source capture.Source = &capture.Synthetic{Width: width, Height: height}
	if imagePath != "" {
		source = capture.FileSource{Path: imagePath}
	}

	s, err := assisted.New(source, cfg.Compressor.Eviction, cfg.Network.SendQueueDepth, logger)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Connect(ctx, cfg.Address); err != nil {
		return err
	}
	defer s.Close()
	logger.Info("sharing screen", "address", cfg.Address)
	return s.Run(ctx)
}
