// Package assistant is the viewing side of a screenpack session. It
// listens for the assisted side, rebuilds its screen from the captures it
// receives, and keeps it supplied with capture and compressor
// configurations.
package assistant

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/screenpack/screenpack/capture"
	"github.com/screenpack/screenpack/config"
	"github.com/screenpack/screenpack/decompressor"
	"github.com/screenpack/screenpack/network"
	"github.com/screenpack/screenpack/squeeze"
	"github.com/screenpack/screenpack/telemetry"
)

// TelemetryInterval is the window of the counters reported to the
// Renderer.
const TelemetryInterval = time.Second

// Counter names.
const (
	CounterBits      = "received_bits"
	CounterTiles     = "received_tiles"
	CounterCacheHits = "cache_hits"
	CounterSkipped   = "skipped_tiles"
	CounterMerged    = "merged_tiles"
	CounterRatio     = "compression_ratio"
	CounterPeerBytes = "peer_bytes"
)

// A Renderer shows the assisted screen. Its methods are called from the
// engine's goroutines and must return quickly.
type Renderer interface {
	// OnCaptureUpdated is called with every new screen image. The image
	// is a copy the renderer may keep.
	OnCaptureUpdated(id uint64, img *image.Gray)

	OnMouseLocation(x, y int)

	// OnTelemetry is called once per TelemetryInterval.
	OnTelemetry(readings []telemetry.Reading)
}

// An Assistant ties the network, the decompressor and the counters
// together.
type Assistant struct {
	logger    *slog.Logger
	net       *network.Assistant
	dec       *decompressor.Engine
	counters  *telemetry.Registry
	persister config.Persister
	renderer  Renderer

	bits, tiles, hits, skipped, merged, ratio, peer *telemetry.Counter

	mu      sync.Mutex
	cfg     config.Config
	stopped bool

	// sessionEnded is signalled when a session ends and the network
	// side is ready to accept the next peer.
	sessionEnded chan struct{}
}

// New returns an assistant for cfg. The persister may be nil, in which
// case configuration changes are not saved. A nil logger discards log
// output.
func New(cfg *config.Config, persister config.Persister, renderer Renderer, logger *slog.Logger) (*Assistant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	dec, err := decompressor.New(cfg.Decompressor, logger.With("component", "decompressor"))
	if err != nil {
		return nil, err
	}
	a := &Assistant{
		logger:       logger,
		dec:          dec,
		counters:     telemetry.NewRegistry(logger.With("component", "telemetry")),
		persister:    persister,
		renderer:     renderer,
		cfg:          *cfg,
		sessionEnded: make(chan struct{}, 1),
	}
	a.bits = a.counters.Counter(CounterBits, telemetry.Rate)
	a.tiles = a.counters.Counter(CounterTiles, telemetry.Total)
	a.hits = a.counters.Counter(CounterCacheHits, telemetry.Total)
	a.skipped = a.counters.Counter(CounterSkipped, telemetry.Total)
	a.merged = a.counters.Counter(CounterMerged, telemetry.Total)
	a.ratio = a.counters.Counter(CounterRatio, telemetry.Average)
	a.peer = a.counters.Counter(CounterPeerBytes, telemetry.Total)

	a.net = network.NewAssistant(dec, logger.With("component", "network"))
	a.net.AddListener((*netEvents)(a))
	dec.AddListener((*decEvents)(a))
	if err := a.net.Configure(cfg.Network); err != nil {
		return nil, err
	}
	return a, nil
}

// Config returns the configuration in use.
func (a *Assistant) Config() config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Addr returns the address the assistant listens on, or nil between
// sessions.
func (a *Assistant) Addr() net.Addr {
	return a.net.Addr()
}

// Snapshot returns the current screen, or nil before the first capture.
func (a *Assistant) Snapshot() *image.Gray {
	return a.dec.Snapshot()
}

// Telemetry returns the counters of the session.
func (a *Assistant) Telemetry() *telemetry.Registry {
	return a.counters
}

// Start starts the decompressor and waits for a peer in the background.
func (a *Assistant) Start() error {
	a.dec.Start(0)
	if err := a.net.Start(); err != nil {
		a.dec.Stop()
		return err
	}
	return nil
}

// Stop ends the session and stops accepting peers.
func (a *Assistant) Stop() {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
	a.net.Stop()
	a.dec.Stop()
}

// Run starts the assistant and serves one peer after the other until ctx
// is done. The counters are reported to the renderer every
// TelemetryInterval.
func (a *Assistant) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	defer a.Stop()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.counters.Run(ctx, TelemetryInterval, func(readings []telemetry.Reading) {
			if a.renderer != nil {
				a.renderer.OnTelemetry(readings)
			}
		})
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.sessionEnded:
			if err := a.net.Start(); err != nil && !errors.Is(err, network.ErrAlreadyStarted) {
				a.logger.Error("restart failed", "error", err)
				return err
			}
		}
	}
}

// UpdateCaptureConfig validates cfg, applies it, saves it and sends it to
// the peer. An unchanged configuration is ignored.
func (a *Assistant) UpdateCaptureConfig(cfg capture.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	if a.cfg.Capture == cfg {
		a.mu.Unlock()
		return nil
	}
	a.cfg.Capture = cfg
	saved := a.cfg
	a.mu.Unlock()

	a.persist(&saved)
	return a.sendCaptureConfig(cfg)
}

// UpdateCompressorConfig validates cfg, applies it, saves it and sends it
// to the peer. An unchanged configuration is ignored.
func (a *Assistant) UpdateCompressorConfig(cfg squeeze.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	if a.cfg.Compressor == cfg {
		a.mu.Unlock()
		return nil
	}
	a.cfg.Compressor = cfg
	saved := a.cfg
	a.mu.Unlock()

	a.persist(&saved)
	return a.sendCompressorConfig(cfg)
}

// ResetCapture asks the assisted side for a full capture by sending the
// capture configuration again.
func (a *Assistant) ResetCapture() error {
	return a.sendCaptureConfig(a.Config().Capture)
}

// persist saves cfg. A failure is only logged: the new configuration is
// already in use.
func (a *Assistant) persist(cfg *config.Config) {
	if a.persister == nil {
		return
	}
	if err := a.persister.Persist(cfg); err != nil {
		a.logger.Warn("configuration not saved", "error", err)
	}
}

// The configurations are sent again on every connection, so there is
// nothing to do while no peer is connected.
func (a *Assistant) sendCaptureConfig(cfg capture.Config) error {
	err := a.net.SendCaptureConfiguration(cfg)
	if errors.Is(err, network.ErrNotConnected) {
		return nil
	}
	return err
}

func (a *Assistant) sendCompressorConfig(cfg squeeze.Config) error {
	err := a.net.SendCompressorConfiguration(cfg)
	if errors.Is(err, network.ErrNotConnected) {
		return nil
	}
	return err
}
