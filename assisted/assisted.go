// Package assisted is the captured side of a screenpack session: it grabs
// the screen on every tick, keeps the tiles that changed, compresses them
// and sends them to the assistant, using the configurations the assistant
// sends back.
package assisted

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/screenpack/screenpack/capture"
	"github.com/screenpack/screenpack/network"
	"github.com/screenpack/screenpack/squeeze"
)

// ByteCountInterval is how often the bytes written are reported to the
// assistant.
const ByteCountInterval = time.Second

// A Session is one connection to an assistant and the capture pipeline
// feeding it.
type Session struct {
	logger   *slog.Logger
	source   capture.Source
	eviction squeeze.Eviction
	net      *network.Assisted
	diff     *capture.TileDiffEngine
	comp     *squeeze.CompressorEngine

	// id is the id of the next capture sent. Only Run touches it.
	id uint64

	mu         sync.Mutex
	captureCfg capture.Config
	newCapture *capture.Config
	newComp    *squeeze.Config
	err        error

	// changed is signalled when a configuration arrives.
	changed chan struct{}
}

// New returns a session grabbing from source. eviction is the local cache
// eviction policy; the rest of the compressor configuration comes from
// the assistant. A nil logger discards log output.
func New(source capture.Source, eviction squeeze.Eviction, queueDepth int, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	compCfg := squeeze.DefaultConfig()
	compCfg.Eviction = eviction
	comp, err := squeeze.NewCompressorEngine(compCfg, logger.With("component", "compressor"))
	if err != nil {
		return nil, err
	}
	captureCfg := capture.DefaultConfig()
	s := &Session{
		logger:     logger,
		source:     source,
		eviction:   eviction,
		net:        network.NewAssisted(queueDepth, logger.With("component", "network")),
		diff:       capture.NewTileDiffEngine(captureCfg.Quantization),
		comp:       comp,
		id:         1,
		captureCfg: captureCfg,
		changed:    make(chan struct{}, 1),
	}
	s.net.AddListener((*events)(s))
	return s, nil
}

// Connect dials the assistant.
func (s *Session) Connect(ctx context.Context, addr string) error {
	return s.net.Connect(ctx, addr)
}

// Close ends the session.
func (s *Session) Close() error {
	return s.net.Close()
}

// CaptureConfig returns the capture configuration in use.
func (s *Session) CaptureConfig() capture.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureCfg
}

// CompressorConfig returns the compressor configuration in use.
func (s *Session) CompressorConfig() squeeze.Config {
	return s.comp.Config()
}

// Run captures on every tick until ctx is done or the connection ends. It
// returns the connection's error, or nil when ctx ends the session.
func (s *Session) Run(ctx context.Context) error {
	s.apply()
	ticker := time.NewTicker(s.CaptureConfig().Tick())
	defer ticker.Stop()
	report := time.NewTicker(ByteCountInterval)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.net.Done():
			s.mu.Lock()
			err := s.err
			s.mu.Unlock()
			return err
		case <-s.changed:
			if s.apply() {
				ticker.Reset(s.CaptureConfig().Tick())
			}
		case <-report.C:
			if err := s.net.SendByteCount(s.net.BytesWritten()); err != nil && !errors.Is(err, network.ErrSendQueueFull) {
				s.logger.Warn("byte count not sent", "error", err)
			}
		case <-ticker.C:
			if err := s.Capture(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, network.ErrNotConnected) {
					continue
				}
				return err
			}
		}
	}
}

// apply switches to the configurations received since the last call. It
// reports whether the capture configuration changed.
func (s *Session) apply() bool {
	s.mu.Lock()
	newCapture, newComp := s.newCapture, s.newComp
	s.newCapture, s.newComp = nil, nil
	if newCapture != nil {
		s.captureCfg = *newCapture
	}
	s.mu.Unlock()

	if newComp != nil {
		if err := s.comp.Configure(*newComp); err != nil {
			s.logger.Warn("compressor configuration rejected", "error", err)
		}
	}
	if newCapture == nil {
		return false
	}
	// Every capture configuration restarts from a full frame: it is also
	// how the assistant asks for one.
	s.diff.SetQuantization(newCapture.Quantization)
	s.diff.Reset()
	s.logger.Info("capture configured", "tick", newCapture.Tick(), "quantization", newCapture.Quantization)
	return true
}

// Capture grabs one frame and sends the tiles that changed. Nothing is
// sent, and no id is used, when nothing changed.
func (s *Session) Capture(ctx context.Context) error {
	frame, err := s.source.Grab(ctx)
	if err != nil {
		return fmt.Errorf("grab: %w", err)
	}
	d, err := s.diff.Diff(frame)
	if err != nil {
		return err
	}
	if p, ok := s.source.(capture.Pointer); ok {
		s.net.SendMouseLocation(p.Pointer())
	}
	if len(d.Regions) == 0 {
		return nil
	}
	c, stats, err := s.comp.Compress(s.id, d)
	if err != nil {
		// The diff engine already holds this frame; the next capture
		// has to be a full one.
		s.diff.Reset()
		return err
	}
	if err := s.net.SendCapture(ctx, &c); err != nil {
		return err
	}
	s.logger.Debug("capture sent",
		"id", c.ID,
		"regions", len(c.Regions),
		"cache_hits", stats.CacheHits,
		"ratio", stats.Ratio,
	)
	s.id++
	return nil
}

// events receives the network.Assisted events. Configurations are only
// recorded here; Run applies them between two captures.
type events Session

func (e *events) OnCaptureConfiguration(cfg capture.Config) {
	if err := cfg.Validate(); err != nil {
		e.logger.Warn("capture configuration rejected", "error", err)
		return
	}
	e.mu.Lock()
	e.newCapture = &cfg
	e.mu.Unlock()
	e.notify()
}

func (e *events) OnCompressorConfiguration(cfg squeeze.Config) {
	cfg.Eviction = e.eviction
	if err := cfg.Validate(); err != nil {
		e.logger.Warn("compressor configuration rejected", "error", err)
		return
	}
	e.mu.Lock()
	e.newComp = &cfg
	e.mu.Unlock()
	e.notify()
}

func (e *events) OnIOError(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

func (e *events) notify() {
	select {
	case e.changed <- struct{}{}:
	default:
	}
}
