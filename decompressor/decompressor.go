// Package decompressor rebuilds the assisted screen from the captures
// received by the assistant.
//
// Captures are decoded by a pool of workers in whatever order they
// finish, and merged into the previous frame by a single goroutine that
// owns it, strictly in id order. A capture that arrives before its
// predecessors waits in a pending set bounded by Config.MaxReorder.
package decompressor

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/screenpack/screenpack/squeeze"
)

var (
	// ErrDesynchronized is returned for a capture id the engine cannot
	// place: already merged, or too far ahead of the next expected id.
	// The connection it came from cannot be trusted any more.
	ErrDesynchronized = errors.New("decompressor: capture ids desynchronized")

	// ErrBacklog is returned when MaxReorder captures are already waiting.
	ErrBacklog = errors.New("decompressor: too many captures in flight")

	// ErrFailed is returned by Submit once a capture could not be decoded
	// or merged, until the engine is reset.
	ErrFailed = errors.New("decompressor: stream failed, reset required")

	// ErrStopped is returned by Submit before Start or after Stop.
	ErrStopped = errors.New("decompressor: not running")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("decompressor: invalid configuration")
)

// Config sizes the engine.
type Config struct {
	// Workers is the number of decoding goroutines.
	Workers int `yaml:"workers"`

	// MaxReorder is how far ahead of the next expected id a capture may
	// be, and how many captures may be in flight at once.
	MaxReorder int `yaml:"max_reorder"`
}

// DefaultConfig returns 8 workers and a reorder window of 64 captures.
func DefaultConfig() Config {
	return Config{Workers: 8, MaxReorder: 64}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, c.Workers)
	}
	if c.MaxReorder <= 0 {
		return fmt.Errorf("%w: max reorder must be positive, got %d", ErrInvalidConfig, c.MaxReorder)
	}
	return nil
}

// Stats describe one merged capture.
type Stats struct {
	Dirty     int
	Skipped   int
	Merged    int
	CacheHits int
	// Ratio is the compressed over the raw size of the capture's regions.
	Ratio float64
}

// A Listener receives the merged frames. The methods are called on the
// merging goroutine and must return quickly.
type Listener interface {
	// OnDeCompressed is called after every merge with a copy of the
	// frame that the listener may keep.
	OnDeCompressed(c *squeeze.Capture, img *image.Gray, stats Stats)

	// OnDeCompressorError is called when a capture cannot be decoded or
	// merged. Nothing more is merged, and Submit fails, until the engine
	// is reset.
	OnDeCompressorError(err error)
}

type job struct {
	gen     uint64
	capture *squeeze.Capture
}

type result struct {
	gen     uint64
	capture *squeeze.Capture
	pix     [][]byte
	err     error
}

type snapshotRequest struct {
	reply chan *image.Gray
}

type resetRequest struct {
	gen uint64
}

// An Engine is a DeCompressorEngine.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	listeners []Listener
	running   bool

	// gen, next and failed are written by Reset and the merger, and read
	// by Submit. They are guarded by mu.
	gen    uint64
	next   uint64
	failed bool

	inflight atomic.Int64

	jobs    chan job
	results chan result
	control chan any
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New returns a stopped engine. A nil logger discards log output.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{cfg: cfg, logger: logger, next: 1}, nil
}

// AddListener registers l for every following merge.
func (e *Engine) AddListener(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

func (e *Engine) snapshotListeners() []Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Listener(nil), e.listeners...)
}

// Start launches the workers and the merger. workers <= 0 uses the
// configured number.
func (e *Engine) Start(workers int) {
	if workers <= 0 {
		workers = e.cfg.Workers
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	// A restarted engine begins a new stream at capture 1.
	e.gen++
	e.next = 1
	e.failed = false
	e.jobs = make(chan job, e.cfg.MaxReorder)
	e.results = make(chan result, e.cfg.MaxReorder)
	e.control = make(chan any)
	e.stop = make(chan struct{})

	e.wg.Add(workers + 1)
	for i := 0; i < workers; i++ {
		go e.work()
	}
	go e.merge(e.gen)
	e.logger.Info("decompressor started", "workers", workers, "max_reorder", e.cfg.MaxReorder)
}

// Stop discards the work in flight and waits for the goroutines to exit.
// Listeners get no further calls once Stop returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	e.mu.Unlock()
	e.wg.Wait()
	e.inflight.Store(0)
}

// Submit hands a received capture to the engine. It never blocks.
func (e *Engine) Submit(c *squeeze.Capture) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return ErrStopped
	}
	if e.failed {
		return fmt.Errorf("%w: capture %d", ErrFailed, c.ID)
	}
	if c.ID < e.next || c.ID >= e.next+uint64(e.cfg.MaxReorder) {
		return fmt.Errorf("%w: capture %d, expecting %d (window %d)",
			ErrDesynchronized, c.ID, e.next, e.cfg.MaxReorder)
	}
	if e.inflight.Load() >= int64(e.cfg.MaxReorder) {
		return fmt.Errorf("%w: capture %d", ErrBacklog, c.ID)
	}
	select {
	case e.jobs <- job{gen: e.gen, capture: c}:
		e.inflight.Add(1)
		return nil
	default:
		return fmt.Errorf("%w: capture %d", ErrBacklog, c.ID)
	}
}

// Reset empties the previous frame and expects capture 1 next. Work in
// flight for earlier captures is discarded.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.gen++
	e.next = 1
	e.failed = false
	gen, running := e.gen, e.running
	control, stop := e.control, e.stop
	e.mu.Unlock()
	e.logger.Info("decompressor reset", "generation", gen)
	if !running {
		return
	}
	select {
	case control <- resetRequest{gen: gen}:
	case <-stop:
	}
}

// Snapshot returns a copy of the previous frame, or nil while it is empty
// or the engine is stopped.
func (e *Engine) Snapshot() *image.Gray {
	e.mu.Lock()
	running, control, stop := e.running, e.control, e.stop
	e.mu.Unlock()
	if !running {
		return nil
	}
	req := snapshotRequest{reply: make(chan *image.Gray, 1)}
	select {
	case control <- req:
	case <-stop:
		return nil
	}
	select {
	case img := <-req.reply:
		return img
	case <-stop:
		return nil
	}
}

// Pending returns the number of captures submitted and not yet merged.
func (e *Engine) Pending() int {
	return int(e.inflight.Load())
}

func (e *Engine) currentGen() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

func (e *Engine) work() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case j := <-e.jobs:
			if j.gen != e.currentGen() {
				e.inflight.Add(-1)
				continue
			}
			r := result{gen: j.gen, capture: j.capture, pix: make([][]byte, len(j.capture.Regions))}
			for i, region := range j.capture.Regions {
				pix, err := region.Decode()
				if err != nil {
					r.err = fmt.Errorf("capture %d: %w", j.capture.ID, err)
					break
				}
				r.pix[i] = pix
			}
			select {
			case e.results <- r:
			case <-e.stop:
				return
			}
		}
	}
}
