package squeeze

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/screenpack/screenpack"
	"github.com/screenpack/screenpack/capture"
)

// Stats describe one call to CompressorEngine.Compress.
type Stats struct {
	CacheHits       int
	RawBytes        int
	CompressedBytes int
	// Ratio is CompressedBytes/RawBytes, 1 when nothing was compressed.
	Ratio float64
}

// A CompressorEngine compresses the regions of a diff with the configured
// method, consulting its cache first. It owns one WindowMatchFinder (and
// through it one HistoryWindow), so calls to Compress are serialized.
type CompressorEngine struct {
	logger *slog.Logger

	mu     sync.Mutex
	cfg    Config
	cache  *Cache
	finder screenpack.WindowMatchFinder
}

// NewCompressorEngine returns an engine using cfg. A nil logger discards
// log output.
func NewCompressorEngine(cfg Config, logger *slog.Logger) (*CompressorEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CompressorEngine{
		logger: logger,
		cfg:    cfg,
		cache:  NewCache(cfg.CacheMaxSize, cfg.CachePurgeSize, cfg.Eviction),
	}, nil
}

// Config returns the active configuration.
func (e *CompressorEngine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Cache returns the engine's cache.
func (e *CompressorEngine) Cache() *Cache {
	return e.cache
}

// Configure validates cfg and makes it the active configuration. An
// invalid configuration is rejected and the previous one stays active.
// Changing the method or disabling the cache empties the cache.
func (e *CompressorEngine) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	previous := e.cfg
	e.cfg = cfg
	if cfg.Method != previous.Method || !cfg.CacheEnabled {
		e.cache.Clear()
	}
	e.cache.Resize(cfg.CacheMaxSize, cfg.CachePurgeSize, cfg.Eviction)
	e.logger.Info("compressor configured",
		"method", cfg.Method,
		"cache_enabled", cfg.CacheEnabled,
		"cache_max_size", cfg.CacheMaxSize,
		"cache_purge_size", cfg.CachePurgeSize,
		"eviction", cfg.Eviction,
	)
	return nil
}

// Compress turns a diff into the capture with the given id.
func (e *CompressorEngine) Compress(id uint64, d capture.Diff) (Capture, Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := Capture{
		ID:      id,
		Width:   d.Width,
		Height:  d.Height,
		Dirty:   d.Dirty,
		Skipped: d.Skipped,
		Merged:  d.Merged,
		Regions: make([]Region, 0, len(d.Regions)),
	}
	var stats Stats
	for _, dr := range d.Regions {
		r := Region{Rect: dr.Rect, RawSize: len(dr.Pix)}
		var key Key
		if e.cfg.CacheEnabled {
			key = Fingerprint(e.cfg.Method, dr.Pix)
			if v, ok := e.cache.Get(key); ok {
				r.Method, r.Data, r.Cached = v.Method, v.Data, true
				stats.CacheHits++
			}
		}
		if !r.Cached {
			m, data, err := compress(e.cfg.Method, dr.Pix, &e.finder)
			if err != nil {
				return Capture{}, Stats{}, fmt.Errorf("capture %d: %w", id, err)
			}
			if m == MethodNone {
				// The cache must not alias the diff's pixel buffer.
				data = append([]byte(nil), data...)
			}
			r.Method, r.Data = m, data
			if e.cfg.CacheEnabled {
				e.cache.Put(key, Encoded{Method: m, Data: data})
			}
		}
		stats.RawBytes += r.RawSize
		stats.CompressedBytes += len(r.Data)
		c.Regions = append(c.Regions, r)
	}
	stats.Ratio = 1
	if stats.RawBytes > 0 {
		stats.Ratio = float64(stats.CompressedBytes) / float64(stats.RawBytes)
	}
	e.logger.Debug("capture compressed",
		"id", id,
		"regions", len(c.Regions),
		"dirty", c.Dirty,
		"skipped", c.Skipped,
		"merged", c.Merged,
		"cache_hits", stats.CacheHits,
		"ratio", stats.Ratio,
	)
	return c, stats, nil
}
