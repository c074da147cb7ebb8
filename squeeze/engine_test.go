package squeeze

import (
	"bytes"
	"errors"
	"testing"

	"github.com/screenpack/screenpack/capture"
)

func diffOf(regions ...capture.DirtyRegion) capture.Diff {
	d := capture.Diff{Width: 256, Height: 256, Dirty: len(regions), Skipped: 64 - len(regions)}
	d.Regions = regions
	return d
}

func region(x, y int, seed int64) capture.DirtyRegion {
	return capture.DirtyRegion{
		Rect: capture.Rect{X: x, Y: y, W: 32, H: 32},
		Pix:  greyScreen(32*32, seed),
	}
}

func TestCacheHitProducesIdenticalBytes(t *testing.T) {
	e, err := NewCompressorEngine(DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	first, stats, err := e.Compress(1, diffOf(region(0, 0, 1)))
	if err != nil {
		t.Fatal(err)
	}
	if stats.CacheHits != 0 || first.Regions[0].Cached {
		t.Fatal("first compression reported a cache hit")
	}

	second, stats, err := e.Compress(2, diffOf(region(64, 32, 1)))
	if err != nil {
		t.Fatal(err)
	}
	if stats.CacheHits != 1 || !second.Regions[0].Cached {
		t.Fatal("second compression of the same content missed the cache")
	}
	if !bytes.Equal(first.Regions[0].Data, second.Regions[0].Data) {
		t.Fatal("cached bytes differ from the first compression")
	}
	if second.Regions[0].X != 64 || second.Regions[0].Y != 32 {
		t.Errorf("cached region kept the wrong rectangle: %+v", second.Regions[0].Rect)
	}
	if second.CacheHits() != 1 {
		t.Errorf("Capture.CacheHits() = %d", second.CacheHits())
	}
}

func TestCacheDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheEnabled = false
	e, err := NewCompressorEngine(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	e.Compress(1, diffOf(region(0, 0, 1)))
	_, stats, _ := e.Compress(2, diffOf(region(0, 0, 1)))
	if stats.CacheHits != 0 || e.Cache().Len() != 0 {
		t.Errorf("cache used while disabled: hits=%d entries=%d", stats.CacheHits, e.Cache().Len())
	}
}

func TestCompressCarriesCounts(t *testing.T) {
	e, _ := NewCompressorEngine(DefaultConfig(), nil)
	d := diffOf(region(0, 0, 1), region(32, 0, 2))
	d.Merged = 1
	c, stats, err := e.Compress(7, d)
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != 7 || c.Dirty != 2 || c.Skipped != 62 || c.Merged != 1 || c.Width != 256 {
		t.Errorf("capture = %+v", c)
	}
	if stats.RawBytes != 2*32*32 {
		t.Errorf("raw bytes = %d", stats.RawBytes)
	}
	if stats.Ratio <= 0 || stats.Ratio >= 1 {
		t.Errorf("ratio = %v", stats.Ratio)
	}
	for _, r := range c.Regions {
		pix, err := r.Decode()
		if err != nil {
			t.Fatal(err)
		}
		if len(pix) != 32*32 {
			t.Errorf("decoded %d bytes", len(pix))
		}
	}
}

func TestEmptyDiff(t *testing.T) {
	e, _ := NewCompressorEngine(DefaultConfig(), nil)
	c, stats, err := e.Compress(1, diffOf())
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Regions) != 0 || stats.Ratio != 1 {
		t.Errorf("regions=%d ratio=%v", len(c.Regions), stats.Ratio)
	}
}

func TestInvalidConfigLeavesActiveConfig(t *testing.T) {
	e, _ := NewCompressorEngine(DefaultConfig(), nil)
	before := e.Config()

	bad := []Config{
		{Method: MethodZstd, CacheEnabled: true, CacheMaxSize: 100, CachePurgeSize: 100},
		{Method: MethodZstd, CacheEnabled: true, CacheMaxSize: 100, CachePurgeSize: 200},
		{Method: MethodZstd, CacheMaxSize: 0, CachePurgeSize: 0},
		{Method: MethodZstd, CacheMaxSize: 100, CachePurgeSize: -1},
		{Method: Method(99), CacheMaxSize: 100, CachePurgeSize: 50},
	}
	for _, cfg := range bad {
		if err := e.Configure(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Configure(%+v) = %v, want ErrInvalidConfig", cfg, err)
		}
		if e.Config() != before {
			t.Fatalf("active config changed to %+v", e.Config())
		}
	}
}

func TestMethodChangeClearsCache(t *testing.T) {
	e, _ := NewCompressorEngine(DefaultConfig(), nil)
	e.Compress(1, diffOf(region(0, 0, 1)))
	if e.Cache().Len() != 1 {
		t.Fatalf("cache has %d entries", e.Cache().Len())
	}
	cfg := DefaultConfig()
	cfg.Method = MethodZstd
	if err := e.Configure(cfg); err != nil {
		t.Fatal(err)
	}
	if e.Cache().Len() != 0 {
		t.Fatal("cache kept entries of the previous method")
	}
	c, _, _ := e.Compress(2, diffOf(region(0, 0, 1)))
	if c.Regions[0].Method != MethodZstd || c.Regions[0].Cached {
		t.Errorf("region = method %v cached %v", c.Regions[0].Method, c.Regions[0].Cached)
	}
}
