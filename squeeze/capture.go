package squeeze

import (
	"fmt"

	"github.com/screenpack/screenpack/capture"
)

// A Region is a compressed dirty region.
type Region struct {
	capture.Rect
	Method  Method `cbor:"method"`
	Cached  bool   `cbor:"cached"`
	RawSize int    `cbor:"raw_size"`
	Data    []byte `cbor:"data"`
}

// Decode expands the region back into one grey byte per pixel.
func (r Region) Decode() ([]byte, error) {
	if r.RawSize != r.Area() {
		return nil, fmt.Errorf("region %dx%d at (%d,%d): raw size %d does not match its area",
			r.W, r.H, r.X, r.Y, r.RawSize)
	}
	pix, err := Decompress(r.Method, r.Data, r.RawSize)
	if err != nil {
		return nil, fmt.Errorf("region %dx%d at (%d,%d): %w", r.W, r.H, r.X, r.Y, err)
	}
	return pix, nil
}

// A Capture is the unit sent from the assisted side to the assistant: the
// compressed changes of one frame. IDs start at 1 on every connection and
// increase by one per capture.
type Capture struct {
	ID      uint64   `cbor:"id"`
	Width   int      `cbor:"width"`
	Height  int      `cbor:"height"`
	Dirty   int      `cbor:"dirty"`
	Skipped int      `cbor:"skipped"`
	Merged  int      `cbor:"merged"`
	Regions []Region `cbor:"regions"`
}

// CacheHits counts the regions that were served from the sender's cache.
func (c *Capture) CacheHits() int {
	n := 0
	for _, r := range c.Regions {
		if r.Cached {
			n++
		}
	}
	return n
}

// Ratio returns the compressed size over the raw size of the regions, or
// 1 for a capture without regions.
func (c *Capture) Ratio() float64 {
	raw, compressed := 0, 0
	for _, r := range c.Regions {
		raw += r.RawSize
		compressed += len(r.Data)
	}
	if raw == 0 {
		return 1
	}
	return float64(compressed) / float64(raw)
}
