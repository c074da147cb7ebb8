package decompressor

import (
	"fmt"
	"image"

	"github.com/screenpack/screenpack/squeeze"
)

// frame is the previous frame. Only the merger goroutine touches it.
// Empty is -1 x -1 with no pixels.
type frame struct {
	width, height int
	pix           []byte
}

func emptyFrame() frame {
	return frame{width: -1, height: -1}
}

func (f *frame) empty() bool {
	return f.width < 0
}

// resize makes f width x height. The previous content is dropped when the
// size changes; the captures that follow a resize cover the whole screen.
func (f *frame) resize(width, height int) {
	if f.width == width && f.height == height {
		return
	}
	f.width, f.height = width, height
	f.pix = make([]byte, width*height)
}

func (f *frame) image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, f.width, f.height))
	copy(img.Pix, f.pix)
	return img
}

// apply copies decoded regions into the frame.
func (f *frame) apply(c *squeeze.Capture, pix [][]byte) error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("capture %d: invalid size %dx%d", c.ID, c.Width, c.Height)
	}
	for _, r := range c.Regions {
		if !r.In(c.Width, c.Height) {
			return fmt.Errorf("capture %d: region %+v outside %dx%d", c.ID, r.Rect, c.Width, c.Height)
		}
	}
	f.resize(c.Width, c.Height)
	for i, r := range c.Regions {
		src := pix[i]
		for y := 0; y < r.H; y++ {
			dst := (r.Y+y)*f.width + r.X
			copy(f.pix[dst:dst+r.W], src[y*r.W:(y+1)*r.W])
		}
	}
	return nil
}

// merge owns the previous frame and applies decoded captures in id order.
// After the first failure it merges nothing until the next generation.
func (e *Engine) merge(gen uint64) {
	defer e.wg.Done()
	prev := emptyFrame()
	pending := make(map[uint64]result)
	next := uint64(1)
	failed := false

	drop := func() {
		e.inflight.Add(-int64(len(pending)))
		clear(pending)
	}
	reset := func(g uint64) {
		gen = g
		prev = emptyFrame()
		drop()
		next = 1
		failed = false
	}
	abort := func(err error) {
		failed = true
		drop()
		e.markFailed(gen)
		e.fail(err)
	}

	for {
		select {
		case <-e.stop:
			return

		case req := <-e.control:
			switch req := req.(type) {
			case resetRequest:
				if req.gen > gen {
					reset(req.gen)
				}
			case snapshotRequest:
				if prev.empty() {
					req.reply <- nil
				} else {
					req.reply <- prev.image()
				}
			}

		case r := <-e.results:
			if r.gen < gen {
				e.inflight.Add(-1)
				continue
			}
			if r.gen > gen {
				// The reset request is still on its way.
				reset(r.gen)
			}
			if failed {
				e.inflight.Add(-1)
				continue
			}
			if _, dup := pending[r.capture.ID]; dup || r.capture.ID < next {
				e.inflight.Add(-1)
				abort(fmt.Errorf("%w: capture %d received twice", ErrDesynchronized, r.capture.ID))
				continue
			}
			pending[r.capture.ID] = r
			for !failed {
				p, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				e.inflight.Add(-1)
				err := p.err
				if err == nil {
					err = prev.apply(p.capture, p.pix)
				}
				if err != nil {
					abort(err)
					break
				}
				e.emit(p.capture, prev.image())
				next++
				e.advance(gen, next)
			}
		}
	}
}

// advance publishes the next expected id for Submit, unless a reset has
// happened in the meantime.
func (e *Engine) advance(gen, next uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen == gen {
		e.next = next
	}
}

// markFailed makes Submit refuse captures until the next reset, unless a
// reset has happened in the meantime.
func (e *Engine) markFailed(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen == gen {
		e.failed = true
	}
}

func (e *Engine) emit(c *squeeze.Capture, img *image.Gray) {
	stats := Stats{
		Dirty:     c.Dirty,
		Skipped:   c.Skipped,
		Merged:    c.Merged,
		CacheHits: c.CacheHits(),
		Ratio:     c.Ratio(),
	}
	for _, l := range e.snapshotListeners() {
		l.OnDeCompressed(c, img, stats)
	}
}

func (e *Engine) fail(err error) {
	e.logger.Error("decompression failed", "error", err)
	for _, l := range e.snapshotListeners() {
		l.OnDeCompressorError(err)
	}
}
