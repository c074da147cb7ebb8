package decompressor

import (
	"bytes"
	"errors"
	"image"
	"math/rand"
	"testing"
	"time"

	"github.com/screenpack/screenpack/capture"
	"github.com/screenpack/screenpack/squeeze"
)

const waitTimeout = 5 * time.Second

type merged struct {
	id    uint64
	img   *image.Gray
	stats Stats
}

type listener struct {
	merged chan merged
	errs   chan error
}

func newListener() *listener {
	return &listener{merged: make(chan merged, 256), errs: make(chan error, 256)}
}

func (l *listener) OnDeCompressed(c *squeeze.Capture, img *image.Gray, stats Stats) {
	l.merged <- merged{id: c.ID, img: img, stats: stats}
}

func (l *listener) OnDeCompressorError(err error) {
	l.errs <- err
}

func (l *listener) next(t *testing.T) merged {
	t.Helper()
	select {
	case m := <-l.merged:
		return m
	case err := <-l.errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a merge")
	}
	return merged{}
}

func (l *listener) nextError(t *testing.T) error {
	t.Helper()
	select {
	case err := <-l.errs:
		return err
	case m := <-l.merged:
		t.Fatalf("unexpected merge of capture %d", m.id)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for an error")
	}
	return nil
}

func start(t *testing.T, cfg Config) (*Engine, *listener) {
	t.Helper()
	e, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	l := newListener()
	e.AddListener(l)
	e.Start(0)
	t.Cleanup(e.Stop)
	return e, l
}

// compressor builds captures through the real compression path.
type compressor struct {
	t *testing.T
	e *squeeze.CompressorEngine
}

func newCompressor(t *testing.T) *compressor {
	cfg := squeeze.DefaultConfig()
	cfg.Method = squeeze.MethodLZ77
	e, err := squeeze.NewCompressorEngine(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	return &compressor{t: t, e: e}
}

func (c *compressor) capture(id uint64, width, height int, rect capture.Rect, value byte) *squeeze.Capture {
	d := capture.Diff{
		Width:   width,
		Height:  height,
		Dirty:   1,
		Regions: []capture.DirtyRegion{{Rect: rect, Pix: bytes.Repeat([]byte{value}, rect.Area())}},
	}
	out, _, err := c.e.Compress(id, d)
	if err != nil {
		c.t.Fatal(err)
	}
	return &out
}

func paint(pix []byte, width int, r capture.Rect, value byte) {
	for y := r.Y; y < r.Y+r.H; y++ {
		for x := r.X; x < r.X+r.W; x++ {
			pix[y*width+x] = value
		}
	}
}

func TestMergeOrderUnderPermutation(t *testing.T) {
	const n, width, height = 40, 24, 16
	e, l := start(t, DefaultConfig())
	comp := newCompressor(t)

	want := make([]byte, width*height)
	captures := make([]*squeeze.Capture, n)
	for i := 0; i < n; i++ {
		// Overlapping rectangles, each with its own value: any merge out
		// of order leaves a different picture.
		r := capture.Rect{X: i % 13, Y: i % 7, W: 11, H: 9}
		value := byte(10 + i)
		captures[i] = comp.capture(uint64(i+1), width, height, r, value)
		paint(want, width, r, value)
	}

	rand.New(rand.NewSource(5)).Shuffle(n, func(i, j int) {
		captures[i], captures[j] = captures[j], captures[i]
	})
	for _, c := range captures {
		if err := e.Submit(c); err != nil {
			t.Fatalf("submit %d: %v", c.ID, err)
		}
	}

	var last merged
	for i := 1; i <= n; i++ {
		last = l.next(t)
		if last.id != uint64(i) {
			t.Fatalf("merge %d was capture %d", i, last.id)
		}
	}
	if !bytes.Equal(last.img.Pix, want) {
		t.Fatal("final frame differs from in-order application")
	}
	if snap := e.Snapshot(); snap == nil || !bytes.Equal(snap.Pix, want) {
		t.Fatal("snapshot differs from the last merged frame")
	}
	if e.Pending() != 0 {
		t.Errorf("Pending() = %d after every merge", e.Pending())
	}
}

func TestMergedImagesAreCopies(t *testing.T) {
	e, l := start(t, DefaultConfig())
	comp := newCompressor(t)
	rect := capture.Rect{W: 4, H: 4}
	e.Submit(comp.capture(1, 4, 4, rect, 1))
	first := l.next(t)
	e.Submit(comp.capture(2, 4, 4, rect, 2))
	l.next(t)
	if first.img.Pix[0] != 1 {
		t.Error("an earlier image changed after a later merge")
	}
}

func TestStats(t *testing.T) {
	e, l := start(t, DefaultConfig())
	comp := newCompressor(t)
	rect := capture.Rect{W: 8, H: 8}
	e.Submit(comp.capture(1, 8, 8, rect, 3))
	l.next(t)
	// Same content again comes from the sender's cache.
	c := comp.capture(2, 8, 8, rect, 3)
	c.Skipped = 5
	e.Submit(c)
	m := l.next(t)
	if m.stats.CacheHits != 1 || m.stats.Dirty != 1 || m.stats.Skipped != 5 {
		t.Errorf("stats = %+v", m.stats)
	}
	if m.stats.Ratio <= 0 || m.stats.Ratio >= 1 {
		t.Errorf("ratio = %v", m.stats.Ratio)
	}
}

func TestDesynchronized(t *testing.T) {
	e, _ := start(t, Config{Workers: 2, MaxReorder: 8})
	if err := e.Submit(&squeeze.Capture{ID: 0}); !errors.Is(err, ErrDesynchronized) {
		t.Errorf("id 0: %v", err)
	}
	if err := e.Submit(&squeeze.Capture{ID: 9}); !errors.Is(err, ErrDesynchronized) {
		t.Errorf("id 9 with window 8: %v", err)
	}
	if err := e.Submit(&squeeze.Capture{ID: 8}); err != nil {
		t.Errorf("id 8 with window 8: %v", err)
	}
}

func TestDuplicate(t *testing.T) {
	e, l := start(t, Config{Workers: 1, MaxReorder: 8})
	c := &squeeze.Capture{ID: 2, Width: 4, Height: 4}
	if err := e.Submit(c); err != nil {
		t.Fatal(err)
	}
	if err := e.Submit(c); err != nil {
		t.Fatal(err)
	}
	if err := l.nextError(t); !errors.Is(err, ErrDesynchronized) {
		t.Errorf("duplicate reported as %v", err)
	}
	if err := e.Submit(&squeeze.Capture{ID: 1, Width: 4, Height: 4}); !errors.Is(err, ErrFailed) {
		t.Errorf("submit after a duplicate = %v, want ErrFailed", err)
	}
}

// stalled holds the merging goroutine inside OnDeCompressed until
// release is closed.
type stalled struct {
	entered chan uint64
	release chan struct{}
}

func (l *stalled) OnDeCompressed(c *squeeze.Capture, _ *image.Gray, _ Stats) {
	l.entered <- c.ID
	<-l.release
}

func (l *stalled) OnDeCompressorError(error) {}

func TestBacklog(t *testing.T) {
	e, err := New(Config{Workers: 1, MaxReorder: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	l := &stalled{entered: make(chan uint64, 8), release: make(chan struct{})}
	e.AddListener(l)
	e.Start(0)
	t.Cleanup(e.Stop)
	t.Cleanup(func() { close(l.release) })

	comp := newCompressor(t)
	rect := capture.Rect{W: 4, H: 4}
	if err := e.Submit(comp.capture(1, 4, 4, rect, 1)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-l.entered:
	case <-time.After(waitTimeout):
		t.Fatal("capture 1 never merged")
	}

	// The merger is stuck on capture 1: two more fill the window.
	for i := 0; i < 2; i++ {
		if err := e.Submit(comp.capture(2, 4, 4, rect, 2)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := e.Submit(comp.capture(2, 4, 4, rect, 2)); !errors.Is(err, ErrBacklog) {
		t.Errorf("submit with a full window = %v, want ErrBacklog", err)
	}
}

func TestUnknownMethodIsFatal(t *testing.T) {
	e, l := start(t, DefaultConfig())
	c := &squeeze.Capture{ID: 1, Width: 2, Height: 2, Regions: []squeeze.Region{{
		Rect: capture.Rect{W: 2, H: 2}, Method: squeeze.Method(99), RawSize: 4, Data: []byte{1, 2, 3, 4},
	}}}
	if err := e.Submit(c); err != nil {
		t.Fatal(err)
	}
	if err := l.nextError(t); !errors.Is(err, squeeze.ErrUnknownMethod) {
		t.Errorf("got %v, want ErrUnknownMethod", err)
	}
	if e.Snapshot() != nil {
		t.Error("frame changed by an undecodable capture")
	}
}

func TestNothingMergedAfterFailure(t *testing.T) {
	e, l := start(t, DefaultConfig())
	bad := &squeeze.Capture{ID: 1, Width: 2, Height: 2, Regions: []squeeze.Region{{
		Rect: capture.Rect{W: 2, H: 2}, Method: squeeze.Method(99), RawSize: 4, Data: []byte{1, 2, 3, 4},
	}}}
	good := &squeeze.Capture{ID: 2, Width: 2, Height: 2, Regions: []squeeze.Region{{
		Rect: capture.Rect{W: 1, H: 1}, Method: squeeze.MethodNone, RawSize: 1, Data: []byte{9},
	}}}
	if err := e.Submit(good); err != nil {
		t.Fatal(err)
	}
	if err := e.Submit(bad); err != nil {
		t.Fatal(err)
	}
	if err := l.nextError(t); !errors.Is(err, squeeze.ErrUnknownMethod) {
		t.Fatalf("got %v, want ErrUnknownMethod", err)
	}
	if err := e.Submit(&squeeze.Capture{ID: 3, Width: 2, Height: 2}); !errors.Is(err, ErrFailed) {
		t.Errorf("submit after a failure = %v, want ErrFailed", err)
	}

	select {
	case m := <-l.merged:
		t.Fatalf("capture %d merged after a failure", m.id)
	case err := <-l.errs:
		t.Fatalf("second error after a failure: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if e.Snapshot() != nil {
		t.Error("frame changed after a failure")
	}

	e.Reset()
	again := &squeeze.Capture{ID: 1, Width: 2, Height: 2, Regions: good.Regions}
	if err := e.Submit(again); err != nil {
		t.Fatalf("submit after reset: %v", err)
	}
	if m := l.next(t); m.id != 1 || m.img.Pix[0] != 9 {
		t.Errorf("after reset merged capture %d with pixel %d", m.id, m.img.Pix[0])
	}
}

func TestRegionOutsideFrame(t *testing.T) {
	e, l := start(t, DefaultConfig())
	c := &squeeze.Capture{ID: 1, Width: 2, Height: 2, Regions: []squeeze.Region{{
		Rect: capture.Rect{X: 1, W: 2, H: 2}, Method: squeeze.MethodNone, RawSize: 4, Data: make([]byte, 4),
	}}}
	e.Submit(c)
	if err := l.nextError(t); err == nil {
		t.Fatal("no error for a region outside the frame")
	}
}

func TestReset(t *testing.T) {
	e, l := start(t, DefaultConfig())
	comp := newCompressor(t)
	rect := capture.Rect{W: 4, H: 4}
	e.Submit(comp.capture(1, 4, 4, rect, 7))
	l.next(t)
	if e.Snapshot() == nil {
		t.Fatal("no frame after a merge")
	}

	// Capture 3 waits for 2, which never comes before the reset.
	e.Submit(comp.capture(3, 4, 4, rect, 9))
	e.Reset()
	if snap := e.Snapshot(); snap != nil {
		t.Fatalf("frame is %v after reset, want empty", snap.Rect)
	}
	deadline := time.Now().Add(waitTimeout)
	for e.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Pending() = %d after reset", e.Pending())
		}
		time.Sleep(time.Millisecond)
	}

	// A new session starts again at 1.
	if err := e.Submit(comp.capture(1, 4, 4, rect, 5)); err != nil {
		t.Fatal(err)
	}
	m := l.next(t)
	if m.id != 1 || m.img.Pix[0] != 5 {
		t.Errorf("after reset merged capture %d with pixel %d", m.id, m.img.Pix[0])
	}
}

func TestSubmitWhileStopped(t *testing.T) {
	e, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Submit(&squeeze.Capture{ID: 1}); !errors.Is(err, ErrStopped) {
		t.Errorf("before Start: %v", err)
	}
	e.Start(2)
	e.Stop()
	if err := e.Submit(&squeeze.Capture{ID: 1}); !errors.Is(err, ErrStopped) {
		t.Errorf("after Stop: %v", err)
	}
	if e.Snapshot() != nil {
		t.Error("snapshot of a stopped engine")
	}
}

func TestRestart(t *testing.T) {
	e, l := start(t, DefaultConfig())
	comp := newCompressor(t)
	rect := capture.Rect{W: 4, H: 4}
	for id := uint64(1); id <= 2; id++ {
		e.Submit(comp.capture(id, 4, 4, rect, byte(id)))
		l.next(t)
	}
	e.Stop()
	e.Start(0)
	if e.Snapshot() != nil {
		t.Error("restarted engine kept the previous frame")
	}
	if err := e.Submit(comp.capture(1, 4, 4, rect, 3)); err != nil {
		t.Fatalf("capture 1 after restart: %v", err)
	}
	if m := l.next(t); m.id != 1 {
		t.Errorf("merged capture %d after restart", m.id)
	}
}

func TestConfigValidate(t *testing.T) {
	if _, err := New(Config{Workers: 0, MaxReorder: 4}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero workers: %v", err)
	}
	if _, err := New(Config{Workers: 1, MaxReorder: 0}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero window: %v", err)
	}
}
