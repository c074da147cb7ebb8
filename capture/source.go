package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"
)

// A Source produces screen images. The platform screen grab lives
// outside this module; anything that can hand over an image implements
// Source.
type Source interface {
	Grab(ctx context.Context) (*Frame, error)
}

// FileSource reads the screen from an image file (PNG or JPEG) on every
// grab, as written by an external screenshot tool.
type FileSource struct {
	Path string
}

func (s FileSource) Grab(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("capture: decoding %s: %w", s.Path, err)
	}
	return FromImage(img), nil
}

// A Pointer is a Source that also knows where the mouse is.
type Pointer interface {
	Pointer() (x, y int)
}

// Synthetic is a Source that draws a test pattern: a static background
// with a square that moves a little on every grab.
type Synthetic struct {
	Width, Height int

	mu   sync.Mutex
	tick int
}

func (s *Synthetic) Grab(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	tick := s.tick
	s.tick++
	s.mu.Unlock()

	f := NewFrame(s.Width, s.Height)
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			v := byte((x/64 + y/64) % 2 * 0x40)
			f.Set(x, y, v, v, v)
		}
	}
	if sq := s.square(tick); sq.W > 0 {
		f.Fill(sq, 0xff, 0xc0, 0x20)
	}
	return f, nil
}

func (s *Synthetic) square(tick int) Rect {
	side := min(48, s.Width, s.Height)
	if side <= 0 {
		return Rect{}
	}
	span := max(s.Width-side, 1)
	return Rect{X: (tick * 8) % span, Y: (s.Height - side) / 2, W: side, H: side}
}

// Pointer follows the square: it returns the centre of the square drawn
// by the last Grab.
func (s *Synthetic) Pointer() (x, y int) {
	s.mu.Lock()
	tick := max(s.tick-1, 0)
	s.mu.Unlock()
	sq := s.square(tick)
	return sq.X + sq.W/2, sq.Y + sq.H/2
}
