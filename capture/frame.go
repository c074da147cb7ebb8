// Package capture turns captured screen images into the set of regions
// that changed since the previous capture.
package capture

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
)

// A Frame is one captured screen image: RGBA, 4 bytes per pixel,
// row-major, with no padding between rows. A Frame must not be modified
// once it has been handed to a TileDiffEngine.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// ErrInvalidFrame is returned for frames whose pixel buffer does not
// match their dimensions.
var ErrInvalidFrame = errors.New("capture: invalid frame")

// NewFrame allocates a black frame.
func NewFrame(width, height int) *Frame {
	return &Frame{Width: width, Height: height, Pix: make([]byte, 4*width*height)}
}

// FromImage copies img into a new Frame.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < f.Height; y++ {
			i := rgba.PixOffset(b.Min.X, b.Min.Y+y)
			copy(f.Pix[4*f.Width*y:4*f.Width*(y+1)], rgba.Pix[i:i+4*f.Width])
		}
		return f
	}
	dst := &image.RGBA{Pix: f.Pix, Stride: 4 * f.Width, Rect: image.Rect(0, 0, f.Width, f.Height)}
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return f
}

// Set sets the pixel at (x, y).
func (f *Frame) Set(x, y int, r, g, b byte) {
	i := 4 * (y*f.Width + x)
	f.Pix[i] = r
	f.Pix[i+1] = g
	f.Pix[i+2] = b
	f.Pix[i+3] = 0xff
}

// Fill paints rect with a single color.
func (f *Frame) Fill(rect Rect, r, g, b byte) {
	for y := rect.Y; y < rect.Y+rect.H; y++ {
		for x := rect.X; x < rect.X+rect.W; x++ {
			f.Set(x, y, r, g, b)
		}
	}
}

func (f *Frame) validate() error {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: empty", ErrInvalidFrame)
	}
	if len(f.Pix) != 4*f.Width*f.Height {
		return fmt.Errorf("%w: %d bytes for %dx%d", ErrInvalidFrame, len(f.Pix), f.Width, f.Height)
	}
	return nil
}

// Quantization is the number of grey levels a frame is reduced to before
// it is diffed and compressed.
type Quantization int

const (
	Gray256 Quantization = 256
	Gray128 Quantization = 128
	Gray64  Quantization = 64
	Gray32  Quantization = 32
	Gray16  Quantization = 16
	Gray8   Quantization = 8
	Gray4   Quantization = 4
)

// Quantizations lists the supported levels, finest first.
var Quantizations = []Quantization{Gray256, Gray128, Gray64, Gray32, Gray16, Gray8, Gray4}

// Valid reports whether q is one of the supported levels.
func (q Quantization) Valid() bool {
	for _, v := range Quantizations {
		if q == v {
			return true
		}
	}
	return false
}

func (q Quantization) String() string {
	return fmt.Sprintf("%d grays", int(q))
}

// mask clears the low bits that the level discards.
func (q Quantization) mask() byte {
	return ^byte(256/int(q) - 1)
}

// Quantize converts the frame to one grey byte per pixel, reduced to q
// levels. dst is reused if it is large enough.
func (f *Frame) Quantize(dst []byte, q Quantization) []byte {
	n := f.Width * f.Height
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	mask := q.mask()
	for i, j := 0, 0; i < n; i, j = i+1, j+4 {
		r, g, b := uint32(f.Pix[j]), uint32(f.Pix[j+1]), uint32(f.Pix[j+2])
		// Same weights as color.GrayModel, on 8-bit components.
		y := (19595*r + 38470*g + 7471*b + 1<<15) >> 16
		dst[i] = byte(y) & mask
	}
	return dst
}
