// Package squeeze compresses the dirty regions of a capture, and decodes
// them on the receiving side.
package squeeze

import (
	"errors"
	"fmt"
)

// Method identifies the compression applied to a region. The values are
// wire constants; changing them breaks compatibility with older peers.
type Method uint8

const (
	// MethodNone sends the grey bytes as they are. It is also used for
	// any region that another method failed to shrink.
	MethodNone Method = 0

	// MethodRLE is a byte-oriented run-length encoding: (count-1, value)
	// pairs, runs of at most 256 bytes. Good for flat desktop areas and
	// nearly free to compute.
	MethodRLE Method = 1

	// MethodLZ77 finds matches with a WindowMatchFinder sliding over the
	// region through a HistoryWindow, and writes them as an LZ4 block.
	MethodLZ77 Method = 2

	// MethodLZ4 uses the reference LZ4 block compressor.
	MethodLZ4 Method = 3

	// MethodSnappy finds matches with a WindowMatchFinder, one 64 KiB
	// block at a time, and writes the Snappy framing format.
	MethodSnappy Method = 4

	// MethodZstd is zstd at the default level.
	MethodZstd Method = 5

	// MethodDeflate is DEFLATE at the default level.
	MethodDeflate Method = 6

	// MethodBrotli is Brotli at a medium quality. The best ratio of the
	// set, and the slowest.
	MethodBrotli Method = 7
)

// Methods lists every method, in wire order.
var Methods = []Method{
	MethodNone, MethodRLE, MethodLZ77, MethodLZ4,
	MethodSnappy, MethodZstd, MethodDeflate, MethodBrotli,
}

// ErrUnknownMethod is returned for a method value this build does not
// implement. A peer sending one cannot be decoded any further.
var ErrUnknownMethod = errors.New("squeeze: unknown compression method")

// String returns the name used in configuration files.
func (m Method) String() string {
	switch m {
	case MethodNone:
		return "none"
	case MethodRLE:
		return "rle"
	case MethodLZ77:
		return "lz77"
	case MethodLZ4:
		return "lz4"
	case MethodSnappy:
		return "snappy"
	case MethodZstd:
		return "zstd"
	case MethodDeflate:
		return "deflate"
	case MethodBrotli:
		return "brotli"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	return m <= MethodBrotli
}

// ParseMethod parses a method from its name.
func ParseMethod(name string) (Method, error) {
	for _, m := range Methods {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
}

// MarshalText lets configuration files name the method.
func (m Method) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMethod, uint8(m))
	}
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(text []byte) error {
	v, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
