package squeeze

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	pierrec "github.com/pierrec/lz4/v4"

	"github.com/screenpack/screenpack"
	"github.com/screenpack/screenpack/lz4"
	"github.com/screenpack/screenpack/snappy"
)

// brotliQuality trades ratio for speed; 11 is far too slow for a capture
// tick.
const brotliQuality = 5

// zstdEncoder and zstdDecoder are shared by every engine. Both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("squeeze: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("squeeze: zstd decoder initialization failed: " + err.Error())
	}
}

// compress encodes src with m. mf is the match finder for the methods
// that search with a HistoryWindow; it is not safe for concurrent use.
// The returned method is MethodNone when m did not make src smaller.
func compress(m Method, src []byte, mf screenpack.MatchFinder) (Method, []byte, error) {
	if len(src) == 0 && m.Valid() {
		return MethodNone, src, nil
	}
	var out []byte
	switch m {
	case MethodNone:
		return MethodNone, src, nil

	case MethodRLE:
		out = appendRLE(nil, src)

	case MethodLZ77:
		out = lz4.Compress(nil, src, mf)

	case MethodLZ4:
		dst := make([]byte, pierrec.CompressBlockBound(len(src)))
		n, err := pierrec.CompressBlock(src, dst, nil)
		if err != nil {
			return 0, nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			// Incompressible.
			return MethodNone, src, nil
		}
		out = dst[:n]

	case MethodSnappy:
		out = snappy.Compress(nil, src, mf)

	case MethodZstd:
		out = zstdEncoder.EncodeAll(src, nil)

	case MethodDeflate:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return 0, nil, fmt.Errorf("deflate compress: %w", err)
		}
		if _, err := w.Write(src); err != nil {
			return 0, nil, fmt.Errorf("deflate compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return 0, nil, fmt.Errorf("deflate compress: %w", err)
		}
		out = buf.Bytes()

	case MethodBrotli:
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, brotliQuality)
		if _, err := w.Write(src); err != nil {
			return 0, nil, fmt.Errorf("brotli compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return 0, nil, fmt.Errorf("brotli compress: %w", err)
		}
		out = buf.Bytes()

	default:
		return 0, nil, fmt.Errorf("%w: %d", ErrUnknownMethod, uint8(m))
	}

	if len(out) >= len(src) {
		return MethodNone, src, nil
	}
	return m, out, nil
}

// Decompress expands data, which was compressed with m and holds size
// bytes once expanded.
func Decompress(m Method, data []byte, size int) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch m {
	case MethodNone:
		out = data

	case MethodRLE:
		return decodeRLE(data, size)

	case MethodLZ77, MethodLZ4:
		return lz4.Decode(data, size)

	case MethodSnappy:
		out, err = snappy.Decompress(data)

	case MethodZstd:
		out, err = zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			err = fmt.Errorf("zstd decode: %w", err)
		}

	case MethodDeflate:
		out, err = readAll(flate.NewReader(bytes.NewReader(data)), size)
		if err != nil {
			err = fmt.Errorf("deflate decode: %w", err)
		}

	case MethodBrotli:
		out, err = readAll(brotli.NewReader(bytes.NewReader(data)), size)
		if err != nil {
			err = fmt.Errorf("brotli decode: %w", err)
		}

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMethod, uint8(m))
	}
	if err != nil {
		return nil, err
	}
	if len(out) != size {
		return nil, fmt.Errorf("%s decode: got %d bytes, want %d", m, len(out), size)
	}
	return out, nil
}

// readAll reads r to the end, failing as soon as more than size bytes
// come out.
func readAll(r io.Reader, size int) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, int64(size)+1))
	if c, ok := r.(io.Closer); ok {
		c.Close()
	}
	if err != nil {
		return nil, err
	}
	if len(out) > size {
		return nil, fmt.Errorf("more than %d bytes", size)
	}
	return out, nil
}
