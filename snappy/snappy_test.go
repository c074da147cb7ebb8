package snappy

import (
	"bytes"
	"testing"

	"github.com/golang/snappy"

	"github.com/screenpack/screenpack"
)

func screenBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		switch {
		case i%4096 < 2000:
			b[i] = 0x20
		case i%4096 < 3000:
			b[i] = byte(i % 61)
		default:
			b[i] = byte((i * 7919) >> 3)
		}
	}
	return b
}

func test(t *testing.T, data []byte, m screenpack.MatchFinder) {
	t.Helper()
	compressed := Compress(nil, data, m)
	sr := snappy.NewReader(bytes.NewReader(compressed))
	var out bytes.Buffer
	if _, err := out.ReadFrom(sr); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatal("decompressed output doesn't match")
	}
}

func TestEncode(t *testing.T) {
	test(t, screenBytes(200000), &screenpack.WindowMatchFinder{})
}

func TestEncodeShortDistance(t *testing.T) {
	test(t, screenBytes(100000), &screenpack.WindowMatchFinder{MaxDistance: 2047, MaxLength: 64})
}

func TestEncodeIncompressible(t *testing.T) {
	data := make([]byte, 5000)
	x := uint32(2463534242)
	for i := range data {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		data[i] = byte(x)
	}
	compressed := Compress(nil, data, &screenpack.WindowMatchFinder{})
	// An uncompressed chunk is used when matching does not pay off.
	if compressed[len(magicChunk)] != 1 {
		t.Errorf("chunk type = %d, want 1", compressed[len(magicChunk)])
	}
	got, err := Decompress(compressed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("decompressed output doesn't match")
	}
}

func TestDecompressEmpty(t *testing.T) {
	got, err := Decompress(Compress(nil, nil, &screenpack.WindowMatchFinder{}))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d bytes, want 0", len(got))
	}
}

func TestDecompressCorrupt(t *testing.T) {
	compressed := Compress(nil, screenBytes(10000), &screenpack.WindowMatchFinder{})
	compressed[len(compressed)-1] ^= 0xff
	if _, err := Decompress(compressed); err == nil {
		t.Fatal("expected a checksum error")
	}
}

func BenchmarkEncode(b *testing.B) {
	data := screenBytes(1 << 20)
	mf := &screenpack.WindowMatchFinder{}
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	var dst []byte
	for i := 0; i < b.N; i++ {
		dst = Compress(dst[:0], data, mf)
	}
}
