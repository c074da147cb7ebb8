package squeeze

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/screenpack/screenpack"
)

// greyScreen returns region bytes with the texture of a desktop: flat
// areas, text-like stripes and a little noise.
func greyScreen(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	for i := range b {
		switch {
		case i%1024 < 600:
			b[i] = 0xe0
		case i%8 < 2:
			b[i] = 0x10
		case r.Intn(20) == 0:
			b[i] = byte(r.Intn(256))
		default:
			b[i] = 0xc0
		}
	}
	return b
}

func noise(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(99)).Read(b)
	return b
}

func TestRoundTripEveryMethod(t *testing.T) {
	inputs := map[string][]byte{
		"empty":  {},
		"one":    {42},
		"screen": greyScreen(32*32*6, 1),
		"large":  greyScreen(300*200, 2),
		"noise":  noise(4096),
		"flat":   bytes.Repeat([]byte{7}, 5000),
	}
	for _, m := range Methods {
		for name, src := range inputs {
			used, data, err := compress(m, src, &screenpack.WindowMatchFinder{})
			if err != nil {
				t.Fatalf("%v/%s: compress: %v", m, name, err)
			}
			got, err := Decompress(used, data, len(src))
			if err != nil {
				t.Fatalf("%v/%s: decompress: %v", m, name, err)
			}
			if !bytes.Equal(got, src) {
				t.Fatalf("%v/%s: round trip mismatch", m, name)
			}
		}
	}
}

func TestCompressibleDataKeepsMethod(t *testing.T) {
	src := greyScreen(32*32*4, 3)
	for _, m := range Methods[1:] {
		used, data, err := compress(m, src, &screenpack.WindowMatchFinder{})
		if err != nil {
			t.Fatal(err)
		}
		if used != m {
			t.Errorf("%v fell back to %v", m, used)
		}
		if len(data) >= len(src) {
			t.Errorf("%v: %d bytes from %d", m, len(data), len(src))
		}
	}
}

func TestIncompressibleFallsBackToNone(t *testing.T) {
	src := noise(2048)
	used, data, err := compress(MethodRLE, src, &screenpack.WindowMatchFinder{})
	if err != nil {
		t.Fatal(err)
	}
	if used != MethodNone || !bytes.Equal(data, src) {
		t.Errorf("got method %v with %d bytes", used, len(data))
	}
}

func TestUnknownMethod(t *testing.T) {
	if _, _, err := compress(Method(200), []byte("abc"), &screenpack.WindowMatchFinder{}); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("compress: %v", err)
	}
	if _, err := Decompress(Method(200), []byte("abc"), 3); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("Decompress: %v", err)
	}
}

func TestDecompressWrongSize(t *testing.T) {
	src := greyScreen(4096, 4)
	for _, m := range Methods {
		used, data, err := compress(m, src, &screenpack.WindowMatchFinder{})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := Decompress(used, data, len(src)-1); err == nil {
			t.Errorf("%v: no error for a short size", m)
		}
	}
}

func TestRLE(t *testing.T) {
	src := append(bytes.Repeat([]byte{1}, 300), 2, 3, 3)
	enc := appendRLE(nil, src)
	want := []byte{255, 1, 43, 1, 0, 2, 1, 3}
	if !bytes.Equal(enc, want) {
		t.Fatalf("appendRLE = %v, want %v", enc, want)
	}
	if _, err := decodeRLE(enc[:3], 300); err == nil {
		t.Error("no error for an odd length")
	}
}

func TestParseMethod(t *testing.T) {
	for _, m := range Methods {
		got, err := ParseMethod(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMethod(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseMethod("lzma"); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("ParseMethod(lzma) = %v", err)
	}
}

func benchmarkMethod(b *testing.B, m Method) {
	src := greyScreen(256*256, 5)
	mf := &screenpack.WindowMatchFinder{}
	b.SetBytes(int64(len(src)))
	b.ReportAllocs()
	var data []byte
	for i := 0; i < b.N; i++ {
		_, data, _ = compress(m, src, mf)
	}
	b.ReportMetric(float64(len(data))/float64(len(src)), "ratio")
}

func BenchmarkRLE(b *testing.B)     { benchmarkMethod(b, MethodRLE) }
func BenchmarkLZ77(b *testing.B)    { benchmarkMethod(b, MethodLZ77) }
func BenchmarkLZ4(b *testing.B)     { benchmarkMethod(b, MethodLZ4) }
func BenchmarkSnappy(b *testing.B)  { benchmarkMethod(b, MethodSnappy) }
func BenchmarkZstd(b *testing.B)    { benchmarkMethod(b, MethodZstd) }
func BenchmarkDeflate(b *testing.B) { benchmarkMethod(b, MethodDeflate) }
func BenchmarkBrotli(b *testing.B)  { benchmarkMethod(b, MethodBrotli) }
