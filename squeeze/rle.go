package squeeze

import "fmt"

// appendRLE appends the run-length encoding of src to dst.
func appendRLE(dst, src []byte) []byte {
	for i := 0; i < len(src); {
		v := src[i]
		n := 1
		for n < 256 && i+n < len(src) && src[i+n] == v {
			n++
		}
		dst = append(dst, byte(n-1), v)
		i += n
	}
	return dst
}

// decodeRLE expands data, which must describe exactly size bytes.
func decodeRLE(data []byte, size int) ([]byte, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("rle decode: odd input length %d", len(data))
	}
	out := make([]byte, 0, size)
	for i := 0; i < len(data); i += 2 {
		n := int(data[i]) + 1
		if len(out)+n > size {
			return nil, fmt.Errorf("rle decode: output exceeds %d bytes", size)
		}
		for j := 0; j < n; j++ {
			out = append(out, data[i+1])
		}
	}
	if len(out) != size {
		return nil, fmt.Errorf("rle decode: got %d bytes, want %d", len(out), size)
	}
	return out, nil
}
