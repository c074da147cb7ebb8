package screenpack

import "strconv"

// A TextEncoder is an Encoder that produces a human-readable representation of
// the LZ77 compression. Matches are replaced with <Length,Distance> symbols.
// It is mostly useful for looking at what a MatchFinder found.
type TextEncoder struct{}

func (t TextEncoder) Reset() {}

func (t TextEncoder) Encode(dst []byte, src []byte, matches []Match, lastBlock bool) []byte {
	pos := 0
	for _, m := range matches {
		if m.Unmatched > 0 {
			dst = append(dst, src[pos:pos+m.Unmatched]...)
			pos += m.Unmatched
		}
		if m.Length > 0 {
			dst = append(dst, '<')
			dst = strconv.AppendInt(dst, int64(m.Length), 10)
			dst = append(dst, ',')
			dst = strconv.AppendInt(dst, int64(m.Distance), 10)
			dst = append(dst, '>')
			pos += m.Length
		}
	}
	if pos < len(src) {
		dst = append(dst, src[pos:]...)
	}
	return dst
}

// Decode expands matches back into the bytes they describe, appending
// them to dst. The literals are taken from src, which must be the buffer
// the matches were found in. It is the reference against which the
// format encoders are checked.
func Decode(dst []byte, src []byte, matches []Match) []byte {
	pos := 0
	for _, m := range matches {
		dst = append(dst, src[pos:pos+m.Unmatched]...)
		pos += m.Unmatched
		start := len(dst) - m.Distance
		for i := 0; i < m.Length; i++ {
			dst = append(dst, dst[start+i])
		}
		pos += m.Length
	}
	return dst
}
