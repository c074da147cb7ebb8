// Package lz4 writes LZ4 blocks from the matches found by a
// screenpack.MatchFinder, and reads them back with the reference decoder.
package lz4

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/screenpack/screenpack"
)

// A BlockEncoder implements the screenpack.Encoder interface, writing in
// the LZ4 block format. Match distances must not exceed 65535 and match
// lengths must be at least 4.
type BlockEncoder struct{}

func (BlockEncoder) Reset() {}

func (BlockEncoder) Encode(dst []byte, src []byte, matches []screenpack.Match, lastBlock bool) []byte {
	// Ensure that the block ends with at least 5 literal bytes,
	// and the last match starts at least 12 bytes before the end of the block.
	// A last match that is only too long is shortened rather than dropped.
	end := screenpack.Covered(matches)
	lastLength := -1
	for len(matches) > 0 {
		m := matches[len(matches)-1]
		matchStart := end - m.Length
		if m.Length > 0 && matchStart <= len(src)-12 {
			if room := len(src) - 5 - matchStart; room < m.Length {
				lastLength = room
			}
			break
		}
		matches = matches[:len(matches)-1]
		end = matchStart - m.Unmatched
	}

	pos := 0
	for i, m := range matches {
		if i == len(matches)-1 && lastLength >= 0 {
			m.Length = lastLength
		}
		token := byte(0)
		if m.Unmatched > 14 {
			token |= 0xf0
		} else {
			token |= byte(m.Unmatched << 4)
		}
		if m.Length > 18 {
			token |= 0x0f
		} else {
			token |= byte(m.Length - 4)
		}
		dst = append(dst, token)

		if m.Unmatched > 14 {
			dst = appendInt(dst, m.Unmatched-15)
		}
		dst = append(dst, src[pos:pos+m.Unmatched]...)

		dst = binary.LittleEndian.AppendUint16(dst, uint16(m.Distance))
		if m.Length > 18 {
			dst = appendInt(dst, m.Length-19)
		}

		pos += m.Unmatched + m.Length
	}

	// The matches may not describe all of src (an empty match list, for
	// one); whatever is left is literal.
	trailingLiterals := len(src) - pos

	// Write the final, literals-only sequence.
	token := byte(0)
	if trailingLiterals > 14 {
		token |= 0xf0
	} else {
		token |= byte(trailingLiterals << 4)
	}
	dst = append(dst, token)
	if trailingLiterals > 14 {
		dst = appendInt(dst, trailingLiterals-15)
	}
	dst = append(dst, src[pos:]...)

	return dst
}

// appendInt appends n to dst in LZ4's variable-length integer format.
func appendInt(dst []byte, n int) []byte {
	for n >= 255 {
		dst = append(dst, 255)
		n -= 255
	}
	dst = append(dst, byte(n))
	return dst
}

// Compress encodes src as a single LZ4 block, finding matches with mf.
func Compress(dst []byte, src []byte, mf screenpack.MatchFinder) []byte {
	mf.Reset()
	matches := mf.FindMatches(nil, src)
	return BlockEncoder{}.Encode(dst, src, matches, true)
}

// ErrSizeMismatch is returned by Decode when the block does not expand
// to the expected size.
var ErrSizeMismatch = errors.New("lz4: decoded size mismatch")

// Decode expands an LZ4 block that is known to hold size bytes.
func Decode(block []byte, size int) ([]byte, error) {
	out := make([]byte, size)
	if size == 0 {
		return out, nil
	}
	n, err := lz4.UncompressBlock(block, out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decode: %w", err)
	}
	if n != size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, n, size)
	}
	return out, nil
}
