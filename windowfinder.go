package screenpack

import (
	"bytes"
	"fmt"
)

const (
	maxTableSize = 1 << 14
	shift        = 32 - 14
	// tableMask is redundant, but helps the compiler eliminate bounds
	// checks.
	tableMask = maxTableSize - 1

	minMatch = 4

	// windowReserve is the slack kept in a HistoryWindow beyond the
	// look-back and look-ahead, so that compaction does not run on
	// every byte.
	windowReserve = 1 << 16
)

const hashMul32 = 0x1e35a7bd

func hash4(u uint32) uint32 {
	return (u * hashMul32) >> shift
}

// WindowMatchFinder is an implementation of the MatchFinder interface that
// streams its input through a HistoryWindow and uses a 4-byte hash table
// to pick match candidates. Candidates are verified with
// HistoryWindow.MatchLength, so a match is never reported past the end of
// the input.
//
// Each call to FindMatches is an independent stream: matches never refer
// to data from a previous call.
type WindowMatchFinder struct {
	// MaxDistance is the maximum distance (in bytes) to look back for
	// a match. It is also the window's guaranteed history. The default
	// is 65535.
	MaxDistance int

	// MaxLength is the limit on the length of a match. It is also the
	// window's look-ahead. The default is 4096.
	MaxLength int

	window HistoryWindow
	reader bytes.Reader
	table  [maxTableSize]int32
}

func (q *WindowMatchFinder) Reset() {
	q.table = [maxTableSize]int32{}
	q.window.ReleaseStream()
}

// FindMatches looks for matches in src, appends them to dst, and returns dst.
func (q *WindowMatchFinder) FindMatches(dst []Match, src []byte) []Match {
	if q.MaxDistance == 0 {
		q.MaxDistance = 65535
	}
	if q.MaxLength == 0 {
		q.MaxLength = 4096
	}
	if q.MaxLength < minMatch {
		q.MaxLength = minMatch
	}
	if len(src) == 0 {
		return dst
	}

	q.table = [maxTableSize]int32{}
	w := &q.window
	w.Create(q.MaxDistance, q.MaxLength, windowReserve)
	q.reader.Reset(src)
	w.SetStream(&q.reader)
	defer w.ReleaseStream()
	q.mustAdvance(w.Init())

	pos := 0
	nextEmit := 0
	for {
		avail := w.Available()
		if avail < minMatch {
			break
		}

		candidate := q.insert(pos) - 1
		length := 0
		if candidate >= 0 && pos-candidate <= q.MaxDistance {
			limit := q.MaxLength
			if avail < limit {
				limit = avail
			}
			length = w.MatchLength(0, pos-candidate-1, limit)
		}

		if length < minMatch {
			q.mustAdvance(w.Advance())
			pos++
			continue
		}

		dst = append(dst, Match{
			Unmatched: pos - nextEmit,
			Length:    length,
			Distance:  pos - candidate,
		})

		// Index the positions covered by the match so later data can refer
		// to them.
		for i := 1; i < length; i++ {
			q.mustAdvance(w.Advance())
			pos++
			if w.Available() >= minMatch {
				q.insert(pos)
			}
		}
		q.mustAdvance(w.Advance())
		pos++
		nextEmit = pos
	}

	if end := pos + w.Available(); nextEmit < end {
		dst = append(dst, Match{
			Unmatched: end - nextEmit,
		})
	}
	return dst
}

// insert hashes the 4 bytes at the current window position, stores pos+1
// in the table, and returns the previous entry (0 for none).
func (q *WindowMatchFinder) insert(pos int) int {
	w := &q.window
	u := uint32(w.ByteAt(0)) | uint32(w.ByteAt(1))<<8 | uint32(w.ByteAt(2))<<16 | uint32(w.ByteAt(3))<<24
	h := hash4(u) & tableMask
	previous := int(q.table[h])
	q.table[h] = int32(pos + 1)
	return previous
}

// mustAdvance panics on a window read error. The finder's source is an
// in-memory reader, which only ever reports io.EOF.
func (q *WindowMatchFinder) mustAdvance(err error) {
	if err != nil {
		panic(fmt.Sprintf("screenpack: in-memory window read failed: %v", err))
	}
}
