package screenpack

import (
	"errors"
	"fmt"
	"io"
)

// A HistoryWindow is a sliding window over a byte stream. It keeps at least
// keepBefore bytes of history behind the current position and keepAfter
// bytes of look-ahead in front of it, so that a match finder can ask how
// long a backward match is without holding the whole stream in memory.
//
// Positions (pos, streamPos, posLimit) are counted from the start of the
// stream; bufferOffset maps them onto the buffer. When the look-ahead
// would run past the end of the buffer, the window moves the data that is
// still needed down to the start of the buffer and reads more from the
// stream.
//
// A HistoryWindow is not safe for concurrent use.
type HistoryWindow struct {
	buf []byte
	src io.Reader

	keepBefore int
	keepAfter  int

	// lastSafe is the buffer index beyond which the read position must
	// not go without compacting first.
	lastSafe int

	bufferOffset int
	pos          int // current read position
	posLimit     int // position at which more data must be read
	streamPos    int // position of the first byte not yet read from src
	streamEnd    bool
}

// maxEmptyReads is how many (0, nil) reads refill tolerates in a row.
const maxEmptyReads = 100

// Create sizes the window. The buffer is reallocated only if its size
// changes.
func (w *HistoryWindow) Create(keepBefore, keepAfter, reserve int) {
	if keepBefore < 0 || keepAfter <= 0 || reserve <= 0 {
		panic(fmt.Sprintf("screenpack: invalid window sizes %d/%d/%d", keepBefore, keepAfter, reserve))
	}
	w.keepBefore = keepBefore
	w.keepAfter = keepAfter
	size := keepBefore + keepAfter + reserve
	if len(w.buf) != size {
		w.buf = make([]byte, size)
	}
	w.lastSafe = size - keepAfter
}

// SetStream sets the source the window reads from.
func (w *HistoryWindow) SetStream(r io.Reader) {
	w.src = r
}

// ReleaseStream drops the reference to the source.
func (w *HistoryWindow) ReleaseStream() {
	w.src = nil
}

// Init resets the cursors and does the initial fill from the stream.
func (w *HistoryWindow) Init() error {
	w.bufferOffset = 0
	w.pos = 0
	w.posLimit = 0
	w.streamPos = 0
	w.streamEnd = false
	return w.refill()
}

// Advance moves the read position forward by one byte, compacting the
// buffer and reading more of the stream when needed.
func (w *HistoryWindow) Advance() error {
	w.pos++
	if w.pos > w.posLimit {
		if w.bufferOffset+w.pos > w.lastSafe {
			w.compact()
		}
		return w.refill()
	}
	return nil
}

// compact moves the bytes that are still needed (keepBefore bytes of
// history plus everything read ahead) to the start of the buffer.
func (w *HistoryWindow) compact() {
	offset := w.bufferOffset + w.pos - w.keepBefore
	// Keep one more byte: Advance has already moved past the byte that
	// the next match query will start from.
	if offset > 0 {
		offset--
	}
	if offset <= 0 {
		return
	}
	n := w.bufferOffset + w.streamPos - offset
	copy(w.buf, w.buf[offset:offset+n])
	w.bufferOffset -= offset
}

// refill reads from the stream into the free space at the end of the
// buffer. When the stream ends (or fails), posLimit is clamped to the end
// of the data, and never beyond lastSafe; later calls do nothing. A read
// error other than io.EOF is returned after the window has been clamped.
func (w *HistoryWindow) refill() error {
	if w.streamEnd {
		return nil
	}
	for empty := 0; ; {
		free := len(w.buf) - (w.bufferOffset + w.streamPos)
		if free == 0 {
			return nil
		}
		if w.src == nil {
			w.finish()
			return nil
		}
		start := w.bufferOffset + w.streamPos
		n, err := w.src.Read(w.buf[start : start+free])
		if n == 0 && err == nil {
			empty++
			if empty >= maxEmptyReads {
				err = io.ErrNoProgress
			}
		}
		if n > 0 {
			empty = 0
			w.streamPos += n
			if w.streamPos >= w.pos+w.keepAfter {
				w.posLimit = w.streamPos - w.keepAfter
			}
		}
		if err != nil {
			w.finish()
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("history window read: %w", err)
		}
	}
}

func (w *HistoryWindow) finish() {
	w.posLimit = w.streamPos
	if w.bufferOffset+w.posLimit > w.lastSafe {
		w.posLimit = w.lastSafe - w.bufferOffset
	}
	w.streamEnd = true
}

// ByteAt returns the byte at offset from the current position.
func (w *HistoryWindow) ByteAt(offset int) byte {
	i := w.bufferOffset + w.pos + offset
	w.checkIndex(i)
	return w.buf[i]
}

// MatchLength returns how many bytes, starting at offset from the current
// position, are equal to the bytes distance+1 positions earlier. It looks
// at no more than limit bytes, and never past the end of the stream once
// the end has been seen. offset+limit must not exceed keepAfter.
func (w *HistoryWindow) MatchLength(offset, distance, limit int) int {
	if w.streamEnd && w.pos+offset+limit > w.streamPos {
		limit = w.streamPos - (w.pos + offset)
	}
	if limit <= 0 {
		return 0
	}
	distance++
	p := w.bufferOffset + w.pos + offset
	w.checkIndex(p - distance)
	w.checkIndex(p + limit - 1)
	i := 0
	for i < limit && w.buf[p+i] == w.buf[p+i-distance] {
		i++
	}
	return i
}

// Available returns the number of bytes read from the stream but not yet
// passed by the read position.
func (w *HistoryWindow) Available() int {
	return w.streamPos - w.pos
}

// ReduceOffsets moves every position down by delta, after the caller has
// reclaimed delta bytes at the start of the stream.
func (w *HistoryWindow) ReduceOffsets(delta int) {
	w.bufferOffset += delta
	w.posLimit -= delta
	w.pos -= delta
	w.streamPos -= delta
}

// Capacity returns the size of the buffer.
func (w *HistoryWindow) Capacity() int { return len(w.buf) }

// LastSafePosition returns the buffer index past which the read position
// triggers compaction.
func (w *HistoryWindow) LastSafePosition() int { return w.lastSafe }

// Position returns the current read position in the stream.
func (w *HistoryWindow) Position() int { return w.pos }

// EndOfStream reports whether the source has been exhausted.
func (w *HistoryWindow) EndOfStream() bool { return w.streamEnd }

func (w *HistoryWindow) checkIndex(i int) {
	if i < 0 || i >= len(w.buf) {
		panic(fmt.Sprintf("screenpack: window index %d out of range [0,%d)", i, len(w.buf)))
	}
}
