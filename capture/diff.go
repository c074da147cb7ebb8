package capture

import (
	"hash"
	"slices"
	"sync"

	"github.com/pierrec/xxHash/xxHash64"
)

// DefaultTileSize is the side of a tile in pixels.
const DefaultTileSize = 32

// State is the phase a TileDiffEngine is in.
type State uint8

const (
	Idle State = iota
	Capturing
	Diffing
	Merging
	Emitted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Diffing:
		return "diffing"
	case Merging:
		return "merging"
	case Emitted:
		return "emitted"
	}
	return "unknown"
}

// A Diff is the result of comparing a frame with the previous one.
type Diff struct {
	Width   int
	Height  int
	Regions []DirtyRegion
	Tiles   []Tile

	Dirty   int // tiles whose fingerprint changed
	Skipped int // tiles whose fingerprint did not change
	Merged  int // dirty tiles absorbed into a region started by another tile
}

// A TileDiffEngine splits frames into tiles, compares each tile's
// fingerprint with the same tile in the previous frame, and merges the
// changed tiles into rectangles.
//
// Diff is meant to be called from a single capture goroutine; Reset and
// State may be called from any goroutine.
type TileDiffEngine struct {
	// TileSize is the side of a tile in pixels. The default is
	// DefaultTileSize.
	TileSize int

	// OnState, if set, is called on every state change.
	OnState func(State)

	mu     sync.Mutex
	state  State
	quant  Quantization
	width  int
	height int
	prints []uint64
	grey   []byte
	hasher hash.Hash64
	primed bool
}

// NewTileDiffEngine returns an engine quantizing frames to q.
func NewTileDiffEngine(q Quantization) *TileDiffEngine {
	return &TileDiffEngine{TileSize: DefaultTileSize, quant: q}
}

// State returns the phase the engine is in.
func (e *TileDiffEngine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetQuantization changes the grey depth. The next diff reports every
// tile as dirty.
func (e *TileDiffEngine) SetQuantization(q Quantization) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.quant = q
	e.primed = false
}

// Reset forgets the previous frame, so that the next diff reports every
// tile as dirty.
func (e *TileDiffEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.primed = false
}

func (e *TileDiffEngine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	if e.OnState != nil {
		e.OnState(s)
	}
}

// Diff compares frame with the frame passed to the previous call.
func (e *TileDiffEngine) Diff(frame *Frame) (Diff, error) {
	if err := frame.validate(); err != nil {
		return Diff{}, err
	}
	ts := e.TileSize
	if ts <= 0 {
		ts = DefaultTileSize
	}

	e.setState(Capturing)
	e.mu.Lock()
	q := e.quant
	if !q.Valid() {
		q = Gray256
	}
	primed := e.primed && e.width == frame.Width && e.height == frame.Height
	e.mu.Unlock()
	e.grey = frame.Quantize(e.grey, q)

	e.setState(Diffing)
	cols := (frame.Width + ts - 1) / ts
	rows := (frame.Height + ts - 1) / ts
	if !primed || len(e.prints) != cols*rows {
		e.prints = make([]uint64, cols*rows)
		primed = false
	}
	if e.hasher == nil {
		e.hasher = xxHash64.New(0)
	}

	d := Diff{Width: frame.Width, Height: frame.Height, Tiles: make([]Tile, cols*rows)}
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			r := tileRect(col, row, ts, frame.Width, frame.Height)
			fp := e.fingerprint(r, frame.Width)
			i := row*cols + col
			t := Tile{Rect: r, Fingerprint: fp, State: TileUnchanged}
			if !primed || e.prints[i] != fp {
				t.State = TileDirty
				d.Dirty++
			} else {
				d.Skipped++
			}
			e.prints[i] = fp
			d.Tiles[i] = t
		}
	}

	e.setState(Merging)
	d.Regions = e.merge(d.Tiles, cols, rows, frame.Width)
	d.Merged = d.Dirty - len(d.Regions)

	e.mu.Lock()
	e.width, e.height = frame.Width, frame.Height
	e.primed = true
	e.mu.Unlock()
	e.setState(Emitted)
	e.setState(Idle)
	return d, nil
}

func tileRect(col, row, ts, width, height int) Rect {
	r := Rect{X: col * ts, Y: row * ts, W: ts, H: ts}
	if r.X+r.W > width {
		r.W = width - r.X
	}
	if r.Y+r.H > height {
		r.H = height - r.Y
	}
	return r
}

func (e *TileDiffEngine) fingerprint(r Rect, width int) uint64 {
	e.hasher.Reset()
	for y := r.Y; y < r.Y+r.H; y++ {
		i := y*width + r.X
		e.hasher.Write(e.grey[i : i+r.W])
	}
	return e.hasher.Sum64()
}

// A run is a horizontal span of dirty tiles [c0, c1) that may grow
// downward into a rectangle of tiles.
type run struct {
	c0, c1  int
	row0    int
	lastRow int
}

// merge joins contiguous dirty tiles of a row into runs, and runs with the
// same column span in consecutive rows into rectangles. The first tile of
// a rectangle keeps TileDirty, the others are marked TileMerged.
func (e *TileDiffEngine) merge(tiles []Tile, cols, rows, width int) []DirtyRegion {
	var done []run
	var open []run
	for row := 0; row < rows; row++ {
		var next []run
		for col := 0; col < cols; {
			if tiles[row*cols+col].State != TileDirty {
				col++
				continue
			}
			c0 := col
			for col < cols && tiles[row*cols+col].State == TileDirty {
				col++
			}
			r := run{c0: c0, c1: col, row0: row, lastRow: row}
			for i, o := range open {
				if o.c0 == c0 && o.c1 == col && o.lastRow == row-1 {
					r.row0 = o.row0
					open = append(open[:i], open[i+1:]...)
					break
				}
			}
			next = append(next, r)
		}
		done = append(done, open...)
		open = next
	}
	done = append(done, open...)
	slices.SortFunc(done, func(a, b run) int {
		if a.row0 != b.row0 {
			return a.row0 - b.row0
		}
		return a.c0 - b.c0
	})

	regions := make([]DirtyRegion, 0, len(done))
	for _, r := range done {
		first := tiles[r.row0*cols+r.c0].Rect
		last := tiles[r.lastRow*cols+r.c1-1].Rect
		rect := Rect{X: first.X, Y: first.Y, W: last.X + last.W - first.X, H: last.Y + last.H - first.Y}
		for row := r.row0; row <= r.lastRow; row++ {
			for col := r.c0; col < r.c1; col++ {
				if row != r.row0 || col != r.c0 {
					tiles[row*cols+col].State = TileMerged
				}
			}
		}
		regions = append(regions, DirtyRegion{Rect: rect, Pix: e.crop(rect, width)})
	}
	return regions
}

func (e *TileDiffEngine) crop(r Rect, width int) []byte {
	pix := make([]byte, 0, r.Area())
	for y := r.Y; y < r.Y+r.H; y++ {
		i := y*width + r.X
		pix = append(pix, e.grey[i:i+r.W]...)
	}
	return pix
}
