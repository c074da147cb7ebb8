package capture

import "image"

// A Rect is a rectangle in pixels. X and Y are the top-left corner.
type Rect struct {
	X int `cbor:"x"`
	Y int `cbor:"y"`
	W int `cbor:"w"`
	H int `cbor:"h"`
}

// Area returns the number of pixels in r.
func (r Rect) Area() int { return r.W * r.H }

// Image converts r to an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// In reports whether r lies inside a width x height frame.
func (r Rect) In(width, height int) bool {
	return r.X >= 0 && r.Y >= 0 && r.W > 0 && r.H > 0 && r.X+r.W <= width && r.Y+r.H <= height
}

// TileState classifies a tile after a diff.
type TileState uint8

const (
	TileUnchanged TileState = iota
	TileDirty
	// TileMerged marks a dirty tile absorbed into a region started by
	// another tile.
	TileMerged
)

func (s TileState) String() string {
	switch s {
	case TileUnchanged:
		return "unchanged"
	case TileDirty:
		return "dirty"
	case TileMerged:
		return "merged"
	}
	return "unknown"
}

// A Tile is one cell of the tile grid.
type Tile struct {
	Rect
	Fingerprint uint64
	State       TileState
}

// A DirtyRegion is a changed rectangle with its quantized pixels, one grey
// byte per pixel, row-major within the rectangle.
type DirtyRegion struct {
	Rect
	Pix []byte
}
