// Package convert turns rendered pages into terminal images. A single
// Engine goroutine owns every per-page buffer and protocol cache; the rest
// of the program talks to it through Commands and receives Frames.
package convert

import (
	"fmt"
	"sort"

	"github.com/novvoo/go-pdfterm/pkg/termimg"
)

// ConvertedImage is one of Generic, Tiled, TileUpdate or Kitty.
type ConvertedImage interface {
	// Cells is the display size in terminal cells.
	Cells() (cols, rows int)
	isConverted()
}

// Generic is a whole page encoded as one protocol handle.
type Generic struct {
	Handle termimg.Handle
}

// Tile is one cell row of a page, positioned relative to the viewport.
type Tile struct {
	Handle       termimg.Handle
	YOffsetCells int
	HeightCells  int
}

// Tiled is the visible part of a page as a vertical stack of tiles.
type Tiled struct {
	Tiles      []Tile
	Cols, Rows int
}

// TileUpdate replaces some tiles of a Tiled image already on screen.
type TileUpdate struct {
	Tiles      []Tile
	Cols, Rows int
}

// Kitty is a page for the kitty protocol. The image tracks whether the
// terminal already holds it.
type Kitty struct {
	Image      *termimg.KittyImage
	Cols, Rows int
}

func (g Generic) Cells() (int, int)    { return g.Handle.Area() }
func (t Tiled) Cells() (int, int)      { return t.Cols, t.Rows }
func (t TileUpdate) Cells() (int, int) { return t.Cols, t.Rows }
func (k Kitty) Cells() (int, int)      { return k.Cols, k.Rows }

func (Generic) isConverted()    {}
func (Tiled) isConverted()      {}
func (TileUpdate) isConverted() {}
func (Kitty) isConverted()      {}

// MergeTileUpdate applies update to a Tiled image and returns the result.
// Tiles at the same offset are replaced and new offsets are inserted in
// order. It reports false, returning img unchanged, unless img is Tiled
// and update is a TileUpdate.
func MergeTileUpdate(img, update ConvertedImage) (ConvertedImage, bool) {
	t, ok := img.(Tiled)
	if !ok {
		return img, false
	}
	u, ok := update.(TileUpdate)
	if !ok {
		return img, false
	}
	tiles := append([]Tile(nil), t.Tiles...)
	for _, nt := range u.Tiles {
		i := sort.Search(len(tiles), func(i int) bool { return tiles[i].YOffsetCells >= nt.YOffsetCells })
		switch {
		case i < len(tiles) && tiles[i].YOffsetCells == nt.YOffsetCells:
			tiles[i] = nt
		default:
			tiles = append(tiles, Tile{})
			copy(tiles[i+1:], tiles[i:])
			tiles[i] = nt
		}
	}
	return Tiled{Tiles: tiles, Cols: t.Cols, Rows: t.Rows}, true
}

// Frame is what the engine emits: a converted page or the error that
// prevented converting it.
type Frame struct {
	Index int
	Image ConvertedImage
	Err   error
}

// EncodeError reports a page that could not be encoded. The page stays
// cached and is converted again on the next request for it.
type EncodeError struct {
	Page int
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode page %d: %v", e.Page, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
