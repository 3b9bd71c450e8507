package convert

import (
	"github.com/novvoo/go-pdfterm/pkg/observability"
	"github.com/novvoo/go-pdfterm/pkg/overlay"
	"github.com/novvoo/go-pdfterm/pkg/termimg"
)

// kittyImageID maps a page to its kitty image id. Zero is not a valid id.
func kittyImageID(page int) uint32 { return uint32(page) + 1 }

func (e *Engine) decoded(cp *cachedPage) (termimg.Image, error) {
	if cp.decoded == nil {
		d := cp.data.Img
		m, err := termimg.NewImage(d.Pixels, d.WidthPx, d.HeightPx)
		if err != nil {
			return termimg.Image{}, &EncodeError{Page: cp.data.PageNum, Err: err}
		}
		cp.decoded = &m
	}
	return *cp.decoded, nil
}

// renderFromCache converts a freshly cached page: viewport tiles when the
// protocol streams tiles and the page is on screen, the whole page
// otherwise.
func (e *Engine) renderFromCache(page int, set overlay.Set) (ConvertedImage, error) {
	cp := e.cached(page)
	if cp == nil {
		return nil, &EncodeError{Page: page, Err: errMissingPage}
	}
	if e.tileStreamed() && e.viewport != nil && e.viewport.Page == page {
		img, err := e.viewportTiles(cp, *e.viewport, set)
		if err == nil {
			e.tiled[page] = true
		}
		return img, err
	}
	return e.wholePage(cp, page, set)
}

// wholePage composites set over a copy of the page and encodes it in one
// piece. Kitty pages on screen are cropped to the viewport.
func (e *Engine) wholePage(cp *cachedPage, page int, set overlay.Set) (ConvertedImage, error) {
	src, err := e.decoded(cp)
	if err != nil {
		return nil, err
	}
	m := termimg.Image{Pix: append([]byte(nil), src.Pix...), Width: src.Width, Height: src.Height}
	overlay.Apply(m.Pix, m.Width, m.Height, set)

	cols, rows := cp.data.Img.WidthCell, cp.data.Img.HeightCell
	p := e.opts.Protocol
	if p == termimg.Kitty && e.viewport != nil && e.viewport.Page == page {
		m, rows = e.cropToViewport(m, rows, *e.viewport)
	}
	m = termimg.Normalize(m, cols, rows, e.opts.Cell, p)

	if p == termimg.Kitty {
		return e.encodeKitty(m, page, cols, rows), nil
	}
	m = termimg.PadToCells(m, cols, rows, e.opts.Cell)
	h, err := termimg.Encode(p, m, cols, rows, e.opts.Tmux)
	if err != nil {
		return nil, &EncodeError{Page: page, Err: err}
	}
	return Generic{Handle: h}, nil
}

// cropToViewport keeps the visible rows of m. A viewport below the image
// leaves it unchanged.
func (e *Engine) cropToViewport(m termimg.Image, rows int, vp ViewportUpdate) (termimg.Image, int) {
	ch := e.opts.Cell.Height
	y := vp.YOffsetCells * ch
	if y >= m.Height {
		return m, rows
	}
	return termimg.CropRows(m, y, vp.ViewportHeightCells*ch), vp.ViewportHeightCells
}

func (e *Engine) encodeKitty(m termimg.Image, page, cols, rows int) Kitty {
	var name string
	if e.opts.Shm {
		name = termimg.NextShmName(e.opts.AppName, page)
	}
	k, err := termimg.NewKittyImage(m, kittyImageID(page), cols, rows, name, e.opts.Tmux)
	if err != nil {
		e.log.Warn("shm transfer failed, falling back to direct",
			observability.Int("page", page), observability.Error("error", err))
	}
	e.trackShm(page, k.ShmName)
	return Kitty{Image: k, Cols: cols, Rows: rows}
}

// trackShm records name as the shared memory object of page and unlinks
// the one it replaces. An empty name only releases.
func (e *Engine) trackShm(page int, name string) {
	e.releaseShm(page)
	if name != "" {
		e.shm[page] = name
	}
}

// releaseShm unlinks the object of page. The terminal unlinks objects it
// read, so a missing one is fine.
func (e *Engine) releaseShm(page int) {
	name, ok := e.shm[page]
	if !ok {
		return
	}
	delete(e.shm, page)
	if err := termimg.RemoveShm(name); err != nil {
		e.log.Warn("shm cleanup failed", observability.Int("page", page), observability.Error("error", err))
	}
}

// ReleaseShm unlinks every shared memory object the engine created and the
// terminal may not have read. Run calls it on exit.
func (e *Engine) ReleaseShm() {
	for page := range e.shm {
		e.releaseShm(page)
	}
}

// viewportTiles builds the tiles visible in vp. Tiles without overlays are
// served from and stored in the tile cache; tiles with overlays are always
// encoded fresh and never cached.
func (e *Engine) viewportTiles(cp *cachedPage, vp ViewportUpdate, set overlay.Set) (ConvertedImage, error) {
	m, err := e.decoded(cp)
	if err != nil {
		return nil, err
	}
	th := e.opts.Cell.Height
	y := vp.YOffsetCells * th
	visible := max(min(vp.ViewportHeightCells*th, m.Height-y), 1)
	first, last := y/th, ceilDiv(y+visible, th)

	var tiles []Tile
	var fromCache, encoded, dynamic int
	for idx := first; idx < last; idx++ {
		ty := idx * th
		if ty >= m.Height {
			break
		}
		off := idx - vp.YOffsetCells
		if off < 0 || off >= vp.ViewportHeightCells {
			continue
		}
		ah := min(th, m.Height-ty)
		local := set.ForTile(ty, ah)

		var h termimg.Handle
		if local.Empty() {
			if cachedTile, ok := cp.tiles[idx]; ok {
				fromCache++
				h = cachedTile
			} else {
				encoded++
				if h, err = e.encodeTile(m, cp.data.Img.WidthCell, ty, ah, local); err != nil {
					return nil, &EncodeError{Page: cp.data.PageNum, Err: err}
				}
				cp.tiles[idx] = h
			}
		} else {
			dynamic++
			if h, err = e.encodeTile(m, cp.data.Img.WidthCell, ty, ah, local); err != nil {
				return nil, &EncodeError{Page: cp.data.PageNum, Err: err}
			}
		}
		tiles = append(tiles, Tile{Handle: h, YOffsetCells: off, HeightCells: ceilDiv(ah, th)})
	}
	if encoded > 0 || dynamic > 0 {
		e.log.Debug("viewport tiles",
			observability.Int("page", vp.Page),
			observability.Int("y_offset", vp.YOffsetCells),
			observability.Int("cached", fromCache),
			observability.Int("encoded", encoded),
			observability.Int("overlay_tiles", dynamic),
			observability.Int("tile_cache", len(cp.tiles)))
	}
	return Tiled{Tiles: tiles, Cols: cp.data.Img.WidthCell, Rows: vp.ViewportHeightCells}, nil
}

// specificTiles re-encodes the listed tiles with their overlays. Tiles
// outside the viewport are skipped.
func (e *Engine) specificTiles(cp *cachedPage, vp ViewportUpdate, indices []int, set overlay.Set) ([]Tile, error) {
	m, err := e.decoded(cp)
	if err != nil {
		return nil, err
	}
	th := e.opts.Cell.Height
	var tiles []Tile
	for _, idx := range indices {
		ty := idx * th
		if idx < 0 || ty >= m.Height {
			continue
		}
		off := idx - vp.YOffsetCells
		if off < 0 || off >= vp.ViewportHeightCells {
			continue
		}
		ah := min(th, m.Height-ty)
		h, err := e.encodeTile(m, cp.data.Img.WidthCell, ty, ah, set.ForTile(ty, ah))
		if err != nil {
			return nil, &EncodeError{Page: cp.data.PageNum, Err: err}
		}
		tiles = append(tiles, Tile{Handle: h, YOffsetCells: off, HeightCells: ceilDiv(ah, th)})
	}
	return tiles, nil
}

func (e *Engine) encodeTile(m termimg.Image, cols, y, h int, local overlay.Set) (termimg.Handle, error) {
	tile := termimg.CropRows(m, y, h)
	if !local.Empty() {
		overlay.Apply(tile.Pix, tile.Width, tile.Height, local)
	}
	rows := ceilDiv(h, e.opts.Cell.Height)
	tile = termimg.PadToCells(tile, cols, rows, e.opts.Cell)
	return termimg.Encode(e.opts.Protocol, tile, cols, rows, e.opts.Tmux)
}
