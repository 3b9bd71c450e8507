package convert

import (
	"math"
	"sort"

	"github.com/novvoo/go-pdfterm/pkg/observability"
	"github.com/novvoo/go-pdfterm/pkg/overlay"
	"github.com/novvoo/go-pdfterm/pkg/render"
	"github.com/novvoo/go-pdfterm/pkg/termimg"
)

// MaxDisplayRetries bounds how often DisplayFailed re-arms one page before
// the engine gives up on it until it is enqueued or navigated to again.
const MaxDisplayRetries = 3

// Options configure an Engine.
type Options struct {
	Protocol termimg.Protocol
	// Cell is the terminal cell size in pixels; it is also the tile height.
	Cell render.CellSize
	// Prerender is the size of the scheduling window around the focus.
	Prerender int
	// PixelRadius is how many pages around the focus keep their pixels.
	PixelRadius int
	// DecodedRadius is how many pages around the focus keep decoded images.
	DecodedRadius int
	// Shm sends kitty images through shared memory.
	Shm     bool
	AppName string
	Tmux    bool
	Logger  observability.Logger
}

func (o Options) withDefaults() Options {
	if o.Cell.Width <= 0 || o.Cell.Height <= 0 {
		o.Cell = termimg.DefaultCellSize
	}
	if o.Prerender <= 0 {
		o.Prerender = 3
	}
	if o.PixelRadius <= 0 {
		o.PixelRadius = 5
	}
	if o.DecodedRadius <= 0 {
		o.DecodedRadius = 20
	}
	if o.AppName == "" {
		o.AppName = "pdfterm"
	}
	if o.Logger == nil {
		o.Logger = observability.NopLogger{}
	}
	return o
}

type cachedPage struct {
	data *render.PageData
	// decoded is the validated image view, built on first use
	decoded *termimg.Image
	tiles   map[int]termimg.Handle
}

func (c *cachedPage) hasPixels() bool { return c != nil && len(c.data.Img.Pixels) > 0 }

// Engine converts pages and tracks what the terminal already shows. It is
// not safe for concurrent use; Run owns it.
type Engine struct {
	opts Options
	log  observability.Logger

	page      int
	images    []*render.PageData
	cache     []*cachedPage
	selection []overlay.SelectionRect
	comments  []overlay.CommentRect
	commentPx map[int][]overlay.Rect
	visual    []overlay.VisualRect
	cursor    *overlay.CursorRect
	viewport  *ViewportUpdate

	tiled         map[int]bool
	sent          map[int]bool
	pendingCursor map[int]bool
	failures      map[int]int
	// shm holds the shared memory object of each page uploaded that way
	shm map[int]string
}

func NewEngine(opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		opts:          opts,
		log:           opts.Logger,
		commentPx:     make(map[int][]overlay.Rect),
		tiled:         make(map[int]bool),
		sent:          make(map[int]bool),
		pendingCursor: make(map[int]bool),
		failures:      make(map[int]int),
		shm:           make(map[int]string),
	}
}

// tileStreamed reports whether pages are sent as cached tiles.
func (e *Engine) tileStreamed() bool { return !e.opts.Protocol.Persistent() }

func (e *Engine) cached(page int) *cachedPage {
	if page < 0 || page >= len(e.cache) {
		return nil
	}
	return e.cache[page]
}

// NextPage converts the next pending page in focus order. It reports
// false when nothing in the scheduling window is pending.
func (e *Engine) NextPage() (Frame, bool) {
	for {
		if len(e.images) == 0 {
			return Frame{}, false
		}
		start := max(e.page-e.opts.Prerender/2, 0)
		end := min(start+e.opts.Prerender, len(e.images))
		if end <= start {
			return Frame{}, false
		}
		focus := min(max(e.page, start), end-1)

		page := -1
		for i, p := range FocusOrder(start, end, focus) {
			if i >= e.opts.Prerender {
				break
			}
			if e.images[p] != nil {
				page = p
				break
			}
		}
		if page < 0 {
			return Frame{}, false
		}
		data := e.images[page]
		e.images[page] = nil
		e.updateCache(page, data)

		if e.skipRender(page) {
			continue
		}
		img, err := e.renderFromCache(page, e.buildSet(page, e.cursor))
		if err != nil {
			return Frame{Index: page, Err: err}, true
		}
		e.sent[page] = true
		delete(e.pendingCursor, page)
		e.clearDistantPixels(e.page, e.opts.PixelRadius)
		return Frame{Index: page, Image: img}, true
	}
}

func (e *Engine) skipRender(page int) bool {
	if e.sent[page] {
		return true
	}
	if e.tileStreamed() && page != e.page {
		// off-screen tile pages are built when the viewport reaches them
		return e.viewport == nil || e.viewport.Page != page
	}
	return false
}

// updateCache stores data as the cached page, keeping the tile cache when
// the geometry is unchanged.
func (e *Engine) updateCache(page int, data *render.PageData) {
	if page >= len(e.cache) {
		return
	}
	tiles := make(map[int]termimg.Handle)
	if old := e.cache[page]; old != nil &&
		old.data.Img.WidthCell == data.Img.WidthCell &&
		old.data.Img.HeightCell == data.Img.HeightCell &&
		math.Abs(float64(old.data.ScaleFactor-data.ScaleFactor)) < 0.001 {
		tiles = old.tiles
	}
	e.cache[page] = &cachedPage{data: data, tiles: tiles}
	e.updateComments(page, data.ScaleFactor)
}

func (e *Engine) updateComments(page int, scale float32) {
	px := overlay.CommentPixels(e.comments, page, scale)
	if len(px) == 0 {
		delete(e.commentPx, page)
		return
	}
	e.commentPx[page] = px
}

// Handle applies one command and returns the frames it produced.
func (e *Engine) Handle(cmd Command) []Frame {
	var out []Frame
	switch c := cmd.(type) {
	case EnqueuePage:
		e.enqueue(c.Data)
	case SetPageCount:
		n := max(c.N, 0)
		e.images = make([]*render.PageData, n)
		e.cache = make([]*cachedPage, n)
		e.page = max(min(e.page, n-1), 0)
		clear(e.sent)
		clear(e.tiled)
		e.ReleaseShm()
	case NavigateTo:
		e.page = c.Page
		delete(e.failures, c.Page)
		e.clearDistantDecoded(c.Page, e.opts.DecodedRadius)
		e.clearDistantPixels(c.Page, e.opts.PixelRadius)
	case UpdateViewport:
		out = e.updateViewport(c.Viewport)
	case UpdateSelection:
		affected := affectedPages(e.selection, c.Rects)
		e.selection = c.Rects
		e.invalidateTiles(affected)
		out = e.reconvert(affected)
	case UpdateComments:
		affected := affectedPages(e.comments, c.Rects)
		e.comments = c.Rects
		clear(e.commentPx)
		for p, cp := range e.cache {
			if cp != nil {
				e.updateComments(p, cp.data.ScaleFactor)
			}
		}
		e.invalidateTiles(affected)
		out = e.reconvert(affected)
	case UpdateCursor:
		old := e.cursor
		e.cursor = c.Cursor
		out = e.cursorChanged(old, c.Cursor)
	case UpdateVisual:
		old := e.visual
		e.visual = c.Rects
		affected := affectedPages(old, c.Rects)
		e.invalidateTiles(affected)
		out = e.visualChanged(old, c.Rects, affected)
	case InvalidatePageCache:
		clear(e.images)
		clear(e.cache)
		clear(e.tiled)
		clear(e.commentPx)
		clear(e.sent)
		e.cursor = nil
		e.visual = nil
		e.ReleaseShm()
	case DisplayFailed:
		e.displayFailed(c.Pages)
	case DumpState:
		e.dump()
	default:
		e.log.Warn("unknown conversion command", observability.Any("command", cmd))
	}
	return out
}

func (e *Engine) enqueue(data *render.PageData) {
	if data == nil {
		return
	}
	page := data.PageNum
	if !e.tileStreamed() && e.sent[page] {
		// the terminal still holds this page
		return
	}
	if page < 0 || page >= len(e.images) {
		e.log.Warn("enqueued page out of bounds",
			observability.Int("page", page), observability.Int("pages", len(e.images)))
		return
	}
	delete(e.failures, page)
	e.images[page] = data
}

func (e *Engine) displayFailed(pages []int) {
	if len(pages) > 0 {
		e.log.Debug("display failed, clearing for retry", observability.Int("pages", len(pages)))
	}
	for _, p := range pages {
		e.failures[p]++
		if e.failures[p] > MaxDisplayRetries {
			e.log.Warn("giving up on page display", observability.Int("page", p),
				observability.Int("attempts", e.failures[p]))
			continue
		}
		delete(e.sent, p)
		// re-arm from the cached copy so the next pass converts it again
		if cp := e.cached(p); cp != nil && e.images[p] == nil {
			e.images[p] = cp.data
		}
	}
}

func (e *Engine) updateViewport(vp ViewportUpdate) []Frame {
	old := e.viewport
	e.viewport = &vp
	e.clearDistantPixels(vp.Page, e.opts.PixelRadius)

	if e.tileStreamed() {
		samePage := old != nil && old.Page == vp.Page
		if !samePage && e.sent[vp.Page] {
			return nil
		}
		cp := e.cached(vp.Page)
		if cp == nil {
			return nil
		}
		img, err := e.viewportTiles(cp, vp, e.buildSet(vp.Page, e.cursor))
		if err != nil {
			return []Frame{{Index: vp.Page, Err: err}}
		}
		e.tiled[vp.Page] = true
		e.sent[vp.Page] = true
		return []Frame{{Index: vp.Page, Image: img}}
	}

	// the terminal repositions an uploaded image by itself
	if e.sent[vp.Page] {
		return nil
	}
	cp := e.cached(vp.Page)
	if cp == nil {
		return nil
	}
	img, err := e.wholePage(cp, vp.Page, e.buildSet(vp.Page, e.cursor))
	if err != nil {
		return []Frame{{Index: vp.Page, Err: err}}
	}
	delete(e.tiled, vp.Page)
	e.sent[vp.Page] = true
	return []Frame{{Index: vp.Page, Image: img}}
}

type pageScoped interface{ PageNum() int }

func affectedPages[T pageScoped](prev, next []T) []int {
	seen := make(map[int]bool)
	for _, r := range prev {
		seen[r.PageNum()] = true
	}
	for _, r := range next {
		seen[r.PageNum()] = true
	}
	return sortedPages(seen)
}

func sortedPages(set map[int]bool) []int {
	pages := make([]int, 0, len(set))
	for p := range set {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

func (e *Engine) invalidateTiles(pages []int) {
	if len(pages) > 0 {
		e.log.Debug("invalidate tiles", observability.Any("pages", pages))
	}
	for _, p := range pages {
		delete(e.tiled, p)
		if cp := e.cached(p); cp != nil {
			clear(cp.tiles)
		}
	}
}

// reconvert re-encodes pages whose overlays changed.
func (e *Engine) reconvert(pages []int) []Frame {
	var out []Frame
	for _, p := range pages {
		delete(e.sent, p)
		cp := e.cached(p)
		if !cp.hasPixels() {
			continue
		}
		set := e.buildSet(p, e.cursor)
		if e.tileStreamed() && e.viewport != nil && e.viewport.Page == p {
			img, err := e.viewportTiles(cp, *e.viewport, set)
			if err != nil {
				out = append(out, Frame{Index: p, Err: err})
				continue
			}
			e.tiled[p] = true
			e.sent[p] = true
			out = append(out, Frame{Index: p, Image: img})
			continue
		}
		img, err := e.wholePage(cp, p, set)
		if err != nil {
			out = append(out, Frame{Index: p, Err: err})
			continue
		}
		e.sent[p] = true
		out = append(out, Frame{Index: p, Image: img})
	}
	return out
}

func (e *Engine) visualChanged(prev, next []overlay.VisualRect, pages []int) []Frame {
	if !e.tileStreamed() || e.viewport == nil {
		return e.fullPages(pages, e.cursor, false)
	}
	th := e.opts.Cell.Height
	touched := make(map[int]bool)
	for _, r := range append(append([]overlay.VisualRect(nil), prev...), next...) {
		if r.Page != e.viewport.Page {
			// rebuilt when the viewport reaches it
			delete(e.sent, r.Page)
			continue
		}
		for t := r.Y / th; t < ceilDiv(r.Y+r.Height, th); t++ {
			touched[t] = true
		}
	}
	if len(touched) == 0 {
		return nil
	}
	return e.tileUpdate(e.viewport.Page, sortedPages(touched), e.cursor)
}

func (e *Engine) cursorChanged(prev, next *overlay.CursorRect) []Frame {
	seen := make(map[int]bool)
	for _, c := range []*overlay.CursorRect{prev, next} {
		if c != nil {
			seen[c.Page] = true
		}
	}
	pages := sortedPages(seen)
	if !e.tileStreamed() || e.viewport == nil {
		return e.fullPages(pages, next, true)
	}

	var out []Frame
	vp := *e.viewport
	for _, p := range pages {
		newHere := next != nil && next.Page == p
		if p != vp.Page {
			delete(e.sent, p)
			if newHere && !e.cached(p).hasPixels() {
				e.pendingCursor[p] = true
			}
			continue
		}
		cp := e.cached(p)
		if !cp.hasPixels() {
			if newHere {
				e.pendingCursor[p] = true
			}
			continue
		}
		delete(e.pendingCursor, p)
		if !e.tiled[p] {
			img, err := e.viewportTiles(cp, vp, e.buildSet(p, next))
			if err != nil {
				out = append(out, Frame{Index: p, Err: err})
				continue
			}
			e.tiled[p] = true
			e.sent[p] = true
			out = append(out, Frame{Index: p, Image: img})
			continue
		}
		th := e.opts.Cell.Height
		touched := make(map[int]bool)
		for _, c := range []*overlay.CursorRect{prev, next} {
			if c == nil || c.Page != p {
				continue
			}
			x := e.expandCursor(*c)
			for t := x.Y / th; t < ceilDiv(x.Y+x.Height, th); t++ {
				touched[t] = true
			}
		}
		out = append(out, e.tileUpdate(p, sortedPages(touched), next)...)
	}
	return out
}

// fullPages re-encodes whole pages. With trackCursor set, pages that lack
// pixels and hold the new cursor are remembered as pending.
func (e *Engine) fullPages(pages []int, cursor *overlay.CursorRect, trackCursor bool) []Frame {
	var out []Frame
	for _, p := range pages {
		delete(e.sent, p)
		cp := e.cached(p)
		if !cp.hasPixels() {
			if trackCursor && cursor != nil && cursor.Page == p {
				e.pendingCursor[p] = true
			}
			continue
		}
		if trackCursor {
			delete(e.pendingCursor, p)
		}
		img, err := e.wholePage(cp, p, e.buildSet(p, cursor))
		if err != nil {
			e.log.Warn("render page failed", observability.Int("page", p), observability.Error("error", err))
			out = append(out, Frame{Index: p, Err: err})
			continue
		}
		e.sent[p] = true
		out = append(out, Frame{Index: p, Image: img})
	}
	return out
}

func (e *Engine) tileUpdate(page int, indices []int, cursor *overlay.CursorRect) []Frame {
	cp := e.cached(page)
	if !cp.hasPixels() {
		return nil
	}
	tiles, err := e.specificTiles(cp, *e.viewport, indices, e.buildSet(page, cursor))
	if err != nil {
		return []Frame{{Index: page, Err: err}}
	}
	if len(tiles) == 0 {
		return nil
	}
	return []Frame{{Index: page, Image: TileUpdate{
		Tiles: tiles,
		Cols:  cp.data.Img.WidthCell,
		Rows:  e.viewport.ViewportHeightCells,
	}}}
}

// expandCursor grows the cursor to at least one cell.
func (e *Engine) expandCursor(c overlay.CursorRect) overlay.CursorRect {
	c.Width = max(c.Width, e.opts.Cell.Width)
	c.Height = max(c.Height, e.opts.Cell.Height)
	return c
}

// buildSet collects the overlays of page with the given cursor.
func (e *Engine) buildSet(page int, cursor *overlay.CursorRect) overlay.Set {
	var comments []overlay.Rect
	if e.cached(page) != nil {
		comments = e.commentPx[page]
	}
	var cur *overlay.CursorRect
	if cursor != nil {
		x := e.expandCursor(*cursor)
		cur = &x
	}
	return overlay.Build(page, comments, e.selection, e.visual, cur)
}

func (e *Engine) clearDistantDecoded(center, radius int) {
	for i, cp := range e.cache {
		if cp != nil && (i < center-radius || i > center+radius) {
			cp.decoded = nil
		}
	}
}

// protected reports whether page must keep its pixels regardless of
// distance.
func (e *Engine) protected(page int) bool {
	return (e.cursor != nil && e.cursor.Page == page) || e.pendingCursor[page]
}

// clearDistantPixels drops pending and cached pages outside radius of
// center. Dropped pages leave the sent set and release their shared
// memory.
func (e *Engine) clearDistantPixels(center, radius int) {
	near := func(i int) bool { return i >= center-radius && i <= center+radius }
	for i := range e.images {
		if e.images[i] != nil && !near(i) && !e.protected(i) {
			e.images[i] = nil
		}
	}
	for i, cp := range e.cache {
		if cp == nil || near(i) || e.protected(i) {
			continue
		}
		e.cache[i] = nil
		delete(e.sent, i)
		e.releaseShm(i)
	}
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }
