package convert

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/novvoo/go-pdfterm/pkg/observability"
	"github.com/novvoo/go-pdfterm/pkg/overlay"
	"github.com/novvoo/go-pdfterm/pkg/render"
	"github.com/novvoo/go-pdfterm/pkg/termimg"
)

var testCell = render.CellSize{Width: 4, Height: 8}

// pageData returns a solid gray page of cols x rows cells.
func pageData(page, cols, rows int) *render.PageData {
	w, h := cols*testCell.Width, rows*testCell.Height
	return &render.PageData{
		Img: render.ImageData{
			Pixels:     bytes.Repeat([]byte{100}, w*h*3),
			WidthPx:    w,
			HeightPx:   h,
			WidthCell:  cols,
			HeightCell: rows,
		},
		PageNum:      page,
		ScaleFactor:  1,
		PageHeightPx: float32(h),
	}
}

func newTestEngine(p termimg.Protocol, pages int) *Engine {
	e := NewEngine(Options{Protocol: p, Cell: testCell, Prerender: pages})
	e.Handle(SetPageCount{N: pages})
	return e
}

func drain(e *Engine) []Frame {
	var out []Frame
	for {
		f, ok := e.NextPage()
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

func indices(frames []Frame) []int {
	var out []int
	for _, f := range frames {
		if f.Err != nil {
			continue
		}
		out = append(out, f.Index)
	}
	return out
}

func TestFocusOrder(t *testing.T) {
	tests := []struct {
		start, end, focus int
		want              []int
	}{
		{0, 10, 5, []int{5, 6, 4, 7, 3, 8, 2, 9, 1, 0}},
		{0, 3, 0, []int{0, 1, 2}},
		{2, 5, 4, []int{4, 3, 2}},
		{3, 3, 3, nil},
	}
	for _, tt := range tests {
		if got := FocusOrder(tt.start, tt.end, tt.focus); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("FocusOrder(%d, %d, %d) = %v, expected %v", tt.start, tt.end, tt.focus, got, tt.want)
		}
	}
}

type fakeHandle string

func (fakeHandle) Protocol() termimg.Protocol { return termimg.Halfblocks }
func (fakeHandle) Area() (int, int)           { return 1, 1 }

func (h fakeHandle) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, string(h))
	return int64(n), err
}

func TestMergeTileUpdate(t *testing.T) {
	tiled := Tiled{Cols: 4, Rows: 5, Tiles: []Tile{
		{Handle: fakeHandle("a"), YOffsetCells: 0, HeightCells: 1},
		{Handle: fakeHandle("b"), YOffsetCells: 1, HeightCells: 1},
		{Handle: fakeHandle("c"), YOffsetCells: 2, HeightCells: 1},
	}}
	update := TileUpdate{Cols: 4, Rows: 5, Tiles: []Tile{
		{Handle: fakeHandle("y"), YOffsetCells: 4, HeightCells: 1},
		{Handle: fakeHandle("x"), YOffsetCells: 1, HeightCells: 1},
	}}
	merged, ok := MergeTileUpdate(tiled, update)
	if !ok {
		t.Fatal("Expected the merge to succeed")
	}
	var got []string
	for _, tile := range merged.(Tiled).Tiles {
		got = append(got, string(tile.Handle.(fakeHandle)))
	}
	if want := []string{"a", "x", "c", "y"}; !reflect.DeepEqual(got, want) {
		t.Errorf("merged tiles = %v, expected %v", got, want)
	}
	if tiled.Tiles[1].Handle != fakeHandle("b") {
		t.Error("Expected the original image to stay untouched")
	}
	if _, ok := MergeTileUpdate(Generic{Handle: fakeHandle("g")}, update); ok {
		t.Error("Expected merging into a generic image to fail")
	}
	if _, ok := MergeTileUpdate(tiled, tiled); ok {
		t.Error("Expected merging a full image to fail")
	}
}

func TestKittyNoRetransmit(t *testing.T) {
	e := newTestEngine(termimg.Kitty, 6)
	e.Handle(NavigateTo{Page: 5})
	e.Handle(EnqueuePage{Data: pageData(5, 8, 4)})
	frames := drain(e)
	if len(frames) != 1 || frames[0].Index != 5 {
		t.Fatalf("frames = %+v", frames)
	}
	k, ok := frames[0].Image.(Kitty)
	if !ok {
		t.Fatalf("image is %T", frames[0].Image)
	}
	if k.Image.ID != 6 || k.Image.State != termimg.Queued || k.Cols != 8 || k.Rows != 4 {
		t.Errorf("kitty image = %+v", k)
	}

	// same page again: the terminal still holds it
	e.Handle(NavigateTo{Page: 5})
	e.Handle(EnqueuePage{Data: pageData(5, 8, 4)})
	if out := e.Handle(UpdateViewport{Viewport: ViewportUpdate{Page: 5, ViewportHeightCells: 4}}); len(out) != 0 {
		t.Errorf("viewport update sent %d frames", len(out))
	}
	if frames := drain(e); len(frames) != 0 {
		t.Errorf("Expected no retransmission, got %d frames", len(frames))
	}

	for attempt := 1; attempt <= MaxDisplayRetries+1; attempt++ {
		e.Handle(DisplayFailed{Pages: []int{5}})
		want := 1
		if attempt > MaxDisplayRetries {
			want = 0
		}
		if got := len(drain(e)); got != want {
			t.Errorf("attempt %d: %d frames, expected %d", attempt, got, want)
		}
	}
}

func TestKittyCropsToViewport(t *testing.T) {
	e := newTestEngine(termimg.Kitty, 1)
	e.Handle(UpdateViewport{Viewport: ViewportUpdate{Page: 0, YOffsetCells: 1, ViewportHeightCells: 2}})
	e.Handle(EnqueuePage{Data: pageData(0, 8, 4)})
	frames := drain(e)
	if len(frames) != 1 {
		t.Fatalf("got %d frames", len(frames))
	}
	k := frames[0].Image.(Kitty)
	if k.Rows != 2 || k.Image.Width != 32 || k.Image.Height != 16 || len(k.Image.Pixels) != 32*16*3 {
		t.Errorf("cropped image %dx%d rows %d", k.Image.Width, k.Image.Height, k.Rows)
	}
}

func TestSelectionAffectsOnlyTouchedPages(t *testing.T) {
	e := newTestEngine(termimg.Kitty, 6)
	pages := make([]*render.PageData, 6)
	for i := range pages {
		pages[i] = pageData(i, 8, 4)
		e.Handle(EnqueuePage{Data: pages[i]})
	}
	if got := indices(drain(e)); !reflect.DeepEqual(got, []int{0, 1, 2, 3, 4, 5}) {
		t.Fatalf("initial frames %v", got)
	}

	sel := []overlay.SelectionRect{
		{Page: 2, X0: 0, Y0: 0, X1: 4, Y1: 4},
		{Page: 3, X0: 0, Y0: 0, X1: 32, Y1: 32},
		{Page: 4, X0: 0, Y0: 0, X1: 8, Y1: 2},
	}
	frames := e.Handle(UpdateSelection{Rects: sel})
	if got := indices(frames); !reflect.DeepEqual(got, []int{2, 3, 4}) {
		t.Fatalf("selection frames %v, expected pages 2 to 4", got)
	}
	pix := frames[0].Image.(Kitty).Image.Pixels
	if got := [3]byte(pix[0:3]); got != [3]byte{140, 80, 40} {
		t.Errorf("selected pixel = %v", got)
	}
	if got := [3]byte(pix[4*3 : 4*3+3]); got != [3]byte{100, 100, 100} {
		t.Errorf("pixel beside the selection = %v", got)
	}
	if pages[2].Img.Pixels[0] != 100 {
		t.Error("Expected shared page data to stay unmodified")
	}

	if got := indices(e.Handle(UpdateSelection{Rects: nil})); !reflect.DeepEqual(got, []int{2, 3, 4}) {
		t.Errorf("clearing the selection re-encoded %v", got)
	}
	if frames := e.Handle(UpdateSelection{Rects: nil}); len(frames) != 0 {
		t.Errorf("Expected no frames for an unchanged empty selection, got %d", len(frames))
	}
}

func TestCommentsScaleWithPage(t *testing.T) {
	e := newTestEngine(termimg.Kitty, 1)
	data := pageData(0, 8, 4)
	data.ScaleFactor = 2
	e.Handle(EnqueuePage{Data: data})
	drain(e)

	frames := e.Handle(UpdateComments{Rects: []overlay.CommentRect{{Page: 0, X0: 1, Y0: 1, X1: 3, Y1: 3}}})
	if len(frames) != 1 {
		t.Fatalf("got %d frames", len(frames))
	}
	pix := frames[0].Image.(Kitty).Image.Pixels
	at := func(x, y int) [3]byte {
		off := (y*32 + x) * 3
		return [3]byte(pix[off : off+3])
	}
	// the page rectangle 2..6 becomes an underline at rows 8..10
	if got := at(3, 9); got != overlay.CommentColor {
		t.Errorf("underline pixel = %v", got)
	}
	if got := at(3, 4); got != [3]byte{85, 100, 120} {
		t.Errorf("commented span = %v, expected the comment tone", got)
	}
	if got := at(7, 4); got != [3]byte{100, 100, 100} {
		t.Errorf("pixel beside the comment = %v", got)
	}
}

func TestEvictionKeepsCursorPages(t *testing.T) {
	e := NewEngine(Options{Protocol: termimg.Kitty, Cell: testCell, Prerender: 20})
	e.Handle(SetPageCount{N: 20})

	e.Handle(UpdateCursor{Cursor: &overlay.CursorRect{Page: 0, Width: 1, Height: 1}})
	if !e.pendingCursor[0] {
		t.Fatal("Expected the uncached cursor page to be pending")
	}
	for i := 0; i < 6; i++ {
		e.Handle(EnqueuePage{Data: pageData(i, 8, 4)})
	}
	drain(e)
	if e.pendingCursor[0] {
		t.Error("Expected the cursor page to leave the pending set once rendered")
	}

	e.Handle(NavigateTo{Page: 10})
	if e.cache[0] == nil || !e.sent[0] {
		t.Error("Expected the cursor page to survive eviction")
	}
	if e.cache[3] != nil || e.sent[3] {
		t.Error("Expected page 3 to be evicted and leave the sent set")
	}
	if e.cache[5] == nil {
		t.Error("Expected page 5 to stay within the radius")
	}

	e.Handle(UpdateCursor{Cursor: &overlay.CursorRect{Page: 18, Width: 1, Height: 1}})
	if !e.pendingCursor[18] {
		t.Fatal("Expected page 18 to be pending")
	}
	e.Handle(EnqueuePage{Data: pageData(18, 8, 4)})
	e.Handle(NavigateTo{Page: 0})
	if e.images[18] == nil {
		t.Error("Expected the pending cursor page to keep its raw data")
	}

	e.Handle(NavigateTo{Page: 18})
	if got := indices(drain(e)); !reflect.DeepEqual(got, []int{18}) {
		t.Errorf("frames %v", got)
	}
	if e.pendingCursor[18] {
		t.Error("Expected page 18 to leave the pending set")
	}
}

func TestTileStreaming(t *testing.T) {
	e := newTestEngine(termimg.Halfblocks, 1)
	vp := ViewportUpdate{Page: 0, YOffsetCells: 1, ViewportHeightCells: 2, ViewportWidthCells: 8}
	if out := e.Handle(UpdateViewport{Viewport: vp}); len(out) != 0 {
		t.Fatalf("Expected nothing before the page arrives, got %d frames", len(out))
	}
	e.Handle(EnqueuePage{Data: pageData(0, 8, 4)})
	frames := drain(e)
	if len(frames) != 1 {
		t.Fatalf("got %d frames", len(frames))
	}
	tiled, ok := frames[0].Image.(Tiled)
	if !ok {
		t.Fatalf("image is %T", frames[0].Image)
	}
	if len(tiled.Tiles) != 2 || tiled.Tiles[0].YOffsetCells != 0 || tiled.Tiles[1].YOffsetCells != 1 ||
		tiled.Tiles[0].HeightCells != 1 || tiled.Cols != 8 || tiled.Rows != 2 {
		t.Fatalf("tiled = %+v", tiled)
	}
	cp := e.cache[0]
	if len(cp.tiles) != 2 {
		t.Fatalf("tile cache holds %d tiles", len(cp.tiles))
	}

	// scrolling within the page reuses cached tiles
	again := e.Handle(UpdateViewport{Viewport: vp})
	if len(again) != 1 {
		t.Fatalf("got %d frames", len(again))
	}
	for i, tile := range again[0].Image.(Tiled).Tiles {
		if tile.Handle != cp.tiles[i+1] {
			t.Errorf("tile %d was re-encoded", i)
		}
	}

	// selection in tile 2 keeps that tile out of the cache
	sel := e.Handle(UpdateSelection{Rects: []overlay.SelectionRect{{Page: 0, X0: 0, Y0: 17, X1: 4, Y1: 20}}})
	if len(sel) != 1 {
		t.Fatalf("got %d frames", len(sel))
	}
	if _, ok := cp.tiles[1]; !ok || len(cp.tiles) != 1 {
		t.Errorf("tile cache keys after selection: %v", len(cp.tiles))
	}
	if sel[0].Image.(Tiled).Tiles[1].Handle == cp.tiles[1] {
		t.Error("Expected the overlay tile to be encoded fresh")
	}

	vis := e.Handle(UpdateVisual{Rects: []overlay.VisualRect{{Page: 0, X: 0, Y: 9, Width: 4, Height: 2}}})
	if len(vis) != 1 {
		t.Fatalf("got %d frames", len(vis))
	}
	update, ok := vis[0].Image.(TileUpdate)
	if !ok || len(update.Tiles) != 1 || update.Tiles[0].YOffsetCells != 0 {
		t.Errorf("visual update = %+v", vis[0].Image)
	}

	// the visual change untiled the page, so the cursor brings a full frame
	cur := e.Handle(UpdateCursor{Cursor: &overlay.CursorRect{Page: 0, X: 0, Y: 0, Width: 1, Height: 1}})
	if len(cur) != 1 {
		t.Fatalf("got %d frames", len(cur))
	}
	if _, ok := cur[0].Image.(Tiled); !ok {
		t.Errorf("cursor frame is %T", cur[0].Image)
	}
	moved := e.Handle(UpdateCursor{Cursor: &overlay.CursorRect{Page: 0, X: 0, Y: 8, Width: 1, Height: 1}})
	if len(moved) != 1 {
		t.Fatalf("got %d frames", len(moved))
	}
	if u, ok := moved[0].Image.(TileUpdate); !ok || len(u.Tiles) != 1 || u.Tiles[0].YOffsetCells != 0 {
		t.Errorf("cursor update = %+v", moved[0].Image)
	}
}

func TestOffscreenTilePagesWait(t *testing.T) {
	e := newTestEngine(termimg.Sixel, 3)
	e.Handle(EnqueuePage{Data: pageData(1, 2, 2)})
	if frames := drain(e); len(frames) != 0 {
		t.Errorf("Expected off-screen pages to wait for the viewport, got %d frames", len(frames))
	}
	if e.cache[1] == nil {
		t.Fatal("Expected the page to be cached")
	}
	out := e.Handle(UpdateViewport{Viewport: ViewportUpdate{Page: 1, ViewportHeightCells: 2}})
	if len(out) != 1 || out[0].Index != 1 {
		t.Fatalf("frames %+v", out)
	}
	if _, ok := out[0].Image.(Tiled); !ok {
		t.Errorf("image is %T", out[0].Image)
	}
}

func TestEncodeErrorKeepsRunning(t *testing.T) {
	e := newTestEngine(termimg.Kitty, 2)
	bad := pageData(0, 2, 2)
	bad.Img.Pixels = bad.Img.Pixels[:10]
	e.Handle(EnqueuePage{Data: bad})
	e.Handle(EnqueuePage{Data: pageData(1, 2, 2)})
	frames := drain(e)
	if len(frames) != 2 {
		t.Fatalf("got %d frames", len(frames))
	}
	var encErr *EncodeError
	if !errors.As(frames[0].Err, &encErr) || encErr.Page != 0 {
		t.Errorf("first frame error = %v", frames[0].Err)
	}
	if frames[1].Err != nil || frames[1].Index != 1 {
		t.Errorf("second frame = %+v", frames[1])
	}
}

func TestInvalidatePageCache(t *testing.T) {
	e := newTestEngine(termimg.Kitty, 2)
	e.Handle(EnqueuePage{Data: pageData(0, 2, 2)})
	drain(e)
	e.Handle(UpdateCursor{Cursor: &overlay.CursorRect{Page: 0}})
	e.Handle(InvalidatePageCache{})
	if e.cache[0] != nil || e.sent[0] || e.cursor != nil {
		t.Error("Expected the engine to forget every page")
	}
	e.Handle(EnqueuePage{Data: pageData(0, 2, 2)})
	if got := indices(drain(e)); !reflect.DeepEqual(got, []int{0}) {
		t.Errorf("frames after invalidation %v", got)
	}
}

func shmEngine(t *testing.T, pages int) *Engine {
	t.Helper()
	if !termimg.ShmSupported() {
		t.Skip("shared memory is not available")
	}
	e := NewEngine(Options{Protocol: termimg.Kitty, Cell: testCell, Prerender: pages, PixelRadius: 1, Shm: true, AppName: "pdfterm-test"})
	e.Handle(SetPageCount{N: pages})
	t.Cleanup(e.ReleaseShm)
	return e
}

func shmExists(name string) bool {
	_, err := os.Stat("/dev/shm" + name)
	return err == nil
}

func shmName(t *testing.T, f Frame) string {
	t.Helper()
	k, ok := f.Image.(Kitty)
	if !ok || k.Image.ShmName == "" {
		t.Fatalf("Expected a shared memory kitty image, got %+v", f)
	}
	if !shmExists(k.Image.ShmName) {
		t.Fatalf("Expected %s to exist", k.Image.ShmName)
	}
	return k.Image.ShmName
}

func TestShmReleased(t *testing.T) {
	tests := []struct {
		name    string
		release func(e *Engine)
	}{
		{"invalidate", func(e *Engine) { e.Handle(InvalidatePageCache{}) }},
		{"page count", func(e *Engine) { e.Handle(SetPageCount{N: 4}) }},
		{"distant page", func(e *Engine) { e.Handle(NavigateTo{Page: 3}) }},
		{"release all", func(e *Engine) { e.ReleaseShm() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := shmEngine(t, 4)
			e.Handle(EnqueuePage{Data: pageData(0, 2, 2)})
			frames := drain(e)
			if len(frames) != 1 {
				t.Fatalf("got %d frames", len(frames))
			}
			name := shmName(t, frames[0])
			tt.release(e)
			if shmExists(name) {
				t.Errorf("Expected %s to be unlinked", name)
			}
			if len(e.shm) != 0 {
				t.Errorf("Expected no tracked objects, got %v", e.shm)
			}
		})
	}
}

func TestShmReplaced(t *testing.T) {
	e := shmEngine(t, 1)
	e.Handle(EnqueuePage{Data: pageData(0, 2, 2)})
	first := shmName(t, drain(e)[0])

	e.Handle(DisplayFailed{Pages: []int{0}})
	frames := drain(e)
	if len(frames) != 1 {
		t.Fatalf("got %d frames after a display failure", len(frames))
	}
	second := shmName(t, frames[0])
	if second == first || shmExists(first) {
		t.Errorf("Expected %s to replace %s", second, first)
	}
}

func TestRunReleasesShm(t *testing.T) {
	e := shmEngine(t, 1)
	commands := make(chan Command, 1)
	frames := make(chan Frame, 1)
	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), e, commands, frames) }()

	commands <- EnqueuePage{Data: pageData(0, 2, 2)}
	var name string
	select {
	case f := <-frames:
		name = shmName(t, f)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a frame")
	}
	close(commands)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
	if shmExists(name) {
		t.Errorf("Expected %s to be unlinked when Run returns", name)
	}
}

func TestDumpState(t *testing.T) {
	var buf bytes.Buffer
	e := NewEngine(Options{Protocol: termimg.Kitty, Cell: testCell, Logger: observability.NewTextLogger(&buf, observability.LevelDebug)})
	e.Handle(SetPageCount{N: 2})
	e.Handle(EnqueuePage{Data: pageData(0, 2, 2)})
	drain(e)
	e.Handle(DumpState{})
	out := buf.String()
	for _, want := range []string{"converter state", "cached page", "focus page pixels"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump is missing %q:\n%s", want, out)
		}
	}
	if s := e.Stats(); s.CachedPages != 1 || s.Sent != 1 || s.PixelBytes != 8*16*3 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRun(t *testing.T) {
	commands := make(chan Command)
	frames := make(chan Frame, 4)
	done := make(chan error, 1)
	e := NewEngine(Options{Protocol: termimg.Kitty, Cell: testCell})
	go func() { done <- Run(context.Background(), e, commands, frames) }()

	commands <- SetPageCount{N: 1}
	commands <- EnqueuePage{Data: pageData(0, 2, 2)}
	select {
	case f := <-frames:
		if f.Err != nil || f.Index != 0 {
			t.Errorf("frame = %+v", f)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a frame")
	}
	close(commands)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, NewEngine(Options{}), make(chan Command), make(chan Frame)) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop")
	}
}
