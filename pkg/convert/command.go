package convert

import (
	"github.com/novvoo/go-pdfterm/pkg/overlay"
	"github.com/novvoo/go-pdfterm/pkg/render"
)

// Command is one of the engine's inbound messages.
type Command interface {
	isCommand()
}

// SetPageCount resizes the engine for a document of N pages.
type SetPageCount struct{ N int }

// NavigateTo moves the focus page and trims memory around it.
type NavigateTo struct{ Page int }

// EnqueuePage hands raw page data to the engine for conversion.
type EnqueuePage struct{ Data *render.PageData }

// ViewportUpdate is the visible window over one page in cells.
type ViewportUpdate struct {
	Page                int
	YOffsetCells        int
	ViewportHeightCells int
	ViewportWidthCells  int
}

type UpdateViewport struct{ Viewport ViewportUpdate }

type UpdateSelection struct{ Rects []overlay.SelectionRect }

type UpdateComments struct{ Rects []overlay.CommentRect }

// UpdateCursor moves the cursor overlay. A nil Cursor hides it.
type UpdateCursor struct{ Cursor *overlay.CursorRect }

type UpdateVisual struct{ Rects []overlay.VisualRect }

// InvalidatePageCache drops every pending and cached page along with the
// cursor and visual overlays.
type InvalidatePageCache struct{}

// DisplayFailed reports pages the terminal did not show, so they are sent
// again on the next scheduling pass.
type DisplayFailed struct{ Pages []int }

// DumpState logs the engine state.
type DumpState struct{}

func (SetPageCount) isCommand()        {}
func (NavigateTo) isCommand()          {}
func (EnqueuePage) isCommand()         {}
func (UpdateViewport) isCommand()      {}
func (UpdateSelection) isCommand()     {}
func (UpdateComments) isCommand()      {}
func (UpdateCursor) isCommand()        {}
func (UpdateVisual) isCommand()        {}
func (InvalidatePageCache) isCommand() {}
func (DisplayFailed) isCommand()       {}
func (DumpState) isCommand()           {}
