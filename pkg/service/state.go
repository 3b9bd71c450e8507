package service

import (
	"github.com/novvoo/go-pdfterm/pkg/config"
	"github.com/novvoo/go-pdfterm/pkg/render"
)

// MinScale is the smallest zoom SetScale accepts.
const MinScale = 0.1

// State is the view state that decides which render params are current.
type State struct {
	Area         render.Area
	Cell         render.CellSize
	Scale        float32
	InvertImages bool
	Black, White int32
	CurrentPage  int
	PageCount    int
}

// NewState takes zoom and colors from cfg.
func NewState(cfg config.Config, area render.Area, cell render.CellSize) State {
	p := render.ParamsFromConfig(cfg, area, cell)
	return State{
		Area:         area,
		Cell:         cell,
		Scale:        max(p.Scale, MinScale),
		InvertImages: p.InvertImages,
		Black:        p.Black,
		White:        p.White,
	}
}

// Params returns the render params of the current state.
func (s State) Params() render.RenderParams {
	return render.RenderParams{
		Area:         s.Area,
		CellSize:     s.Cell,
		Scale:        s.Scale,
		Black:        s.Black,
		White:        s.White,
		InvertImages: s.InvertImages,
	}
}

// Command changes State. It is one of Reload, SetArea, SetScale,
// ToggleInvertImages, GoToPage, SetPageCount, PageNeedsRerender or
// SetColors.
type Command interface {
	isCommand()
}

type Reload struct{}

type SetArea struct {
	Area render.Area
}

type SetScale struct {
	Scale float32
}

type ToggleInvertImages struct{}

type GoToPage struct {
	Page int
}

type SetPageCount struct {
	N int
}

type PageNeedsRerender struct {
	Page int
}

type SetColors struct {
	Black, White int32
}

func (Reload) isCommand()             {}
func (SetArea) isCommand()            {}
func (SetScale) isCommand()           {}
func (ToggleInvertImages) isCommand() {}
func (GoToPage) isCommand()           {}
func (SetPageCount) isCommand()       {}
func (PageNeedsRerender) isCommand()  {}
func (SetColors) isCommand()          {}

type EffectKind int

const (
	InvalidateCache EffectKind = iota
	InvalidatePage
	RenderCurrentPage
	RenderPage
	ReloadDocument
	UpdatePrefetch
)

var effectNames = [...]string{
	InvalidateCache:   "invalidate_cache",
	InvalidatePage:    "invalidate_page",
	RenderCurrentPage: "render_current_page",
	RenderPage:        "render_page",
	ReloadDocument:    "reload_document",
	UpdatePrefetch:    "update_prefetch",
}

func (k EffectKind) String() string {
	if int(k) < len(effectNames) {
		return effectNames[k]
	}
	return "unknown"
}

// Effect is a side effect the service runs after a state change. Page is
// set for InvalidatePage and RenderPage.
type Effect struct {
	Kind EffectKind
	Page int
}

func rerenderAll() []Effect {
	return []Effect{{Kind: InvalidateCache}, {Kind: RenderCurrentPage}}
}

// Apply updates s and returns the effects the change requires. Commands
// that leave the state as it was return nothing.
func (s *State) Apply(cmd Command) []Effect {
	switch c := cmd.(type) {
	case Reload:
		return []Effect{{Kind: InvalidateCache}, {Kind: ReloadDocument}}
	case SetArea:
		if c.Area == s.Area {
			return nil
		}
		s.Area = c.Area
		return rerenderAll()
	case SetScale:
		scale := max(c.Scale, MinScale)
		if scale == s.Scale {
			return nil
		}
		s.Scale = scale
		return rerenderAll()
	case ToggleInvertImages:
		s.InvertImages = !s.InvertImages
		return rerenderAll()
	case GoToPage:
		page := max(min(c.Page, s.PageCount-1), 0)
		if page == s.CurrentPage {
			return nil
		}
		s.CurrentPage = page
		return []Effect{{Kind: RenderCurrentPage}, {Kind: UpdatePrefetch}}
	case SetPageCount:
		s.PageCount = max(c.N, 0)
		if s.CurrentPage >= s.PageCount {
			s.CurrentPage = max(s.PageCount-1, 0)
		}
		return nil
	case PageNeedsRerender:
		return []Effect{{Kind: InvalidatePage, Page: c.Page}, {Kind: RenderPage, Page: c.Page}}
	case SetColors:
		if c.Black == s.Black && c.White == s.White {
			return nil
		}
		s.Black, s.White = c.Black, c.White
		return []Effect{{Kind: InvalidateCache}, {Kind: RenderCurrentPage}, {Kind: UpdatePrefetch}}
	}
	return nil
}
