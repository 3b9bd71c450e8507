package termimg

import (
	"errors"

	"golang.org/x/term"

	"github.com/novvoo/go-pdfterm/pkg/render"
)

// DefaultCellSize is used when the terminal does not report pixel sizes.
var DefaultCellSize = render.CellSize{Width: 8, Height: 16}

// ErrNotTerminal is returned by QueryWindow for redirected output.
var ErrNotTerminal = errors.New("not a terminal")

// Window is the terminal size in cells and the size of one cell.
type Window struct {
	Cols, Rows int
	Cell       render.CellSize
}

// Area returns the window size as a render area.
func (w Window) Area() render.Area { return render.Area{Width: w.Cols, Height: w.Rows} }

// QueryWindow reads the size of the terminal on fd. Cell sizes fall back
// to DefaultCellSize when the terminal leaves the pixel fields empty.
func QueryWindow(fd int) (Window, error) {
	if !term.IsTerminal(fd) {
		return Window{}, ErrNotTerminal
	}
	cols, rows, xpx, ypx, err := winsize(fd)
	if err != nil {
		return Window{}, err
	}
	w := Window{Cols: cols, Rows: rows, Cell: DefaultCellSize}
	if cols > 0 && rows > 0 && xpx > 0 && ypx > 0 {
		w.Cell = render.CellSize{Width: xpx / cols, Height: ypx / rows}
	}
	return w, nil
}
