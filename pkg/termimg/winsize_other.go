//go:build !unix

package termimg

import "golang.org/x/term"

func winsize(fd int) (cols, rows, xpx, ypx int, err error) {
	cols, rows, err = term.GetSize(fd)
	return cols, rows, 0, 0, err
}
