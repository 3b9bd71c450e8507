//go:build unix

package termimg

import "golang.org/x/sys/unix"

func winsize(fd int) (cols, rows, xpx, ypx int, err error) {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return int(ws.Col), int(ws.Row), int(ws.Xpixel), int(ws.Ypixel), nil
}
