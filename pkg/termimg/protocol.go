// Package termimg encodes RGB rasters for terminal graphics protocols and
// detects which protocol and cell size the terminal offers.
package termimg

import (
	"fmt"
	"io"
	"strings"
)

// Protocol is a terminal graphics protocol.
type Protocol int

const (
	Halfblocks Protocol = iota
	Sixel
	Iterm2
	Kitty
)

func (p Protocol) String() string {
	switch p {
	case Halfblocks:
		return "halfblocks"
	case Sixel:
		return "sixel"
	case Iterm2:
		return "iterm2"
	case Kitty:
		return "kitty"
	}
	return fmt.Sprintf("Protocol(%d)", int(p))
}

// Persistent reports whether the terminal keeps transmitted images so they
// can be placed again without another upload.
func (p Protocol) Persistent() bool { return p == Kitty }

// ParseProtocol parses a protocol name. "auto" and the empty string are
// not protocols; callers detect those.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "kitty":
		return Kitty, nil
	case "iterm2", "iterm":
		return Iterm2, nil
	case "sixel":
		return Sixel, nil
	case "halfblocks", "blocks":
		return Halfblocks, nil
	}
	return Halfblocks, fmt.Errorf("unknown protocol %q", s)
}

// Detect guesses the protocol from the environment. getenv is usually
// os.Getenv.
func Detect(getenv func(string) string) Protocol {
	term := strings.ToLower(getenv("TERM"))
	program := getenv("TERM_PROGRAM")
	switch {
	case getenv("KITTY_WINDOW_ID") != "", strings.Contains(term, "kitty"),
		program == "ghostty", strings.Contains(term, "ghostty"):
		return Kitty
	case program == "iTerm.app", getenv("LC_TERMINAL") == "iTerm2", program == "WezTerm":
		return Iterm2
	case strings.Contains(term, "sixel"), strings.HasPrefix(term, "foot"),
		strings.HasPrefix(term, "mlterm"), program == "mlterm":
		return Sixel
	}
	return Halfblocks
}

// InTmux reports whether escape sequences need tmux passthrough.
func InTmux(getenv func(string) string) bool { return getenv("TMUX") != "" }

// Handle is an encoded image ready to be written to the terminal.
type Handle interface {
	Protocol() Protocol
	// Area is the size of the image in terminal cells.
	Area() (cols, rows int)
	io.WriterTo
}

type encoded struct {
	proto      Protocol
	cols, rows int
	data       []byte
}

func (e *encoded) Protocol() Protocol { return e.proto }
func (e *encoded) Area() (int, int)   { return e.cols, e.rows }

// Bytes returns the escape sequence or text the handle writes.
func (e *encoded) Bytes() []byte { return e.data }

func (e *encoded) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(e.data)
	return int64(n), err
}
