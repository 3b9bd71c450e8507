package termimg

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"strconv"
)

// EncodeIterm2 wraps m as an inline PNG sized to cols x rows cells.
func EncodeIterm2(m Image, cols, rows int, tmux bool) (Handle, error) {
	var raw bytes.Buffer
	if err := png.Encode(&raw, m.rgba()); err != nil {
		return nil, fmt.Errorf("iterm2: %w", err)
	}
	var b bytes.Buffer
	start, end := "\x1b]", "\x07"
	if tmux {
		start, end = "\x1bPtmux;\x1b\x1b]", "\x07\x1b\\"
	}
	fmt.Fprintf(&b, "%s1337;File=inline=1;size=%d;width=%d;height=%d;preserveAspectRatio=0:", start, raw.Len(), cols, rows)
	b.WriteString(base64.StdEncoding.EncodeToString(raw.Bytes()))
	b.WriteString(end)
	return &encoded{proto: Iterm2, cols: cols, rows: rows, data: b.Bytes()}, nil
}

// sixelLevels maps a channel to one of six palette levels.
func sixelLevel(v byte) int { return (int(v)*5 + 127) / 255 }

// EncodeSixel quantizes m to a 216 color cube and emits a sixel stream.
func EncodeSixel(m Image, cols, rows int) (Handle, error) {
	if m.Width <= 0 || m.Height <= 0 {
		return nil, fmt.Errorf("sixel: empty image")
	}
	idx := make([]uint8, m.Width*m.Height)
	var used [216]bool
	for i := range idx {
		p := m.Pix[i*3 : i*3+3]
		c := uint8(sixelLevel(p[0])*36 + sixelLevel(p[1])*6 + sixelLevel(p[2]))
		idx[i] = c
		used[c] = true
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "\x1bP0;1;0q\"1;1;%d;%d", m.Width, m.Height)
	for c := 0; c < 216; c++ {
		if used[c] {
			// sixel color components are percentages
			fmt.Fprintf(&b, "#%d;2;%d;%d;%d", c, c/36*20, c/6%6*20, c%6*20)
		}
	}
	band := make([]byte, m.Width)
	for y0 := 0; y0 < m.Height; y0 += 6 {
		var present [216]bool
		for y := y0; y < min(y0+6, m.Height); y++ {
			for _, c := range idx[y*m.Width : (y+1)*m.Width] {
				present[c] = true
			}
		}
		first := true
		for c := 0; c < 216; c++ {
			if !present[c] {
				continue
			}
			for x := 0; x < m.Width; x++ {
				var bits byte
				for dy := 0; dy < 6 && y0+dy < m.Height; dy++ {
					if idx[(y0+dy)*m.Width+x] == uint8(c) {
						bits |= 1 << dy
					}
				}
				band[x] = '?' + bits
			}
			if !first {
				b.WriteByte('$')
			}
			first = false
			b.WriteByte('#')
			b.WriteString(strconv.Itoa(c))
			writeSixelRuns(&b, band)
		}
		b.WriteByte('-')
	}
	b.WriteString("\x1b\\")
	return &encoded{proto: Sixel, cols: cols, rows: rows, data: b.Bytes()}, nil
}

func writeSixelRuns(b *bytes.Buffer, band []byte) {
	for i := 0; i < len(band); {
		j := i + 1
		for j < len(band) && band[j] == band[i] {
			j++
		}
		if n := j - i; n > 3 {
			b.WriteByte('!')
			b.WriteString(strconv.Itoa(n))
			b.WriteByte(band[i])
		} else {
			for k := 0; k < n; k++ {
				b.WriteByte(band[i])
			}
		}
		i = j
	}
}

// EncodeHalfblocks renders m as upper half block characters, two pixel
// rows per cell, with 24-bit foreground and background colors.
func EncodeHalfblocks(m Image, cols, rows int) (Handle, error) {
	if cols <= 0 || rows <= 0 {
		return nil, fmt.Errorf("halfblocks: empty area %dx%d", cols, rows)
	}
	small := Resize(m, cols, rows*2)
	var b bytes.Buffer
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			top, bottom := small.At(c, 2*r), small.At(c, 2*r+1)
			fmt.Fprintf(&b, "\x1b[38;2;%d;%d;%dm\x1b[48;2;%d;%d;%dm▀",
				top[0], top[1], top[2], bottom[0], bottom[1], bottom[2])
		}
		b.WriteString("\x1b[0m")
		if r+1 < rows {
			b.WriteString("\r\n")
		}
	}
	return &encoded{proto: Halfblocks, cols: cols, rows: rows, data: b.Bytes()}, nil
}

// Encode dispatches to the tile-streamed encoder of p. Kitty images are
// built with NewKittyImage instead.
func Encode(p Protocol, m Image, cols, rows int, tmux bool) (Handle, error) {
	switch p {
	case Iterm2:
		return EncodeIterm2(m, cols, rows, tmux)
	case Sixel:
		return EncodeSixel(m, cols, rows)
	case Halfblocks:
		return EncodeHalfblocks(m, cols, rows)
	}
	return nil, fmt.Errorf("termimg: %s images are not tile encoded", p)
}
