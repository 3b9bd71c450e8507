package render

import (
	"bytes"
	"errors"
	"testing"
)

func TestPixmapToRGB(t *testing.T) {
	tests := []struct {
		name            string
		samples         []byte
		w, h, n, stride int
		want            []byte
	}{
		{"rgb", []byte{1, 2, 3, 4, 5, 6}, 2, 1, 3, 6, []byte{1, 2, 3, 4, 5, 6}},
		{"rgba", []byte{1, 2, 3, 255, 4, 5, 6, 255}, 2, 1, 4, 8, []byte{1, 2, 3, 4, 5, 6}},
		{"padded stride", []byte{1, 2, 3, 9, 9, 4, 5, 6, 9, 9}, 1, 2, 3, 5, []byte{1, 2, 3, 4, 5, 6}},
		{"cmyk-like", []byte{1, 2, 3, 4, 5}, 1, 1, 5, 5, []byte{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PixmapToRGB(tt.samples, tt.w, tt.h, tt.n, tt.stride)
			if err != nil {
				t.Fatalf("PixmapToRGB failed: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got %v, expected %v", got, tt.want)
			}
		})
	}
}

func TestPixmapToRGBFaults(t *testing.T) {
	tests := []struct {
		name            string
		samples         []byte
		w, h, n, stride int
		want            error
	}{
		{"gray", make([]byte, 4), 2, 2, 1, 2, ErrUnsupportedPixmap},
		{"gray alpha", make([]byte, 8), 2, 2, 2, 4, ErrUnsupportedPixmap},
		{"short buffer", make([]byte, 5), 2, 1, 3, 6, ErrPixmapMismatch},
		{"stride too small", make([]byte, 12), 2, 2, 3, 3, ErrPixmapMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PixmapToRGB(tt.samples, tt.w, tt.h, tt.n, tt.stride)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, expected %v", err, tt.want)
			}
			var f *Fault
			if !errors.As(err, &f) || f.Kind != FaultPixmap {
				t.Errorf("error %v is not a pixmap fault", err)
			}
		})
	}
	_, err := PixmapToRGB(nil, 1, 1, 2, 2)
	if err == nil || err.Error() != "pixmap fault: 2 channels: Unsupported pixmap format" {
		t.Errorf("unexpected message %v", err)
	}
}

func TestTint(t *testing.T) {
	tests := []struct {
		name         string
		black, white int32
		in, want     []byte
	}{
		{"identity", 0x000000, 0xFFFFFF, []byte{0, 100, 255}, []byte{0, 100, 255}},
		{"inverted", 0xFFFFFF, 0x000000, []byte{0, 100, 255}, []byte{255, 155, 0}},
		{"theme endpoints", 0x102030, 0xF0E0D0, []byte{0, 0, 0, 255, 255, 255}, []byte{0x10, 0x20, 0x30, 0xF0, 0xE0, 0xD0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pix := append([]byte(nil), tt.in...)
			Tint(pix, len(pix)/3, 1, tt.black, tt.white)
			if !bytes.Equal(pix, tt.want) {
				t.Errorf("got %v, expected %v", pix, tt.want)
			}
		})
	}
}

func TestTintParallelMatchesSerial(t *testing.T) {
	w, h := 600, 400
	pix := make([]byte, w*h*3)
	for i := range pix {
		pix[i] = byte(i * 7)
	}
	want := make([]byte, len(pix))
	for i, v := range pix {
		switch i % 3 {
		case 0:
			want[i] = mix(0x20, 0xE0, int(v))
		case 1:
			want[i] = mix(0x30, 0xD0, int(v))
		default:
			want[i] = mix(0x40, 0xC0, int(v))
		}
	}
	Tint(pix, w, h, 0x203040, 0xE0D0C0)
	if !bytes.Equal(pix, want) {
		t.Error("parallel tint differs from the per-pixel formula")
	}
}

func grid(w, h int) []byte {
	pix := make([]byte, w*h*3)
	for i := range pix {
		pix[i] = byte(i + 1)
	}
	return pix
}

func TestStashRestoreRegions(t *testing.T) {
	w, h := 4, 4
	pix := grid(w, h)
	orig := append([]byte(nil), pix...)

	regions := StashRegions(pix, w, h, []Rect{
		{X0: 1, Y0: 1, X1: 3, Y1: 3},
		{X0: 2, Y0: 2, X1: 2, Y1: 4},   // empty
		{X0: 3, Y0: -2, X1: 10, Y1: 1}, // clipped to x 3, y 0
	})
	if len(regions) != 2 {
		t.Fatalf("Expected 2 regions, got %d", len(regions))
	}
	if regions[1].Rect != (Rect{X0: 3, Y0: 0, X1: 4, Y1: 1}) {
		t.Errorf("clipped rect = %+v", regions[1].Rect)
	}

	for i := range pix {
		pix[i] = 0
	}
	RestoreRegions(pix, w, h, regions)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			inside := x >= 1 && x < 3 && y >= 1 && y < 3 || x == 3 && y == 0
			off := (y*w + x) * 3
			got := pix[off : off+3]
			if inside && !bytes.Equal(got, orig[off:off+3]) {
				t.Errorf("pixel (%d,%d) = %v, expected restored %v", x, y, got, orig[off:off+3])
			}
			if !inside && !bytes.Equal(got, []byte{0, 0, 0}) {
				t.Errorf("pixel (%d,%d) = %v outside every region", x, y, got)
			}
		}
	}
}

func TestRestoreRegionsLarge(t *testing.T) {
	w, h := 800, 600
	pix := grid(w, h)
	orig := append([]byte(nil), pix...)
	rects := []Rect{{0, 0, 400, 600}, {400, 0, 800, 300}, {300, 100, 500, 200}}
	regions := StashRegions(pix, w, h, rects)
	Tint(pix, w, h, 0xFFFFFF, 0)
	RestoreRegions(pix, w, h, regions)
	for y := 0; y < 600; y++ {
		off := y * w * 3
		if !bytes.Equal(pix[off:off+400*3], orig[off:off+400*3]) {
			t.Fatalf("row %d left half not restored", y)
		}
	}
	if bytes.Equal(pix[(599*w+799)*3:], orig[(599*w+799)*3:]) {
		t.Error("Expected pixels outside every region to stay tinted")
	}
}
