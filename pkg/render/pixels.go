package render

import (
	"runtime"
	"sync"
)

// ParallelThreshold is the pixel count above which row work is split
// across goroutines.
const ParallelThreshold = 200000

// ForRows calls fn over [0,h) either once or in disjoint row bands, one per
// CPU, when pixels reaches ParallelThreshold and there are at least four
// rows.
func ForRows(pixels, h int, fn func(y0, y1 int)) {
	workers := runtime.NumCPU()
	if pixels < ParallelThreshold || h < 4 || workers < 2 {
		fn(0, h)
		return
	}
	if workers > h {
		workers = h
	}
	band := (h + workers - 1) / workers
	var wg sync.WaitGroup
	for y := 0; y < h; y += band {
		y1 := y + band
		if y1 > h {
			y1 = h
		}
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			fn(y0, y1)
		}(y, y1)
	}
	wg.Wait()
}

// PixmapToRGB packs a pixmap with n channels per pixel and the given row
// stride into tightly packed RGB, dropping alpha and extra channels.
func PixmapToRGB(samples []byte, w, h, n, stride int) ([]byte, error) {
	if n < 3 {
		return nil, newFault(FaultPixmap, ErrUnsupportedPixmap, "%d channels", n)
	}
	if w < 0 || h < 0 || stride < 0 {
		return nil, newFault(FaultPixmap, ErrPixmapMismatch, "%dx%d stride %d", w, h, stride)
	}
	rowBytes := w * n
	if len(samples) < stride*h || rowBytes > stride {
		return nil, newFault(FaultPixmap, ErrPixmapMismatch, "%d bytes for %dx%d stride %d", len(samples), w, h, stride)
	}
	out := make([]byte, w*h*3)
	if n == 3 && stride == rowBytes {
		copy(out, samples[:w*h*3])
		return out, nil
	}
	for y := 0; y < h; y++ {
		src := samples[y*stride : y*stride+rowBytes]
		dst := out[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			copy(dst[x*3:x*3+3], src[x*n:x*n+3])
		}
	}
	return out, nil
}

func rgbOf(c int32) (uint8, uint8, uint8) {
	return uint8(c >> 16), uint8(c >> 8), uint8(c)
}

// Tint remaps every channel linearly so that 0 becomes the matching
// channel of black and 255 the matching channel of white.
func Tint(pix []byte, w, h int, black, white int32) {
	br, bg, bb := rgbOf(black)
	wr, wg, wb := rgbOf(white)
	var lut [3][256]byte
	for v := 0; v < 256; v++ {
		lut[0][v] = mix(br, wr, v)
		lut[1][v] = mix(bg, wg, v)
		lut[2][v] = mix(bb, wb, v)
	}
	ForRows(w*h, h, func(y0, y1 int) {
		row := pix[y0*w*3 : y1*w*3]
		for i := 0; i+2 < len(row); i += 3 {
			row[i] = lut[0][row[i]]
			row[i+1] = lut[1][row[i+1]]
			row[i+2] = lut[2][row[i+2]]
		}
	})
}

func mix(lo, hi uint8, v int) uint8 {
	return uint8((int(lo)*(255-v) + int(hi)*v + 127) / 255)
}

// ImageRegion is a saved copy of the pixels under an embedded image.
type ImageRegion struct {
	Rect
	Pixels []byte
}

func regionArea(rects []Rect) int {
	n := 0
	for _, r := range rects {
		n += (r.X1 - r.X0) * (r.Y1 - r.Y0)
	}
	return n
}

func eachRegion(n, area int, fn func(i int)) {
	if area < ParallelThreshold || n < 2 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fn(i)
		}(i)
	}
	wg.Wait()
}

// StashRegions copies the RGB pixels under each rect, clipped to the
// image. Empty rects are skipped.
func StashRegions(pix []byte, w, h int, rects []Rect) []ImageRegion {
	clipped := make([]Rect, 0, len(rects))
	for _, r := range rects {
		if r = r.clip(w, h); !r.Empty() {
			clipped = append(clipped, r)
		}
	}
	regions := make([]ImageRegion, len(clipped))
	eachRegion(len(clipped), regionArea(clipped), func(i int) {
		r := clipped[i]
		rw := (r.X1 - r.X0) * 3
		buf := make([]byte, rw*(r.Y1-r.Y0))
		for y := r.Y0; y < r.Y1; y++ {
			off := (y*w + r.X0) * 3
			copy(buf[(y-r.Y0)*rw:], pix[off:off+rw])
		}
		regions[i] = ImageRegion{Rect: r, Pixels: buf}
	})
	return regions
}

// RestoreRegions writes stashed regions back. Later regions win where
// regions overlap.
func RestoreRegions(pix []byte, w, h int, regions []ImageRegion) {
	rects := make([]Rect, len(regions))
	for i, r := range regions {
		rects[i] = r.Rect
	}
	// overlapping regions must be written in order
	for i, reg := range regions {
		for j := 0; j < i; j++ {
			if overlaps(reg.Rect, regions[j].Rect) {
				restoreSerial(pix, w, regions)
				return
			}
		}
	}
	eachRegion(len(regions), regionArea(rects), func(i int) {
		restoreOne(pix, w, regions[i])
	})
}

func restoreSerial(pix []byte, w int, regions []ImageRegion) {
	for _, reg := range regions {
		restoreOne(pix, w, reg)
	}
}

func restoreOne(pix []byte, w int, reg ImageRegion) {
	rw := (reg.X1 - reg.X0) * 3
	for y := reg.Y0; y < reg.Y1; y++ {
		off := (y*w + reg.X0) * 3
		copy(pix[off:off+rw], reg.Pixels[(y-reg.Y0)*rw:])
	}
}

func overlaps(a, b Rect) bool {
	return a.X0 < b.X1 && b.X0 < a.X1 && a.Y0 < b.Y1 && b.Y0 < a.Y1
}
