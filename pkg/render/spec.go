package render

import (
	"math"
)

// DefaultMaxDimension bounds the larger raster side.
const DefaultMaxDimension = 10000

// RasterSpec is the geometry of one rasterization.
type RasterSpec struct {
	// Mag maps page points to output pixels.
	Mag float32
	// Width and Height are exact multiples of the cell size.
	Width, Height         int
	WidthCell, HeightCell int
}

// ComputeRasterSpec fits a pageW x pageH point page into the viewport of
// params, applies the user zoom, clamps the larger side to maxDim and
// aligns both sides to cell multiples. The width is rounded down and the
// height up; the magnification shrinks so the page fits the aligned box.
func ComputeRasterSpec(pageW, pageH float32, params RenderParams, maxDim int) (RasterSpec, error) {
	cw, ch := float32(params.CellSize.Width), float32(params.CellSize.Height)
	viewW, viewH := params.ViewportPx()
	switch {
	case !(pageW > 0) || !(pageH > 0) || isInf32(pageW) || isInf32(pageH):
		return RasterSpec{}, newFault(FaultOverflow, ErrSizeOverflow, "page size %vx%v", pageW, pageH)
	case cw <= 0 || ch <= 0:
		return RasterSpec{}, newFault(FaultOverflow, ErrSizeOverflow, "cell size %vx%v", cw, ch)
	case viewW <= 0 || viewH <= 0:
		return RasterSpec{}, newFault(FaultOverflow, ErrSizeOverflow, "viewport %vx%v", viewW, viewH)
	case !(params.Scale > 0) || isInf32(params.Scale):
		return RasterSpec{}, newFault(FaultOverflow, ErrSizeOverflow, "scale %v", params.Scale)
	}
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}

	var base float32
	if pageW/pageH > viewW/viewH {
		base = viewH / pageH
	} else {
		base = viewW / pageW
	}
	mag := base * params.Scale
	outW, outH := pageW*mag, pageH*mag

	if m := float32(math.Max(float64(outW), float64(outH))); m > float32(maxDim) {
		reduction := float32(maxDim) / m
		mag *= reduction
		outW *= reduction
		outH *= reduction
	}
	if !(outW > 0) || !(outH > 0) || isInf32(outW) || isInf32(outH) {
		return RasterSpec{}, newFault(FaultOverflow, ErrSizeOverflow, "output %vx%v", outW, outH)
	}

	alignedW := float32(math.Floor(float64(outW/cw))) * cw
	if alignedW < cw {
		alignedW = cw
	}
	alignedH := float32(math.Ceil(float64(outH/ch))) * ch
	// ceil can push the height one cell past the clamp
	for alignedH > float32(maxDim) && alignedH > ch {
		alignedH -= ch
	}
	mag *= float32(math.Min(float64(alignedW/outW), float64(alignedH/outH)))

	spec := RasterSpec{
		Mag:    mag,
		Width:  int(alignedW),
		Height: int(alignedH),
	}
	spec.WidthCell = spec.Width / params.CellSize.Width
	spec.HeightCell = spec.Height / params.CellSize.Height
	if spec.Width <= 0 || spec.Height <= 0 {
		return RasterSpec{}, newFault(FaultOverflow, ErrSizeOverflow, "aligned output %dx%d", spec.Width, spec.Height)
	}
	return spec, nil
}

func isInf32(v float32) bool { return math.IsInf(float64(v), 0) }
