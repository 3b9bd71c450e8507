package render

import (
	"errors"
	"math"
	"testing"
)

func params(cols, rows, cw, ch int, scale float32) RenderParams {
	return RenderParams{
		Area:     Area{Width: cols, Height: rows},
		CellSize: CellSize{Width: cw, Height: ch},
		Scale:    scale,
		White:    0xFFFFFF,
	}
}

func TestComputeRasterSpec(t *testing.T) {
	tests := []struct {
		name         string
		pageW, pageH float32
		params       RenderParams
		maxDim       int
		w, h         int
		mag          float32
	}{
		{"width bound", 400, 800, params(40, 20, 10, 20, 1), 0, 400, 800, 1},
		{"height bound", 800, 400, params(40, 20, 10, 20, 1), 0, 800, 400, 1},
		{"zoom", 400, 800, params(40, 20, 10, 20, 2), 0, 800, 1600, 2},
		{"height rounds up", 405, 795, params(81, 30, 5, 20, 1), 0, 405, 800, 1},
		{"clamped", 400, 800, params(40, 20, 10, 20, 4), 1000, 500, 1000, 1.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ComputeRasterSpec(tt.pageW, tt.pageH, tt.params, tt.maxDim)
			if err != nil {
				t.Fatalf("ComputeRasterSpec failed: %v", err)
			}
			if spec.Width != tt.w || spec.Height != tt.h {
				t.Errorf("size = %dx%d, expected %dx%d", spec.Width, spec.Height, tt.w, tt.h)
			}
			if math.Abs(float64(spec.Mag-tt.mag)) > 1e-5 {
				t.Errorf("mag = %v, expected %v", spec.Mag, tt.mag)
			}
			if spec.WidthCell != spec.Width/tt.params.CellSize.Width || spec.HeightCell != spec.Height/tt.params.CellSize.Height {
				t.Errorf("cells = %dx%d", spec.WidthCell, spec.HeightCell)
			}
		})
	}
}

func TestComputeRasterSpecLargePage(t *testing.T) {
	// 3300x2550 page, 1650x1275 cells of 8x16 pixels
	spec, err := ComputeRasterSpec(3300, 2550, params(1650, 1275, 8, 16, 1), DefaultMaxDimension)
	if err != nil {
		t.Fatalf("ComputeRasterSpec failed: %v", err)
	}
	if spec.Width%8 != 0 || spec.Height%16 != 0 {
		t.Errorf("size %dx%d is not cell aligned", spec.Width, spec.Height)
	}
	if spec.Width > DefaultMaxDimension || spec.Height > DefaultMaxDimension {
		t.Errorf("size %dx%d exceeds the clamp", spec.Width, spec.Height)
	}
	if spec.Width < DefaultMaxDimension-8 {
		t.Errorf("width %d is not the largest aligned width", spec.Width)
	}
	if spec.Height != 7728 {
		t.Errorf("height = %d, expected 7728", spec.Height)
	}
}

func TestComputeRasterSpecAlignment(t *testing.T) {
	pages := [][2]float32{{612, 792}, {595.28, 841.89}, {1000, 300}, {37, 2000}, {3300, 2550}}
	cells := [][2]int{{7, 15}, {8, 16}, {10, 21}, {13, 29}}
	areas := [][2]int{{80, 24}, {200, 60}, {33, 101}}
	scales := []float32{0.5, 1, 1.37, 3}
	for _, pg := range pages {
		for _, c := range cells {
			for _, a := range areas {
				for _, s := range scales {
					p := params(a[0], a[1], c[0], c[1], s)
					spec, err := ComputeRasterSpec(pg[0], pg[1], p, DefaultMaxDimension)
					if err != nil {
						t.Fatalf("%v %v %v %v: %v", pg, c, a, s, err)
					}
					if spec.Width%c[0] != 0 || spec.Height%c[1] != 0 {
						t.Errorf("%v %v %v %v: %dx%d not aligned", pg, c, a, s, spec.Width, spec.Height)
					}
					if spec.Width > DefaultMaxDimension || spec.Height > DefaultMaxDimension {
						t.Errorf("%v %v %v %v: %dx%d exceeds clamp", pg, c, a, s, spec.Width, spec.Height)
					}
					// the page fits the aligned raster
					if pg[0]*spec.Mag > float32(spec.Width)*1.001 || pg[1]*spec.Mag > float32(spec.Height)*1.001 {
						t.Errorf("%v %v %v %v: page %vx%v does not fit %dx%d", pg, c, a, s,
							pg[0]*spec.Mag, pg[1]*spec.Mag, spec.Width, spec.Height)
					}
				}
			}
		}
	}
}

func TestComputeRasterSpecFaults(t *testing.T) {
	nan := float32(math.NaN())
	tests := []struct {
		name         string
		pageW, pageH float32
		params       RenderParams
	}{
		{"zero page", 0, 792, params(80, 24, 8, 16, 1)},
		{"nan page", nan, 792, params(80, 24, 8, 16, 1)},
		{"zero cell", 612, 792, params(80, 24, 0, 16, 1)},
		{"empty viewport", 612, 792, params(0, 24, 8, 16, 1)},
		{"zero scale", 612, 792, params(80, 24, 8, 16, 0)},
		{"negative scale", 612, 792, params(80, 24, 8, 16, -1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeRasterSpec(tt.pageW, tt.pageH, tt.params, 0)
			if !errors.Is(err, ErrSizeOverflow) {
				t.Fatalf("error = %v, expected ErrSizeOverflow", err)
			}
			var f *Fault
			if !errors.As(err, &f) || f.Kind != FaultOverflow {
				t.Errorf("error %v is not an overflow fault", err)
			}
		})
	}
}
