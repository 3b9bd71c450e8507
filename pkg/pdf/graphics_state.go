package pdf

import "math"

// Matrix is an affine transform [a b c d e f] mapping (x, y) to
// (a*x + c*y + e, b*x + d*y + f).
type Matrix [6]float64

// Identity is the identity transform.
var Identity = Matrix{1, 0, 0, 1, 0, 0}

// Multiply returns m followed by n.
func (m Matrix) Multiply(n Matrix) Matrix {
	return Matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

// Apply transforms a point.
func (m Matrix) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

// Scale is the geometric mean of the axis scale factors, used to convert
// line widths and font sizes to device units.
func (m Matrix) Scale() float64 {
	return math.Sqrt(math.Abs(m[0]*m[3] - m[1]*m[2]))
}

// Invert returns the inverse transform, or Identity when singular.
func (m Matrix) Invert() Matrix {
	det := m[0]*m[3] - m[1]*m[2]
	if det == 0 {
		return Identity
	}
	return Matrix{
		m[3] / det, -m[1] / det,
		-m[2] / det, m[0] / det,
		(m[2]*m[5] - m[3]*m[4]) / det,
		(m[1]*m[4] - m[0]*m[5]) / det,
	}
}

func matrixFrom(operands []Object) (Matrix, bool) {
	if len(operands) < 6 {
		return Identity, false
	}
	var m Matrix
	for i := 0; i < 6; i++ {
		v, ok := Num(operands[len(operands)-6+i])
		if !ok {
			return Identity, false
		}
		m[i] = v
	}
	return m, true
}

// Color is an RGB color with components in [0, 1].
type Color struct {
	R, G, B float64
}

var black = Color{}

// TextState holds the text parameters that survive across BT/ET.
type TextState struct {
	Font        *Font
	FontSize    float64
	CharSpacing float64
	WordSpacing float64
	HScale      float64
	Leading     float64
	Rise        float64
	Render      int
}

// GraphicsState is the subset of the PDF graphics state the interpreter
// tracks.
type GraphicsState struct {
	CTM         Matrix
	FillColor   Color
	StrokeColor Color
	FillCS      colorSpace
	StrokeCS    colorSpace
	LineWidth   float64
	Text        TextState
	FillAlpha   float64
	StrokeAlpha float64
}

func newGraphicsState(ctm Matrix) GraphicsState {
	return GraphicsState{
		CTM:         ctm,
		FillColor:   black,
		StrokeColor: black,
		FillCS:      colorSpace{family: "DeviceGray", components: 1},
		StrokeCS:    colorSpace{family: "DeviceGray", components: 1},
		LineWidth:   1,
		Text:        TextState{HScale: 1},
		FillAlpha:   1,
		StrokeAlpha: 1,
	}
}
