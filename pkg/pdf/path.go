package pdf

import "math"

// PathVerb identifies a path segment kind.
type PathVerb uint8

const (
	MoveTo PathVerb = iota
	LineTo
	QuadTo
	CubeTo
	ClosePath
)

// Point is a position in some coordinate space.
type Point struct {
	X, Y float64
}

// PathOp is one segment. Only the points the verb needs are used: one for
// MoveTo and LineTo, two for QuadTo, three for CubeTo.
type PathOp struct {
	Verb PathVerb
	Pts  [3]Point
}

// Path is a sequence of segments.
type Path []PathOp

func (p Path) points(op PathOp) int {
	switch op.Verb {
	case MoveTo, LineTo:
		return 1
	case QuadTo:
		return 2
	case CubeTo:
		return 3
	}
	return 0
}

// Transform returns a copy of the path mapped through m.
func (p Path) Transform(m Matrix) Path {
	out := make(Path, len(p))
	for i, op := range p {
		for k := 0; k < p.points(op); k++ {
			op.Pts[k].X, op.Pts[k].Y = m.Apply(op.Pts[k].X, op.Pts[k].Y)
		}
		out[i] = op
	}
	return out
}

// Bounds returns the control point bounding box. ok is false for an empty
// path.
func (p Path) Bounds() (minX, minY, maxX, maxY float64, ok bool) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, op := range p {
		for k := 0; k < p.points(op); k++ {
			pt := op.Pts[k]
			minX, maxX = math.Min(minX, pt.X), math.Max(maxX, pt.X)
			minY, maxY = math.Min(minY, pt.Y), math.Max(maxY, pt.Y)
			ok = true
		}
	}
	return minX, minY, maxX, maxY, ok
}

// rectPath builds the closed rectangle of the re operator.
func rectPath(x, y, w, h float64) Path {
	return Path{
		{Verb: MoveTo, Pts: [3]Point{{x, y}}},
		{Verb: LineTo, Pts: [3]Point{{x + w, y}}},
		{Verb: LineTo, Pts: [3]Point{{x + w, y + h}}},
		{Verb: LineTo, Pts: [3]Point{{x, y + h}}},
		{Verb: ClosePath},
	}
}
