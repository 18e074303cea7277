package timeline

// Curve is a cubic bezier. P0 and P3 sit on the orchestrator baseline; the
// control points lift the path to its lane peak. The curve is fully
// determined by (start, end, lane), so identical triples always yield
// identical curves.
type Curve struct {
	P0 Point `json:"p0"`
	C1 Point `json:"c1"`
	C2 Point `json:"c2"`
	P3 Point `json:"p3"`
}

// controlInset places the control points 20% in from each endpoint, which
// keeps the curve x-monotone.
const controlInset = 0.2

// laneHeight returns the peak height for a lane. Lane 0 uses the full
// budget; higher lanes flatten harmonically so any number of lanes fits
// the same budget without overlap at the peaks.
func laneHeight(lane int, budget float64) float64 {
	return budget / float64(lane+1)
}

// newCurve builds the deterministic curve for an interval on a lane. x0
// and x1 are seconds from the window origin.
func newCurve(x0, x1 float64, lane int, budget float64) Curve {
	peak := laneHeight(lane, budget)
	w := x1 - x0
	return Curve{
		P0: Point{X: x0, Y: 0},
		C1: Point{X: x0 + w*controlInset, Y: peak},
		C2: Point{X: x1 - w*controlInset, Y: peak},
		P3: Point{X: x1, Y: 0},
	}
}

// At evaluates the curve at parameter u in [0,1].
func (c Curve) At(u float64) Point {
	if u < 0 {
		u = 0
	}
	if u > 1 {
		u = 1
	}
	v := 1 - u
	b0 := v * v * v
	b1 := 3 * v * v * u
	b2 := 3 * v * u * u
	b3 := u * u * u
	return Point{
		X: b0*c.P0.X + b1*c.C1.X + b2*c.C2.X + b3*c.P3.X,
		Y: b0*c.P0.Y + b1*c.C1.Y + b2*c.C2.Y + b3*c.P3.Y,
	}
}
