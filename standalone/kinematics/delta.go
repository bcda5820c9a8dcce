package kinematics

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"motionfw/standalone"
)

// Delta is a linear delta: three vertical towers whose carriages drive the
// effector through diagonal rods of equal length. Motor axes X/Y/Z carry
// towers A/B/C and their positions are carriage heights.
type Delta struct {
	scale       scales
	rod         float64
	rod2        float64
	printRadius float64
	towers      [3]mgl64.Vec2
	carriage    [3]AxisLimits
}

// NewDelta creates delta kinematics from cfg.Delta
func NewDelta(cfg *standalone.MachineConfig) (*Delta, error) {
	if err := requireAxes(cfg, "x", "y", "z"); err != nil {
		return nil, err
	}
	d := cfg.Delta
	if d.DiagonalRod <= d.Radius || d.Radius <= 0 {
		return nil, errors.New("delta diagonal_rod must exceed a positive radius")
	}

	k := &Delta{
		scale:       scalesFrom(cfg),
		rod:         d.DiagonalRod,
		rod2:        d.DiagonalRod * d.DiagonalRod,
		printRadius: d.PrintRadius,
	}
	for i, deg := range d.TowerAngles {
		a := mgl64.DegToRad(deg)
		k.towers[i] = mgl64.Vec2{d.Radius * math.Cos(a), d.Radius * math.Sin(a)}
		k.carriage[i] = limitsFrom(cfg, i)
	}
	return k, nil
}

func (k *Delta) Name() string { return "delta" }

func (k *Delta) AxisNames() []string {
	return []string{"a", "b", "c", "e"}
}

func (k *Delta) Linear() bool { return false }

// carriageHeights solves each tower for the carriage height above the
// effector that keeps the rod at its length
func (k *Delta) carriageHeights(pos standalone.Position) ([3]float64, error) {
	var h [3]float64
	xy := mgl64.Vec2{pos.X, pos.Y}
	for i, t := range k.towers {
		d := xy.Sub(t)
		h2 := k.rod2 - d.Dot(d)
		if h2 <= 0 {
			return h, outOfReach("tower %d cannot reach (%.3f, %.3f)", i, pos.X, pos.Y)
		}
		h[i] = pos.Z + math.Sqrt(h2)
	}
	return h, nil
}

func (k *Delta) Inverse(pos standalone.Position) (standalone.Steps, error) {
	var s standalone.Steps
	h, err := k.carriageHeights(pos)
	if err != nil {
		return s, err
	}
	for i := range h {
		s[i] = k.scale.toSteps(i, h[i])
	}
	s[standalone.AxisE] = k.scale.toSteps(standalone.AxisE, pos.E)
	return s, nil
}

// Forward intersects the three rod spheres centred on the carriages and
// takes the lower solution, where the effector hangs
func (k *Delta) Forward(steps standalone.Steps) standalone.Position {
	var p [3]mgl64.Vec3
	for i, t := range k.towers {
		p[i] = mgl64.Vec3{t.X(), t.Y(), k.scale.fromSteps(i, steps[i])}
	}

	ex := p[1].Sub(p[0])
	d := ex.Len()
	ex = ex.Mul(1 / d)

	p31 := p[2].Sub(p[0])
	i := ex.Dot(p31)
	ey := p31.Sub(ex.Mul(i))
	j := ey.Len()
	ey = ey.Mul(1 / j)
	ez := ex.Cross(ey)

	x := d / 2
	y := (i*i+j*j)/(2*j) - i*x/j
	z2 := k.rod2 - x*x - y*y
	if z2 < 0 {
		z2 = 0
	}
	z := math.Sqrt(z2)

	base := p[0].Add(ex.Mul(x)).Add(ey.Mul(y))
	eff := base.Sub(ez.Mul(z))
	if alt := base.Add(ez.Mul(z)); alt.Z() < eff.Z() {
		eff = alt
	}

	return standalone.Position{
		X: eff.X(),
		Y: eff.Y(),
		Z: eff.Z(),
		E: k.scale.fromSteps(standalone.AxisE, steps[standalone.AxisE]),
	}
}

func (k *Delta) CheckLimits(pos standalone.Position) error {
	if r := math.Hypot(pos.X, pos.Y); r > k.printRadius {
		return outOfReach("radius %.3f beyond print radius %g", r, k.printRadius)
	}
	h, err := k.carriageHeights(pos)
	if err != nil {
		return err
	}
	for i, l := range k.carriage {
		if !l.Contains(h[i]) {
			return outOfReach("tower %d carriage %.3f outside [%g, %g]", i, h[i], l.Min, l.Max)
		}
	}
	return nil
}
