package kinematics

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"motionfw/standalone"
)

// SCARA is a two-link planar arm with a linear Z. Motor X is the shoulder
// and motor Y the elbow, both configured in steps per degree.
type SCARA struct {
	scale  scales
	l1, l2 float64
	offset mgl64.Vec2
	joints [2]AxisLimits // degrees
	z      AxisLimits
}

// NewSCARA creates SCARA kinematics from cfg.SCARA
func NewSCARA(cfg *standalone.MachineConfig) (*SCARA, error) {
	if err := requireAxes(cfg, "x", "y", "z"); err != nil {
		return nil, err
	}
	s := cfg.SCARA
	if s.ShoulderLength <= 0 || s.ElbowLength <= 0 {
		return nil, errors.New("scara link lengths must be positive")
	}
	return &SCARA{
		scale:  scalesFrom(cfg),
		l1:     s.ShoulderLength,
		l2:     s.ElbowLength,
		offset: mgl64.Vec2{s.OffsetX, s.OffsetY},
		joints: [2]AxisLimits{limitsFrom(cfg, standalone.AxisX), limitsFrom(cfg, standalone.AxisY)},
		z:      limitsFrom(cfg, standalone.AxisZ),
	}, nil
}

func (k *SCARA) Name() string { return "scara" }

func (k *SCARA) AxisNames() []string {
	return []string{"shoulder", "elbow", "z", "e"}
}

func (k *SCARA) Linear() bool { return false }

// angles returns shoulder and elbow angles in degrees for the
// right-handed elbow solution
func (k *SCARA) angles(pos standalone.Position) (float64, float64, error) {
	d := mgl64.Vec2{pos.X, pos.Y}.Sub(k.offset)
	c2 := (d.Dot(d) - k.l1*k.l1 - k.l2*k.l2) / (2 * k.l1 * k.l2)
	if c2 > 1 || c2 < -1 {
		return 0, 0, outOfReach("(%.3f, %.3f) beyond arm reach", pos.X, pos.Y)
	}
	s2 := math.Sqrt(1 - c2*c2)
	elbow := math.Atan2(s2, c2)
	shoulder := math.Atan2(d.Y(), d.X()) - math.Atan2(k.l2*s2, k.l1+k.l2*c2)
	return mgl64.RadToDeg(shoulder), mgl64.RadToDeg(elbow), nil
}

func (k *SCARA) Inverse(pos standalone.Position) (standalone.Steps, error) {
	var s standalone.Steps
	shoulder, elbow, err := k.angles(pos)
	if err != nil {
		return s, err
	}
	s[standalone.AxisX] = k.scale.toSteps(standalone.AxisX, shoulder)
	s[standalone.AxisY] = k.scale.toSteps(standalone.AxisY, elbow)
	s[standalone.AxisZ] = k.scale.toSteps(standalone.AxisZ, pos.Z)
	s[standalone.AxisE] = k.scale.toSteps(standalone.AxisE, pos.E)
	return s, nil
}

func (k *SCARA) Forward(steps standalone.Steps) standalone.Position {
	t1 := mgl64.DegToRad(k.scale.fromSteps(standalone.AxisX, steps[standalone.AxisX]))
	t2 := mgl64.DegToRad(k.scale.fromSteps(standalone.AxisY, steps[standalone.AxisY]))

	elbow := k.offset.Add(mgl64.Vec2{math.Cos(t1), math.Sin(t1)}.Mul(k.l1))
	hand := elbow.Add(mgl64.Vec2{math.Cos(t1 + t2), math.Sin(t1 + t2)}.Mul(k.l2))

	return standalone.Position{
		X: hand.X(),
		Y: hand.Y(),
		Z: k.scale.fromSteps(standalone.AxisZ, steps[standalone.AxisZ]),
		E: k.scale.fromSteps(standalone.AxisE, steps[standalone.AxisE]),
	}
}

func (k *SCARA) CheckLimits(pos standalone.Position) error {
	shoulder, elbow, err := k.angles(pos)
	if err != nil {
		return err
	}
	if !k.joints[0].Contains(shoulder) {
		return outOfReach("shoulder %.2f deg outside [%g, %g]", shoulder, k.joints[0].Min, k.joints[0].Max)
	}
	if !k.joints[1].Contains(elbow) {
		return outOfReach("elbow %.2f deg outside [%g, %g]", elbow, k.joints[1].Min, k.joints[1].Max)
	}
	if !k.z.Contains(pos.Z) {
		return outOfReach("z=%.3f outside [%g, %g]", pos.Z, k.z.Min, k.z.Max)
	}
	return nil
}
