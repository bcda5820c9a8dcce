package kinematics

import (
	"motionfw/standalone"
)

// CoreXY drives X and Y through two belts: A = X+Y, B = X-Y
type CoreXY struct {
	scale  scales
	limits [3]AxisLimits
}

// NewCoreXY creates CoreXY kinematics. The x and y axis entries configure
// motors A and B; their travel limits apply to Cartesian X and Y.
func NewCoreXY(config *standalone.MachineConfig) (*CoreXY, error) {
	if err := requireAxes(config, "x", "y", "z"); err != nil {
		return nil, err
	}

	k := &CoreXY{scale: scalesFrom(config)}
	for i := range k.limits {
		k.limits[i] = limitsFrom(config, i)
	}
	return k, nil
}

func (k *CoreXY) Name() string { return "corexy" }

func (k *CoreXY) AxisNames() []string {
	return []string{"a", "b", "z", "e"}
}

func (k *CoreXY) Linear() bool { return true }

func (k *CoreXY) Inverse(pos standalone.Position) (standalone.Steps, error) {
	return standalone.Steps{
		k.scale.toSteps(standalone.AxisX, pos.X+pos.Y),
		k.scale.toSteps(standalone.AxisY, pos.X-pos.Y),
		k.scale.toSteps(standalone.AxisZ, pos.Z),
		k.scale.toSteps(standalone.AxisE, pos.E),
	}, nil
}

func (k *CoreXY) Forward(steps standalone.Steps) standalone.Position {
	a := k.scale.fromSteps(standalone.AxisX, steps[standalone.AxisX])
	b := k.scale.fromSteps(standalone.AxisY, steps[standalone.AxisY])
	return standalone.Position{
		X: (a + b) / 2,
		Y: (a - b) / 2,
		Z: k.scale.fromSteps(standalone.AxisZ, steps[standalone.AxisZ]),
		E: k.scale.fromSteps(standalone.AxisE, steps[standalone.AxisE]),
	}
}

func (k *CoreXY) CheckLimits(pos standalone.Position) error {
	return checkCartesianLimits(&k.limits, pos)
}
