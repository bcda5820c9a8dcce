package kinematics

import (
	"motionfw/standalone"
)

// Cartesian implements basic Cartesian kinematics (XYZ 1:1 mapping)
type Cartesian struct {
	scale  scales
	limits [3]AxisLimits
}

// NewCartesian creates a new Cartesian kinematics instance
func NewCartesian(config *standalone.MachineConfig) (*Cartesian, error) {
	if err := requireAxes(config, "x", "y", "z"); err != nil {
		return nil, err
	}

	k := &Cartesian{scale: scalesFrom(config)}
	for i := range k.limits {
		k.limits[i] = limitsFrom(config, i)
	}
	return k, nil
}

func (k *Cartesian) Name() string { return "cartesian" }

// AxisNames returns the axis names for Cartesian kinematics
func (k *Cartesian) AxisNames() []string {
	return []string{"x", "y", "z", "e"}
}

func (k *Cartesian) Linear() bool { return true }

// Inverse is a per-axis scale
func (k *Cartesian) Inverse(pos standalone.Position) (standalone.Steps, error) {
	var s standalone.Steps
	for i := range s {
		s[i] = k.scale.toSteps(i, pos.Axis(i))
	}
	return s, nil
}

func (k *Cartesian) Forward(steps standalone.Steps) standalone.Position {
	var p standalone.Position
	for i := range steps {
		p = p.WithAxis(i, k.scale.fromSteps(i, steps[i]))
	}
	return p
}

// CheckLimits validates that a position is within configured limits
func (k *Cartesian) CheckLimits(pos standalone.Position) error {
	return checkCartesianLimits(&k.limits, pos)
}

func checkCartesianLimits(limits *[3]AxisLimits, pos standalone.Position) error {
	for i, l := range limits {
		if v := pos.Axis(i); !l.Contains(v) {
			return outOfReach("%s=%.3f outside [%g, %g]", standalone.AxisNames[i], v, l.Min, l.Max)
		}
	}
	return nil
}
