package planner

import (
	"fmt"
	"math"

	"motionfw/standalone"
)

// MoveVector describes a move for junction speed purposes
type MoveVector struct {
	Velocity     [standalone.NumAxes]float64 // axis components at nominal speed, mm/s
	Unit         [standalone.NumAxes]float64 // direction of travel
	NominalSpeed float64
	Acceleration float64
	SafeSpeed    float64 // filled in by the planner from SafeSpeed
}

// JunctionPolicy bounds the speed at the boundary between two moves
type JunctionPolicy interface {
	// SafeSpeed is the highest speed m may start at from rest
	SafeSpeed(m *MoveVector) float64

	// JunctionSpeed is the highest speed at the junction prev -> cur
	JunctionSpeed(prev, cur *MoveVector) float64
}

// NewJunctionPolicy selects the policy named by cfg.JunctionPolicy
func NewJunctionPolicy(cfg *standalone.MachineConfig) (JunctionPolicy, error) {
	switch cfg.JunctionPolicy {
	case "", "jerk":
		p := &JerkPolicy{}
		for i := range p.Jerk {
			p.Jerk[i] = cfg.Axis(i).Jerk
		}
		return p, nil
	case "deviation":
		return &DeviationPolicy{
			Deviation: cfg.JunctionDeviation,
			MinSpeed:  cfg.MinimumPlannerSpeed,
		}, nil
	default:
		return nil, fmt.Errorf("unknown junction policy %q", cfg.JunctionPolicy)
	}
}

// JerkPolicy limits the instantaneous per-axis speed change at a junction
// to the axis jerk
type JerkPolicy struct {
	Jerk [standalone.NumAxes]float64 // mm/s
}

func (p *JerkPolicy) SafeSpeed(m *MoveVector) float64 {
	safe := m.NominalSpeed
	limited := false
	for i, v := range m.Velocity {
		jerk := math.Abs(v)
		maxj := p.Jerk[i]
		if jerk <= maxj {
			continue
		}
		if limited {
			if mjerk := maxj * m.NominalSpeed; mjerk < jerk*safe {
				safe = mjerk / jerk
			}
		} else {
			safe *= maxj / jerk
			limited = true
		}
	}
	return safe
}

func (p *JerkPolicy) JunctionSpeed(prev, cur *MoveVector) float64 {
	if prev == nil || prev.NominalSpeed < 0.0001 {
		return cur.SafeSpeed
	}

	// Both moves scaled to the lower of the two nominal speeds
	vmax := math.Min(prev.NominalSpeed, cur.NominalSpeed)
	exitScale := vmax / prev.NominalSpeed
	entryScale := vmax / cur.NominalSpeed

	factor := 1.0
	limited := false
	for i := range cur.Velocity {
		vExit := prev.Velocity[i] * exitScale
		vEntry := cur.Velocity[i] * entryScale
		if limited {
			vExit *= factor
			vEntry *= factor
		}

		jerk := axisJerk(vExit, vEntry)
		if maxj := p.Jerk[i]; jerk > maxj {
			factor *= maxj / jerk
			limited = true
		}
	}
	if limited {
		vmax *= factor
	}

	// Two moves that may each start from rest at about the junction speed
	// can also meet at the entry safe speed
	threshold := vmax * 0.99
	if prev.SafeSpeed > threshold && cur.SafeSpeed > threshold {
		vmax = cur.SafeSpeed
	}
	return math.Min(vmax, math.Min(prev.NominalSpeed, cur.NominalSpeed))
}

// axisJerk is the speed change on one axis across a junction. Coasting in
// the same direction costs the difference; a reversal costs the larger of
// the two magnitudes.
func axisJerk(vExit, vEntry float64) float64 {
	if vExit > vEntry {
		if vEntry > 0 || vExit < 0 {
			return vExit - vEntry
		}
		return math.Max(vExit, -vEntry)
	}
	if vEntry < 0 || vExit > 0 {
		return vEntry - vExit
	}
	return math.Max(-vExit, vEntry)
}

// DeviationPolicy treats a junction as a circular arc that deviates at most
// Deviation mm from the corner and limits centripetal acceleration on it
type DeviationPolicy struct {
	Deviation float64 // mm
	MinSpeed  float64 // mm/s
}

func (p *DeviationPolicy) SafeSpeed(m *MoveVector) float64 {
	return math.Min(p.MinSpeed, m.NominalSpeed)
}

func (p *DeviationPolicy) JunctionSpeed(prev, cur *MoveVector) float64 {
	if prev == nil || prev.NominalSpeed < 0.0001 {
		return cur.SafeSpeed
	}

	vmax := math.Min(prev.NominalSpeed, cur.NominalSpeed)

	// cosTheta is -1 for a straight continuation and +1 for a full reversal
	var cosTheta float64
	for i := range cur.Unit {
		cosTheta -= prev.Unit[i] * cur.Unit[i]
	}

	switch {
	case cosTheta > 0.999999:
		return math.Min(p.MinSpeed, vmax)
	case cosTheta < -0.999999:
		return vmax
	}

	sinHalf := math.Sqrt(0.5 * (1 - cosTheta))
	v := math.Sqrt(cur.Acceleration * p.Deviation * sinHalf / (1 - sinHalf))
	return math.Max(math.Min(v, vmax), math.Min(p.MinSpeed, vmax))
}
