// Package kinematics converts between Cartesian positions and motor steps
// for the supported machine geometries.
package kinematics

import (
	"errors"
	"fmt"
	"math"

	"motionfw/standalone"
)

// ErrOutOfReach reports a Cartesian target with no valid motor solution or
// outside the configured travel
var ErrOutOfReach = errors.New("target out of reach")

// ErrUnsupported reports an unknown kinematics name
var ErrUnsupported = errors.New("unsupported kinematics")

// Kinematics defines the interface for coordinate transformations
type Kinematics interface {
	// Name returns the configuration name of the geometry
	Name() string

	// AxisNames returns the motor names in axis index order
	AxisNames() []string

	// Inverse converts a Cartesian position to absolute motor steps,
	// rounding each axis to the nearest step
	Inverse(pos standalone.Position) (standalone.Steps, error)

	// Forward converts motor steps back to a Cartesian position
	Forward(steps standalone.Steps) standalone.Position

	// CheckLimits validates that a position is within configured travel
	CheckLimits(pos standalone.Position) error

	// Linear reports whether straight Cartesian lines stay straight in
	// motor space, so a move needs no segmentation
	Linear() bool
}

// New creates the kinematics named by cfg.Kinematics
func New(cfg *standalone.MachineConfig) (Kinematics, error) {
	switch cfg.Kinematics {
	case "", "cartesian":
		return NewCartesian(cfg)
	case "corexy":
		return NewCoreXY(cfg)
	case "delta":
		return NewDelta(cfg)
	case "scara":
		return NewSCARA(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, cfg.Kinematics)
	}
}

// AxisLimits represents position limits for an axis
type AxisLimits struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the limits
func (l AxisLimits) Contains(v float64) bool {
	return v >= l.Min && v <= l.Max
}

// scales holds the steps-per-unit of each motor axis
type scales [standalone.NumAxes]float64

func scalesFrom(cfg *standalone.MachineConfig) scales {
	var s scales
	for i := range s {
		s[i] = cfg.Axis(i).StepsPerMM
	}
	return s
}

func (s *scales) toSteps(axis int, v float64) int32 {
	return int32(math.Round(v * s[axis]))
}

func (s *scales) fromSteps(axis int, steps int32) float64 {
	if s[axis] == 0 {
		return 0
	}
	return float64(steps) / s[axis]
}

func limitsFrom(cfg *standalone.MachineConfig, axis int) AxisLimits {
	a := cfg.Axis(axis)
	return AxisLimits{Min: a.MinPosition, Max: a.MaxPosition}
}

func requireAxes(cfg *standalone.MachineConfig, names ...string) error {
	for _, name := range names {
		if _, ok := cfg.Axes[name]; !ok {
			return fmt.Errorf("%s axis not configured", name)
		}
	}
	return nil
}

func outOfReach(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrOutOfReach}, args...)...)
}
