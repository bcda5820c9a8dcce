package config

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"motionfw/core"
	"motionfw/standalone"
	"motionfw/standalone/endstop"
)

// Validate checks cfg and returns every problem found, combined
func Validate(cfg *standalone.MachineConfig) error {
	var err error

	switch cfg.Kinematics {
	case "cartesian", "corexy":
	case "delta":
		err = multierr.Append(err, validateDelta(&cfg.Delta))
	case "scara":
		err = multierr.Append(err, validateSCARA(&cfg.SCARA))
	default:
		err = multierr.Append(err, fmt.Errorf("unsupported kinematics %q", cfg.Kinematics))
	}

	switch cfg.JunctionPolicy {
	case "jerk":
	case "deviation":
		if cfg.JunctionDeviation <= 0 {
			err = multierr.Append(err, errors.New("junction_deviation must be positive"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown junction_policy %q", cfg.JunctionPolicy))
	}

	if cfg.DefaultVelocity <= 0 || cfg.DefaultAccel <= 0 {
		err = multierr.Append(err, errors.New("default velocity and acceleration must be positive"))
	}
	if cfg.MinimumPlannerSpeed <= 0 {
		err = multierr.Append(err, errors.New("minimum_planner_speed must be positive"))
	}

	err = multierr.Append(err, validateTiming(&cfg.Timing))

	for _, name := range []string{"x", "y", "z"} {
		if _, ok := cfg.Axes[name]; !ok {
			err = multierr.Append(err, axisError(name, "not configured"))
		}
	}
	for name, axis := range cfg.Axes {
		err = multierr.Append(err, validateAxis(name, axis, cfg.Timing.MinStepInterval))
	}

	for name, es := range cfg.Endstops {
		if _, perr := endstop.ParseChannel(name); perr != nil {
			err = multierr.Append(err, errors.Wrapf(perr, "endstop %s", name))
			continue
		}
		if es.Virtual {
			continue
		}
		if _, perr := standalone.ParsePin(es.Pin); perr != nil {
			err = multierr.Append(err, errors.Wrapf(perr, "endstop %s pin %q", name, es.Pin))
		}
	}

	if err != nil {
		return errors.WithMessage(err, "invalid machine config")
	}
	return nil
}

func validateAxis(name string, axis standalone.AxisConfig, minInterval time.Duration) error {
	var err error
	if name != "x" && name != "y" && name != "z" && name != "e" {
		return axisError(name, "unknown axis")
	}
	if axis.StepsPerMM <= 0 {
		err = multierr.Append(err, axisError(name, "steps_per_mm must be positive"))
	}
	if axis.MaxVelocity <= 0 || axis.MaxAccel <= 0 || axis.Jerk < 0 {
		err = multierr.Append(err, axisError(name, "velocity, accel and jerk limits must be positive"))
	}
	if axis.MinPosition >= axis.MaxPosition && name != "e" {
		err = multierr.Append(err, axisError(name, "min_position %.3f not below max_position %.3f",
			axis.MinPosition, axis.MaxPosition))
	}
	for _, pin := range []string{axis.StepPin, axis.DirPin, axis.EnablePin} {
		if pin == "" {
			continue
		}
		if _, perr := standalone.ParsePin(pin); perr != nil {
			err = multierr.Append(err, axisError(name, "pin %q: %v", pin, perr))
		}
	}

	// A valid plan must never ask the step generator for more than it can emit
	if minInterval > 0 {
		maxRate := float64(time.Second) / float64(minInterval)
		if rate := axis.MaxVelocity * axis.StepsPerMM; rate > maxRate {
			err = multierr.Append(err, axisError(name, "max step rate %.0f/s exceeds %.0f/s allowed by min_step_interval",
				rate, maxRate))
		}
	}
	return err
}

func validateTiming(t *standalone.TimingConfig) error {
	var err error
	if t.TimerFrequency <= 0 {
		err = multierr.Append(err, errors.New("timer_frequency must be positive"))
	}
	if t.StepPulse <= 0 || t.DirSetup < 0 {
		err = multierr.Append(err, errors.New("step_pulse must be positive and dir_setup non-negative"))
	}
	if t.MinStepInterval <= 2*t.StepPulse {
		err = multierr.Append(err, fmt.Errorf("min_step_interval %v must exceed twice step_pulse %v",
			t.MinStepInterval, t.StepPulse))
	}
	if t.IdleInterval <= 0 {
		err = multierr.Append(err, errors.New("idle_interval must be positive"))
	}
	if t.MinStepRate <= 0 {
		err = multierr.Append(err, errors.New("min_step_rate must be positive"))
	} else if t.TimerFrequency > 0 {
		// The slowest interval must still fit the 32-bit compare register
		hz := float64(core.TicksPerSecond(t.TimerFrequency))
		if hz/t.MinStepRate > math.MaxUint32 {
			err = multierr.Append(err, fmt.Errorf("min_step_rate %.1f too low for timer", t.MinStepRate))
		}
	}
	return err
}

func validateDelta(d *standalone.DeltaConfig) error {
	var err error
	if d.DiagonalRod <= 0 || d.Radius <= 0 {
		err = multierr.Append(err, errors.New("delta diagonal_rod and radius must be positive"))
	}
	if d.DiagonalRod <= d.Radius {
		err = multierr.Append(err, errors.New("delta diagonal_rod must be longer than radius"))
	}
	if d.PrintRadius <= 0 || d.PrintRadius >= d.DiagonalRod {
		err = multierr.Append(err, errors.New("delta print_radius must be positive and shorter than diagonal_rod"))
	}
	return err
}

func validateSCARA(s *standalone.SCARAConfig) error {
	if s.ShoulderLength <= 0 || s.ElbowLength <= 0 {
		return errors.New("scara link lengths must be positive")
	}
	return nil
}
