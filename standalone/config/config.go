package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"motionfw/core"
	"motionfw/standalone"
)

// LoadConfig parses a YAML (or JSON) configuration and returns a validated MachineConfig
func LoadConfig(data []byte) (*standalone.MachineConfig, error) {
	var config standalone.MachineConfig

	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return nil, errors.Wrap(err, "parse machine config")
	}

	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadFile reads and parses a configuration file
func LoadFile(path string) (*standalone.MachineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read machine config %s", path)
	}
	cfg, err := LoadConfig(data)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return cfg, nil
}

// Marshal renders cfg back to YAML
func Marshal(cfg *standalone.MachineConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// applyDefaults fills in missing configuration values with sensible defaults
func applyDefaults(config *standalone.MachineConfig) {
	// Default kinematics
	if config.Kinematics == "" {
		config.Kinematics = "cartesian"
	}

	// Default motion parameters
	if config.DefaultVelocity == 0 {
		config.DefaultVelocity = 50.0 // 50 mm/s
	}
	if config.DefaultAccel == 0 {
		config.DefaultAccel = 500.0 // 500 mm/s^2
	}
	if config.JunctionPolicy == "" {
		config.JunctionPolicy = "jerk"
	}
	if config.JunctionDeviation == 0 {
		config.JunctionDeviation = 0.05 // 0.05mm
	}
	if config.MinimumPlannerSpeed == 0 {
		config.MinimumPlannerSpeed = 0.05
	}
	if config.SegmentsPerSecond == 0 {
		config.SegmentsPerSecond = 200
	}
	if config.MinSegmentLength == 0 {
		config.MinSegmentLength = 0.5
	}
	if config.EndstopSampleCount == 0 {
		config.EndstopSampleCount = 4
	}

	if config.Delta.TowerAngles == [3]float64{} {
		config.Delta.TowerAngles = [3]float64{210, 330, 90}
	}

	t := &config.Timing
	if t.TimerFrequency == 0 {
		t.TimerFrequency = core.TimerFrequency
	}
	if t.StepPulse == 0 {
		t.StepPulse = 2 * time.Microsecond
	}
	if t.DirSetup == 0 {
		t.DirSetup = time.Microsecond
	}
	if t.MinStepInterval == 0 {
		t.MinStepInterval = 10 * time.Microsecond
	}
	if t.IdleInterval == 0 {
		t.IdleInterval = time.Millisecond
	}
	if t.MinStepRate == 0 {
		t.MinStepRate = 120
	}

	// Apply defaults to each axis
	for name, axis := range config.Axes {
		if axis.MaxVelocity == 0 {
			axis.MaxVelocity = 300.0
		}
		if axis.MaxAccel == 0 {
			axis.MaxAccel = 1000.0
		}
		if axis.Jerk == 0 {
			axis.Jerk = 10.0
		}
		if axis.HomingVel == 0 {
			axis.HomingVel = 5.0
		}
		if axis.StepsPerMM == 0 {
			axis.StepsPerMM = 80.0 // Common value
		}
		config.Axes[name] = axis
	}
}

// Default returns cfg with every unset field filled in, without validation
func Default(cfg *standalone.MachineConfig) *standalone.MachineConfig {
	applyDefaults(cfg)
	return cfg
}

// DefaultCartesianConfig returns a default configuration for a Cartesian printer
func DefaultCartesianConfig() *standalone.MachineConfig {
	cfg := &standalone.MachineConfig{
		Kinematics: "cartesian",
		Axes: map[string]standalone.AxisConfig{
			"x": {
				StepPin:     "gpio0",
				DirPin:      "gpio1",
				EnablePin:   "gpio8",
				StepsPerMM:  80.0,
				MaxVelocity: 300.0,
				MaxAccel:    3000.0,
				Jerk:        10.0,
				HomingVel:   50.0,
				MinPosition: 0.0,
				MaxPosition: 220.0,
			},
			"y": {
				StepPin:     "gpio2",
				DirPin:      "gpio3",
				EnablePin:   "gpio8",
				StepsPerMM:  80.0,
				MaxVelocity: 300.0,
				MaxAccel:    3000.0,
				Jerk:        10.0,
				HomingVel:   50.0,
				MinPosition: 0.0,
				MaxPosition: 220.0,
			},
			"z": {
				StepPin:     "gpio4",
				DirPin:      "gpio5",
				EnablePin:   "gpio8",
				StepsPerMM:  400.0,
				MaxVelocity: 10.0,
				MaxAccel:    100.0,
				Jerk:        0.4,
				HomingVel:   5.0,
				MinPosition: 0.0,
				MaxPosition: 250.0,
			},
			"e": {
				StepPin:     "gpio6",
				DirPin:      "gpio7",
				EnablePin:   "gpio8",
				StepsPerMM:  96.0,
				MaxVelocity: 50.0,
				MaxAccel:    5000.0,
				Jerk:        5.0,
				MinPosition: -10000.0,
				MaxPosition: 10000.0,
			},
		},
		Endstops: map[string]standalone.EndstopConfig{
			"x_min": {Pin: "gpio20", PullUp: true, Invert: true},
			"y_min": {Pin: "gpio21", PullUp: true, Invert: true},
			"z_min": {Pin: "gpio22", PullUp: true, Invert: true},
		},
		DefaultVelocity:   50.0,
		DefaultAccel:      500.0,
		JunctionDeviation: 0.05,
	}
	applyDefaults(cfg)
	return cfg
}

func axisError(name, format string, args ...interface{}) error {
	return fmt.Errorf("axis %s: "+format, append([]interface{}{name}, args...)...)
}
