package standalone

import (
	"math"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Motor axis indices. Nonlinear machines reuse X/Y/Z for their joints
// (delta towers A/B/C, SCARA shoulder/elbow).
const (
	AxisX = iota
	AxisY
	AxisZ
	AxisE
	NumAxes
)

// AxisNames are the configuration keys of the motor axes, in index order
var AxisNames = [NumAxes]string{"x", "y", "z", "e"}

// Position represents a position in machine coordinates (mm)
type Position struct {
	X float64
	Y float64
	Z float64
	E float64 // Extruder
}

// Axis returns the coordinate of axis i
func (p Position) Axis(i int) float64 {
	switch i {
	case AxisX:
		return p.X
	case AxisY:
		return p.Y
	case AxisZ:
		return p.Z
	default:
		return p.E
	}
}

// WithAxis returns p with axis i replaced by v
func (p Position) WithAxis(i int, v float64) Position {
	switch i {
	case AxisX:
		p.X = v
	case AxisY:
		p.Y = v
	case AxisZ:
		p.Z = v
	default:
		p.E = v
	}
	return p
}

// Sub returns p - q
func (p Position) Sub(q Position) Position {
	return Position{p.X - q.X, p.Y - q.Y, p.Z - q.Z, p.E - q.E}
}

// Add returns p + q
func (p Position) Add(q Position) Position {
	return Position{p.X + q.X, p.Y + q.Y, p.Z + q.Z, p.E + q.E}
}

// Scale returns p * f
func (p Position) Scale(f float64) Position {
	return Position{p.X * f, p.Y * f, p.Z * f, p.E * f}
}

// CartesianLength is the XYZ path length of p taken as a displacement
func (p Position) CartesianLength() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// Steps is an absolute per-axis motor position in steps
type Steps [NumAxes]int32

// AxisConfig represents configuration for a single motor axis
type AxisConfig struct {
	StepPin      string  `yaml:"step_pin"`
	DirPin       string  `yaml:"dir_pin"`
	EnablePin    string  `yaml:"enable_pin"`
	StepsPerMM   float64 `yaml:"steps_per_mm"` // steps per degree on SCARA joints
	MaxVelocity  float64 `yaml:"max_velocity"` // mm/s
	MaxAccel     float64 `yaml:"max_accel"`    // mm/s^2
	Jerk         float64 `yaml:"jerk"`         // mm/s
	HomingVel    float64 `yaml:"homing_velocity"`
	MinPosition  float64 `yaml:"min_position"`
	MaxPosition  float64 `yaml:"max_position"`
	InvertStep   bool    `yaml:"invert_step"`
	InvertDir    bool    `yaml:"invert_dir"`
	InvertEnable bool    `yaml:"invert_enable"`
}

// EndstopConfig represents configuration for an endstop or probe input
type EndstopConfig struct {
	Pin     string `yaml:"pin"`
	Invert  bool   `yaml:"invert"`
	PullUp  bool   `yaml:"pull_up"`
	Virtual bool   `yaml:"virtual"` // fed by software, e.g. a distance probe
}

// DeltaConfig describes a linear delta
type DeltaConfig struct {
	DiagonalRod float64    `yaml:"diagonal_rod"`
	Radius      float64    `yaml:"radius"`       // effector centre to tower, horizontal
	PrintRadius float64    `yaml:"print_radius"` // reachable XY disc
	TowerAngles [3]float64 `yaml:"tower_angles,flow"`
}

// SCARAConfig describes a two-link planar arm
type SCARAConfig struct {
	ShoulderLength float64 `yaml:"shoulder_length"`
	ElbowLength    float64 `yaml:"elbow_length"`
	OffsetX        float64 `yaml:"offset_x"`
	OffsetY        float64 `yaml:"offset_y"`
}

// TimingConfig holds step signal timing
type TimingConfig struct {
	TimerFrequency  physic.Frequency `yaml:"-"`
	StepPulse       time.Duration    `yaml:"step_pulse"`
	DirSetup        time.Duration    `yaml:"dir_setup"`
	MinStepInterval time.Duration    `yaml:"min_step_interval"`
	IdleInterval    time.Duration    `yaml:"idle_interval"`
	MinStepRate     float64          `yaml:"min_step_rate"` // steps/s
}

// UnmarshalYAML accepts timer_frequency as a unit string such as "12MHz"
func (t *TimingConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain TimingConfig
	var raw struct {
		plain          `yaml:",inline"`
		TimerFrequency string `yaml:"timer_frequency"`
	}
	raw.plain = plain(*t)
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*t = TimingConfig(raw.plain)
	if raw.TimerFrequency != "" {
		if err := t.TimerFrequency.Set(raw.TimerFrequency); err != nil {
			return err
		}
	}
	return nil
}

// MarshalYAML writes timer_frequency back as a unit string
func (t TimingConfig) MarshalYAML() (interface{}, error) {
	type plain TimingConfig
	return struct {
		plain          `yaml:",inline"`
		TimerFrequency string `yaml:"timer_frequency"`
	}{plain(t), t.TimerFrequency.String()}, nil
}

// MachineConfig represents the complete machine configuration
type MachineConfig struct {
	Kinematics string                   `yaml:"kinematics"` // "cartesian", "corexy", "delta", "scara"
	Axes       map[string]AxisConfig    `yaml:"axes"`       // "x", "y", "z", "e"
	Endstops   map[string]EndstopConfig `yaml:"endstops"`   // "x_min", ..., "probe"
	Delta      DeltaConfig              `yaml:"delta"`
	SCARA      SCARAConfig              `yaml:"scara"`
	Timing     TimingConfig             `yaml:"timing"`

	// Global motion parameters
	DefaultVelocity     float64 `yaml:"default_velocity"` // mm/s
	DefaultAccel        float64 `yaml:"default_accel"`    // mm/s^2
	JunctionPolicy      string  `yaml:"junction_policy"`  // "jerk" or "deviation"
	JunctionDeviation   float64 `yaml:"junction_deviation"`
	MinimumPlannerSpeed float64 `yaml:"minimum_planner_speed"`
	SegmentsPerSecond   float64 `yaml:"segments_per_second"`
	MinSegmentLength    float64 `yaml:"min_segment_length"`
	EndstopSampleCount  uint8   `yaml:"endstop_sample_count"`
}

// Axis returns the configuration of motor axis i
func (c *MachineConfig) Axis(i int) AxisConfig {
	return c.Axes[AxisNames[i]]
}

// MachineState is a snapshot reported to status consumers
type MachineState struct {
	Position Position      // Cartesian position from the step counters
	Steps    Steps         // Raw motor position
	Homed    [NumAxes]bool // Homing status per motor axis
	Queued   int           // Blocks waiting or executing
	Halted   bool          // Latched after a safety fault
	Fault    uint8         // Last fault reason
}
