package config

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"

	"motionfw/core"
	"motionfw/standalone"
)

const minimalYAML = `
kinematics: corexy
timing:
  timer_frequency: 1MHz
  step_pulse: 3us
axes:
  x: {step_pin: gpio0, dir_pin: gpio1, steps_per_mm: 80, max_position: 200}
  y: {step_pin: gpio2, dir_pin: gpio3, steps_per_mm: 80, max_position: 200}
  z: {step_pin: gpio4, dir_pin: gpio5, steps_per_mm: 400, max_velocity: 10, max_position: 150}
endstops:
  x_min: {pin: gpio20, pull_up: true, invert: true}
  probe: {virtual: true}
`

func TestLoadConfig(t *testing.T) {
	Convey("Given a minimal YAML config", t, func() {
		cfg, err := LoadConfig([]byte(minimalYAML))
		So(err, ShouldBeNil)

		Convey("Explicit values are kept", func() {
			So(cfg.Kinematics, ShouldEqual, "corexy")
			So(cfg.Timing.TimerFrequency, ShouldEqual, physic.MegaHertz)
			So(cfg.Timing.StepPulse, ShouldEqual, 3*time.Microsecond)
			So(cfg.Axes["z"].MaxVelocity, ShouldEqual, 10)
			So(cfg.Endstops["probe"].Virtual, ShouldBeTrue)
		})

		Convey("Missing values get defaults", func() {
			So(cfg.JunctionPolicy, ShouldEqual, "jerk")
			So(cfg.Timing.MinStepInterval, ShouldEqual, 10*time.Microsecond)
			So(cfg.Axes["x"].MaxVelocity, ShouldEqual, 300)
			So(cfg.Axes["x"].HomingVel, ShouldEqual, 5)
			So(cfg.EndstopSampleCount, ShouldEqual, 4)
		})
	})

	Convey("Unknown keys are rejected", t, func() {
		_, err := LoadConfig([]byte(minimalYAML + "bogus_key: 1\n"))
		So(err, ShouldNotBeNil)
	})

	Convey("The default config survives a marshal round trip", t, func() {
		data, err := Marshal(DefaultCartesianConfig())
		So(err, ShouldBeNil)
		So(string(data), ShouldContainSubstring, "timer_frequency: 12MHz")

		cfg, err := LoadConfig(data)
		So(err, ShouldBeNil)
		So(cfg.Timing.TimerFrequency, ShouldEqual, core.TimerFrequency)
		So(cfg.Timing.StepPulse, ShouldEqual, DefaultCartesianConfig().Timing.StepPulse)
		So(cfg.Axes["z"].StepsPerMM, ShouldEqual, 400)
	})
}

func TestValidate(t *testing.T) {
	Convey("Given the default Cartesian config", t, func() {
		cfg := DefaultCartesianConfig()
		So(Validate(cfg), ShouldBeNil)

		Convey("Every problem is reported at once", func() {
			cfg.Kinematics = "polar"
			x := cfg.Axes["x"]
			x.StepsPerMM = -1
			cfg.Axes["x"] = x
			cfg.Endstops["w_max"] = standalone.EndstopConfig{Pin: "gpio9"}

			err := Validate(cfg)
			So(err, ShouldNotBeNil)
			So(len(multierr.Errors(errors.Cause(err))), ShouldEqual, 3)
		})

		Convey("A step rate beyond min_step_interval is rejected", func() {
			cfg.Timing.MinStepInterval = 100 * time.Microsecond // 10k steps/s
			So(Validate(cfg), ShouldNotBeNil)
		})

		Convey("A pulse that does not fit the minimum interval is rejected", func() {
			cfg.Timing.StepPulse = 6 * time.Microsecond
			So(Validate(cfg), ShouldNotBeNil)
		})

		Convey("Missing X/Y/Z axes are reported", func() {
			delete(cfg.Axes, "z")
			So(Validate(cfg), ShouldNotBeNil)
		})

		Convey("Bad pins are reported", func() {
			cfg.Endstops["x_min"] = standalone.EndstopConfig{Pin: "pa3"}
			So(Validate(cfg), ShouldNotBeNil)
		})
	})

	Convey("A delta with short rods is rejected", t, func() {
		cfg := DefaultCartesianConfig()
		cfg.Kinematics = "delta"
		cfg.Delta = standalone.DeltaConfig{DiagonalRod: 100, Radius: 120, PrintRadius: 50}
		So(Validate(cfg), ShouldNotBeNil)
	})
}
