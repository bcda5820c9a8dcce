package kinematics

import (
	"errors"
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"motionfw/standalone"
	"motionfw/standalone/config"
)

func deltaConfig() *standalone.MachineConfig {
	cfg := config.DefaultCartesianConfig()
	cfg.Kinematics = "delta"
	cfg.Delta = standalone.DeltaConfig{
		DiagonalRod: 250,
		Radius:      120,
		PrintRadius: 100,
		TowerAngles: [3]float64{210, 330, 90},
	}
	for _, name := range []string{"x", "y", "z"} {
		a := cfg.Axes[name]
		a.StepsPerMM = 80
		a.MinPosition = 0
		a.MaxPosition = 500
		cfg.Axes[name] = a
	}
	return cfg
}

func scaraConfig() *standalone.MachineConfig {
	cfg := config.DefaultCartesianConfig()
	cfg.Kinematics = "scara"
	cfg.SCARA = standalone.SCARAConfig{ShoulderLength: 150, ElbowLength: 150}
	for _, name := range []string{"x", "y"} {
		a := cfg.Axes[name]
		a.StepsPerMM = 100 // steps per degree
		a.MinPosition = -180
		a.MaxPosition = 180
		cfg.Axes[name] = a
	}
	return cfg
}

func TestKinematicsRoundTrip(t *testing.T) {
	points := []standalone.Position{
		{X: 0, Y: 0, Z: 0},
		{X: 10, Y: 20, Z: 5, E: 1.5},
		{X: 50.25, Y: 30.5, Z: 100},
		{X: 80, Y: 40, Z: 10, E: -3},
	}

	geometries := []struct {
		name string
		cfg  *standalone.MachineConfig
		tol  float64
	}{
		{"cartesian", config.DefaultCartesianConfig(), 0.02},
		{"corexy", func() *standalone.MachineConfig {
			c := config.DefaultCartesianConfig()
			c.Kinematics = "corexy"
			return c
		}(), 0.02},
		{"delta", deltaConfig(), 0.05},
		{"scara", scaraConfig(), 0.1},
	}

	for _, g := range geometries {
		Convey("forward(inverse(p)) returns p for "+g.name, t, func() {
			kin, err := New(g.cfg)
			So(err, ShouldBeNil)
			So(kin.Name(), ShouldEqual, g.name)

			for _, p := range points {
				if g.name == "scara" {
					// Keep targets inside the annulus the arm can reach
					p.X += 100
				}
				steps, err := kin.Inverse(p)
				So(err, ShouldBeNil)

				back := kin.Forward(steps)
				So(back.X, ShouldAlmostEqual, p.X, g.tol)
				So(back.Y, ShouldAlmostEqual, p.Y, g.tol)
				So(back.Z, ShouldAlmostEqual, p.Z, g.tol)
				So(back.E, ShouldAlmostEqual, p.E, g.tol)
			}
		})
	}
}

func TestCartesianSteps(t *testing.T) {
	Convey("Given 200 steps/mm on X", t, func() {
		cfg := config.DefaultCartesianConfig()
		x := cfg.Axes["x"]
		x.StepsPerMM = 200
		cfg.Axes["x"] = x
		kin, err := NewCartesian(cfg)
		So(err, ShouldBeNil)

		Convey("10mm is exactly 2000 steps", func() {
			steps, err := kin.Inverse(standalone.Position{X: 10})
			So(err, ShouldBeNil)
			So(steps[standalone.AxisX], ShouldEqual, 2000)
		})

		Convey("steps round to nearest", func() {
			steps, _ := kin.Inverse(standalone.Position{X: 0.0074, Y: 0.0188})
			So(steps[standalone.AxisX], ShouldEqual, 1)
			So(steps[standalone.AxisY], ShouldEqual, 2) // 80 steps/mm
		})

		Convey("soft limits reject travel outside the bed", func() {
			err := kin.CheckLimits(standalone.Position{X: 230})
			So(errors.Is(err, ErrOutOfReach), ShouldBeTrue)
			So(kin.CheckLimits(standalone.Position{X: 100, Y: 100, Z: 10}), ShouldBeNil)
		})
	})
}

func TestCoreXYMapping(t *testing.T) {
	Convey("CoreXY sums and differences the belts", t, func() {
		cfg := config.DefaultCartesianConfig()
		kin, err := NewCoreXY(cfg)
		So(err, ShouldBeNil)

		steps, _ := kin.Inverse(standalone.Position{X: 10, Y: 0})
		So(steps[standalone.AxisX], ShouldEqual, 800)
		So(steps[standalone.AxisY], ShouldEqual, 800)

		steps, _ = kin.Inverse(standalone.Position{X: 0, Y: 10})
		So(steps[standalone.AxisX], ShouldEqual, 800)
		So(steps[standalone.AxisY], ShouldEqual, -800)
		So(kin.Linear(), ShouldBeTrue)
	})
}

func TestNonlinearOutOfReach(t *testing.T) {
	Convey("Delta rejects points the rods cannot reach", t, func() {
		kin, err := New(deltaConfig())
		So(err, ShouldBeNil)
		So(kin.Linear(), ShouldBeFalse)

		_, err = kin.Inverse(standalone.Position{X: 400, Y: 0})
		So(errors.Is(err, ErrOutOfReach), ShouldBeTrue)

		err = kin.CheckLimits(standalone.Position{X: 90, Y: 60})
		So(errors.Is(err, ErrOutOfReach), ShouldBeTrue)

		Convey("the centre puts all carriages at the same height", func() {
			steps, err := kin.Inverse(standalone.Position{Z: 10})
			So(err, ShouldBeNil)
			So(steps[0], ShouldEqual, steps[1])
			So(steps[1], ShouldEqual, steps[2])
			h := 10 + math.Sqrt(250*250-120*120)
			So(float64(steps[0])/80, ShouldAlmostEqual, h, 0.02)
		})
	})

	Convey("SCARA rejects targets beyond both links", t, func() {
		kin, err := New(scaraConfig())
		So(err, ShouldBeNil)

		_, err = kin.Inverse(standalone.Position{X: 301, Y: 0})
		So(errors.Is(err, ErrOutOfReach), ShouldBeTrue)

		Convey("a fully stretched arm has a straight elbow", func() {
			steps, err := kin.Inverse(standalone.Position{X: 300, Y: 0})
			So(err, ShouldBeNil)
			So(steps[standalone.AxisX], ShouldEqual, 0)
			So(steps[standalone.AxisY], ShouldEqual, 0)
		})
	})

	Convey("Unknown geometry is reported", t, func() {
		cfg := config.DefaultCartesianConfig()
		cfg.Kinematics = "hexapod"
		_, err := New(cfg)
		So(errors.Is(err, ErrUnsupported), ShouldBeTrue)
	})
}
