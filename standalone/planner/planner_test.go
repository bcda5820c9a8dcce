package planner

import (
	"errors"
	"math"
	"testing"

	"motionfw/standalone"
	"motionfw/standalone/block"
	"motionfw/standalone/config"
	"motionfw/standalone/kinematics"
)

type haltFlag bool

func (h *haltFlag) Halted() bool { return bool(*h) }

func newTestPlanner(t *testing.T, cfg *standalone.MachineConfig) (*Planner, *block.Queue) {
	t.Helper()
	kin, err := kinematics.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create kinematics: %v", err)
	}
	q := block.NewQueue()
	p, err := NewPlanner(cfg, kin, q)
	if err != nil {
		t.Fatalf("Failed to create planner: %v", err)
	}
	return p, q
}

func xyz(x, y, z float64) standalone.Position {
	return standalone.Position{X: x, Y: y, Z: z}
}

func TestBufferLineSteps(t *testing.T) {
	cfg := config.DefaultCartesianConfig()
	a := cfg.Axes["x"]
	a.StepsPerMM = 200
	cfg.Axes["x"] = a
	p, q := newTestPlanner(t, cfg)

	if err := p.BufferLine(xyz(10, 0, 0), 50, MoveOptions{}); err != nil {
		t.Fatalf("BufferLine failed: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("Expected 1 queued block, got %d", q.Len())
	}

	b := q.At(q.Tail())
	if b.Steps[standalone.AxisX] != 2000 {
		t.Errorf("Expected 2000 X steps, got %d", b.Steps[standalone.AxisX])
	}
	if b.StepEventCount != 2000 {
		t.Errorf("Expected step event count 2000, got %d", b.StepEventCount)
	}
	if b.Negative(standalone.AxisX) {
		t.Error("Expected positive X direction")
	}
	if b.MoveMask != 1<<standalone.AxisX || b.PositiveMask != 1<<standalone.AxisX {
		t.Errorf("Unexpected masks move=%03b positive=%03b", b.MoveMask, b.PositiveMask)
	}
	if !b.Has(block.FlagPlanned) || b.Has(block.FlagRecalculate) {
		t.Error("Expected block to be planned and settled")
	}
	if b.NominalRate != 10000 {
		t.Errorf("Expected nominal rate 10000 steps/s, got %d", b.NominalRate)
	}

	// Back again sets the direction bit
	if err := p.BufferLine(xyz(5, 0, 0), 50, MoveOptions{}); err != nil {
		t.Fatalf("BufferLine failed: %v", err)
	}
	b = q.At(q.Head() - 1)
	if !b.Negative(standalone.AxisX) || b.Steps[standalone.AxisX] != 1000 {
		t.Errorf("Expected 1000 negative X steps, got %d negative=%v", b.Steps[standalone.AxisX], b.Negative(standalone.AxisX))
	}
}

func TestZeroLengthMove(t *testing.T) {
	p, q := newTestPlanner(t, config.DefaultCartesianConfig())

	if err := p.BufferLine(xyz(10, 10, 0), 50, MoveOptions{}); err != nil {
		t.Fatalf("BufferLine failed: %v", err)
	}
	head := q.Head()

	for i := 0; i < 3; i++ {
		if err := p.BufferLine(xyz(10, 10, 0), 50, MoveOptions{}); err != nil {
			t.Fatalf("Zero-length BufferLine failed: %v", err)
		}
	}
	// Less than half a step
	if err := p.BufferLine(xyz(10.004, 10, 0), 50, MoveOptions{}); err != nil {
		t.Fatalf("Sub-step BufferLine failed: %v", err)
	}

	if q.Head() != head {
		t.Errorf("Zero-length moves allocated blocks: head %d -> %d", head, q.Head())
	}
	if p.Stats().ZeroLength != 4 {
		t.Errorf("Expected 4 zero-length moves, got %d", p.Stats().ZeroLength)
	}
}

func TestColinearJunction(t *testing.T) {
	p, q := newTestPlanner(t, config.DefaultCartesianConfig())

	p.BufferLine(xyz(10, 0, 0), 50, MoveOptions{})
	p.BufferLine(xyz(20, 0, 0), 50, MoveOptions{})

	second := q.At(q.Tail() + 1)
	if math.Abs(second.EntrySpeed-50) > 1e-9 {
		t.Errorf("Expected colinear entry speed 50, got %f", second.EntrySpeed)
	}
	first := q.At(q.Tail())
	if first.ExitSpeed != second.EntrySpeed {
		t.Errorf("Exit %f does not match next entry %f", first.ExitSpeed, second.EntrySpeed)
	}
	if first.Profile.FinalRate != first.NominalRate {
		t.Errorf("Expected first block to end at nominal rate %d, got %d", first.NominalRate, first.Profile.FinalRate)
	}
}

func TestRightAngleJunction(t *testing.T) {
	p, q := newTestPlanner(t, config.DefaultCartesianConfig())

	p.BufferLine(xyz(10, 0, 0), 50, MoveOptions{})
	p.BufferLine(xyz(10, 10, 0), 50, MoveOptions{})

	second := q.At(q.Tail() + 1)
	if second.EntrySpeed <= 0 || second.EntrySpeed >= second.NominalSpeed {
		t.Errorf("Expected corner entry below nominal %f, got %f", second.NominalSpeed, second.EntrySpeed)
	}
	// 10 mm/s jerk on X and Y
	if second.EntrySpeed > 10+1e-9 {
		t.Errorf("Expected corner entry <= jerk 10, got %f", second.EntrySpeed)
	}
}

func TestDeviationPolicy(t *testing.T) {
	policy := &DeviationPolicy{Deviation: 0.05, MinSpeed: 0.05}
	mk := func(x, y float64) *MoveVector {
		m := &MoveVector{NominalSpeed: 50, Acceleration: 1000}
		m.Unit[0], m.Unit[1] = x, y
		m.Velocity[0], m.Velocity[1] = 50*x, 50*y
		m.SafeSpeed = policy.SafeSpeed(m)
		return m
	}

	straight := policy.JunctionSpeed(mk(1, 0), mk(1, 0))
	if straight != 50 {
		t.Errorf("Expected straight junction at nominal, got %f", straight)
	}
	reversal := policy.JunctionSpeed(mk(1, 0), mk(-1, 0))
	if reversal != 0.05 {
		t.Errorf("Expected reversal at minimum speed, got %f", reversal)
	}
	corner := policy.JunctionSpeed(mk(1, 0), mk(0, 1))
	if corner <= reversal || corner >= straight {
		t.Errorf("Expected corner between %f and %f, got %f", reversal, straight, corner)
	}
	if start := policy.JunctionSpeed(nil, mk(1, 0)); start != 0.05 {
		t.Errorf("Expected start from rest at minimum speed, got %f", start)
	}
}

func TestPlanFeasibility(t *testing.T) {
	for _, policy := range []string{"jerk", "deviation"} {
		cfg := config.DefaultCartesianConfig()
		cfg.JunctionPolicy = policy
		p, q := newTestPlanner(t, cfg)

		moves := []standalone.Position{
			xyz(1, 0, 0), xyz(30, 0, 0), xyz(30, 2, 0), xyz(60, 40, 0),
			xyz(60.5, 40.2, 0), xyz(61, 40, 0), xyz(10, 10, 0.2), xyz(10.3, 10, 0.2),
			{X: 10.3, Y: 10, Z: 0.2, E: 2}, xyz(100, 100, 1), xyz(0, 0, 1),
		}
		for _, m := range moves {
			if err := p.BufferLine(m, 120, MoveOptions{}); err != nil {
				t.Fatalf("%s: BufferLine(%v) failed: %v", policy, m, err)
			}
		}

		const eps = 1e-6
		for seq := q.Tail(); seq != q.Head(); seq++ {
			b := q.At(seq)
			exit := p.minSpeed
			if seq+1 != q.Head() {
				exit = q.At(seq + 1).EntrySpeed
			}

			if b.EntrySpeed > b.MaxEntrySpeed+eps {
				t.Errorf("%s block %d: entry %f above max entry %f", policy, seq, b.EntrySpeed, b.MaxEntrySpeed)
			}
			if b.EntrySpeed > maxAllowableSpeed(b.Acceleration, exit, b.Millimeters)+eps {
				t.Errorf("%s block %d: cannot slow from %f to %f in %f mm", policy, seq, b.EntrySpeed, exit, b.Millimeters)
			}
			if exit > maxAllowableSpeed(b.Acceleration, b.EntrySpeed, b.Millimeters)+eps {
				t.Errorf("%s block %d: cannot reach %f from %f in %f mm", policy, seq, exit, b.EntrySpeed, b.Millimeters)
			}
			if b.ExitSpeed != exit {
				t.Errorf("%s block %d: stored exit %f, next entry %f", policy, seq, b.ExitSpeed, exit)
			}

			prof := b.Profile
			if prof.AccelerateUntil > prof.DecelerateAfter || prof.DecelerateAfter > b.StepEventCount {
				t.Errorf("%s block %d: bad profile %+v for %d steps", policy, seq, prof, b.StepEventCount)
			}
			if prof.InitialRate > b.NominalRate || prof.FinalRate > b.NominalRate {
				t.Errorf("%s block %d: profile rates %+v above nominal %d", policy, seq, prof, b.NominalRate)
			}
		}
		if first := q.At(q.Tail()); first.EntrySpeed > first.SafeSpeed+eps {
			t.Errorf("%s: first block enters at %f above safe speed %f", policy, first.EntrySpeed, first.SafeSpeed)
		}
	}
}

func TestTrapezoidPlateau(t *testing.T) {
	p, q := newTestPlanner(t, config.DefaultCartesianConfig())

	p.BufferLine(xyz(10, 0, 0), 50, MoveOptions{})
	long := q.At(q.Tail())
	if !long.Has(block.FlagNominalLength) {
		t.Error("Expected 10 mm move at 50 mm/s to reach nominal speed")
	}
	if long.Profile.DecelerateAfter <= long.Profile.AccelerateUntil {
		t.Errorf("Expected a cruise plateau, got %+v", long.Profile)
	}

	p.BufferLine(xyz(10, 0.5, 0), 300, MoveOptions{})
	short := q.At(q.Head() - 1)
	if short.Has(block.FlagNominalLength) {
		t.Error("Expected 0.5 mm move at 300 mm/s to be a triangle")
	}
	if short.Profile.AccelerateUntil != short.Profile.DecelerateAfter {
		t.Errorf("Expected no plateau, got %+v", short.Profile)
	}
}

func TestMaxVelocityClamp(t *testing.T) {
	p, q := newTestPlanner(t, config.DefaultCartesianConfig())

	// Z is limited to 10 mm/s
	if err := p.BufferLine(xyz(0, 0, 5), 100, MoveOptions{}); err != nil {
		t.Fatalf("BufferLine failed: %v", err)
	}
	b := q.At(q.Tail())
	if math.Abs(b.NominalSpeed-10) > 1e-9 {
		t.Errorf("Expected Z move clamped to 10 mm/s, got %f", b.NominalSpeed)
	}
	if b.Acceleration > 100+1e-9 {
		t.Errorf("Expected Z acceleration clamped to 100, got %f", b.Acceleration)
	}
}

func TestQueueFull(t *testing.T) {
	p, q := newTestPlanner(t, config.DefaultCartesianConfig())

	for i := 0; i < block.Capacity; i++ {
		if err := p.BufferLine(xyz(float64(i+1), 0, 0), 50, MoveOptions{}); err != nil {
			t.Fatalf("BufferLine %d failed: %v", i, err)
		}
	}
	pos := p.Position()

	err := p.BufferLine(xyz(100, 0, 0), 50, MoveOptions{})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Expected ErrQueueFull, got %v", err)
	}
	if q.Len() != block.Capacity {
		t.Errorf("Expected %d queued blocks, got %d", block.Capacity, q.Len())
	}
	if p.Position() != pos {
		t.Errorf("Rejected move changed position to %v", p.Position())
	}
	if p.Stats().QueueFull != 1 || p.Stats().Queued != block.Capacity {
		t.Errorf("Unexpected stats %+v", p.Stats())
	}
}

func TestOutOfReach(t *testing.T) {
	p, q := newTestPlanner(t, config.DefaultCartesianConfig())

	err := p.BufferLine(xyz(500, 0, 0), 50, MoveOptions{})
	if !errors.Is(err, kinematics.ErrOutOfReach) {
		t.Fatalf("Expected ErrOutOfReach, got %v", err)
	}
	if !q.Empty() {
		t.Error("Out of reach move was queued")
	}
	if p.Stats().OutOfReach != 1 {
		t.Errorf("Expected 1 out of reach, got %d", p.Stats().OutOfReach)
	}

	// Homing moves may leave the envelope
	if err := p.BufferLine(xyz(-250, 0, 0), 50, MoveOptions{IgnoreLimits: true, HomingMask: 1}); err != nil {
		t.Fatalf("Homing move failed: %v", err)
	}
	if b := q.At(q.Tail()); !b.Has(block.FlagHoming) || b.HomingMask != 1 {
		t.Error("Expected homing block")
	}
}

func TestHaltedRejectsMoves(t *testing.T) {
	p, q := newTestPlanner(t, config.DefaultCartesianConfig())
	halted := haltFlag(true)
	p.SetHaltSource(&halted)

	if err := p.BufferLine(xyz(10, 0, 0), 50, MoveOptions{}); !errors.Is(err, ErrHalted) {
		t.Fatalf("Expected ErrHalted, got %v", err)
	}
	if !q.Empty() {
		t.Error("Halted planner queued a block")
	}

	halted = false
	if err := p.BufferLine(xyz(10, 0, 0), 50, MoveOptions{}); err != nil {
		t.Fatalf("BufferLine after clear failed: %v", err)
	}
}

func TestBusyBlockEntryFrozen(t *testing.T) {
	p, q := newTestPlanner(t, config.DefaultCartesianConfig())

	p.BufferLine(xyz(10, 0, 0), 50, MoveOptions{})
	running := q.Claim()
	if running == nil {
		t.Fatal("Expected planned block to be claimable")
	}
	exit := running.ExitSpeed
	prof := running.Profile

	p.BufferLine(xyz(20, 0, 0), 50, MoveOptions{})

	if running.ExitSpeed != exit || running.Profile != prof {
		t.Error("Busy block was re-planned")
	}
	next := q.At(q.Tail() + 1)
	if next.EntrySpeed != exit {
		t.Errorf("Expected entry pinned to %f, got %f", exit, next.EntrySpeed)
	}
	if !next.Has(block.FlagPlanned) {
		t.Error("Expected block after busy block to be planned")
	}

	// Once the generator moves on, later blocks plan normally
	q.Release()
	p.BufferLine(xyz(30, 0, 0), 50, MoveOptions{})
	if last := q.At(q.Head() - 1); math.Abs(last.EntrySpeed-50) > 1e-9 {
		t.Errorf("Expected colinear entry 50 after release, got %f", last.EntrySpeed)
	}
}

func TestBlockClaimedDuringReplan(t *testing.T) {
	p, q := newTestPlanner(t, config.DefaultCartesianConfig())

	p.BufferLine(xyz(10, 0, 0), 50, MoveOptions{})
	p.BufferLine(xyz(20, 0, 0), 50, MoveOptions{})
	p.BufferLine(xyz(30, 0, 0), 50, MoveOptions{})

	// The generator finishes the first block; the second now starts at
	// cruise speed, above its safe speed from rest
	q.Claim()
	q.Release()
	second := q.At(q.Tail())
	entry := second.EntrySpeed
	if entry <= second.SafeSpeed {
		t.Fatalf("Expected entry %f above safe speed %f", entry, second.SafeSpeed)
	}

	afterSnapshot = func() {
		afterSnapshot = nil
		if q.Claim() != second {
			t.Error("Expected to claim the second block")
		}
	}
	t.Cleanup(func() { afterSnapshot = nil })

	if err := p.BufferLine(xyz(40, 0, 0), 50, MoveOptions{}); err != nil {
		t.Fatalf("BufferLine failed: %v", err)
	}

	if second.EntrySpeed != entry || second.Has(block.FlagRecalculate) {
		t.Errorf("Busy block modified: entry %f (was %f), flags recalc=%v",
			second.EntrySpeed, entry, second.Has(block.FlagRecalculate))
	}
	if p.Stats().Replans == 0 {
		t.Error("Expected a repeated pass")
	}
	if next := q.At(q.Tail() + 1); next.EntrySpeed != second.ExitSpeed || !next.Has(block.FlagPlanned) {
		t.Errorf("Expected next block pinned to %f and planned, got %f", second.ExitSpeed, next.EntrySpeed)
	}
}

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
		a.MaxVelocity = 300
		a.MaxAccel = 3000
		a.MinPosition = 0
		a.MaxPosition = 500
		cfg.Axes[name] = a
	}
	return cfg
}

func TestDeltaSegmentation(t *testing.T) {
	p, q := newTestPlanner(t, deltaConfig())
	if err := p.SetPosition(xyz(0, 0, 10)); err != nil {
		t.Fatalf("SetPosition failed: %v", err)
	}

	target := xyz(2, 1, 10)
	if err := p.BufferLine(target, 50, MoveOptions{}); err != nil {
		t.Fatalf("BufferLine failed: %v", err)
	}
	if q.Len() < 2 {
		t.Errorf("Expected the line to be segmented, got %d blocks", q.Len())
	}
	if p.Stats().Segmented != 1 {
		t.Errorf("Expected 1 segmented move, got %d", p.Stats().Segmented)
	}

	end := p.Kinematics().Forward(p.Steps())
	if d := end.Sub(target).CartesianLength(); d > 0.05 {
		t.Errorf("Segments end %.4f mm from target", d)
	}

	// A move needing more slots than are free is refused whole
	for i := 1; ; i++ {
		err := p.BufferLine(xyz(0, 0, 10+float64(i)), 50, MoveOptions{})
		if errors.Is(err, ErrQueueFull) {
			break
		}
		if err != nil {
			t.Fatalf("Filler move failed: %v", err)
		}
	}
	before := q.Len()
	pos := p.Position()
	err := p.BufferLine(xyz(-40, -30, 20), 10, MoveOptions{})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Expected ErrQueueFull for long segmented move, got %v", err)
	}
	if q.Len() != before || p.Position() != pos {
		t.Error("Partial segmented move was queued")
	}
}

func TestSegmentCountCapped(t *testing.T) {
	p, _ := newTestPlanner(t, deltaConfig())

	tests := []struct {
		length, feed float64
		want         int
	}{
		{2, 50, 4},                // 200/s for 40 ms = 8, limited by 0.5 mm segments
		{1, 0, 1},                 // no feed, no cutting
		{0.1, 50, 1},              // shorter than one segment
		{160, 50, block.Capacity}, // long line still fits the queue whole
	}
	for _, tt := range tests {
		if got := p.segmentCount(tt.length, tt.feed); got != tt.want {
			t.Errorf("segmentCount(%g, %g) = %d, expected %d", tt.length, tt.feed, got, tt.want)
		}
	}
}
