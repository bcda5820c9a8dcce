// Package planner turns Cartesian moves into speed-profiled blocks and keeps
// the look-ahead plan of every block the step generator has not taken yet.
package planner

import (
	"errors"
	"math"

	"motionfw/core"
	"motionfw/standalone"
	"motionfw/standalone/block"
	"motionfw/standalone/kinematics"
)

var (
	// ErrQueueFull is backpressure: retry once the step generator has
	// consumed blocks
	ErrQueueFull = errors.New("motion queue full")

	// ErrHalted rejects moves while a safety fault is latched
	ErrHalted = errors.New("motion halted")

	// ErrInvalidFeedrate rejects negative or NaN feedrates
	ErrInvalidFeedrate = errors.New("invalid feedrate")
)

// HaltSource reports whether motion is latched off
type HaltSource interface {
	Halted() bool
}

// MoveOptions modify a single BufferLine call
type MoveOptions struct {
	HomingMask   uint8   // endstop channels that complete the move
	IgnoreLimits bool    // skip soft limits (homing past the configured travel)
	Acceleration float64 // mm/s^2, zero selects the default
}

// Stats counts planner outcomes since start
type Stats struct {
	Queued     uint32 // blocks committed
	QueueFull  uint32
	OutOfReach uint32
	ZeroLength uint32
	Segmented  uint32 // moves split for nonlinear kinematics
	Replans    uint32 // passes repeated because a block went busy
}

// Planner handles motion planning. All methods run in the main loop.
type Planner struct {
	config     *standalone.MachineConfig
	kinematics kinematics.Kinematics
	queue      *block.Queue
	policy     JunctionPolicy
	halt       HaltSource

	axes     [standalone.NumAxes]standalone.AxisConfig
	minSpeed float64 // mm/s
	minRate  float64 // steps/s

	// End of the last queued move
	position standalone.Position
	steps    standalone.Steps

	prev      MoveVector
	prevValid bool

	stats Stats
}

// NewPlanner creates a new motion planner feeding queue
func NewPlanner(config *standalone.MachineConfig, kin kinematics.Kinematics, queue *block.Queue) (*Planner, error) {
	policy, err := NewJunctionPolicy(config)
	if err != nil {
		return nil, err
	}

	p := &Planner{
		config:     config,
		kinematics: kin,
		queue:      queue,
		policy:     policy,
		minSpeed:   config.MinimumPlannerSpeed,
		minRate:    config.Timing.MinStepRate,
	}
	for i := range p.axes {
		p.axes[i] = config.Axis(i)
	}
	if p.minSpeed <= 0 {
		p.minSpeed = 0.05
	}
	if p.minRate <= 0 {
		p.minRate = 120
	}
	return p, nil
}

// SetHaltSource makes BufferLine fail with ErrHalted while h reports halted
func (p *Planner) SetHaltSource(h HaltSource) {
	p.halt = h
}

// SetJunctionPolicy replaces the junction policy
func (p *Planner) SetJunctionPolicy(policy JunctionPolicy) {
	p.policy = policy
}

// Policy returns the active junction policy
func (p *Planner) Policy() JunctionPolicy {
	return p.policy
}

// BufferLine plans a straight move from the end of the last queued move to
// target at feedrate mm/s (zero selects the configured default)
func (p *Planner) BufferLine(target standalone.Position, feedrate float64, opts MoveOptions) error {
	if p.halt != nil && p.halt.Halted() {
		return ErrHalted
	}
	if feedrate < 0 || math.IsNaN(feedrate) {
		return ErrInvalidFeedrate
	}
	if feedrate == 0 {
		feedrate = p.config.DefaultVelocity
	}

	if !opts.IgnoreLimits {
		if err := p.kinematics.CheckLimits(target); err != nil {
			p.stats.OutOfReach++
			return err
		}
	}

	if !p.kinematics.Linear() {
		return p.bufferSegmented(target, feedrate, opts)
	}

	steps, err := p.kinematics.Inverse(target)
	if err != nil {
		p.stats.OutOfReach++
		return err
	}
	if steps == p.steps {
		p.stats.ZeroLength++
		return nil
	}
	if p.queue.Full() {
		p.stats.QueueFull++
		return ErrQueueFull
	}

	p.queueBlock(p.steps, steps, target.Sub(p.position), feedrate, opts)
	p.steps = steps
	p.position = target
	return nil
}

// BufferHoming moves a single motor axis by distance (motor units) without
// kinematics, ending early when a channel in homingMask triggers
func (p *Planner) BufferHoming(axis int, distance, feedrate float64, homingMask uint8) error {
	if p.halt != nil && p.halt.Halted() {
		return ErrHalted
	}
	if feedrate <= 0 {
		feedrate = p.axes[axis].HomingVel
	}

	steps := p.steps
	steps[axis] += int32(math.Round(distance * p.axes[axis].StepsPerMM))
	if steps == p.steps {
		p.stats.ZeroLength++
		return nil
	}
	if p.queue.Full() {
		p.stats.QueueFull++
		return ErrQueueFull
	}

	var delta standalone.Position
	delta = delta.WithAxis(axis, distance)
	p.queueBlock(p.steps, steps, delta, feedrate, MoveOptions{HomingMask: homingMask})
	p.steps = steps
	p.position = p.kinematics.Forward(steps)
	return nil
}

// queueBlock fills, commits and plans one block. The caller has checked
// that a slot is free and that from != to.
func (p *Planner) queueBlock(from, to standalone.Steps, delta standalone.Position, feedrate float64, opts MoveOptions) {
	b := p.queue.Reserve()
	mv := p.fillBlock(b, from, to, delta, feedrate, opts)

	// Junction against the previous move, or from rest when nothing is
	// queued ahead of this block
	mv.SafeSpeed = p.policy.SafeSpeed(&mv)
	var prev *MoveVector
	if p.prevValid && !p.queue.Empty() {
		prev = &p.prev
	}
	vmax := p.policy.JunctionSpeed(prev, &mv)
	if opts.HomingMask != 0 {
		vmax = mv.SafeSpeed
	}

	b.SafeSpeed = math.Max(mv.SafeSpeed, math.Min(p.minSpeed, b.NominalSpeed))
	b.MaxEntrySpeed = math.Max(math.Min(vmax, b.NominalSpeed), math.Min(p.minSpeed, b.NominalSpeed))
	b.EntrySpeed = math.Min(b.MaxEntrySpeed, maxAllowableSpeed(b.Acceleration, p.minSpeed, b.Millimeters))
	b.Set(block.FlagRecalculate)

	p.queue.Commit()
	p.stats.Queued++
	core.RecordTiming(core.EvtBlockQueue, 0, core.GetTime(), b.StepEventCount, b.NominalRate)

	// The move after a homing move starts from rest
	p.prev = mv
	p.prevValid = opts.HomingMask == 0

	p.recalculate()
}

// fillBlock computes the fixed fields of b for the motor move from -> to
// covering the Cartesian displacement delta
func (p *Planner) fillBlock(b *block.Block, from, to standalone.Steps, delta standalone.Position, feedrate float64, opts MoveOptions) MoveVector {
	var mv MoveVector

	for i := range to {
		d := int64(to[i]) - int64(from[i])
		if d < 0 {
			b.DirectionBits |= 1 << i
			d = -d
		}
		b.Steps[i] = uint32(d)
		if b.Steps[i] > b.StepEventCount {
			b.StepEventCount = b.Steps[i]
		}
	}

	mm := delta.CartesianLength()
	if mm < 0.000001 {
		mm = math.Abs(delta.E)
	}
	if mm < 0.000001 {
		// Sub-micron Cartesian change with whole steps (a rounding boundary);
		// size the block by its longest motor travel instead
		for i, n := range b.Steps {
			if s := p.axes[i].StepsPerMM; s > 0 {
				mm = math.Max(mm, float64(n)/s)
			}
		}
	}
	b.Millimeters = mm

	// Slow the move until every motor stays within its speed limit
	inverseSecs := feedrate / mm
	for i, n := range b.Steps {
		s := p.axes[i].StepsPerMM
		if n == 0 || s <= 0 {
			continue
		}
		axisSpeed := float64(n) / s * inverseSecs
		if vmax := p.axes[i].MaxVelocity; vmax > 0 && axisSpeed > vmax {
			inverseSecs *= vmax / axisSpeed
		}
	}
	b.NominalSpeed = mm * inverseSecs
	b.NominalRate = uint32(math.Ceil(float64(b.StepEventCount) * inverseSecs))
	if float64(b.NominalRate) < p.minRate {
		b.NominalRate = uint32(math.Ceil(p.minRate))
	}

	accel := opts.Acceleration
	if accel <= 0 {
		accel = p.config.DefaultAccel
	}
	for i, n := range b.Steps {
		s := p.axes[i].StepsPerMM
		if n == 0 || s <= 0 {
			continue
		}
		axisAccel := accel * (float64(n) / s) / mm
		if amax := p.axes[i].MaxAccel; amax > 0 && axisAccel > amax {
			accel *= amax / axisAccel
		}
	}
	b.Acceleration = accel
	b.AccelerationRate = uint32(math.Ceil(accel * float64(b.StepEventCount) / mm))
	if b.AccelerationRate == 0 {
		b.AccelerationRate = 1
	}

	// Endstop relevance: Cartesian travel when lines stay straight, motor
	// travel otherwise (delta towers, SCARA joints)
	for i := 0; i < 3; i++ {
		var moving, positive bool
		if p.kinematics.Linear() {
			v := delta.Axis(i)
			moving, positive = v != 0, v > 0
		} else {
			moving, positive = b.Steps[i] != 0, !b.Negative(i)
		}
		if moving {
			b.MoveMask |= 1 << i
		}
		if positive {
			b.PositiveMask |= 1 << i
		}
	}
	if opts.HomingMask != 0 {
		b.HomingMask = opts.HomingMask
		b.Set(block.FlagHoming)
	}

	fullLength := math.Sqrt(mm*mm + delta.E*delta.E)
	if delta.CartesianLength() < 0.000001 {
		fullLength = mm
	}
	for i := range mv.Velocity {
		mv.Velocity[i] = delta.Axis(i) * inverseSecs
		if fullLength > 0 {
			mv.Unit[i] = delta.Axis(i) / fullLength
		}
	}
	mv.NominalSpeed = b.NominalSpeed
	mv.Acceleration = accel
	return mv
}

// SetPosition declares the current Cartesian position. Only valid while the
// queue is empty.
func (p *Planner) SetPosition(pos standalone.Position) error {
	steps, err := p.kinematics.Inverse(pos)
	if err != nil {
		return err
	}
	p.position = pos
	p.steps = steps
	p.prevValid = false
	return nil
}

// SyncPosition adopts the step counters after an abort or homing move
func (p *Planner) SyncPosition(steps standalone.Steps) {
	p.steps = steps
	p.position = p.kinematics.Forward(steps)
	p.prevValid = false
}

// Position returns the Cartesian end of the last queued move
func (p *Planner) Position() standalone.Position {
	return p.position
}

// Steps returns the motor position at the end of the last queued move
func (p *Planner) Steps() standalone.Steps {
	return p.steps
}

// QueuedBlocks returns the number of live blocks
func (p *Planner) QueuedBlocks() int {
	return int(p.queue.Len())
}

// IsIdle returns true if no moves are queued or executing
func (p *Planner) IsIdle() bool {
	return p.queue.Empty()
}

// Stats returns the outcome counters
func (p *Planner) Stats() Stats {
	return p.stats
}

// Kinematics returns the geometry the planner uses
func (p *Planner) Kinematics() kinematics.Kinematics {
	return p.kinematics
}

// Queue returns the block queue shared with the step generator
func (p *Planner) Queue() *block.Queue {
	return p.queue
}
