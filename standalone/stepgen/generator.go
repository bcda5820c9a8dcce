// Package stepgen executes planned blocks from the step interrupt: one step
// event per tick, Bresenham across the motor axes, trapezoid rates from the
// block profile.
package stepgen

import (
	"sync/atomic"

	"motionfw/core"
	"motionfw/standalone"
	"motionfw/standalone/block"
	"motionfw/standalone/endstop"
)

// State of the step generator
type State uint32

const (
	StateIdle State = iota
	StateStepping
	StateAborting
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStepping:
		return "stepping"
	case StateAborting:
		return "aborting"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Stats counts interrupt-side outcomes
type Stats struct {
	Blocks  uint32 // blocks completed or truncated
	Steps   uint32 // step events executed
	Clamped uint32 // intervals raised to the minimum step interval
	Late    uint32 // compare values that were already in the past
	Dropped uint32 // events lost to a full ring
}

// Generator is the step interrupt. Tick runs in interrupt context; every
// other method is safe from the main loop.
type Generator struct {
	queue    *block.Queue
	monitor  *endstop.Monitor
	steppers [standalone.NumAxes]*Stepper
	timer    core.HardwareTimer

	freq         uint32 // timer ticks per second
	pulseTicks   uint32
	dirTicks     uint32
	minInterval  uint32
	idleInterval uint32
	minRate      uint32

	state    atomic.Uint32
	abortReq atomic.Uint32
	fault    atomic.Uint32
	position [standalone.NumAxes]atomic.Int32
	events   eventRing

	// Interrupt-owned
	current    *block.Block
	counters   [standalone.NumAxes]int32
	stepEvents uint32
	accelTime  uint32 // ticks spent accelerating
	decelTime  uint32 // ticks spent decelerating
	peakRate   uint32
	dirBits    uint8
	dirChanged bool

	blocks  atomic.Uint32
	steps   atomic.Uint32
	clamped atomic.Uint32
	late    atomic.Uint32
}

// NewGenerator creates a step generator consuming queue. monitor may be nil
// when no endstops are configured.
func NewGenerator(timing standalone.TimingConfig, queue *block.Queue, monitor *endstop.Monitor, steppers [standalone.NumAxes]*Stepper) *Generator {
	freq := timing.TimerFrequency
	if freq == 0 {
		freq = core.TimerFrequency
	}
	g := &Generator{
		queue:        queue,
		monitor:      monitor,
		steppers:     steppers,
		freq:         core.TicksPerSecond(freq),
		pulseTicks:   core.TicksFromDuration(timing.StepPulse, freq),
		dirTicks:     core.TicksFromDuration(timing.DirSetup, freq),
		minInterval:  core.TicksFromDuration(timing.MinStepInterval, freq),
		idleInterval: core.TicksFromDuration(timing.IdleInterval, freq),
		minRate:      uint32(timing.MinStepRate),
	}
	if g.idleInterval == 0 {
		g.idleInterval = g.freq / 1000
	}
	if g.minInterval == 0 {
		g.minInterval = 1
	}
	if g.minRate == 0 {
		g.minRate = 1
	}
	return g
}

// Attach arms timer with the generator as its interrupt handler
func (g *Generator) Attach(timer core.HardwareTimer) {
	g.timer = timer
	timer.Start(g.isr, g.idleInterval)
}

// Detach stops the timer. Main loop only.
func (g *Generator) Detach() {
	if g.timer != nil {
		g.timer.Stop()
	}
}

func (g *Generator) isr() {
	interval := g.Tick()
	next := g.timer.Compare() + interval
	now := g.timer.Counter()
	if int32(next-now) <= 0 {
		g.late.Add(1)
		core.RecordTiming(core.EvtTimerPast, 0, now, next, interval)
		next = now + g.pulseTicks + 1
	}
	g.timer.SetCompare(next)
}

// Tick runs one interrupt: samples endstops, performs at most one step
// event and returns the ticks until the next interrupt
func (g *Generator) Tick() uint32 {
	var triggered uint8
	if g.monitor != nil {
		triggered = g.monitor.Sample()
	}

	if reason := g.abortReq.Swap(0); reason != 0 {
		g.abort(uint8(reason), 0)
		return g.idleInterval
	}

	switch State(g.state.Load()) {
	case StateHalted, StateAborting:
		return g.idleInterval
	case StateIdle:
		if !g.loadBlock() {
			return g.idleInterval
		}
		if g.dirChanged {
			g.dirChanged = false
			return g.sinceCompare() + g.dirTicks
		}
	}

	b := g.current
	if triggered != 0 {
		if hit := triggered & b.HomingMask; hit != 0 && b.Has(block.FlagHoming) {
			g.events.push(Event{Kind: EventHomed, Channels: hit, Position: g.Position()})
			core.RecordTiming(core.EvtHomed, hit, g.now(), g.stepEvents, b.StepEventCount)
			return g.completeBlock()
		}
		if hit := triggered & endstop.Relevant(b.MoveMask, b.PositiveMask); hit != 0 {
			g.abort(ReasonEndstop, hit)
			return g.idleInterval
		}
	}

	return g.step()
}

// loadBlock claims the block at the queue tail and prepares its first step
func (g *Generator) loadBlock() bool {
	b := g.queue.Claim()
	if b == nil {
		return false
	}
	g.current = b

	half := int32(b.StepEventCount / 2)
	for i := range g.counters {
		g.counters[i] = -half
	}
	g.stepEvents = 0
	g.accelTime = 0
	g.decelTime = 0
	g.peakRate = b.Profile.InitialRate

	if changed := g.dirBits ^ b.DirectionBits; changed != 0 {
		for i, s := range g.steppers {
			if s != nil && changed&(1<<i) != 0 {
				s.backend.SetDirection(b.Negative(i))
			}
		}
		g.dirBits = b.DirectionBits
		g.dirChanged = true
	}

	g.state.Store(uint32(StateStepping))
	core.RecordTiming(core.EvtBlockLoad, 0, g.now(), b.StepEventCount, b.Profile.InitialRate)
	return true
}

// step performs one Bresenham step event of the current block
func (g *Generator) step() uint32 {
	b := g.current

	var mask uint8
	for i := range g.counters {
		g.counters[i] += int32(b.Steps[i])
		if g.counters[i] > 0 {
			g.counters[i] -= int32(b.StepEventCount)
			mask |= 1 << i
		}
	}
	g.pulse(mask)

	for i := range g.position {
		if mask&(1<<i) == 0 {
			continue
		}
		if b.Negative(i) {
			g.position[i].Add(-1)
		} else {
			g.position[i].Add(1)
		}
	}
	g.steps.Add(1)

	g.stepEvents++
	if g.stepEvents >= b.StepEventCount {
		if b.Has(block.FlagHoming) {
			// Pushed before Release so the main loop never sees an idle
			// queue without the outcome of the homing move
			g.events.push(Event{Kind: EventHomingMissed, Channels: b.HomingMask, Reason: ReasonHomingMissed, Position: g.Position()})
		}
		return g.completeBlock()
	}
	return g.nextInterval()
}

// pulse raises the step lines in mask, holds them for the pulse width and
// lowers them
func (g *Generator) pulse(mask uint8) {
	if mask == 0 {
		return
	}
	for i, s := range g.steppers {
		if s != nil && mask&(1<<i) != 0 {
			s.backend.SetStep(true)
		}
	}
	if g.timer != nil {
		start := g.timer.Counter()
		for g.timer.Counter()-start < g.pulseTicks {
		}
	}
	for i, s := range g.steppers {
		if s != nil && mask&(1<<i) != 0 {
			s.backend.SetStep(false)
		}
	}
}

// nextInterval returns the ticks until the next step event from the
// trapezoid of the current block
func (g *Generator) nextInterval() uint32 {
	b := g.current
	prof := &b.Profile

	var rate, interval uint32
	switch {
	case g.stepEvents < prof.AccelerateUntil:
		rate = prof.InitialRate + uint32(uint64(b.AccelerationRate)*uint64(g.accelTime)/uint64(g.freq))
		if rate > b.NominalRate {
			rate = b.NominalRate
		}
		g.peakRate = rate
		interval = g.interval(rate)
		g.accelTime += interval
	case g.stepEvents >= prof.DecelerateAfter:
		dec := uint32(uint64(b.AccelerationRate) * uint64(g.decelTime) / uint64(g.freq))
		if dec < g.peakRate && g.peakRate-dec > prof.FinalRate {
			rate = g.peakRate - dec
		} else {
			rate = prof.FinalRate
		}
		interval = g.interval(rate)
		g.decelTime += interval
	default:
		rate = b.NominalRate
		g.peakRate = rate
		interval = g.interval(rate)
	}
	return interval
}

// interval converts a step rate to timer ticks, enforcing the minimum rate
// and the minimum step interval
func (g *Generator) interval(rate uint32) uint32 {
	if rate < g.minRate {
		rate = g.minRate
	}
	interval := g.freq / rate
	if interval < g.minInterval {
		g.clamped.Add(1)
		core.RecordTiming(core.EvtRateClamp, 0, g.now(), rate, interval)
		interval = g.minInterval
	}
	return interval
}

// completeBlock releases the current block and starts the next one, if it
// is planned, without an idle gap
func (g *Generator) completeBlock() uint32 {
	core.RecordTiming(core.EvtBlockDone, 0, g.now(), g.stepEvents, g.current.StepEventCount)
	g.current = nil
	g.queue.Release()
	g.blocks.Add(1)

	if !g.loadBlock() {
		g.state.Store(uint32(StateIdle))
		return g.idleInterval
	}
	interval := g.interval(g.current.Profile.InitialRate)
	if g.dirChanged {
		g.dirChanged = false
		if setup := g.sinceCompare() + g.dirTicks; interval < setup {
			interval = setup
		}
	}
	return interval
}

// abort truncates the active block, drops the queue and latches Halted
func (g *Generator) abort(reason uint8, channels uint8) {
	g.state.Store(uint32(StateAborting))
	if g.current != nil {
		g.current = nil
		g.blocks.Add(1)
	}
	g.queue.Discard()
	for _, s := range g.steppers {
		if s != nil {
			s.backend.Stop()
		}
	}
	g.fault.Store(uint32(reason))
	g.events.push(Event{Kind: EventFault, Channels: channels, Reason: reason, Position: g.Position()})
	core.RecordTiming(core.EvtAbort, reason, g.now(), uint32(channels), g.stepEvents)
	g.state.Store(uint32(StateHalted))
}

// sinceCompare returns the ticks elapsed since the current interrupt was due
func (g *Generator) sinceCompare() uint32 {
	if g.timer == nil {
		return 0
	}
	return g.timer.Counter() - g.timer.Compare()
}

func (g *Generator) now() uint32 {
	if g.timer == nil {
		return core.GetTime()
	}
	return g.timer.Counter()
}

// RequestAbort stops motion at the next tick. Safe from any context.
func (g *Generator) RequestAbort(reason uint8) {
	if reason == 0 {
		reason = ReasonEmergencyStop
	}
	g.abortReq.CompareAndSwap(0, uint32(reason))
}

// ClearFault leaves the halted state with an empty queue. Main loop only.
func (g *Generator) ClearFault() {
	state := core.DisableInterrupts()
	g.queue.Discard()
	g.current = nil
	g.abortReq.Store(0)
	g.fault.Store(0)
	g.state.Store(uint32(StateIdle))
	core.RestoreInterrupts(state)
}

// State returns the current state; a pending abort reports as aborting
func (g *Generator) State() State {
	s := State(g.state.Load())
	if s != StateHalted && g.abortReq.Load() != 0 {
		return StateAborting
	}
	return s
}

// Halted reports whether motion is latched off or about to be
func (g *Generator) Halted() bool {
	return g.State() >= StateAborting
}

// Fault returns the reason of the latched fault, zero when running
func (g *Generator) Fault() uint8 {
	return uint8(g.fault.Load())
}

// Position returns the motor position in steps
func (g *Generator) Position() standalone.Steps {
	var s standalone.Steps
	for i := range g.position {
		s[i] = g.position[i].Load()
	}
	return s
}

// SetPosition overwrites the step counters. Only valid while idle or halted.
func (g *Generator) SetPosition(steps standalone.Steps) {
	state := core.DisableInterrupts()
	for i := range g.position {
		g.position[i].Store(steps[i])
	}
	core.RestoreInterrupts(state)
}

// PollEvent returns the oldest pending event. Main loop only.
func (g *Generator) PollEvent() (Event, bool) {
	return g.events.pop()
}

// Stats returns the interrupt counters
func (g *Generator) Stats() Stats {
	return Stats{
		Blocks:  g.blocks.Load(),
		Steps:   g.steps.Load(),
		Clamped: g.clamped.Load(),
		Late:    g.late.Load(),
		Dropped: g.events.dropped.Load(),
	}
}

// Steppers returns the motor channels
func (g *Generator) Steppers() [standalone.NumAxes]*Stepper {
	return g.steppers
}
