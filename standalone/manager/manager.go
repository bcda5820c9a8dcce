// Package manager wires configuration, kinematics, planner, endstops and the
// step generator into one motion controller.
package manager

import (
	"errors"
	"fmt"
	"math"

	"motionfw/core"
	"motionfw/standalone"
	"motionfw/standalone/block"
	"motionfw/standalone/config"
	"motionfw/standalone/endstop"
	"motionfw/standalone/kinematics"
	"motionfw/standalone/planner"
	"motionfw/standalone/stepgen"
)

var (
	ErrNotInitialized     = errors.New("manager not initialized")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrBusy               = errors.New("motion in progress")
	ErrNoEndstop          = errors.New("endstop not configured")
)

// homing travel beyond the configured range before giving up
const homingOvertravel = 1.5

type homingMove struct {
	channel endstop.Channel
	axis    int
}

// Manager coordinates all motion components. Methods run in the main loop.
type Manager struct {
	config     *standalone.MachineConfig
	kinematics kinematics.Kinematics
	queue      *block.Queue
	planner    *planner.Planner
	monitor    *endstop.Monitor
	generator  *stepgen.Generator
	virtual    map[endstop.Channel]*endstop.VirtualInput

	homing *homingMove
	homed  [standalone.NumAxes]bool

	// Callbacks invoked from Poll
	OnFault func(ev stepgen.Event)
	OnHomed func(ch endstop.Channel, pos standalone.Position)

	initialized bool
	enabled     bool
}

// NewManager creates a new manager from YAML configuration
func NewManager(configData []byte) (*Manager, error) {
	cfg, err := config.LoadConfig(configData)
	if err != nil {
		return nil, err
	}
	return NewManagerWithConfig(cfg)
}

// NewManagerWithConfig creates a manager with an existing config
func NewManagerWithConfig(cfg *standalone.MachineConfig) (*Manager, error) {
	kin, err := kinematics.New(cfg)
	if err != nil {
		return nil, err
	}
	queue := block.NewQueue()
	plan, err := planner.NewPlanner(cfg, kin, queue)
	if err != nil {
		return nil, err
	}

	return &Manager{
		config:     cfg,
		kinematics: kin,
		queue:      queue,
		planner:    plan,
		monitor:    endstop.NewMonitor(cfg.EndstopSampleCount),
		virtual:    make(map[endstop.Channel]*endstop.VirtualInput),
	}, nil
}

// Initialize sets up pins with GPIO step backends and starts the step timer
func (m *Manager) Initialize(gpioDriver core.GPIODriver, timer core.HardwareTimer) error {
	var backends [standalone.NumAxes]core.StepperBackend
	for i := range backends {
		backends[i] = core.NewGPIOStepper(gpioDriver)
	}
	return m.InitializeWithBackends(gpioDriver, timer, backends)
}

// InitializeWithBackends is Initialize with caller-chosen step backends.
// Axes without a configured step pin are skipped.
func (m *Manager) InitializeWithBackends(gpioDriver core.GPIODriver, timer core.HardwareTimer, backends [standalone.NumAxes]core.StepperBackend) error {
	if m.initialized {
		return ErrAlreadyInitialized
	}

	var steppers [standalone.NumAxes]*stepgen.Stepper
	for i, name := range standalone.AxisNames {
		axis, ok := m.config.Axes[name]
		if !ok || axis.StepPin == "" || backends[i] == nil {
			continue
		}
		s := stepgen.NewStepper(name, axis, backends[i])
		if err := s.InitPins(gpioDriver); err != nil {
			return err
		}
		steppers[i] = s
	}

	for name, es := range m.config.Endstops {
		ch, err := endstop.ParseChannel(name)
		if err != nil {
			return fmt.Errorf("endstop %s: %w", name, err)
		}
		if es.Virtual {
			v := &endstop.VirtualInput{}
			m.virtual[ch] = v
			m.monitor.Attach(ch, v)
			continue
		}
		pin, err := standalone.ParsePin(es.Pin)
		if err != nil {
			return fmt.Errorf("endstop %s pin %q: %w", name, es.Pin, err)
		}
		in, err := endstop.NewPinInput(gpioDriver, pin, es.PullUp, es.Invert)
		if err != nil {
			return fmt.Errorf("endstop %s: %w", name, err)
		}
		m.monitor.Attach(ch, in)
	}

	m.generator = stepgen.NewGenerator(m.config.Timing, m.queue, m.monitor, steppers)
	m.planner.SetHaltSource(m.generator)
	m.generator.SetPosition(m.planner.Steps())
	m.generator.Attach(timer)

	m.initialized = true
	return nil
}

// Shutdown stops the step timer and releases the motors
func (m *Manager) Shutdown() {
	if !m.initialized {
		return
	}
	m.generator.Detach()
	m.setMotors(false)
}

// BufferLine queues a move to pos at feedrate mm/s
func (m *Manager) BufferLine(pos standalone.Position, feedrate float64) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if m.homing != nil {
		return ErrBusy
	}
	m.setMotors(true)
	return m.planner.BufferLine(pos, feedrate, planner.MoveOptions{})
}

// Home moves toward ch until it triggers. The move must run on an empty
// queue; completion is reported through Poll.
func (m *Manager) Home(ch endstop.Channel) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if m.monitor.Attached()&ch.Mask() == 0 {
		return fmt.Errorf("%w: %s", ErrNoEndstop, ch)
	}
	if m.homing != nil || !m.queue.Empty() {
		return ErrBusy
	}

	axis, positive := ch.Axis()
	cfg := m.config.Axis(axis)
	travel := (cfg.MaxPosition - cfg.MinPosition) * homingOvertravel
	if !positive {
		travel = -travel
	}

	m.setMotors(true)
	var err error
	if m.kinematics.Linear() {
		target := m.planner.Position()
		target = target.WithAxis(axis, target.Axis(axis)+travel)
		err = m.planner.BufferLine(target, cfg.HomingVel, planner.MoveOptions{
			HomingMask:   ch.Mask(),
			IgnoreLimits: true,
		})
	} else {
		// Towers and joints home in motor space
		err = m.planner.BufferHoming(axis, travel, cfg.HomingVel, ch.Mask())
	}
	if err != nil {
		return err
	}
	m.homing = &homingMove{channel: ch, axis: axis}
	return nil
}

// Homing reports whether a homing move is pending
func (m *Manager) Homing() bool {
	return m.homing != nil
}

// Probe moves toward target until the probe triggers; the probed position
// is reported through OnHomed
func (m *Manager) Probe(target standalone.Position, feedrate float64) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if m.monitor.Attached()&endstop.Probe.Mask() == 0 {
		return fmt.Errorf("%w: %s", ErrNoEndstop, endstop.Probe)
	}
	if m.homing != nil || !m.queue.Empty() {
		return ErrBusy
	}
	m.setMotors(true)
	err := m.planner.BufferLine(target, feedrate, planner.MoveOptions{HomingMask: endstop.Probe.Mask()})
	if err != nil {
		return err
	}
	m.homing = &homingMove{channel: endstop.Probe, axis: standalone.AxisZ}
	return nil
}

// Poll drains generator events, re-syncs the planner and invokes the
// callbacks. Call it from the main loop.
func (m *Manager) Poll() {
	if !m.initialized {
		return
	}
	for {
		ev, ok := m.generator.PollEvent()
		if !ok {
			break
		}
		switch ev.Kind {
		case stepgen.EventHomed:
			m.finishHoming(ev)
		case stepgen.EventFault, stepgen.EventHomingMissed:
			m.homing = nil
			m.planner.SyncPosition(ev.Position)
			if m.OnFault != nil {
				m.OnFault(ev)
			}
		}
	}
}

func (m *Manager) finishHoming(ev stepgen.Event) {
	h := m.homing
	m.homing = nil
	steps := m.generator.Position()
	if h == nil || ev.Channels&h.channel.Mask() == 0 {
		m.planner.SyncPosition(steps)
		return
	}

	if h.channel != endstop.Probe {
		cfg := m.config.Axis(h.axis)
		home := cfg.MinPosition
		if _, positive := h.channel.Axis(); positive {
			home = cfg.MaxPosition
		}
		if m.kinematics.Linear() {
			pos := m.kinematics.Forward(steps).WithAxis(h.axis, home)
			if err := m.planner.SetPosition(pos); err == nil {
				steps = m.planner.Steps()
			}
		} else {
			steps[h.axis] = int32(math.Round(home * cfg.StepsPerMM))
		}
		m.homed[h.axis] = true
	}
	m.planner.SyncPosition(steps)
	m.generator.SetPosition(steps)

	if m.OnHomed != nil {
		m.OnHomed(h.channel, m.planner.Position())
	}
}

// EmergencyStop aborts motion and latches the fault. Safe from any context.
func (m *Manager) EmergencyStop() {
	m.Abort(stepgen.ReasonEmergencyStop)
}

// Abort is EmergencyStop with the reason reported in the fault event
func (m *Manager) Abort(reason uint8) {
	if m.generator != nil {
		m.generator.RequestAbort(reason)
	}
}

// ClearFault leaves the halted state. Homed flags are dropped since steps
// may have been lost.
func (m *Manager) ClearFault() {
	if !m.initialized {
		return
	}
	m.generator.ClearFault()
	m.planner.SyncPosition(m.generator.Position())
	m.homing = nil
	m.homed = [standalone.NumAxes]bool{}
}

// SetPosition declares the current Cartesian position
func (m *Manager) SetPosition(pos standalone.Position) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if !m.IsIdle() {
		return ErrBusy
	}
	if err := m.planner.SetPosition(pos); err != nil {
		return err
	}
	m.generator.SetPosition(m.planner.Steps())
	return nil
}

// Position returns the Cartesian position of the motors right now
func (m *Manager) Position() standalone.Position {
	if !m.initialized {
		return m.planner.Position()
	}
	return m.kinematics.Forward(m.generator.Position())
}

// IsIdle reports whether nothing is queued or moving
func (m *Manager) IsIdle() bool {
	if !m.initialized {
		return true
	}
	return m.queue.Empty() && m.generator.State() == stepgen.StateIdle
}

// State returns a status snapshot
func (m *Manager) State() standalone.MachineState {
	st := standalone.MachineState{
		Position: m.Position(),
		Homed:    m.homed,
		Queued:   m.planner.QueuedBlocks(),
	}
	if m.initialized {
		st.Steps = m.generator.Position()
		st.Halted = m.generator.Halted()
		st.Fault = m.generator.Fault()
	}
	return st
}

// VirtualInput returns the software input of a virtual endstop channel
func (m *Manager) VirtualInput(ch endstop.Channel) *endstop.VirtualInput {
	return m.virtual[ch]
}

func (m *Manager) Config() *standalone.MachineConfig { return m.config }

func (m *Manager) Planner() *planner.Planner { return m.planner }

func (m *Manager) Generator() *stepgen.Generator { return m.generator }

func (m *Manager) Kinematics() kinematics.Kinematics { return m.kinematics }

func (m *Manager) setMotors(on bool) {
	if m.enabled == on || m.generator == nil {
		return
	}
	m.enabled = on
	for _, s := range m.generator.Steppers() {
		if s == nil {
			continue
		}
		if on {
			s.Enable()
		} else {
			s.Disable()
		}
	}
}
