// Package endstop samples limit switches and probes once per step tick and
// exposes a debounced trigger mask to the step generator.
package endstop

import (
	"errors"
	"strings"
	"sync/atomic"

	"motionfw/core"
)

// Channel identifies one safety input
type Channel uint8

const (
	XMin Channel = iota
	YMin
	ZMin
	XMax
	YMax
	ZMax
	Probe
	NumChannels
)

var channelNames = [NumChannels]string{"x_min", "y_min", "z_min", "x_max", "y_max", "z_max", "probe"}

var ErrUnknownChannel = errors.New("unknown endstop channel")

func (c Channel) String() string {
	if c < NumChannels {
		return channelNames[c]
	}
	return "invalid"
}

// Mask returns the bit of c in a channel mask
func (c Channel) Mask() uint8 {
	return 1 << c
}

// Axis returns the Cartesian axis the channel limits and whether it sits at
// the positive end of travel
func (c Channel) Axis() (axis int, positive bool) {
	switch c {
	case XMin, YMin, ZMin:
		return int(c - XMin), false
	case XMax, YMax, ZMax:
		return int(c - XMax), true
	default:
		return 2, false // probe measures downward Z travel
	}
}

// ParseChannel resolves a configuration name such as "x_min" or "probe"
func ParseChannel(name string) (Channel, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range channelNames {
		if s == n {
			return Channel(i), nil
		}
	}
	return 0, ErrUnknownChannel
}

// Input is one raw safety signal; Read reports true while triggered
type Input interface {
	Read() bool
}

// PinInput reads an endstop from a GPIO pin
type PinInput struct {
	gpio   core.GPIODriver
	pin    core.GPIOPin
	invert bool
}

// NewPinInput configures pin as an input and returns it as an Input
func NewPinInput(gpio core.GPIODriver, pin core.GPIOPin, pullUp, invert bool) (*PinInput, error) {
	var err error
	if pullUp {
		err = gpio.ConfigureInputPullUp(pin)
	} else {
		err = gpio.ConfigureInputPullDown(pin)
	}
	if err != nil {
		return nil, err
	}
	return &PinInput{gpio: gpio, pin: pin, invert: invert}, nil
}

func (p *PinInput) Read() bool {
	return p.gpio.ReadPin(p.pin) != p.invert
}

// VirtualInput is a software-driven input, e.g. a distance probe polled from
// the main loop or a test fixture
type VirtualInput struct {
	state atomic.Bool
}

// Set changes the raw level
func (v *VirtualInput) Set(triggered bool) {
	v.state.Store(triggered)
}

func (v *VirtualInput) Read() bool {
	return v.state.Load()
}

// Monitor debounces the attached inputs. Sample is called from the step
// interrupt only; Triggered may be read from any context.
type Monitor struct {
	inputs      [NumChannels]Input
	counts      [NumChannels]uint8
	sampleCount uint8
	attached    uint8

	// Debounced state (bitmask of Channel.Mask)
	state atomic.Uint32
}

// NewMonitor creates a monitor that requires sampleCount consecutive
// agreeing reads before a channel changes state
func NewMonitor(sampleCount uint8) *Monitor {
	if sampleCount == 0 {
		sampleCount = 1
	}
	return &Monitor{sampleCount: sampleCount}
}

// Attach connects an input to ch. Not safe while the step interrupt runs.
func (m *Monitor) Attach(ch Channel, in Input) {
	m.inputs[ch] = in
	m.counts[ch] = 0
	if in != nil {
		m.attached |= ch.Mask()
	} else {
		m.attached &^= ch.Mask()
	}
}

// Attached returns the mask of channels with an input
func (m *Monitor) Attached() uint8 {
	return m.attached
}

// Sample reads every attached input once and returns the debounced mask
func (m *Monitor) Sample() uint8 {
	state := uint8(m.state.Load())
	for ch := Channel(0); ch < NumChannels; ch++ {
		in := m.inputs[ch]
		if in == nil {
			continue
		}
		bit := ch.Mask()
		raw := in.Read()
		if raw == (state&bit != 0) {
			// Agrees with debounced state; restart the count
			m.counts[ch] = 0
			continue
		}
		m.counts[ch]++
		if m.counts[ch] >= m.sampleCount {
			m.counts[ch] = 0
			state ^= bit
		}
	}
	m.state.Store(uint32(state))
	return state
}

// Triggered returns the debounced trigger mask
func (m *Monitor) Triggered() uint8 {
	return uint8(m.state.Load())
}

// IsTriggered reports the debounced state of one channel
func (m *Monitor) IsTriggered(ch Channel) bool {
	return m.Triggered()&ch.Mask() != 0
}

// Reset forgets all debounced state
func (m *Monitor) Reset() {
	state := core.DisableInterrupts()
	m.counts = [NumChannels]uint8{}
	m.state.Store(0)
	core.RestoreInterrupts(state)
}

// Relevant returns the limit channels that can stop a block moving along
// the Cartesian axes in moveMask, with positiveMask giving the sign per axis.
// The probe is never included; it only ends blocks that arm it through
// their homing mask.
func Relevant(moveMask, positiveMask uint8) uint8 {
	var mask uint8
	for ch := XMin; ch <= ZMax; ch++ {
		axis, positive := ch.Axis()
		bit := uint8(1) << axis
		if moveMask&bit == 0 {
			continue
		}
		if (positiveMask&bit != 0) == positive {
			mask |= ch.Mask()
		}
	}
	return mask
}
