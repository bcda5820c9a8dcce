//go:build rp2040

package pio

// Step backend on a PIO state machine. Each SetStep(true) queues one
// command word; the state machine drives the direction pin, waits the
// setup time and emits a fixed-width pulse on its own clock.

import (
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"motionfw/core"
)

// Command word: bit 0 is the direction pin level.
//
// buildStepperProgram assembles
//
//	pull block
//	out pins, 1    [dirDelay]
//	set pins, on   [pulseDelay]
//	set pins, off
func buildStepperProgram(invertStep bool, dirDelay, pulseDelay uint8) []uint16 {
	on, off := uint8(1), uint8(0)
	if invertStep {
		on, off = off, on
	}
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),
		asm.Out(rp2pio.OutDestPins, 1).Delay(dirDelay).Encode(),
		asm.Set(rp2pio.SetDestPins, on).Delay(pulseDelay).Encode(),
		asm.Set(rp2pio.SetDestPins, off).Encode(),
		// .wrap
	}
}

// PIOStepperBackend implements core.StepperBackend on one state machine
type PIOStepperBackend struct {
	pio        *rp2pio.PIO
	sm         rp2pio.StateMachine
	stepPin    machine.Pin
	dirPin     machine.Pin
	invertStep bool
	invertDir  bool
	dirBit     uint32
	delays     Delays
	offset     uint8
	pioNum     uint8
	smNum      uint8
}

// NewPIOStepperBackend creates a backend on PIO pioNum (0 or 1), state
// machine smNum (0-3) with program delays from DelaysFor
func NewPIOStepperBackend(pioNum, smNum uint8, delays Delays) *PIOStepperBackend {
	pioHW := rp2pio.PIO0
	if pioNum != 0 {
		pioHW = rp2pio.PIO1
	}
	return &PIOStepperBackend{
		pio:    pioHW,
		sm:     pioHW.StateMachine(smNum),
		delays: delays,
		pioNum: pioNum,
		smNum:  smNum,
	}
}

// Init loads the program and hands both pins to the state machine
func (b *PIOStepperBackend) Init(stepPin, dirPin core.GPIOPin, invertStep, invertDir bool) error {
	b.stepPin = machine.Pin(stepPin)
	b.dirPin = machine.Pin(dirPin)
	b.invertStep = invertStep
	b.invertDir = invertDir

	// Claim before touching the state machine
	b.sm.TryClaim()

	program := buildStepperProgram(invertStep, b.delays.DirSetup, b.delays.Pulse)
	offset, err := b.pio.AddProgram(program, -1)
	if err != nil {
		return err
	}
	b.offset = offset

	b.stepPin.Configure(machine.PinConfig{Mode: b.pio.PinMode()})
	b.dirPin.Configure(machine.PinConfig{Mode: b.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(b.stepPin, 1)
	cfg.SetOutPins(b.dirPin, 1)
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	cfg.SetClkDivIntFrac(pioClockDiv, 0)

	// Pin directions must be set after Init
	b.sm.Init(offset, cfg)
	b.sm.SetPindirsConsecutive(b.stepPin, 1, true)
	b.sm.SetPindirsConsecutive(b.dirPin, 1, true)
	b.sm.SetPinsConsecutive(b.stepPin, 1, invertStep)
	b.sm.SetPinsConsecutive(b.dirPin, 1, invertDir)
	b.SetDirection(false)

	b.sm.SetEnabled(true)
	return nil
}

// SetStep queues one pulse on the rising edge; the falling edge is timed
// by the state machine
func (b *PIOStepperBackend) SetStep(high bool) {
	if !high {
		return
	}
	// FIFO holds four words; the ISR never gets that far ahead
	for b.sm.IsTxFIFOFull() {
	}
	b.sm.TxPut(b.dirBit)
}

// SetDirection sets the level written ahead of the next pulse
func (b *PIOStepperBackend) SetDirection(negative bool) {
	if negative != b.invertDir {
		b.dirBit = 1
	} else {
		b.dirBit = 0
	}
}

// Stop drops queued pulses and restarts the program
func (b *PIOStepperBackend) Stop() {
	b.sm.SetEnabled(false)
	b.sm.ClearFIFOs()
	b.sm.Restart()
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	b.sm.Exec(asm.Jmp(b.offset, rp2pio.JmpAlways).Encode())
	b.sm.SetPinsConsecutive(b.stepPin, 1, b.invertStep)
	b.sm.SetEnabled(true)
}

// GetName returns the backend name
func (b *PIOStepperBackend) GetName() string {
	return "pio"
}
