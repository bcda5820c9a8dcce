//go:build rp2040

package pio

import (
	"device/rp"
	"machine"

	"motionfw/core"
)

// GPIOStepperBackend drives step and direction through the SIO set/clear
// registers. Used when the PIO state machines are exhausted.
type GPIOStepperBackend struct {
	stepPin machine.Pin
	dirPin  machine.Pin

	// SIO masks with inversion applied
	stepOn  uint32
	stepOff uint32
	dirNeg  uint32
	dirPos  uint32

	stepMask uint32
	dirMask  uint32
}

// NewGPIOStepperBackend creates an unconfigured backend
func NewGPIOStepperBackend() *GPIOStepperBackend {
	return &GPIOStepperBackend{}
}

// Init configures both pins as outputs at their idle level
func (b *GPIOStepperBackend) Init(stepPin, dirPin core.GPIOPin, invertStep, invertDir bool) error {
	b.stepPin = machine.Pin(stepPin)
	b.dirPin = machine.Pin(dirPin)
	b.stepPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	b.dirPin.Configure(machine.PinConfig{Mode: machine.PinOutput})

	b.stepMask = 1 << stepPin
	b.dirMask = 1 << dirPin

	// set/clear selects which SIO register gets the mask
	b.stepOn, b.stepOff = 1, 0
	if invertStep {
		b.stepOn, b.stepOff = 0, 1
	}
	b.dirNeg, b.dirPos = 1, 0
	if invertDir {
		b.dirNeg, b.dirPos = 0, 1
	}

	b.Stop()
	b.SetDirection(false)
	return nil
}

func (b *GPIOStepperBackend) write(mask, level uint32) {
	if level != 0 {
		rp.SIO.GPIO_OUT_SET.Set(mask)
	} else {
		rp.SIO.GPIO_OUT_CLR.Set(mask)
	}
}

// SetStep drives the step line; pulse width is timed by the caller
func (b *GPIOStepperBackend) SetStep(high bool) {
	if high {
		b.write(b.stepMask, b.stepOn)
	} else {
		b.write(b.stepMask, b.stepOff)
	}
}

// SetDirection drives the direction line
func (b *GPIOStepperBackend) SetDirection(negative bool) {
	if negative {
		b.write(b.dirMask, b.dirNeg)
	} else {
		b.write(b.dirMask, b.dirPos)
	}
}

// Stop returns the step line to idle
func (b *GPIOStepperBackend) Stop() {
	b.write(b.stepMask, b.stepOff)
}

// GetName returns the backend name
func (b *GPIOStepperBackend) GetName() string {
	return "gpio"
}
