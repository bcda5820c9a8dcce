package stepgen

import (
	"fmt"

	"motionfw/core"
	"motionfw/standalone"
)

// Stepper represents a single stepper motor channel
type Stepper struct {
	name   string
	config standalone.AxisConfig

	backend core.StepperBackend

	gpio      core.GPIODriver
	enPin     core.GPIOPin
	hasEnable bool
	enabled   bool
}

// NewStepper creates a motor channel driving backend
func NewStepper(name string, config standalone.AxisConfig, backend core.StepperBackend) *Stepper {
	return &Stepper{
		name:    name,
		config:  config,
		backend: backend,
	}
}

// InitPins configures the step, direction and enable pins. The motor starts
// disabled.
func (s *Stepper) InitPins(gpioDriver core.GPIODriver) error {
	stepPin, err := standalone.ParsePin(s.config.StepPin)
	if err != nil {
		return fmt.Errorf("%s step pin %q: %w", s.name, s.config.StepPin, err)
	}
	dirPin, err := standalone.ParsePin(s.config.DirPin)
	if err != nil {
		return fmt.Errorf("%s dir pin %q: %w", s.name, s.config.DirPin, err)
	}
	if err := s.backend.Init(stepPin, dirPin, s.config.InvertStep, s.config.InvertDir); err != nil {
		return fmt.Errorf("%s %s backend: %w", s.name, s.backend.GetName(), err)
	}

	// Enable pin is optional and may be shared between motors
	if s.config.EnablePin != "" {
		enPin, err := standalone.ParsePin(s.config.EnablePin)
		if err != nil {
			return fmt.Errorf("%s enable pin %q: %w", s.name, s.config.EnablePin, err)
		}
		if err := gpioDriver.ConfigureOutput(enPin); err != nil {
			return err
		}
		s.gpio = gpioDriver
		s.enPin = enPin
		s.hasEnable = true
	}
	s.Disable()
	return nil
}

// Enable energizes the motor
func (s *Stepper) Enable() {
	s.enabled = true
	if s.hasEnable {
		s.gpio.SetPin(s.enPin, !s.config.InvertEnable)
	}
}

// Disable releases the motor
func (s *Stepper) Disable() {
	s.enabled = false
	if s.hasEnable {
		s.gpio.SetPin(s.enPin, s.config.InvertEnable)
	}
}

// Enabled reports whether the motor is energized
func (s *Stepper) Enabled() bool {
	return s.enabled
}

// Name returns the axis name
func (s *Stepper) Name() string {
	return s.name
}

// Backend returns the step backend
func (s *Stepper) Backend() core.StepperBackend {
	return s.backend
}
