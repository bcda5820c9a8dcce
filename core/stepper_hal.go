package core

// StepperBackend defines the hardware abstraction for one stepper driver.
// Implementations can use GPIO, PIO, or other methods. All methods except
// Init may be called from the step interrupt and must not block.
type StepperBackend interface {
	// Init initializes the stepper hardware
	// stepPin: GPIO pin for step pulses
	// dirPin: GPIO pin for direction signal
	// invertStep: invert step pin polarity
	// invertDir: invert direction pin polarity
	Init(stepPin, dirPin GPIOPin, invertStep, invertDir bool) error

	// SetStep drives the logical step line. The step generator raises all
	// due axes together, waits the configured pulse width and lowers them.
	SetStep(high bool)

	// SetDirection sets the direction output
	// dir: true = negative, false = positive
	SetDirection(negative bool)

	// Stop returns the step line to idle
	Stop()

	// GetName returns backend implementation name
	GetName() string
}
