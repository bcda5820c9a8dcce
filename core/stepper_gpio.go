package core

// GPIOStepper drives step and direction lines through the registered GPIODriver
type GPIOStepper struct {
	gpio       GPIODriver
	stepPin    GPIOPin
	dirPin     GPIOPin
	invertStep bool
	invertDir  bool
}

// NewGPIOStepper creates a backend on gpio. A nil driver selects the global one.
func NewGPIOStepper(gpio GPIODriver) *GPIOStepper {
	if gpio == nil {
		gpio = MustGPIO()
	}
	return &GPIOStepper{gpio: gpio}
}

// Init configures both pins as outputs at their idle levels
func (s *GPIOStepper) Init(stepPin, dirPin GPIOPin, invertStep, invertDir bool) error {
	s.stepPin = stepPin
	s.dirPin = dirPin
	s.invertStep = invertStep
	s.invertDir = invertDir

	if err := s.gpio.ConfigureOutput(stepPin); err != nil {
		return err
	}
	if err := s.gpio.ConfigureOutput(dirPin); err != nil {
		return err
	}
	if err := s.gpio.SetPin(stepPin, invertStep); err != nil {
		return err
	}
	return s.gpio.SetPin(dirPin, invertDir)
}

// SetStep drives the step line
func (s *GPIOStepper) SetStep(high bool) {
	s.gpio.SetPin(s.stepPin, high != s.invertStep)
}

// SetDirection drives the direction line
func (s *GPIOStepper) SetDirection(negative bool) {
	s.gpio.SetPin(s.dirPin, negative != s.invertDir)
}

// Stop forces the step line idle
func (s *GPIOStepper) Stop() {
	s.SetStep(false)
}

// GetName returns the backend name
func (s *GPIOStepper) GetName() string {
	return "gpio"
}
