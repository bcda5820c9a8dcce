package core

import "testing"

func TestGPIOStepperPolarity(t *testing.T) {
	resetScheduler()

	gpio := NewSimGPIO()
	s := NewGPIOStepper(gpio)
	if err := s.Init(2, 3, true, false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// Inverted step idles high
	if !gpio.ReadPin(2) {
		t.Error("Inverted step pin should idle high")
	}

	s.SetStep(true)
	if gpio.ReadPin(2) {
		t.Error("Inverted step pin should go low when stepping")
	}
	s.Stop()
	if !gpio.ReadPin(2) {
		t.Error("Stop should return step pin to idle")
	}

	s.SetDirection(true)
	if !gpio.ReadPin(3) {
		t.Error("Negative direction should drive dir pin high")
	}
}

func TestSimGPIOEdges(t *testing.T) {
	resetScheduler()

	gpio := NewSimGPIO()
	gpio.ConfigureOutput(5)
	gpio.Record(true)

	SetTime(10)
	gpio.SetPin(5, true)
	gpio.SetPin(5, true) // no edge
	SetTime(34)
	gpio.SetPin(5, false)

	edges := gpio.Edges()
	if len(edges) != 2 {
		t.Fatalf("Expected 2 edges, got %d", len(edges))
	}
	if edges[1].Clock-edges[0].Clock != 24 {
		t.Errorf("Expected 24 tick pulse, got %d", edges[1].Clock-edges[0].Clock)
	}

	if err := gpio.SetPin(9, true); err != ErrPinNotConfigured {
		t.Errorf("Expected ErrPinNotConfigured, got %v", err)
	}
	gpio.ConfigureInputPullUp(6)
	if err := gpio.SetPin(6, false); err != ErrPinDirection {
		t.Errorf("Expected ErrPinDirection, got %v", err)
	}
	if !gpio.ReadPin(6) {
		t.Error("Pull-up input should read high")
	}
}
