package pio

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"

	"motionfw/core"
	"motionfw/standalone"
)

// PIO clock is the 125 MHz system clock divided down to 1 MHz so program
// delays count microseconds.
const (
	pioClockDiv = 125
	pioClock    = physic.MegaHertz
)

// Delay fields are 5 bits wide with no side-set bits in use
const maxDelay = 31

var ErrDelayRange = errors.New("timing exceeds PIO delay range")

// Delays are the program delays in PIO cycles
type Delays struct {
	DirSetup uint8 // after the direction write, before the rising edge
	Pulse    uint8 // while the step line is active
}

// DelaysFor derives program delays from the configured step pulse width
// and direction setup time. Each instruction takes one cycle on top of its
// delay, and durations round up to whole cycles.
func DelaysFor(timing standalone.TimingConfig) (Delays, error) {
	dir, err := cycleDelay("dir_setup", timing.DirSetup)
	if err != nil {
		return Delays{}, err
	}
	pulse, err := cycleDelay("step_pulse", timing.StepPulse)
	if err != nil {
		return Delays{}, err
	}
	return Delays{DirSetup: dir, Pulse: pulse}, nil
}

func cycleDelay(name string, d time.Duration) (uint8, error) {
	cycles := core.TicksFromDuration(d, pioClock)
	if cycles <= 1 {
		return 0, nil
	}
	if cycles-1 > maxDelay {
		return 0, fmt.Errorf("%w: %s %v > %v", ErrDelayRange, name, d, time.Duration(maxDelay+1)*time.Microsecond)
	}
	return uint8(cycles - 1), nil
}
