//go:build rp2040

package pio

import (
	"motionfw/core"
	"motionfw/standalone"
)

var (
	// RP2040 has 2 PIO blocks with 4 state machines each
	pioAllocations = [2][4]bool{} // [pioNum][smNum]
	nextPIONum     = uint8(0)
	nextSMNum      = uint8(0)
)

// Backends returns one step backend per axis. Axes get PIO state machines
// while they last and fall back to SIO GPIO. PIO pulses are timed from
// timing, which must fit the program delay range.
func Backends(timing standalone.TimingConfig) ([standalone.NumAxes]core.StepperBackend, error) {
	var out [standalone.NumAxes]core.StepperBackend
	delays, err := DelaysFor(timing)
	if err != nil {
		return out, err
	}
	for i := range out {
		if pioNum, smNum, ok := allocatePIO(); ok {
			out[i] = NewPIOStepperBackend(pioNum, smNum, delays)
		} else {
			out[i] = NewGPIOStepperBackend()
		}
	}
	return out, nil
}

// allocatePIO reserves the next free state machine, alternating blocks
func allocatePIO() (uint8, uint8, bool) {
	for i := 0; i < 8; i++ {
		pioNum := nextPIONum
		smNum := nextSMNum

		nextSMNum++
		if nextSMNum >= 4 {
			nextSMNum = 0
			nextPIONum = (nextPIONum + 1) % 2
		}

		if !pioAllocations[pioNum][smNum] {
			pioAllocations[pioNum][smNum] = true
			return pioNum, smNum, true
		}
	}
	return 0, 0, false
}

// ResetPIOAllocations frees every state machine
func ResetPIOAllocations() {
	pioAllocations = [2][4]bool{}
	nextPIONum = 0
	nextSMNum = 0
}
