package core

import (
	"time"

	"periph.io/x/conn/v3/physic"
)

// Timer frequencies for common MCUs
const (
	TimerFreq = 12000000 // 12MHz default timer frequency
)

// TimerFrequency is TimerFreq expressed as a physic.Frequency
const TimerFrequency = TimerFreq * physic.Hertz

// HardwareTimer is the periodic compare-match timer that drives the step
// generator. The handler passed to Start runs in interrupt context and must
// program the next compare value before returning.
type HardwareTimer interface {
	// Start arms the timer so that isr fires first ticks from now
	Start(isr func(), first uint32)

	// Stop disarms the timer; a running handler completes normally
	Stop()

	// SetCompare programs the absolute counter value of the next interrupt
	SetCompare(value uint32)

	// Compare returns the currently programmed compare value
	Compare() uint32

	// Counter reads the free-running counter
	Counter() uint32
}

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// TicksFromDuration converts d to ticks of a timer running at freq, rounding up
// so that a configured minimum is never shortened.
func TicksFromDuration(d time.Duration, freq physic.Frequency) uint32 {
	if d <= 0 {
		return 0
	}
	hz := int64(freq / physic.Hertz)
	ticks := (int64(d)*hz + int64(time.Second) - 1) / int64(time.Second)
	return uint32(ticks)
}

// TicksPerSecond returns the integer tick rate of freq
func TicksPerSecond(freq physic.Frequency) uint32 {
	return uint32(freq / physic.Hertz)
}

// TimerInit starts the scheduler clock at the current time
func TimerInit() {
	currentTime = GetTime()
}

// ProcessTimers processes scheduled timers
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}
