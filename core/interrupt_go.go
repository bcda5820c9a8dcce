//go:build !tinygo

package core

import "sync"

// State is a placeholder for interrupt state on regular Go
type State uintptr

// irqLock stands in for the interrupt mask on hosted builds. The timer
// dispatcher holds it while running handlers, so a critical section in the
// main context excludes the simulated ISR exactly like masking the timer IRQ.
var irqLock sync.Mutex

// DisableInterrupts enters a critical section.
// Must not be called from a timer handler.
func DisableInterrupts() State {
	irqLock.Lock()
	return 0
}

// RestoreInterrupts leaves the critical section entered by DisableInterrupts
func RestoreInterrupts(state State) {
	irqLock.Unlock()
}
