//go:build rp2040

package main

import (
	"device/rp"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"

	"periph.io/x/conn/v3/physic"

	"motionfw/core"
)

// TimerFrequency is the rate of the RP2040 microsecond timer
const TimerFrequency = physic.MegaHertz

// RP2040 TIMER peripheral. The step generator owns ALARM1; the TinyGo
// runtime uses ALARM0 for sleep.
const (
	timerBase     = 0x40054000
	timerALARM1   = timerBase + 0x14
	timerARMED    = timerBase + 0x20
	timerTIMERAWH = timerBase + 0x24 // raw high word, no latching
	timerTIMERAWL = timerBase + 0x28 // raw low word, no latching
	timerINTR     = timerBase + 0x34
	timerINTE     = timerBase + 0x38

	alarm1Bit = 1 << 1
)

var (
	alarm1    = (*volatile.Register32)(unsafe.Pointer(uintptr(timerALARM1)))
	armed     = (*volatile.Register32)(unsafe.Pointer(uintptr(timerARMED)))
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
	timerIntr = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTR)))
	timerInte = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTE)))
)

// alarmTimer implements core.HardwareTimer on ALARM1
type alarmTimer struct {
	isr     func()
	compare uint32
	irq     interrupt.Interrupt
}

var stepTimer = &alarmTimer{}

// InitClock installs the step timer interrupt at the highest priority
func InitClock() {
	stepTimer.irq = interrupt.New(rp.IRQ_TIMER_IRQ_1, func(interrupt.Interrupt) {
		timerIntr.Set(alarm1Bit)
		if stepTimer.isr != nil {
			stepTimer.isr()
		}
	})
	stepTimer.irq.SetPriority(0x00)
	UpdateSystemTime()
}

func (t *alarmTimer) Start(isr func(), first uint32) {
	state := interrupt.Disable()
	t.isr = isr
	timerIntr.Set(alarm1Bit)
	timerInte.SetBits(alarm1Bit)
	t.SetCompare(t.Counter() + first)
	interrupt.Restore(state)
	t.irq.Enable()
}

func (t *alarmTimer) Stop() {
	timerInte.ClearBits(alarm1Bit)
	armed.Set(alarm1Bit) // write 1 to disarm
	timerIntr.Set(alarm1Bit)
	t.isr = nil
}

// SetCompare arms the alarm; writing ALARM1 arms it
func (t *alarmTimer) SetCompare(value uint32) {
	t.compare = value
	alarm1.Set(value)
}

func (t *alarmTimer) Compare() uint32 {
	return t.compare
}

func (t *alarmTimer) Counter() uint32 {
	return timerRAWL.Get()
}

// GetHardwareUptime reads the full 64-bit microsecond timer
func GetHardwareUptime() uint64 {
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
		if high1 == high2 {
			return (uint64(high1) << 32) | uint64(low)
		}
	}
}

// UpdateSystemTime copies the hardware counter into the core clock
func UpdateSystemTime() {
	core.SetTime(timerRAWL.Get())
}
