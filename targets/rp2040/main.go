//go:build rp2040

// Firmware for an RP2040 motion controller: planner, step interrupt and
// the host link over USB CDC.
package main

import (
	"machine"
	"time"

	"motionfw/core"
	"motionfw/protocol"
	"motionfw/standalone"
	"motionfw/standalone/config"
	"motionfw/standalone/endstop"
	"motionfw/standalone/link"
	"motionfw/standalone/manager"
	"motionfw/standalone/stepgen"
	piostepper "motionfw/targets/pio"
)

// Probe switch point above the bed, mm
const probeThreshold = 3

var (
	mgr          *manager.Manager
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	handler      *link.Handler

	msgerrors                uint32
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

// fatalBlink signals a startup failure forever; count identifies the stage
func fatalBlink(count int) {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		for i := 0; i < count; i++ {
			led.High()
			time.Sleep(150 * time.Millisecond)
			led.Low()
			time.Sleep(150 * time.Millisecond)
		}
		time.Sleep(time.Second)
	}
}

func main() {
	// Clear any watchdog state left by a previous reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	InitUSB()
	InitDebugUART()
	InitClock()
	core.TimerInit()

	cfg := config.DefaultCartesianConfig()
	cfg.Timing.TimerFrequency = TimerFrequency
	cfg.Endstops["probe"] = standalone.EndstopConfig{Virtual: true}
	if err := config.Validate(cfg); err != nil {
		fatalBlink(2)
	}

	var err error
	mgr, err = manager.NewManagerWithConfig(cfg)
	if err != nil {
		fatalBlink(2)
	}

	gpio := NewRPGPIODriver()
	core.SetGPIODriver(gpio)
	backends, err := piostepper.Backends(cfg.Timing)
	if err != nil {
		fatalBlink(3)
	}
	if err := mgr.InitializeWithBackends(gpio, stepTimer, backends); err != nil {
		fatalBlink(3)
	}

	probe, err := NewDistanceProbe(mgr.VirtualInput(endstop.Probe), probeThreshold)
	if err != nil {
		core.DebugAsync("probe: " + err.Error())
	}

	mgr.OnFault = func(ev stepgen.Event) {
		core.DebugAsync("fault: " + stepgen.ReasonString(ev.Reason))
		core.DumpTimingRing()
	}

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()
	handler = link.NewHandler(mgr, outputBuffer)
	handler.Transport().SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
	})
	handler.Transport().SetFlushCallback(writeUSB)

	go usbReaderLoop()
	handler.SendHello()

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
				}
			}()

			UpdateSystemTime()

			if inputBuffer.Available() > 0 {
				data := inputBuffer.Data()
				originalLen := len(data)
				in := protocol.NewSliceInputBuffer(data)
				handler.Receive(in)
				if consumed := originalLen - in.Available(); consumed > 0 {
					inputBuffer.Pop(consumed)
				}
			}

			if probe != nil {
				probe.Poll()
			}
			handler.Poll()

			if len(outputBuffer.Result()) > 0 {
				writeUSB()
			}
		}()

		time.Sleep(10 * time.Microsecond)
	}
}

// usbReaderLoop moves USB bytes into inputBuffer
func usbReaderLoop() {
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	for {
		if USBAvailable() > 0 {
			data, err := USBRead()
			if err != nil {
				msgerrors++
				time.Sleep(time.Millisecond)
				continue
			}

			// A host that comes back after a disconnect starts a new session
			if usbWasDisconnected {
				usbWasDisconnected = false
				inputBuffer.Reset()
				outputBuffer.Reset()
				handler.Transport().Reset()
				consecutiveWriteFailures = 0
			}

			if inputBuffer.Write([]byte{data}) == 0 {
				msgerrors++
				time.Sleep(10 * time.Millisecond)
			}
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// writeUSB flushes outputBuffer. Repeated failures mark the host as gone
// and drop stale output.
func writeUSB() {
	result := outputBuffer.Result()
	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				// Nobody is left to stop the machine
				if !usbWasDisconnected {
					mgr.Abort(stepgen.ReasonLinkLost)
				}
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
			}
			return
		}
		written += n
	}
	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}
