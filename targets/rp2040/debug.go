//go:build rp2040

package main

import (
	"machine"

	"motionfw/core"
)

var debugUART *machine.UART

// InitDebugUART sends core debug output to UART0 (TX=GPIO16, RX=GPIO17) at
// 115200 baud. USB stays reserved for the link.
func InitDebugUART() {
	uart := machine.UART0
	err := uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO16,
		RX:       machine.GPIO17,
	})
	if err != nil {
		return
	}
	debugUART = uart

	core.SetDebugWriter(func(s string) {
		debugUART.Write([]byte(s))
		debugUART.Write([]byte("\r\n"))
	})
	core.SetDebugEnabled(true)
	core.InitAsyncDebug()
	core.DebugPrintln("motionfw rp2040 debug uart")
}
