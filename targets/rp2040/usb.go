//go:build rp2040

package main

import "machine"

// InitUSB configures machine.Serial, which is USB CDC on the RP2040
func InitUSB() {
	machine.Serial.Configure(machine.UARTConfig{})
}

// USBAvailable returns the number of bytes waiting
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead reads one byte
func USBRead() (byte, error) {
	return machine.Serial.ReadByte()
}

// USBWriteBytes writes data, returning how much was accepted
func USBWriteBytes(data []byte) (int, error) {
	return machine.Serial.Write(data)
}
