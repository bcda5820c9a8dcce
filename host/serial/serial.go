// Package serial opens the USB CDC port a motion controller enumerates as
package serial

import (
	"io"
	"time"
)

// Port is a serial connection to the controller
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration. Fields carry env tags so host
// tools can override them with github.com/caarlos0/env.
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string `env:"MOTION_DEVICE" envDefault:"/dev/ttyACM0"`

	// Baud rate, ignored by USB CDC
	Baud int `env:"MOTION_BAUD" envDefault:"115200"`

	// Read timeout (0 = blocking)
	ReadTimeout time.Duration `env:"MOTION_READ_TIMEOUT" envDefault:"100ms"`
}

// DefaultConfig returns the configuration used by the host tools
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}
