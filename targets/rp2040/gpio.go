//go:build rp2040

package main

import (
	"errors"
	"machine"

	"motionfw/core"
)

var errBadPin = errors.New("no such GPIO")

// RPGPIODriver implements core.GPIODriver on the RP2040 bank 0 pins
type RPGPIODriver struct {
	pins map[core.GPIOPin]machine.Pin
}

// NewRPGPIODriver creates a driver with no pins configured
func NewRPGPIODriver() *RPGPIODriver {
	return &RPGPIODriver{pins: make(map[core.GPIOPin]machine.Pin)}
}

// configure sets the pin mode once; reconfiguring a pin is a no-op
func (d *RPGPIODriver) configure(pin core.GPIOPin, mode machine.PinMode) error {
	if pin > 29 {
		return errBadPin
	}
	if _, ok := d.pins[pin]; ok {
		return nil
	}
	p := machine.Pin(pin)
	p.Configure(machine.PinConfig{Mode: mode})
	d.pins[pin] = p
	return nil
}

func (d *RPGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinOutput)
}

func (d *RPGPIODriver) ConfigureInputPullUp(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinInputPullup)
}

func (d *RPGPIODriver) ConfigureInputPullDown(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinInputPulldown)
}

// SetPin drives an output, configuring it on first use
func (d *RPGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	p, ok := d.pins[pin]
	if !ok {
		if err := d.ConfigureOutput(pin); err != nil {
			return err
		}
		p = d.pins[pin]
	}
	p.Set(value)
	return nil
}

func (d *RPGPIODriver) GetPin(pin core.GPIOPin) (bool, error) {
	p, ok := d.pins[pin]
	if !ok {
		return false, errBadPin
	}
	return p.Get(), nil
}

// ReadPin is GetPin for the endstop sampler, which runs in the step
// interrupt and cannot handle errors
func (d *RPGPIODriver) ReadPin(pin core.GPIOPin) bool {
	v, _ := d.GetPin(pin)
	return v
}
