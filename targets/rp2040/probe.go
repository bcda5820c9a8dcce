//go:build rp2040

package main

import (
	"errors"
	"machine"

	"tinygo.org/x/drivers/vl53l1x"

	"motionfw/standalone/endstop"
)

// VL53L1X on I2C1 (SDA=GPIO26, SCL=GPIO27); GPIO0-8 carry the steppers
const (
	probeTimingBudget = 20000 // µs
	probePeriod       = 25    // ms between continuous readings
	probeOutOfRange   = 8190  // mm reported without a target
)

var errProbeInit = errors.New("vl53l1x did not respond")

// DistanceProbe turns a time-of-flight reading into a probe switch. It
// reads triggered once the measured distance drops to the threshold.
type DistanceProbe struct {
	sensor    vl53l1x.Device
	input     *endstop.VirtualInput
	threshold uint16 // mm
	last      uint16
}

// NewDistanceProbe starts continuous ranging and feeds input
func NewDistanceProbe(input *endstop.VirtualInput, thresholdMM uint16) (*DistanceProbe, error) {
	bus := machine.I2C1
	err := bus.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
		SDA:       machine.GPIO26,
		SCL:       machine.GPIO27,
	})
	if err != nil {
		return nil, err
	}

	p := &DistanceProbe{
		sensor:    vl53l1x.New(bus),
		input:     input,
		threshold: thresholdMM,
		last:      probeOutOfRange,
	}
	if !p.sensor.Configure(true) {
		return nil, errProbeInit
	}
	p.sensor.SetMeasurementTimingBudget(probeTimingBudget)
	p.sensor.StartContinuous(probePeriod)
	return p, nil
}

// Poll takes a new reading if one is ready. Called from the main loop; the
// step interrupt samples the virtual input through the endstop monitor.
func (p *DistanceProbe) Poll() {
	d := p.sensor.Read(false)
	if d == 0 {
		return
	}
	if d > probeOutOfRange {
		d = probeOutOfRange
	}
	p.last = d
	p.input.Set(d <= p.threshold)
}

// Distance returns the last reading in mm
func (p *DistanceProbe) Distance() uint16 {
	return p.last
}
