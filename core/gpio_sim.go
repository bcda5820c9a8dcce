package core

import (
	"errors"
	"sync"
)

var (
	ErrPinNotConfigured = errors.New("pin not configured")
	ErrPinDirection     = errors.New("pin configured in the other direction")
)

// PinEdge is one level change observed on a simulated output
type PinEdge struct {
	Pin   GPIOPin
	Level bool
	Clock uint32
}

type simPin struct {
	output bool
	level  bool
}

// SimGPIO is a GPIODriver backed by memory. Output changes are timestamped
// with the system clock so pulse timing can be checked after a run.
type SimGPIO struct {
	mu     sync.Mutex
	pins   map[GPIOPin]*simPin
	edges  []PinEdge
	record bool
}

// NewSimGPIO creates an empty simulated GPIO bank
func NewSimGPIO() *SimGPIO {
	return &SimGPIO{pins: make(map[GPIOPin]*simPin)}
}

// Record turns edge recording on or off
func (g *SimGPIO) Record(on bool) {
	g.mu.Lock()
	g.record = on
	g.mu.Unlock()
}

// Edges returns a copy of the recorded edges
func (g *SimGPIO) Edges() []PinEdge {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PinEdge, len(g.edges))
	copy(out, g.edges)
	return out
}

// ResetEdges drops the recorded edges
func (g *SimGPIO) ResetEdges() {
	g.mu.Lock()
	g.edges = g.edges[:0]
	g.mu.Unlock()
}

// SetInput drives the level seen on an input pin
func (g *SimGPIO) SetInput(pin GPIOPin, level bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pins[pin]
	if !ok {
		p = &simPin{}
		g.pins[pin] = p
	}
	p.level = level
}

func (g *SimGPIO) configure(pin GPIOPin, output, level bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pins[pin]
	if !ok {
		g.pins[pin] = &simPin{output: output, level: level}
		return nil
	}
	p.output = output
	return nil
}

func (g *SimGPIO) ConfigureOutput(pin GPIOPin) error {
	return g.configure(pin, true, false)
}

func (g *SimGPIO) ConfigureInputPullUp(pin GPIOPin) error {
	return g.configure(pin, false, true)
}

func (g *SimGPIO) ConfigureInputPullDown(pin GPIOPin) error {
	return g.configure(pin, false, false)
}

func (g *SimGPIO) SetPin(pin GPIOPin, value bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pins[pin]
	if !ok {
		return ErrPinNotConfigured
	}
	if !p.output {
		return ErrPinDirection
	}
	if p.level == value {
		return nil
	}
	p.level = value
	if g.record {
		g.edges = append(g.edges, PinEdge{Pin: pin, Level: value, Clock: GetTime()})
	}
	return nil
}

func (g *SimGPIO) GetPin(pin GPIOPin) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pins[pin]
	if !ok {
		return false, ErrPinNotConfigured
	}
	return p.level, nil
}

func (g *SimGPIO) ReadPin(pin GPIOPin) bool {
	v, _ := g.GetPin(pin)
	return v
}
