// Package block holds planned moves in a fixed ring shared between the
// planner (producer, main loop) and the step generator (consumer, interrupt).
package block

import (
	"sync/atomic"

	"motionfw/standalone"
)

// Block flags
const (
	FlagNominalLength = 1 << 0 // Profile reaches its plateau rate
	FlagRecalculate   = 1 << 1 // Junction speed not final yet
	FlagBusy          = 1 << 2 // Owned by the step generator
	FlagHoming        = 1 << 3 // Ends successfully on a HomingMask trigger
	FlagPlanned       = 1 << 4 // Profile has been stored at least once
)

// Profile is the trapezoid the step generator executes, in step events
type Profile struct {
	InitialRate     uint32 // steps/s at the first step
	FinalRate       uint32 // steps/s at the last step
	AccelerateUntil uint32 // step event where acceleration stops
	DecelerateAfter uint32 // step event where deceleration starts
}

// Block is one straight segment in motor step space.
//
// Steps, DirectionBits, StepEventCount, rates and masks are fixed before the
// block is committed. Speed fields belong to the planner; Profile is written
// by the planner only while the block is not busy.
type Block struct {
	Steps          [standalone.NumAxes]uint32
	DirectionBits  uint8 // bit set: axis moves toward negative
	StepEventCount uint32

	// Planner state (mm and mm/s)
	Millimeters   float64
	NominalSpeed  float64
	EntrySpeed    float64
	MaxEntrySpeed float64
	ExitSpeed     float64
	SafeSpeed     float64 // entry limit when starting from rest
	Acceleration  float64

	// Step space (steps/s and steps/s^2 of the major axis)
	NominalRate      uint32
	AccelerationRate uint32

	Profile Profile

	// Endstop handling. MoveMask/PositiveMask use bits 0-2 for X/Y/Z.
	MoveMask     uint8
	PositiveMask uint8
	HomingMask   uint8 // endstop channels that complete this block

	flags atomic.Uint32
}

// Reset zeroes the block for reuse
func (b *Block) Reset() {
	b.Steps = [standalone.NumAxes]uint32{}
	b.DirectionBits = 0
	b.StepEventCount = 0
	b.Millimeters = 0
	b.NominalSpeed = 0
	b.EntrySpeed = 0
	b.MaxEntrySpeed = 0
	b.ExitSpeed = 0
	b.SafeSpeed = 0
	b.Acceleration = 0
	b.NominalRate = 0
	b.AccelerationRate = 0
	b.Profile = Profile{}
	b.MoveMask = 0
	b.PositiveMask = 0
	b.HomingMask = 0
	b.flags.Store(0)
}

// Has reports whether all bits of f are set
func (b *Block) Has(f uint32) bool {
	return b.flags.Load()&f == f
}

// Set sets flag bits
func (b *Block) Set(f uint32) {
	for {
		old := b.flags.Load()
		if b.flags.CompareAndSwap(old, old|f) {
			return
		}
	}
}

// Clear clears flag bits
func (b *Block) Clear(f uint32) {
	for {
		old := b.flags.Load()
		if b.flags.CompareAndSwap(old, old&^f) {
			return
		}
	}
}

// Busy reports whether the step generator owns the block
func (b *Block) Busy() bool {
	return b.Has(FlagBusy)
}

// Negative reports whether axis moves toward negative
func (b *Block) Negative(axis int) bool {
	return b.DirectionBits&(1<<axis) != 0
}

// Delta returns the signed step change of the block
func (b *Block) Delta() standalone.Steps {
	var d standalone.Steps
	for i, n := range b.Steps {
		if b.Negative(i) {
			d[i] = -int32(n)
		} else {
			d[i] = int32(n)
		}
	}
	return d
}
