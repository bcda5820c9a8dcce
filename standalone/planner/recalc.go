package planner

import (
	"math"

	"motionfw/core"
	"motionfw/standalone/block"
)

// maxAllowableSpeed is the highest speed from which distance mm of
// deceleration at accel still reaches target
func maxAllowableSpeed(accel, target, distance float64) float64 {
	return math.Sqrt(target*target + 2*accel*distance)
}

// afterSnapshot runs between the queue snapshot and the passes of replan.
// Tests use it to claim a block at that point.
var afterSnapshot func()

// recalculate re-plans every non-busy block. A pass that loses a race with
// the step generator is repeated from the new tail.
func (p *Planner) recalculate() {
	for i := 0; i <= block.Capacity; i++ {
		if p.replan() {
			return
		}
		p.stats.Replans++
	}
}

// replan runs one reverse, forward and trapezoid pass. It returns false if
// the generator claimed a block after the snapshot, leaving the block as
// the generator found it.
func (p *Planner) replan() bool {
	q := p.queue

	state := core.DisableInterrupts()
	tail := q.Tail()
	head := q.Head()
	busy := tail != head && q.At(tail).Busy()
	var pinned float64
	if busy {
		pinned = q.At(tail).ExitSpeed
	}
	core.RestoreInterrupts(state)

	if afterSnapshot != nil {
		afterSnapshot()
	}

	first := tail
	if busy {
		first++
	}
	if first == head {
		return true
	}

	// Reverse: every block must be able to slow down to its successor's
	// entry, the newest to a stop
	next := p.minSpeed
	nextRecalc := true
	for seq := head - 1; ; seq-- {
		b := q.At(seq)
		entry := b.EntrySpeed
		switch {
		case seq == first && busy:
			entry = pinned
		default:
			entry = math.Min(b.MaxEntrySpeed, maxAllowableSpeed(b.Acceleration, next, b.Millimeters))
		}
		if entry != b.EntrySpeed {
			if !setEntry(b, entry) {
				return false
			}
		} else if !b.Has(block.FlagRecalculate) && !nextRecalc {
			break
		}
		if seq == first {
			break
		}
		next = b.EntrySpeed
		nextRecalc = b.Has(block.FlagRecalculate)
	}

	// Forward: nothing may enter faster than its predecessor can accelerate
	// to, and an idle generator starts from rest
	for seq := first; seq != head; seq++ {
		b := q.At(seq)
		limit := b.EntrySpeed
		switch {
		case seq == first && busy:
			limit = pinned
		case seq == first:
			limit = math.Min(limit, b.SafeSpeed)
		default:
			prev := q.At(seq - 1)
			if prev.EntrySpeed < b.EntrySpeed {
				limit = math.Min(limit, maxAllowableSpeed(prev.Acceleration, prev.EntrySpeed, prev.Millimeters))
			}
		}
		if limit != b.EntrySpeed {
			if !setEntry(b, limit) {
				return false
			}
		}
	}

	for seq := first; seq != head; seq++ {
		b := q.At(seq)
		exit := p.minSpeed
		nextRecalc := false
		if seq+1 != head {
			n := q.At(seq + 1)
			exit = n.EntrySpeed
			nextRecalc = n.Has(block.FlagRecalculate)
		}
		if b.Has(block.FlagPlanned) && !b.Has(block.FlagRecalculate) && !nextRecalc {
			continue
		}
		prof, nominal := calculateTrapezoid(b, b.EntrySpeed, math.Min(exit, b.NominalSpeed), p.minRate)
		if !p.storeProfile(seq, b, prof, exit, nominal) {
			return false
		}
	}
	return true
}

// setEntry changes the entry speed of a block the generator has not
// claimed since the snapshot
func setEntry(b *block.Block, entry float64) bool {
	state := core.DisableInterrupts()
	defer core.RestoreInterrupts(state)

	if b.Busy() {
		return false
	}
	b.EntrySpeed = entry
	b.Set(block.FlagRecalculate)
	return true
}

// storeProfile publishes a new trapezoid for the block at seq. It refuses
// when the generator already committed to a different speed at the block's
// start; a block that went busy keeps its profile.
func (p *Planner) storeProfile(seq uint32, b *block.Block, prof block.Profile, exit float64, nominal bool) bool {
	state := core.DisableInterrupts()
	defer core.RestoreInterrupts(state)

	if b.Busy() {
		return true
	}
	if seq == p.queue.Tail() {
		// Generator idle: the block starts from rest
		if b.EntrySpeed > b.SafeSpeed {
			return false
		}
	} else if prev := p.queue.At(seq - 1); prev.Busy() && prev.ExitSpeed != b.EntrySpeed {
		return false
	}

	b.Profile = prof
	b.ExitSpeed = exit
	if nominal {
		b.Set(block.FlagNominalLength)
	} else {
		b.Clear(block.FlagNominalLength)
	}
	b.Clear(block.FlagRecalculate)
	b.Set(block.FlagPlanned)
	return true
}

// calculateTrapezoid computes the step-space profile of b between entry and
// exit speeds (mm/s). The second result reports a cruise plateau.
func calculateTrapezoid(b *block.Block, entry, exit, minRate float64) (block.Profile, bool) {
	nominalRate := float64(b.NominalRate)
	initial := scaleRate(nominalRate, entry/b.NominalSpeed, minRate)
	final := scaleRate(nominalRate, exit/b.NominalSpeed, minRate)

	accel := float64(b.AccelerationRate)
	count := int64(b.StepEventCount)

	accelSteps := int64(math.Ceil(accelerationDistance(initial, nominalRate, accel)))
	decelSteps := int64(math.Floor(accelerationDistance(final, nominalRate, accel)))
	plateau := count - accelSteps - decelSteps

	if plateau < 0 {
		// No time to cruise: accelerate until the two ramps meet
		accelSteps = int64(math.Ceil(intersectionDistance(initial, final, accel, float64(count))))
		if accelSteps < 0 {
			accelSteps = 0
		}
		if accelSteps > count {
			accelSteps = count
		}
		plateau = 0
	}

	return block.Profile{
		InitialRate:     uint32(initial),
		FinalRate:       uint32(final),
		AccelerateUntil: uint32(accelSteps),
		DecelerateAfter: uint32(accelSteps + plateau),
	}, plateau > 0
}

func scaleRate(nominal, factor, minRate float64) float64 {
	r := math.Ceil(nominal * factor)
	if r < minRate {
		r = math.Ceil(minRate)
	}
	if r > nominal {
		r = nominal
	}
	return r
}

// accelerationDistance is the number of steps needed to change rate from
// initial to target at accel (steps/s^2)
func accelerationDistance(initial, target, accel float64) float64 {
	if accel == 0 {
		return 0
	}
	return (target*target - initial*initial) / (2 * accel)
}

// intersectionDistance is where acceleration from initial must stop so that
// deceleration reaches final exactly at distance
func intersectionDistance(initial, final, accel, distance float64) float64 {
	if accel == 0 {
		return 0
	}
	return (2*accel*distance - initial*initial + final*final) / (4 * accel)
}
