package planner

import (
	"math"

	"motionfw/standalone"
	"motionfw/standalone/block"
)

// bufferSegmented queues a Cartesian line for kinematics that do not map
// straight lines to straight motor moves. The line is cut into short
// segments; all of them are solved and slot availability is checked before
// the first one is committed.
func (p *Planner) bufferSegmented(target standalone.Position, feedrate float64, opts MoveOptions) error {
	delta := target.Sub(p.position)
	length := delta.CartesianLength()
	if length == 0 {
		length = math.Abs(delta.E)
	}

	n := p.segmentCount(length, feedrate)

	var stepTargets [block.Capacity]standalone.Steps
	moving := 0
	last := p.steps
	for i := 1; i <= n; i++ {
		pt := target
		if i < n {
			pt = p.position.Add(delta.Scale(float64(i) / float64(n)))
		}
		steps, err := p.kinematics.Inverse(pt)
		if err != nil {
			p.stats.OutOfReach++
			return err
		}
		stepTargets[i-1] = steps
		if steps != last {
			moving++
		}
		last = steps
	}
	if moving == 0 {
		p.stats.ZeroLength++
		return nil
	}
	if int(p.queue.Free()) < moving {
		p.stats.QueueFull++
		return ErrQueueFull
	}

	if n > 1 {
		p.stats.Segmented++
	}
	from := p.steps
	fromPos := p.position
	for i := 1; i <= n; i++ {
		to := stepTargets[i-1]
		pt := target
		if i < n {
			pt = p.position.Add(delta.Scale(float64(i) / float64(n)))
		}
		if to == from {
			continue
		}
		p.queueBlock(from, to, pt.Sub(fromPos), feedrate, opts)
		from = to
		fromPos = pt
	}
	p.steps = from
	p.position = target
	return nil
}

// segmentCount returns how many pieces a line of length mm at feedrate is
// cut into. A line is queued whole or not at all, so the count never
// exceeds the queue capacity; long lines get longer segments.
func (p *Planner) segmentCount(length, feedrate float64) int {
	perSecond := p.config.SegmentsPerSecond
	minLength := p.config.MinSegmentLength
	if perSecond <= 0 || feedrate <= 0 {
		return 1
	}

	n := int(math.Ceil(length / feedrate * perSecond))
	if minLength > 0 {
		if maxN := int(length / minLength); n > maxN {
			n = maxN
		}
	}
	if n < 1 {
		n = 1
	}
	if n > block.Capacity {
		n = block.Capacity
	}
	return n
}
