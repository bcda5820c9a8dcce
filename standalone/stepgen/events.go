package stepgen

import (
	"sync/atomic"

	"motionfw/standalone"
)

// EventKind classifies a generator notification
type EventKind uint8

const (
	EventFault EventKind = iota + 1 // motion aborted, generator halted
	EventHomed                      // homing block ended on its endstop
	EventHomingMissed               // homing block ran out of travel untriggered
)

func (k EventKind) String() string {
	switch k {
	case EventFault:
		return "fault"
	case EventHomed:
		return "homed"
	case EventHomingMissed:
		return "homing missed"
	default:
		return "unknown"
	}
}

// Abort reasons
const (
	ReasonEndstop       uint8 = 1 // relevant endstop triggered outside homing
	ReasonEmergencyStop uint8 = 2 // RequestAbort from the host or operator
	ReasonLinkLost      uint8 = 3 // host link stopped responding
	ReasonHomingMissed  uint8 = 4 // homing or probe move ended without a trigger
)

// ReasonString names an abort reason
func ReasonString(reason uint8) string {
	switch reason {
	case ReasonEndstop:
		return "endstop"
	case ReasonEmergencyStop:
		return "emergency stop"
	case ReasonLinkLost:
		return "link lost"
	case ReasonHomingMissed:
		return "homing missed"
	case 0:
		return "none"
	default:
		return "unknown"
	}
}

// Event is a notification from the step interrupt to the main loop
type Event struct {
	Kind     EventKind
	Channels uint8 // endstop channel mask involved
	Reason   uint8
	Position standalone.Steps
}

const eventRingSize = 16 // power of two

// eventRing is a single-producer single-consumer queue: push from the
// interrupt, pop from the main loop
type eventRing struct {
	events  [eventRingSize]Event
	head    atomic.Uint32
	tail    atomic.Uint32
	dropped atomic.Uint32
}

func (r *eventRing) push(e Event) {
	head := r.head.Load()
	if head-r.tail.Load() >= eventRingSize {
		r.dropped.Add(1)
		return
	}
	r.events[head%eventRingSize] = e
	r.head.Store(head + 1)
}

func (r *eventRing) pop() (Event, bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() {
		return Event{}, false
	}
	e := r.events[tail%eventRingSize]
	r.tail.Store(tail + 1)
	return e, true
}
