package core

// Timer represents a scheduled event
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var (
	timerList   *Timer
	currentTime uint32
)

// ScheduleTimer adds a timer to the schedule
func ScheduleTimer(t *Timer) {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)

	// Insert timer in sorted order
	// Implementation similar to Klipper's sched_add_timer
	insertTimer(t)
}

// CancelTimer removes t from the schedule if it is pending
func CancelTimer(t *Timer) {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)

	removeTimer(t)
}

// insertTimer inserts a timer in sorted order by WakeTime
func insertTimer(t *Timer) {
	if timerList == nil || t.WakeTime < timerList.WakeTime {
		t.Next = timerList
		timerList = t
		return
	}

	current := timerList
	for current.Next != nil && current.Next.WakeTime <= t.WakeTime {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

func removeTimer(t *Timer) {
	if timerList == t {
		timerList = t.Next
		t.Next = nil
		return
	}
	for current := timerList; current != nil; current = current.Next {
		if current.Next == t {
			current.Next = t.Next
			t.Next = nil
			return
		}
	}
}

// TimerDispatch processes due timers
func TimerDispatch() {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)

	// Process all timers with WakeTime <= currentTime
	for timerList != nil && timerList.WakeTime <= currentTime {
		timer := timerList
		timerList = timer.Next
		timer.Next = nil // Clear Next pointer to avoid circular references

		// Call handler
		result := timer.Handler(timer)

		// Reschedule if requested
		if result == SF_RESCHEDULE {
			insertTimer(timer)
		}
	}
}

// NextWake returns the wake time of the earliest pending timer
func NextWake() (uint32, bool) {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)

	if timerList == nil {
		return 0, false
	}
	return timerList.WakeTime, true
}

// AdvanceTo moves the system clock forward to deadline, firing every timer
// that comes due on the way in wake order. Hosted simulations use it in place
// of a free-running hardware clock.
func AdvanceTo(deadline uint32) {
	for {
		wake, ok := NextWake()
		if !ok || wake > deadline {
			break
		}
		if wake > GetTime() {
			SetTime(wake)
		}
		ProcessTimers()
	}
	if deadline > GetTime() {
		SetTime(deadline)
	}
}

// ListTimer implements HardwareTimer on top of the timer list. Targets that
// poll ProcessTimers from their main loop and hosted simulations both use it.
type ListTimer struct {
	timer   Timer
	isr     func()
	running bool

	// ReadCost is added to the system clock on every Counter read so that
	// busy-wait loops make progress when the clock is simulated.
	ReadCost uint32
}

// NewListTimer creates an unarmed list-backed timer
func NewListTimer() *ListTimer {
	t := &ListTimer{}
	t.timer.Handler = t.fire
	return t
}

func (t *ListTimer) fire(tm *Timer) uint8 {
	if !t.running {
		return SF_DONE
	}
	t.isr()
	if !t.running {
		return SF_DONE
	}
	return SF_RESCHEDULE
}

// Start arms the timer
func (t *ListTimer) Start(isr func(), first uint32) {
	t.Stop()
	t.isr = isr
	t.running = true
	t.timer.WakeTime = GetTime() + first
	ScheduleTimer(&t.timer)
}

// Stop disarms the timer
func (t *ListTimer) Stop() {
	if !t.running {
		return
	}
	t.running = false
	CancelTimer(&t.timer)
}

// SetCompare programs the next wake time; only valid from the handler
func (t *ListTimer) SetCompare(value uint32) {
	t.timer.WakeTime = value
}

// Compare returns the programmed wake time
func (t *ListTimer) Compare() uint32 {
	return t.timer.WakeTime
}

// Counter returns the system clock
func (t *ListTimer) Counter() uint32 {
	now := GetTime()
	if t.ReadCost != 0 {
		SetTime(now + t.ReadCost)
	}
	return now
}
