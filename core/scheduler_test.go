package core

import (
	"testing"
	"time"
)

func resetScheduler() {
	timerList = nil
	SetTime(0)
}

func TestTimerDispatchOrder(t *testing.T) {
	resetScheduler()

	var fired []uint32
	handler := func(tm *Timer) uint8 {
		fired = append(fired, tm.WakeTime)
		return SF_DONE
	}

	for _, wake := range []uint32{300, 100, 200, 100} {
		ScheduleTimer(&Timer{WakeTime: wake, Handler: handler})
	}

	AdvanceTo(250)
	if len(fired) != 3 {
		t.Fatalf("Expected 3 timers fired by 250, got %d", len(fired))
	}
	for i := 1; i < len(fired); i++ {
		if fired[i] < fired[i-1] {
			t.Errorf("Timers fired out of order: %v", fired)
		}
	}
	if GetTime() != 250 {
		t.Errorf("Expected clock 250 after AdvanceTo, got %d", GetTime())
	}

	AdvanceTo(1000)
	if len(fired) != 4 {
		t.Errorf("Expected all 4 timers fired, got %d", len(fired))
	}
}

func TestCancelTimer(t *testing.T) {
	resetScheduler()

	count := 0
	a := &Timer{WakeTime: 10, Handler: func(*Timer) uint8 { count++; return SF_DONE }}
	b := &Timer{WakeTime: 20, Handler: func(*Timer) uint8 { count += 10; return SF_DONE }}
	ScheduleTimer(a)
	ScheduleTimer(b)
	CancelTimer(b)

	AdvanceTo(100)
	if count != 1 {
		t.Errorf("Expected only first timer to fire, count=%d", count)
	}
	if _, ok := NextWake(); ok {
		t.Error("Expected empty timer list")
	}
}

func TestListTimerPeriodic(t *testing.T) {
	resetScheduler()

	lt := NewListTimer()
	var stamps []uint32
	lt.Start(func() {
		stamps = append(stamps, GetTime())
		lt.SetCompare(lt.Compare() + 50)
	}, 100)

	AdvanceTo(400)
	lt.Stop()

	want := []uint32{100, 150, 200, 250, 300, 350, 400}
	if len(stamps) != len(want) {
		t.Fatalf("Expected %d interrupts, got %d (%v)", len(want), len(stamps), stamps)
	}
	for i := range want {
		if stamps[i] != want[i] {
			t.Errorf("Interrupt %d at %d, expected %d", i, stamps[i], want[i])
		}
	}

	AdvanceTo(1000)
	if len(stamps) != len(want) {
		t.Error("Timer fired after Stop")
	}
}

func TestListTimerCounterReadCost(t *testing.T) {
	resetScheduler()

	lt := NewListTimer()
	lt.ReadCost = 3

	start := lt.Counter()
	for lt.Counter()-start < 24 {
	}
	if GetTime() < 24 {
		t.Errorf("Busy wait did not advance clock, now=%d", GetTime())
	}
}

func TestTicksFromDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want uint32
	}{
		{0, 0},
		{2 * time.Microsecond, 24},
		{time.Microsecond, 12},
		{100 * time.Nanosecond, 2}, // 1.2 ticks rounds up
		{time.Millisecond, 12000},
	}

	for _, tt := range tests {
		got := TicksFromDuration(tt.d, TimerFrequency)
		if got != tt.want {
			t.Errorf("TicksFromDuration(%v) = %d, expected %d", tt.d, got, tt.want)
		}
	}

	if TicksPerSecond(TimerFrequency) != TimerFreq {
		t.Errorf("TicksPerSecond mismatch: %d", TicksPerSecond(TimerFrequency))
	}
}
