package pio

import (
	"errors"
	"testing"
	"time"

	"motionfw/standalone"
)

func TestDelaysFor(t *testing.T) {
	tests := []struct {
		name      string
		pulse     time.Duration
		dir       time.Duration
		wantPulse uint8
		wantDir   uint8
	}{
		{"unset", 0, 0, 0, 0},
		{"one cycle", time.Microsecond, time.Microsecond, 0, 0},
		{"driver needing 5us", 5 * time.Microsecond, 5 * time.Microsecond, 4, 4},
		{"rounds up", 2500 * time.Nanosecond, 200 * time.Nanosecond, 2, 0},
		{"longest", 32 * time.Microsecond, 20 * time.Microsecond, 31, 19},
	}

	for _, tt := range tests {
		d, err := DelaysFor(standalone.TimingConfig{StepPulse: tt.pulse, DirSetup: tt.dir})
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
			continue
		}
		if d.Pulse != tt.wantPulse || d.DirSetup != tt.wantDir {
			t.Errorf("%s: got %+v, expected pulse=%d dir=%d", tt.name, d, tt.wantPulse, tt.wantDir)
		}
		// Instruction cycle plus delay covers the request
		if got := time.Duration(d.Pulse+1) * time.Microsecond; tt.pulse > 0 && got < tt.pulse {
			t.Errorf("%s: pulse %v shorter than %v", tt.name, got, tt.pulse)
		}
	}
}

func TestDelaysForOutOfRange(t *testing.T) {
	_, err := DelaysFor(standalone.TimingConfig{StepPulse: 33 * time.Microsecond})
	if !errors.Is(err, ErrDelayRange) {
		t.Errorf("Expected ErrDelayRange for pulse, got %v", err)
	}
	_, err = DelaysFor(standalone.TimingConfig{StepPulse: 2 * time.Microsecond, DirSetup: 40 * time.Microsecond})
	if !errors.Is(err, ErrDelayRange) {
		t.Errorf("Expected ErrDelayRange for dir setup, got %v", err)
	}
}
