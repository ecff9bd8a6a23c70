package core

import "testing"

func TestTimerConversions(t *testing.T) {
	if got := TimerFromUS(1000); got != TimerFreq/1000 {
		t.Errorf("TimerFromUS(1000) = %d, want %d", got, TimerFreq/1000)
	}
	if got := TimerToUS(TimerFreq); got != 1000000 {
		t.Errorf("TimerToUS(TimerFreq) = %d, want 1000000", got)
	}
	if got := TimerFromSeconds(0.5); got != TimerFreq/2 {
		t.Errorf("TimerFromSeconds(0.5) = %d, want %d", got, TimerFreq/2)
	}
	if got := TimerFromSeconds(-1); got != 0 {
		t.Errorf("TimerFromSeconds(-1) = %d, want 0", got)
	}
}

func TestTimeBefore(t *testing.T) {
	tests := []struct {
		a, b uint32
		want bool
	}{
		{1, 2, true},
		{2, 1, false},
		{5, 5, false},
		{0xFFFFFFFF, 0, true},
		{0, 0xFFFFFFFF, false},
	}
	for _, tc := range tests {
		if got := TimeBefore(tc.a, tc.b); got != tc.want {
			t.Errorf("TimeBefore(%#x, %#x) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestAdvanceTime(t *testing.T) {
	SetTime(100)
	TimerInit()
	if got := AdvanceTime(50); got != 150 {
		t.Errorf("AdvanceTime = %d, want 150", got)
	}
	if got := GetUptime(); got != 50 {
		t.Errorf("GetUptime = %d, want 50", got)
	}
}
