package consensus

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerMonotonicArm(t *testing.T) {
	var ts timerService
	defer ts.Cancel()

	if !ts.Arm(timerKey{Number: 5, Round: 1}, time.Hour, func(timerKey) {}) {
		t.Fatal("first arm rejected")
	}

	tests := []struct {
		name string
		key  timerKey
		want bool
	}{
		{"older height", timerKey{Number: 4, Round: 9}, false},
		{"older round", timerKey{Number: 5, Round: 0}, false},
		{"same key", timerKey{Number: 5, Round: 1}, true},
		{"newer round", timerKey{Number: 5, Round: 2}, true},
		{"newer height", timerKey{Number: 6, Round: 0}, true},
	}
	for _, tt := range tests {
		if got := ts.Arm(tt.key, time.Hour, func(timerKey) {}); got != tt.want {
			t.Errorf("%s: Arm = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTimerFiresWithKey(t *testing.T) {
	var ts timerService
	defer ts.Cancel()

	fired := make(chan timerKey, 1)
	ts.Arm(timerKey{Number: 1, Round: 0}, 10*time.Millisecond, func(k timerKey) {
		fired <- k
	})

	select {
	case k := <-fired:
		if k != (timerKey{Number: 1, Round: 0}) {
			t.Errorf("fired with %+v", k)
		}
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimerSupersededDoesNotFire(t *testing.T) {
	var ts timerService
	defer ts.Cancel()

	var stale atomic.Bool
	ts.Arm(timerKey{Number: 1, Round: 0}, 20*time.Millisecond, func(timerKey) {
		stale.Store(true)
	})
	// A newer round supersedes before the old timer fires.
	ts.Arm(timerKey{Number: 1, Round: 1}, time.Hour, func(timerKey) {})

	time.Sleep(60 * time.Millisecond)
	if stale.Load() {
		t.Error("superseded timer fired")
	}
}

func TestTimerCancel(t *testing.T) {
	var ts timerService

	var fired atomic.Bool
	ts.Arm(timerKey{Number: 1, Round: 0}, 20*time.Millisecond, func(timerKey) {
		fired.Store(true)
	})
	ts.Cancel()

	time.Sleep(60 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled timer fired")
	}
}
