package consensus

import (
	"sync"
	"time"
)

// timerKey identifies a proposal-timeout round.
type timerKey struct {
	Number int64
	Round  int64
}

// less orders keys by height, then round.
func (k timerKey) less(other timerKey) bool {
	if k.Number != other.Number {
		return k.Number < other.Number
	}
	return k.Round < other.Round
}

// timerService is a single-slot timer: at most one proposal timeout is armed
// at a time, and arming is monotonic in (number, round). The handler receives
// the key it was armed with so it can self-invalidate against newer state.
type timerService struct {
	mu    sync.Mutex
	timer *time.Timer
	armed timerKey
	live  bool
}

// Arm installs a timeout for the given key. A key strictly older than the
// currently armed one is ignored; otherwise the old timer is cancelled and
// replaced. Returns whether the timer was installed.
func (ts *timerService) Arm(key timerKey, d time.Duration, fire func(timerKey)) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.live && key.less(ts.armed) {
		return false
	}
	if ts.timer != nil {
		ts.timer.Stop()
	}
	ts.armed = key
	ts.live = true
	ts.timer = time.AfterFunc(d, func() {
		ts.mu.Lock()
		// A newer key may have been armed while this callback was pending.
		if !ts.live || ts.armed != key {
			ts.mu.Unlock()
			return
		}
		ts.live = false
		ts.mu.Unlock()
		fire(key)
	})
	return true
}

// Cancel stops any armed timer.
func (ts *timerService) Cancel() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.timer != nil {
		ts.timer.Stop()
	}
	ts.live = false
}
