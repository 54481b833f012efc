package engine

import "time"

// alertThrottle gates repeat alerts per opportunity id. It is owned by the
// engine and only touched under the engine lock, so it carries no lock of its
// own.
type alertThrottle struct {
	interval time.Duration
	last     map[string]time.Time
}

func newAlertThrottle(interval time.Duration) *alertThrottle {
	throttle := new(alertThrottle)
	throttle.interval = interval
	throttle.last = make(map[string]time.Time)
	return throttle
}

// Allow reports whether an alert for id may fire at now, recording the send
// time when it may. Unknown ids are always allowed.
func (t *alertThrottle) Allow(id string, now time.Time) bool {
	if t.interval <= 0 {
		t.last[id] = now
		return true
	}
	last, ok := t.last[id]
	if !ok || now.Sub(last) >= t.interval {
		t.last[id] = now
		return true
	}
	return false
}

// Mark records an alert send without consulting the gate.
func (t *alertThrottle) Mark(id string, now time.Time) {
	t.last[id] = now
}

// Forget drops the id once its opportunity closes.
func (t *alertThrottle) Forget(id string) {
	delete(t.last, id)
}
