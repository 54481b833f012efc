package engine

import (
	"testing"
	"time"
)

func TestAlertThrottle(t *testing.T) {
	throttle := newAlertThrottle(time.Minute)
	base := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	if !throttle.Allow("id", base) {
		t.Fatal("Allow() must pass for an unknown id")
	}
	if throttle.Allow("id", base.Add(59*time.Second)) {
		t.Fatal("Allow() inside the interval must be suppressed")
	}
	if !throttle.Allow("id", base.Add(time.Minute)) {
		t.Fatal("Allow() exactly one interval later must pass")
	}

	throttle.Mark("marked", base)
	if throttle.Allow("marked", base.Add(30*time.Second)) {
		t.Fatal("Mark() must start the clock for the id")
	}

	throttle.Forget("id")
	if !throttle.Allow("id", base.Add(61*time.Second)) {
		t.Fatal("Allow() after Forget() must pass immediately")
	}
}

func TestAlertThrottleSuppressionDoesNotResetClock(t *testing.T) {
	throttle := newAlertThrottle(time.Minute)
	base := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	throttle.Mark("id", base)
	for _, offset := range []time.Duration{10 * time.Second, 30 * time.Second, 59 * time.Second} {
		if throttle.Allow("id", base.Add(offset)) {
			t.Fatalf("Allow() at +%s must be suppressed", offset)
		}
	}
	if !throttle.Allow("id", base.Add(time.Minute)) {
		t.Fatal("suppressed attempts must not push back the next allowed send")
	}
}

func TestAlertThrottleZeroIntervalAlwaysAllows(t *testing.T) {
	throttle := newAlertThrottle(0)
	base := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !throttle.Allow("id", base.Add(time.Duration(i)*time.Millisecond)) {
			t.Fatalf("Allow() call %d must pass with a zero interval", i)
		}
	}
}
