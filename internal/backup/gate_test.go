package backup

import (
	"testing"
	"time"

	"ankibak-go/internal/testutil"
)

func TestRollbackGate(t *testing.T) {
	clock := testutil.FixedClock()
	gate := NewRollbackGate(clock, 10*time.Second)

	if !gate.Allow() {
		t.Fatal("Allow() = false before any rollback")
	}
	gate.Record()

	if gate.Allow() {
		t.Error("Allow() = true immediately after a rollback")
	}

	clock.Advance(9 * time.Second)
	if gate.Allow() {
		t.Error("Allow() = true inside the throttle window")
	}

	clock.Advance(1 * time.Second)
	if !gate.Allow() {
		t.Error("Allow() = false after the window elapsed")
	}
}

func TestRollbackGate_RejectedAttemptDoesNotExtendWindow(t *testing.T) {
	clock := testutil.FixedClock()
	gate := NewRollbackGate(clock, 10*time.Second)
	gate.Record()

	// A denied attempt must not reset the window; only Record does.
	clock.Advance(5 * time.Second)
	gate.Allow()
	clock.Advance(5 * time.Second)
	if !gate.Allow() {
		t.Error("Allow() = false although 10s passed since the recorded rollback")
	}
}
