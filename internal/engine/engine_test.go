package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestRun_EndToEnd drives the daemon loop: recovery at start, a timer elapsing
// through the registry, and the fire handled on the engine's worker goroutine.
func TestRun_EndToEnd(t *testing.T) {
	r := dateReminder(1, 1, localDate(2024, time.March, 2))
	fx := newFixture(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fx.engine.Run(ctx) }()

	// Wait for the initial recovery pass to register timers.
	waitFor(t, func() bool { return fx.registry.Len() > 0 })

	// Let the lead-1 instant (Mar 1 09:00 is past; Mar 1 12:00 is now, so the
	// next instant is the due day) elapse and dispatch it.
	fx.clk.Set(time.Date(2024, time.March, 2, 9, 0, 0, 0, time.Local))
	fx.registry.Tick(ctx)

	waitFor(t, func() bool { return fx.sink.count() >= 1 })
	if got := fx.sink.last().Body; got != "Today: Insurance renewal" {
		t.Errorf("fired body = %q", got)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

// waitFor polls cond for up to two seconds of real time.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
