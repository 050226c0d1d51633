package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Recover reloads every non-completed reminder from the store and reschedules
// it. OS-level timers are discarded on restart; the store is the only durable
// state, so the registry is rebuilt from it here.
//
// Recover is idempotent: Schedule always cancels before registering, so
// running it twice (redundant boot signals, the rescan ticker) leaves exactly
// one timer generation per reminder. It continues past individual failures to
// reschedule as many reminders as possible.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	ctx, span := e.tracer.Start(ctx, spanRecover)
	defer span.End()

	active, err := e.store.ListAllActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading active reminders: %w", err)
	}

	scheduled := 0
	for _, r := range active {
		if err := e.Schedule(ctx, r); err != nil {
			e.log.Error("rescheduling reminder during recovery",
				"reminder", r.ID, "error", err)
			e.cntErrors.Add(ctx, 1)
			continue
		}
		scheduled++
	}

	span.SetAttributes(
		attribute.Int("recover.active", len(active)),
		attribute.Int("recover.scheduled", scheduled),
	)
	e.log.Info("recovery complete", "active", len(active), "scheduled", scheduled)
	return scheduled, nil
}
