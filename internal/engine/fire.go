package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"carminder/internal/model"
	"carminder/internal/timer"
)

// HandleFire runs the state machine for one elapsed wake-up. Stale fires
// (the reminder was deleted or completed after the timer was registered) are
// silently absorbed. Nothing in the fire path is allowed to propagate an
// error to the caller; every failure is reduced to a log entry.
func (e *Engine) HandleFire(ctx context.Context, key timer.Key) {
	ctx, span := e.tracer.Start(ctx, spanFire)
	defer span.End()
	span.SetAttributes(
		attribute.Int64("reminder.id", key.Reminder),
		attribute.Int("key.kind", int(key.Kind)),
	)
	e.cntFired.Add(ctx, 1)

	r, err := e.store.Get(ctx, key.Reminder)
	if err != nil {
		e.log.Error("loading reminder for fire", "key", key.String(), "error", err)
		e.cntErrors.Add(ctx, 1)
		span.RecordError(err)
		return
	}
	if r == nil || r.Completed {
		// Stale fire: cancellation against the registry is not atomic with
		// the store mutation, so this is expected, not an error.
		e.log.Debug("stale fire absorbed", "key", key.String())
		return
	}

	switch key.Kind {
	case timer.KeyLead:
		e.handleLeadFire(ctx, key, r)
	case timer.KeyMileagePoll:
		e.handleMileagePoll(ctx, key, r)
	}
}

// handleLeadFire shows the lead-time notification and, on a periodic
// reminder's due day, advances the target date by one period and schedules
// the next generation of timers.
func (e *Engine) handleLeadFire(ctx context.Context, key timer.Key, r *model.Reminder) {
	if r.TargetDate == nil {
		return
	}

	e.notify(ctx, key.NotificationID(), "Reminder", leadMessage(key.LeadDays, r.Title))

	if key.LeadDays != 0 || r.Kind != model.KindPeriodic || r.PeriodMonths == nil {
		return
	}

	// Due-day fire of a periodic reminder: renew. The engine never completes
	// periodic reminders on its own; only explicit user action does.
	next := model.AddMonthsClamped(*r.TargetDate, *r.PeriodMonths)
	renewed := *r
	renewed.TargetDate = &next

	if err := e.store.Update(ctx, &renewed); err != nil {
		// Leave the stored date untouched; the next recovery pass rolls it
		// forward and re-registers the missed generation.
		e.log.Error("persisting periodic renewal", "reminder", r.ID, "error", err)
		e.cntErrors.Add(ctx, 1)
		return
	}
	e.cntRenewed.Add(ctx, 1)

	if err := e.Schedule(ctx, &renewed); err != nil {
		e.log.Error("scheduling renewed reminder", "reminder", r.ID, "error", err)
		e.cntErrors.Add(ctx, 1)
	}
}

// handleMileagePoll re-reads the odometer and either completes the reminder,
// warns about the remaining distance, or stays silent, then schedules the
// next day's check. The poll chain is self-renewing: each fired check
// registers its successor until the reminder completes.
func (e *Engine) handleMileagePoll(ctx context.Context, key timer.Key, r *model.Reminder) {
	if r.Kind != model.KindMileage || r.TargetMileage == nil {
		return
	}

	now := e.clk.Now()
	current, err := e.vehicles.CurrentMileage(ctx, r.VehicleID)
	if err != nil {
		e.log.Error("reading mileage during poll", "reminder", r.ID, "error", err)
		e.cntErrors.Add(ctx, 1)
		// Retry on tomorrow's poll.
		e.timers.Schedule(timer.PollKey(r.ID), e.nextPoll(now), e.cfg.ExactTimers)
		return
	}

	kmLeft := *r.TargetMileage - current
	if kmLeft <= 0 {
		persistErr := e.store.MarkCompleted(ctx, r.ID, now, current)
		if persistErr != nil {
			e.log.Error("persisting mileage completion", "reminder", r.ID, "error", persistErr)
			e.cntErrors.Add(ctx, 1)
		}

		// Notify on a best-effort basis even when the write failed: the user
		// should not silently miss a reminder because of a storage error.
		e.notify(ctx, key.NotificationID(), "Mileage reminder",
			fmt.Sprintf("Target mileage reached: %s", r.Title))

		if persistErr != nil {
			// Not marked completed, so keep polling; tomorrow's check safely
			// retries the same transition.
			e.timers.Schedule(timer.PollKey(r.ID), e.nextPoll(now), e.cfg.ExactTimers)
			return
		}
		// The immediate-check path runs while the next poll is still
		// registered; completion must drop it.
		e.timers.Cancel(timer.PollKey(r.ID))
		e.cntCompleted.Add(ctx, 1)
		e.log.Info("mileage reminder completed", "reminder", r.ID, "mileage", current)
		return
	}

	if kmLeft <= e.maxWarnBand() {
		e.notify(ctx, key.NotificationID(), "Mileage reminder",
			fmt.Sprintf("%d km left: %s", kmLeft, r.Title))
	}

	e.timers.Schedule(timer.PollKey(r.ID), e.nextPoll(now), e.cfg.ExactTimers)
}

// leadMessage words the notification by how far ahead of the target it fires.
func leadMessage(leadDays int, title string) string {
	switch leadDays {
	case 7:
		return fmt.Sprintf("In a week: %s", title)
	case 3:
		return fmt.Sprintf("In 3 days: %s", title)
	case 1:
		return fmt.Sprintf("Tomorrow: %s", title)
	case 0:
		return fmt.Sprintf("Today: %s", title)
	default:
		return fmt.Sprintf("In %d days: %s", leadDays, title)
	}
}
