package engine

import (
	"context"
	"fmt"

	"carminder/internal/model"
	"carminder/internal/timer"
)

// postponeDays is how far a postponed reminder's target date moves.
const postponeDays = 7

// CreateReminder validates and stores a new reminder, then registers its
// first timer generation.
func (e *Engine) CreateReminder(ctx context.Context, r *model.Reminder) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = e.clk.Now()
	}
	if r.NotifyKmBefore == 0 {
		r.NotifyKmBefore = model.DefaultNotifyKmBefore
	}

	if err := e.store.Insert(ctx, r); err != nil {
		return err
	}
	return e.Schedule(ctx, r)
}

// UpdateReminder persists an edited reminder and replaces its timer
// generation. Whichever of two concurrent edits schedules last determines the
// live generation; the store row is last-write-wins.
func (e *Engine) UpdateReminder(ctx context.Context, r *model.Reminder) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := e.store.Update(ctx, r); err != nil {
		return err
	}
	return e.Schedule(ctx, r)
}

// DeleteReminder cancels every outstanding timer for the reminder and removes
// it from the store. A timer that fires in the gap between the two steps is
// absorbed by HandleFire's stale-fire check.
func (e *Engine) DeleteReminder(ctx context.Context, id int64) error {
	e.timers.CancelReminder(id)
	return e.store.Delete(ctx, id)
}

// CompleteReminder marks a reminder done by explicit user action and cancels
// its timers. This is the only way a periodic reminder completes.
func (e *Engine) CompleteReminder(ctx context.Context, id int64) error {
	r, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("reminder %d not found", id)
	}
	if r.Completed {
		return nil
	}

	// Best-effort odometer snapshot for the completed-at mileage.
	mileage, err := e.vehicles.CurrentMileage(ctx, r.VehicleID)
	if err != nil {
		e.log.Warn("reading mileage at completion", "reminder", id, "error", err)
		mileage = 0
	}

	if err := e.store.MarkCompleted(ctx, id, e.clk.Now(), mileage); err != nil {
		return err
	}
	e.timers.CancelReminder(id)
	return nil
}

// PostponeReminder pushes the reminder's target date a week out and replaces
// its timer generation.
func (e *Engine) PostponeReminder(ctx context.Context, id int64) error {
	r, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("reminder %d not found", id)
	}
	if r.TargetDate == nil {
		return fmt.Errorf("reminder %d has no target date to postpone", id)
	}

	newDate := r.TargetDate.AddDate(0, 0, postponeDays)
	if err := e.store.Postpone(ctx, id, newDate); err != nil {
		return err
	}
	r.TargetDate = &newDate
	return e.Schedule(ctx, r)
}

// CheckMileage runs an immediate poll pass over the vehicle's active mileage
// reminders, outside the daily cadence. The expense-entry flow calls this
// after recording a new odometer reading so a freshly reached target is
// noticed the same day rather than at tomorrow's poll.
func (e *Engine) CheckMileage(ctx context.Context, vehicleID int64) error {
	reminders, err := e.store.ListActive(ctx, vehicleID)
	if err != nil {
		return fmt.Errorf("listing reminders for vehicle %d: %w", vehicleID, err)
	}

	for _, r := range reminders {
		if r.Kind != model.KindMileage {
			continue
		}
		e.handleMileagePoll(ctx, timer.PollKey(r.ID), r)
	}
	return nil
}
