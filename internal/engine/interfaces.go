// Package engine implements the reminder scheduling and notification core:
// deriving wake-up instants from reminders, registering them with the timer
// registry, handling fires, and rebuilding the registry after a restart.
//
// The package contains four cooperating pieces:
//
//   - [Engine.Schedule] computes and registers a reminder's timer generation,
//     always cancelling the previous one first.
//   - [Engine.Recover] reloads every active reminder and reschedules it; the
//     registry is a derived cache that does not survive restarts.
//   - [Engine.HandleFire] runs the per-fire state machine: notification
//     wording, periodic renewal, and the daily mileage poll chain.
//   - [Engine.Run] drains the registry's fire channel on a single worker
//     goroutine and re-runs recovery on a rescan ticker.
package engine

import (
	"context"
	"time"

	"carminder/internal/model"
	"carminder/internal/timer"
)

// ReminderStore is the durable source of truth for reminders.
// Implemented by [store.Store].
type ReminderStore interface {
	Get(ctx context.Context, id int64) (*model.Reminder, error)
	ListActive(ctx context.Context, vehicleID int64) ([]*model.Reminder, error)
	ListAllActive(ctx context.Context) ([]*model.Reminder, error)
	Insert(ctx context.Context, r *model.Reminder) error
	Update(ctx context.Context, r *model.Reminder) error
	Delete(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64, at time.Time, mileage int) error
	Postpone(ctx context.Context, id int64, newDate time.Time) error
}

// VehicleStateProvider exposes the current odometer reading for a vehicle.
// Implemented by [store.Store].
type VehicleStateProvider interface {
	CurrentMileage(ctx context.Context, vehicleID int64) (int, error)
}

// TimerRegistry registers wake-ups at absolute instants. Implemented by
// [timer.Registry]; fires come back on a channel passed to [New] separately
// so the engine never depends on the registry's dispatch loop.
type TimerRegistry interface {
	Schedule(key timer.Key, at time.Time, exact bool)
	Cancel(key timer.Key)
	CancelReminder(reminderID int64)
}

// NotificationSink displays a notification. The id is stable per reminder so
// newer notifications replace older ones in the same slot.
// Implemented by the sinks in package notify.
type NotificationSink interface {
	Show(ctx context.Context, id int64, title, body string) error
}
