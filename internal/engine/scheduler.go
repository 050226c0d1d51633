package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"carminder/internal/model"
	"carminder/internal/timer"
)

// Schedule computes and registers the full set of wake-up instants for the
// reminder, replacing any prior registration for the same id. It never leaves
// a window where old and new timers for one id are both live: the cancel step
// completes synchronously before any new registration is issued.
//
// A reminder whose every instant lies in the past yields zero registrations;
// that is "nothing left to schedule", not an error.
func (e *Engine) Schedule(ctx context.Context, r *model.Reminder) error {
	ctx, span := e.tracer.Start(ctx, spanSchedule)
	defer span.End()
	span.SetAttributes(
		attribute.Int64("reminder.id", r.ID),
		attribute.String("reminder.kind", r.Kind.String()),
	)

	e.timers.CancelReminder(r.ID)
	if r.Completed {
		return nil
	}

	now := e.clk.Now()
	registered := 0

	switch r.Kind {
	case model.KindDate:
		registered = e.scheduleLeads(r, e.leadDaysFor(r), now)

	case model.KindPeriodic:
		if r.TargetDate == nil || r.PeriodMonths == nil {
			return fmt.Errorf("periodic reminder %d is missing target date or period", r.ID)
		}
		if e.rollForward(r, now) {
			// Persist the catch-up so the stored date matches what was
			// scheduled. A failed write is repaired by the next pass, since
			// the roll-forward is recomputed from the stored date each time.
			if err := e.store.Update(ctx, r); err != nil {
				e.log.Error("persisting periodic catch-up", "reminder", r.ID, "error", err)
				e.cntErrors.Add(ctx, 1)
			} else {
				e.log.Info("rolled overdue periodic reminder forward",
					"reminder", r.ID, "target", r.TargetDate.Format(time.DateOnly))
			}
		}
		registered = e.scheduleLeads(r, model.PeriodicLeadDays, now)

	case model.KindMileage:
		if r.TargetMileage == nil {
			return fmt.Errorf("mileage reminder %d has no target mileage", r.ID)
		}
		current, err := e.vehicles.CurrentMileage(ctx, r.VehicleID)
		if err != nil {
			return fmt.Errorf("reading mileage for vehicle %d: %w", r.VehicleID, err)
		}
		if *r.TargetMileage-current > 0 {
			// No "wake on odometer value" primitive exists, so register a
			// recurring daily check instead of a deadline.
			e.timers.Schedule(timer.PollKey(r.ID), e.nextPoll(now), e.cfg.ExactTimers)
			registered = 1
		}

	default:
		return fmt.Errorf("reminder %d has unknown kind %q", r.ID, r.Kind)
	}

	if registered > 0 {
		e.cntScheduled.Add(ctx, int64(registered))
	}
	span.SetAttributes(attribute.Int("timers.registered", registered))
	return nil
}

// scheduleLeads registers one lead-time timer per future instant and returns
// how many were registered. Instants already in the past are skipped; no
// retroactive firing.
func (e *Engine) scheduleLeads(r *model.Reminder, leads []int, now time.Time) int {
	if r.TargetDate == nil {
		return 0
	}

	registered := 0
	for _, lead := range leads {
		at := e.fireInstant(*r.TargetDate, lead)
		if !at.After(now) {
			continue
		}
		e.timers.Schedule(timer.LeadKey(r.ID, lead), at, e.cfg.ExactTimers)
		registered++
	}
	return registered
}

// leadDaysFor returns the reminder's own lead-day list when set, otherwise the
// engine default.
func (e *Engine) leadDaysFor(r *model.Reminder) []int {
	if len(r.NotifyDaysBefore) > 0 {
		return r.NotifyDaysBefore
	}
	return e.cfg.LeadDays
}

// fireInstant places a lead-time wake-up at the notify hour, lead days before
// the target date, in the target's calendar.
func (e *Engine) fireInstant(target time.Time, leadDays int) time.Time {
	d := target.AddDate(0, 0, -leadDays)
	return time.Date(d.Year(), d.Month(), d.Day(), e.cfg.NotifyHour, 0, 0, 0, d.Location())
}

// nextPoll places the next mileage check one poll interval out. Daily and
// longer cadences land on the notify hour; sub-daily cadences fire at the
// raw interval.
func (e *Engine) nextPoll(now time.Time) time.Time {
	d := now.Add(e.cfg.PollInterval)
	if e.cfg.PollInterval < 24*time.Hour {
		return d
	}
	return time.Date(d.Year(), d.Month(), d.Day(), e.cfg.NotifyHour, 0, 0, 0, now.Location())
}

// rollForward advances an overdue periodic target by whole periods until its
// due-day instant lies in the future. Reports whether the date moved. Deriving
// the catch-up from the stored date makes a missed renewal self-healing: the
// next scheduling pass recomputes it deterministically.
func (e *Engine) rollForward(r *model.Reminder, now time.Time) bool {
	moved := false
	for !e.fireInstant(*r.TargetDate, 0).After(now) {
		next := model.AddMonthsClamped(*r.TargetDate, *r.PeriodMonths)
		r.TargetDate = &next
		moved = true
	}
	return moved
}

// maxWarnBand returns the widest configured warning threshold.
func (e *Engine) maxWarnBand() int {
	return e.cfg.WarnBandsKm[len(e.cfg.WarnBandsKm)-1]
}
