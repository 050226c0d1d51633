// Package model defines shared types used across the store, scheduling engine,
// and notification sinks.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind classifies how a reminder's due moment is derived.
type Kind string

const (
	// KindDate fires around a fixed calendar date.
	KindDate Kind = "date"
	// KindMileage fires when the vehicle odometer reaches a target reading.
	KindMileage Kind = "mileage"
	// KindPeriodic fires around a date that advances by a fixed number of
	// months each time it passes.
	KindPeriodic Kind = "periodic"
)

// ParseKind validates a raw kind string as read from storage or user input.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDate, KindMileage, KindPeriodic:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown reminder kind %q", s)
	}
}

// String returns the storage form of the kind.
func (k Kind) String() string { return string(k) }

// DefaultLeadDays is the pre-notification window for date reminders:
// a week ahead, three days, the day before, and the due day itself.
var DefaultLeadDays = []int{7, 3, 1, 0}

// PeriodicLeadDays is the reduced window for periodic reminders; recurrence
// already gives the user recent visibility, so only the week-ahead and due-day
// notifications are sent.
var PeriodicLeadDays = []int{7, 0}

// DefaultNotifyKmBefore is the default mileage warning threshold in km.
const DefaultNotifyKmBefore = 500

// Reminder is a persisted intent to notify the user at a future date or
// odometer reading. It is the only entity the scheduling engine manipulates.
type Reminder struct {
	// ID is assigned by the store on insert and is the identity used for all
	// timer and notification bookkeeping.
	ID int64

	// VehicleID references the vehicle this reminder belongs to.
	VehicleID int64

	// Title is the user-facing label, e.g. "Insurance renewal".
	Title string

	// Kind selects the scheduling strategy.
	Kind Kind

	// TargetDate is the due date. Required for KindDate and KindPeriodic.
	TargetDate *time.Time

	// TargetMileage is the due odometer reading in km. Required for KindMileage.
	TargetMileage *int

	// PeriodMonths is the recurrence length. Required for KindPeriodic.
	PeriodMonths *int

	// Completed marks the reminder terminal; no further wake-ups may be
	// scheduled once set.
	Completed bool

	// CompletedAt and CompletedMileage are set exactly once, at completion.
	CompletedAt      *time.Time
	CompletedMileage *int

	CreatedAt time.Time

	// NotifyDaysBefore overrides the engine's lead-day list when non-empty.
	NotifyDaysBefore []int

	// NotifyKmBefore is the per-reminder mileage warning threshold in km.
	NotifyKmBefore int

	Note string
}

// Validate checks the kind-specific field invariants. Structural validation of
// free-text fields is the form layer's job, not repeated here.
func (r *Reminder) Validate() error {
	switch r.Kind {
	case KindDate:
		if r.TargetDate == nil {
			return fmt.Errorf("date reminder %q has no target date", r.Title)
		}
	case KindMileage:
		if r.TargetMileage == nil {
			return fmt.Errorf("mileage reminder %q has no target mileage", r.Title)
		}
	case KindPeriodic:
		if r.TargetDate == nil {
			return fmt.Errorf("periodic reminder %q has no target date", r.Title)
		}
		if r.PeriodMonths == nil || *r.PeriodMonths <= 0 {
			return fmt.Errorf("periodic reminder %q has no period length", r.Title)
		}
	default:
		return fmt.Errorf("reminder %q has unknown kind %q", r.Title, r.Kind)
	}
	return nil
}

// Status returns a short human-readable state for list views.
func (r *Reminder) Status(currentMileage int, now time.Time) string {
	if r.Completed {
		return "done"
	}

	switch r.Kind {
	case KindDate:
		if r.TargetDate == nil {
			return "no date"
		}
		daysLeft := int(r.TargetDate.Sub(now).Hours() / 24)
		if daysLeft >= 0 {
			return fmt.Sprintf("%d days left", daysLeft)
		}
		return fmt.Sprintf("overdue %d days", -daysLeft)
	case KindMileage:
		if r.TargetMileage == nil {
			return "no mileage"
		}
		kmLeft := *r.TargetMileage - currentMileage
		if kmLeft > 0 {
			return fmt.Sprintf("%d km left", kmLeft)
		}
		return fmt.Sprintf("overdue %d km", -kmLeft)
	case KindPeriodic:
		if r.PeriodMonths != nil {
			return fmt.Sprintf("every %d months", *r.PeriodMonths)
		}
		return "periodic"
	}
	return "unknown"
}

// Vehicle is the odometer-bearing entity reminders attach to.
type Vehicle struct {
	ID             int64
	Name           string
	CurrentMileage int
}

// AddMonthsClamped advances t by the given number of months, clamping the day
// of month to the last day of the resulting month. Unlike time.AddDate, which
// normalises Jan 31 + 1 month to Mar 2/3, this matches calendar semantics:
// Jan 31 + 1 month = Feb 28 (29 in leap years).
func AddMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	month += time.Month(months)

	last := daysInMonth(year, month, t.Location())
	if day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// daysInMonth returns the number of days in the given month. Month may be
// outside 1–12; time.Date normalises it.
func daysInMonth(year int, month time.Month, loc *time.Location) int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// FormatLeadDays encodes a lead-day list for storage, e.g. "7,3,1,0".
// An empty list encodes as "" (meaning: use the engine default).
func FormatLeadDays(days []int) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

// ParseLeadDays decodes a stored lead-day list. "" decodes to nil.
func ParseLeadDays(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid lead days %q: %w", s, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("invalid lead days %q: negative entry", s)
		}
		days = append(days, d)
	}
	return days, nil
}
