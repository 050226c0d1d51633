package timer

import "fmt"

// KeyKind separates the two timer families a reminder may own. Keeping the
// families in a structured key (rather than folding them into one integer
// space) makes collisions impossible and lets the registry cancel every timer
// for a reminder without enumerating codes.
type KeyKind int

const (
	// KeyLead identifies a date/periodic pre-notification timer; LeadDays
	// carries the days-before-target offset.
	KeyLead KeyKind = iota
	// KeyMileagePoll identifies the recurring daily odometer check.
	KeyMileagePoll
)

// Key identifies one scheduled wake-up registration. It is comparable and used
// directly as the registry's map key.
type Key struct {
	Reminder int64
	Kind     KeyKind
	LeadDays int
}

// LeadKey returns the key for a pre-notification fire days before the target.
func LeadKey(reminderID int64, leadDays int) Key {
	return Key{Reminder: reminderID, Kind: KeyLead, LeadDays: leadDays}
}

// PollKey returns the key for a reminder's daily mileage poll.
func PollKey(reminderID int64) Key {
	return Key{Reminder: reminderID, Kind: KeyMileagePoll}
}

// NotificationID maps the key to the stable notification slot for its
// reminder. All of a reminder's timers share one slot, so a newer notification
// replaces the previous one.
func (k Key) NotificationID() int64 {
	return k.Reminder + 1000
}

func (k Key) String() string {
	if k.Kind == KeyMileagePoll {
		return fmt.Sprintf("reminder %d mileage poll", k.Reminder)
	}
	return fmt.Sprintf("reminder %d lead %dd", k.Reminder, k.LeadDays)
}
