package model

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func intp(v int) *int { return &v }

func timep(t time.Time) *time.Time { return &t }

func TestAddMonthsClamped(t *testing.T) {
	tests := []struct {
		name   string
		start  time.Time
		months int
		want   time.Time
	}{
		{"plain advance", date(2024, time.March, 15), 6, date(2024, time.September, 15)},
		{"year rollover", date(2024, time.October, 10), 4, date(2025, time.February, 10)},
		{"jan 31 clamps to leap feb", date(2024, time.January, 31), 1, date(2024, time.February, 29)},
		{"jan 31 clamps to non-leap feb", date(2023, time.January, 31), 1, date(2023, time.February, 28)},
		{"may 31 clamps to june 30", date(2024, time.May, 31), 1, date(2024, time.June, 30)},
		{"oct 31 over year boundary", date(2023, time.October, 31), 4, date(2024, time.February, 29)},
		{"twelve months", date(2024, time.February, 29), 12, date(2025, time.February, 28)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AddMonthsClamped(tt.start, tt.months)
			if !got.Equal(tt.want) {
				t.Errorf("AddMonthsClamped(%v, %d) = %v, want %v", tt.start, tt.months, got, tt.want)
			}
		})
	}
}

func TestAddMonthsClamped_PreservesTimeOfDay(t *testing.T) {
	start := time.Date(2024, time.January, 31, 9, 30, 15, 0, time.Local)
	got := AddMonthsClamped(start, 1)
	if got.Hour() != 9 || got.Minute() != 30 || got.Second() != 15 {
		t.Errorf("time of day not preserved: got %v", got)
	}
}

func TestParseKind(t *testing.T) {
	for _, valid := range []string{"date", "mileage", "periodic"} {
		if _, err := ParseKind(valid); err != nil {
			t.Errorf("ParseKind(%q): %v", valid, err)
		}
	}
	if _, err := ParseKind("weekly"); err == nil {
		t.Error("ParseKind accepted unknown kind")
	}
}

func TestValidate(t *testing.T) {
	target := date(2025, time.June, 1)

	tests := []struct {
		name    string
		r       Reminder
		wantErr bool
	}{
		{"valid date", Reminder{Kind: KindDate, TargetDate: timep(target)}, false},
		{"date without target", Reminder{Kind: KindDate}, true},
		{"valid mileage", Reminder{Kind: KindMileage, TargetMileage: intp(50000)}, false},
		{"mileage without target", Reminder{Kind: KindMileage}, true},
		{"valid periodic", Reminder{Kind: KindPeriodic, TargetDate: timep(target), PeriodMonths: intp(6)}, false},
		{"periodic without period", Reminder{Kind: KindPeriodic, TargetDate: timep(target)}, true},
		{"periodic zero period", Reminder{Kind: KindPeriodic, TargetDate: timep(target), PeriodMonths: intp(0)}, true},
		{"unknown kind", Reminder{Kind: "unknown"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	now := date(2024, time.June, 10)

	completed := Reminder{Kind: KindDate, Completed: true}
	if got := completed.Status(0, now); got != "done" {
		t.Errorf("completed status = %q", got)
	}

	dateRem := Reminder{Kind: KindDate, TargetDate: timep(date(2024, time.June, 15))}
	if got := dateRem.Status(0, now); got != "5 days left" {
		t.Errorf("date status = %q", got)
	}

	overdue := Reminder{Kind: KindDate, TargetDate: timep(date(2024, time.June, 7))}
	if got := overdue.Status(0, now); got != "overdue 3 days" {
		t.Errorf("overdue status = %q", got)
	}

	mileage := Reminder{Kind: KindMileage, TargetMileage: intp(50000)}
	if got := mileage.Status(49400, now); got != "600 km left" {
		t.Errorf("mileage status = %q", got)
	}
	if got := mileage.Status(50200, now); got != "overdue 200 km" {
		t.Errorf("mileage overdue status = %q", got)
	}

	periodic := Reminder{Kind: KindPeriodic, PeriodMonths: intp(6)}
	if got := periodic.Status(0, now); got != "every 6 months" {
		t.Errorf("periodic status = %q", got)
	}
}

func TestLeadDaysRoundTrip(t *testing.T) {
	days := []int{7, 3, 1, 0}
	encoded := FormatLeadDays(days)
	if encoded != "7,3,1,0" {
		t.Fatalf("FormatLeadDays = %q", encoded)
	}
	decoded, err := ParseLeadDays(encoded)
	if err != nil {
		t.Fatalf("ParseLeadDays: %v", err)
	}
	if len(decoded) != 4 || decoded[0] != 7 || decoded[3] != 0 {
		t.Errorf("round trip = %v", decoded)
	}
}

func TestParseLeadDays_Empty(t *testing.T) {
	days, err := ParseLeadDays("")
	if err != nil || days != nil {
		t.Errorf("ParseLeadDays(\"\") = %v, %v; want nil, nil", days, err)
	}
}

func TestParseLeadDays_Invalid(t *testing.T) {
	if _, err := ParseLeadDays("7,x"); err == nil {
		t.Error("ParseLeadDays accepted garbage")
	}
	if _, err := ParseLeadDays("7,-1"); err == nil {
		t.Error("ParseLeadDays accepted negative entry")
	}
}
