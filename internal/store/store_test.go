package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"carminder/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-carminder.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addVehicle(t *testing.T, s *Store, name string, km int) int64 {
	t.Helper()
	v := &model.Vehicle{Name: name, CurrentMileage: km}
	if err := s.UpsertVehicle(context.Background(), v); err != nil {
		t.Fatalf("UpsertVehicle: %v", err)
	}
	return v.ID
}

func intp(v int) *int { return &v }

func timep(t time.Time) *time.Time { return &t }

func sampleReminder(vehicleID int64) *model.Reminder {
	target := time.Date(2025, time.June, 15, 0, 0, 0, 0, time.Local)
	return &model.Reminder{
		VehicleID:      vehicleID,
		Title:          "Insurance renewal",
		Kind:           model.KindDate,
		TargetDate:     &target,
		CreatedAt:      time.Now().Truncate(time.Millisecond),
		NotifyKmBefore: model.DefaultNotifyKmBefore,
		Note:           "OSAGO policy",
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "carminder.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("s1.Close: %v", err)
	}

	// Re-opening the same file must not fail or wipe data.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if err := s2.Close(); err != nil {
		t.Fatalf("s2.Close: %v", err)
	}
}

func TestVehicleRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id := addVehicle(t, s, "Octavia", 48200)

	v, err := s.GetVehicle(ctx, id)
	if err != nil {
		t.Fatalf("GetVehicle: %v", err)
	}
	if v == nil || v.Name != "Octavia" || v.CurrentMileage != 48200 {
		t.Errorf("GetVehicle = %+v", v)
	}

	v.CurrentMileage = 48950
	if err := s.UpsertVehicle(ctx, v); err != nil {
		t.Fatalf("UpsertVehicle update: %v", err)
	}
	km, err := s.CurrentMileage(ctx, id)
	if err != nil {
		t.Fatalf("CurrentMileage: %v", err)
	}
	if km != 48950 {
		t.Errorf("CurrentMileage = %d, want 48950", km)
	}
}

func TestSetMileage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := addVehicle(t, s, "Octavia", 10000)

	if err := s.SetMileage(ctx, id, 10500); err != nil {
		t.Fatalf("SetMileage: %v", err)
	}
	km, _ := s.CurrentMileage(ctx, id)
	if km != 10500 {
		t.Errorf("CurrentMileage = %d, want 10500", km)
	}

	if err := s.SetMileage(ctx, 999, 1); err == nil {
		t.Error("SetMileage on missing vehicle succeeded")
	}
}

func TestReminderRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	vid := addVehicle(t, s, "Octavia", 48200)

	r := sampleReminder(vid)
	r.NotifyDaysBefore = []int{14, 7, 0}
	if err := s.Insert(ctx, r); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if r.ID == 0 {
		t.Fatal("Insert did not set ID")
	}

	got, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for existing reminder")
	}
	if got.Title != r.Title || got.Kind != model.KindDate || got.Note != r.Note {
		t.Errorf("Get = %+v", got)
	}
	if got.TargetDate == nil || !got.TargetDate.Equal(*r.TargetDate) {
		t.Errorf("TargetDate = %v, want %v", got.TargetDate, r.TargetDate)
	}
	if got.TargetMileage != nil || got.PeriodMonths != nil || got.CompletedAt != nil {
		t.Errorf("optional fields not nil: %+v", got)
	}
	if len(got.NotifyDaysBefore) != 3 || got.NotifyDaysBefore[0] != 14 {
		t.Errorf("NotifyDaysBefore = %v", got.NotifyDaysBefore)
	}
}

func TestReminderRoundTrip_MileageKind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	vid := addVehicle(t, s, "Octavia", 48200)

	r := &model.Reminder{
		VehicleID:      vid,
		Title:          "Tire change",
		Kind:           model.KindMileage,
		TargetMileage:  intp(50000),
		NotifyKmBefore: 500,
		CreatedAt:      time.Now(),
	}
	if err := s.Insert(ctx, r); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TargetMileage == nil || *got.TargetMileage != 50000 {
		t.Errorf("TargetMileage = %v, want 50000", got.TargetMileage)
	}
	if got.TargetDate != nil {
		t.Errorf("TargetDate = %v, want nil", got.TargetDate)
	}
}

func TestGet_MissingIsNilNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get missing = %+v, want nil", got)
	}
}

func TestGet_CorruptTargetDateSurfacesError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	vid := addVehicle(t, s, "Octavia", 48200)

	r := sampleReminder(vid)
	if err := s.Insert(ctx, r); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// A timestamp mangled outside the store must not read back as "no date".
	if _, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET target_date = 'not-a-timestamp' WHERE id = ?`, r.ID); err != nil {
		t.Fatalf("corrupting row: %v", err)
	}

	if _, err := s.Get(ctx, r.ID); err == nil {
		t.Error("Get returned a reminder with a corrupt target date")
	}
}

func TestListAllActive_ExcludesCompleted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	vid := addVehicle(t, s, "Octavia", 48200)

	open := sampleReminder(vid)
	if err := s.Insert(ctx, open); err != nil {
		t.Fatalf("Insert open: %v", err)
	}
	done := sampleReminder(vid)
	done.Title = "Old service"
	if err := s.Insert(ctx, done); err != nil {
		t.Fatalf("Insert done: %v", err)
	}
	if err := s.MarkCompleted(ctx, done.ID, time.Now(), 48200); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	active, err := s.ListAllActive(ctx)
	if err != nil {
		t.Fatalf("ListAllActive: %v", err)
	}
	if len(active) != 1 || active[0].ID != open.ID {
		t.Errorf("ListAllActive = %v reminders, want only the open one", len(active))
	}

	completed, err := s.ListCompleted(ctx, vid)
	if err != nil {
		t.Fatalf("ListCompleted: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != done.ID {
		t.Errorf("ListCompleted = %v reminders, want only the done one", len(completed))
	}
}

func TestMarkCompleted_SetsFieldsOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	vid := addVehicle(t, s, "Octavia", 48200)

	r := sampleReminder(vid)
	if err := s.Insert(ctx, r); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	first := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.Local)
	if err := s.MarkCompleted(ctx, r.ID, first, 49000); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	// A second completion attempt must not rewrite the completed-at fields.
	if err := s.MarkCompleted(ctx, r.ID, first.AddDate(0, 0, 10), 51000); err != nil {
		t.Fatalf("second MarkCompleted: %v", err)
	}

	got, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Completed {
		t.Fatal("reminder not completed")
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(first) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, first)
	}
	if got.CompletedMileage == nil || *got.CompletedMileage != 49000 {
		t.Errorf("CompletedMileage = %v, want 49000", got.CompletedMileage)
	}
}

func TestPostpone(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	vid := addVehicle(t, s, "Octavia", 48200)

	r := sampleReminder(vid)
	if err := s.Insert(ctx, r); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	newDate := r.TargetDate.AddDate(0, 0, 7)
	if err := s.Postpone(ctx, r.ID, newDate); err != nil {
		t.Fatalf("Postpone: %v", err)
	}

	got, _ := s.Get(ctx, r.ID)
	if got.TargetDate == nil || !got.TargetDate.Equal(newDate) {
		t.Errorf("TargetDate = %v, want %v", got.TargetDate, newDate)
	}

	if err := s.Postpone(ctx, 999, newDate); err == nil {
		t.Error("Postpone on missing reminder succeeded")
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	vid := addVehicle(t, s, "Octavia", 48200)

	r := sampleReminder(vid)
	if err := s.Insert(ctx, r); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Delete(ctx, r.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := s.Get(ctx, r.ID); got != nil {
		t.Errorf("reminder survived delete: %+v", got)
	}

	// Deleting again is a no-op.
	if err := s.Delete(ctx, r.ID); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	vid := addVehicle(t, s, "Octavia", 48200)

	r := sampleReminder(vid)
	if err := s.Insert(ctx, r); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	newDate := time.Date(2025, time.December, 15, 0, 0, 0, 0, time.Local)
	r.Kind = model.KindPeriodic
	r.TargetDate = timep(newDate)
	r.PeriodMonths = intp(6)
	if err := s.Update(ctx, r); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := s.Get(ctx, r.ID)
	if got.Kind != model.KindPeriodic || got.PeriodMonths == nil || *got.PeriodMonths != 6 {
		t.Errorf("Update round trip = %+v", got)
	}

	missing := sampleReminder(vid)
	missing.ID = 999
	if err := s.Update(ctx, missing); err == nil {
		t.Error("Update on missing reminder succeeded")
	}
}
