package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"carminder/internal/model"
)

// --- Mock reminder store -----------------------------------------------------

type mockStore struct {
	mu        sync.Mutex
	reminders map[int64]*model.Reminder
	nextID    int64

	// Error injection.
	failUpdate        error
	failMarkCompleted error
	failList          error
}

func newMockStore(reminders ...*model.Reminder) *mockStore {
	m := &mockStore{reminders: make(map[int64]*model.Reminder)}
	for _, r := range reminders {
		if r.ID > m.nextID {
			m.nextID = r.ID
		}
		m.reminders[r.ID] = r
	}
	return m
}

func (m *mockStore) Get(_ context.Context, id int64) (*model.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reminders[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *mockStore) ListActive(_ context.Context, vehicleID int64) ([]*model.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failList != nil {
		return nil, m.failList
	}
	var result []*model.Reminder
	for _, r := range m.reminders {
		if r.VehicleID == vehicleID && !r.Completed {
			cp := *r
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockStore) ListAllActive(_ context.Context) ([]*model.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failList != nil {
		return nil, m.failList
	}
	var result []*model.Reminder
	for _, r := range m.reminders {
		if !r.Completed {
			cp := *r
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockStore) Insert(_ context.Context, r *model.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	r.ID = m.nextID
	cp := *r
	m.reminders[r.ID] = &cp
	return nil
}

func (m *mockStore) Update(_ context.Context, r *model.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failUpdate != nil {
		return m.failUpdate
	}
	if _, ok := m.reminders[r.ID]; !ok {
		return fmt.Errorf("reminder %d not found", r.ID)
	}
	cp := *r
	m.reminders[r.ID] = &cp
	return nil
}

func (m *mockStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.reminders, id)
	return nil
}

func (m *mockStore) MarkCompleted(_ context.Context, id int64, at time.Time, mileage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failMarkCompleted != nil {
		return m.failMarkCompleted
	}
	r, ok := m.reminders[id]
	if !ok || r.Completed {
		return nil
	}
	r.Completed = true
	r.CompletedAt = &at
	r.CompletedMileage = &mileage
	return nil
}

func (m *mockStore) Postpone(_ context.Context, id int64, newDate time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reminders[id]
	if !ok {
		return fmt.Errorf("reminder %d not found", id)
	}
	r.TargetDate = &newDate
	return nil
}

// get returns the stored reminder itself, for assertions.
func (m *mockStore) get(id int64) *model.Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reminders[id]
}

// --- Mock vehicle state provider --------------------------------------------

type mockVehicles struct {
	mu      sync.Mutex
	mileage map[int64]int
	err     error
}

func newMockVehicles() *mockVehicles {
	return &mockVehicles{mileage: make(map[int64]int)}
}

func (m *mockVehicles) CurrentMileage(_ context.Context, vehicleID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return 0, m.err
	}
	km, ok := m.mileage[vehicleID]
	if !ok {
		return 0, fmt.Errorf("vehicle %d not found", vehicleID)
	}
	return km, nil
}

func (m *mockVehicles) set(vehicleID int64, km int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mileage[vehicleID] = km
}

// --- Mock notification sink --------------------------------------------------

type notification struct {
	ID    int64
	Title string
	Body  string
}

type mockSink struct {
	mu    sync.Mutex
	shown []notification
}

func (m *mockSink) Show(_ context.Context, id int64, title, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shown = append(m.shown, notification{ID: id, Title: title, Body: body})
	return nil
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.shown)
}

func (m *mockSink) last() notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.shown) == 0 {
		return notification{}
	}
	return m.shown[len(m.shown)-1]
}
