package appointment

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps appointments in process memory. WithinTx holds one
// mutex for the whole transaction and restores a snapshot when fn fails, so
// it satisfies the storage contract for a single process.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memoryState
}

type memoryState struct {
	patients     map[int64]string
	doctors      map[int64]string
	appointments map[int64]Appointment
	events       []EventLog
	nextID       int64
	now          func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memoryState{
			patients:     make(map[int64]string),
			doctors:      make(map[int64]string),
			appointments: make(map[int64]Appointment),
			now:          time.Now,
		},
	}
}

func (r *MemoryRepository) AddPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.patients[p.ID] = p.Name
}

func (r *MemoryRepository) AddDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.doctors[d.ID] = d.Name
}

// Events returns a copy of the audit log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventLog(nil), r.state.events...)
}

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.state.clone()
	if err := fn(ctx, r.state); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (r *MemoryRepository) PatientExists(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.PatientExists(ctx, id)
}

func (r *MemoryRepository) DoctorExists(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.DoctorExists(ctx, id)
}

func (r *MemoryRepository) SlotTaken(ctx context.Context, slot Slot, excludeID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.SlotTaken(ctx, slot, excludeID)
}

func (r *MemoryRepository) List(ctx context.Context, filter ListFilter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.List(ctx, filter)
}

func (r *MemoryRepository) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.GetByID(ctx, id)
}

func (r *MemoryRepository) Insert(ctx context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Insert(ctx, a)
}

func (r *MemoryRepository) Update(ctx context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Update(ctx, a)
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id int64, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.UpdateStatus(ctx, id, from, to)
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.InsertEvent(ctx, ev)
}

// memoryState implements Store without locking; callers hold the mutex.

func (s *memoryState) clone() *memoryState {
	return &memoryState{
		patients:     maps.Clone(s.patients),
		doctors:      maps.Clone(s.doctors),
		appointments: maps.Clone(s.appointments),
		events:       append([]EventLog(nil), s.events...),
		nextID:       s.nextID,
		now:          s.now,
	}
}

func (s *memoryState) PatientExists(_ context.Context, id int64) (bool, error) {
	_, ok := s.patients[id]
	return ok, nil
}

func (s *memoryState) DoctorExists(_ context.Context, id int64) (bool, error) {
	_, ok := s.doctors[id]
	return ok, nil
}

func (s *memoryState) SlotTaken(_ context.Context, slot Slot, excludeID int64) (bool, error) {
	for id, a := range s.appointments {
		if id != excludeID && a.Status.Active() && a.Slot() == slot {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryState) List(_ context.Context, filter ListFilter) ([]Appointment, error) {
	out := make([]Appointment, 0)
	for _, a := range s.appointments {
		if !a.Status.Active() {
			continue
		}
		if filter.Date != "" && a.Slot().Date != filter.Date {
			continue
		}
		out = append(out, s.hydrate(a))
	}

	// most recent first; id breaks ties between equal instants
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.After(out[j].ScheduledAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *memoryState) GetByID(_ context.Context, id int64) (*Appointment, error) {
	a, ok := s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a = s.hydrate(a)
	return &a, nil
}

func (s *memoryState) Insert(ctx context.Context, a Appointment) (*Appointment, error) {
	if err := s.checkWrite(a, 0); err != nil {
		return nil, err
	}
	s.nextID++
	now := s.now()
	a.ID = s.nextID
	a.ScheduledAt = Normalize(a.ScheduledAt)
	a.CreatedAt = now
	a.UpdatedAt = now
	s.appointments[a.ID] = a
	return s.GetByID(ctx, a.ID)
}

func (s *memoryState) Update(ctx context.Context, a Appointment) (*Appointment, error) {
	current, ok := s.appointments[a.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	current.PatientID = a.PatientID
	current.DoctorID = a.DoctorID
	current.ScheduledAt = Normalize(a.ScheduledAt)
	current.Notes = a.Notes
	if err := s.checkWrite(current, current.ID); err != nil {
		return nil, err
	}
	current.UpdatedAt = s.now()
	s.appointments[a.ID] = current
	return s.GetByID(ctx, a.ID)
}

func (s *memoryState) UpdateStatus(ctx context.Context, id int64, from, to Status) (*Appointment, error) {
	current, ok := s.appointments[id]
	if !ok || current.Status != from {
		return nil, ErrAppointmentNotFound
	}
	current.Status = to
	if to.Active() {
		if err := s.checkWrite(current, id); err != nil {
			return nil, err
		}
	}
	current.UpdatedAt = s.now()
	s.appointments[id] = current
	return s.GetByID(ctx, id)
}

func (s *memoryState) InsertEvent(_ context.Context, ev EventLog) error {
	ev.ID = int64(len(s.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	s.events = append(s.events, ev)
	return nil
}

// checkWrite mirrors the foreign keys and the active-slot unique index of
// the Postgres schema.
func (s *memoryState) checkWrite(a Appointment, selfID int64) error {
	if _, ok := s.patients[a.PatientID]; !ok {
		return ErrPatientNotFound
	}
	if _, ok := s.doctors[a.DoctorID]; !ok {
		return ErrDoctorNotFound
	}
	if a.Status.Active() {
		taken, _ := s.SlotTaken(context.Background(), a.Slot(), selfID)
		if taken {
			return ErrSlotConflict
		}
	}
	return nil
}

func (s *memoryState) hydrate(a Appointment) Appointment {
	a.PatientName = s.patients[a.PatientID]
	a.DoctorName = s.doctors[a.DoctorID]
	return a
}
