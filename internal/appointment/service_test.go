package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	redisclient "github.com/hackgods/clinic-appointments/internal/redis"
)

var tomorrowAt10 = time.Date(2030, time.May, 11, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	repo.AddPatient(Patient{ID: 1, Name: "Ana Torres"})
	repo.AddPatient(Patient{ID: 3, Name: "Luis Gómez"})
	repo.AddDoctor(Doctor{ID: 2, Name: "Dra. Ruiz"})
	repo.AddDoctor(Doctor{ID: 4, Name: "Dr. Pérez"})
	return NewService(repo, nil, testEngine()), repo
}

func ptr(s string) *string { return &s }

func TestService_BookCancelRebook(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	first, err := svc.Create(ctx, Request{PatientID: 1, DoctorID: 2, ScheduledAt: tomorrowAt10})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, first.Status)
	assert.Equal(t, "Ana Torres", first.PatientName)
	assert.Equal(t, "Dra. Ruiz", first.DoctorName)

	_, err = svc.Create(ctx, Request{PatientID: 3, DoctorID: 2, ScheduledAt: tomorrowAt10})
	assert.ErrorIs(t, err, ErrSlotConflict)

	ok, err := svc.Delete(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	second, err := svc.Create(ctx, Request{PatientID: 3, DoctorID: 2, ScheduledAt: tomorrowAt10})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, second.Status)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestService_CreateRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want *Error
	}{
		{"patient id zero", Request{PatientID: 0, DoctorID: 2, ScheduledAt: tomorrowAt10}, ErrInvalidArgument},
		{"past", Request{PatientID: 1, DoctorID: 2, ScheduledAt: testNow.Add(-time.Minute)}, ErrInvalidArgument},
		{"unknown patient", Request{PatientID: 99, DoctorID: 2, ScheduledAt: tomorrowAt10}, ErrPatientNotFound},
		{"unknown doctor", Request{PatientID: 1, DoctorID: 99, ScheduledAt: tomorrowAt10}, ErrDoctorNotFound},
		{"both unknown", Request{PatientID: 98, DoctorID: 99, ScheduledAt: tomorrowAt10}, ErrPatientNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTestService(t)

			_, err := svc.Create(ctx, tt.req)

			assert.ErrorIs(t, err, tt.want)
			list, _ := svc.List(ctx, ListFilter{})
			assert.Empty(t, list)
			assert.Empty(t, repo.Events())
		})
	}
}

func TestService_ListOrderFilterAndSoftDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	dayOne9 := time.Date(2030, time.May, 11, 9, 0, 0, 0, time.UTC)
	dayOne11 := time.Date(2030, time.May, 11, 11, 0, 0, 0, time.UTC)
	dayTwo8 := time.Date(2030, time.May, 12, 8, 0, 0, 0, time.UTC)

	a, err := svc.Create(ctx, Request{PatientID: 1, DoctorID: 2, ScheduledAt: dayOne9})
	require.NoError(t, err)
	b, err := svc.Create(ctx, Request{PatientID: 3, DoctorID: 2, ScheduledAt: dayOne11})
	require.NoError(t, err)
	c, err := svc.Create(ctx, Request{PatientID: 1, DoctorID: 4, ScheduledAt: dayTwo8})
	require.NoError(t, err)
	d, err := svc.Create(ctx, Request{PatientID: 3, DoctorID: 4, ScheduledAt: dayOne9})
	require.NoError(t, err)

	ok, err := svc.Delete(ctx, d.ID)
	require.NoError(t, err)
	require.True(t, ok)

	list, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ID, b.ID, a.ID}, ids(list))

	list, err = svc.List(ctx, ListFilter{Date: "2030-05-11"})
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID, a.ID}, ids(list))

	// cancelled records are kept and still readable by id
	got, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	_, err = svc.List(ctx, ListFilter{Date: "11/05/2030"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	a, err := svc.Create(ctx, Request{PatientID: 1, DoctorID: 2, ScheduledAt: tomorrowAt10})
	require.NoError(t, err)
	other, err := svc.Create(ctx, Request{PatientID: 3, DoctorID: 2, ScheduledAt: tomorrowAt10.Add(time.Hour)})
	require.NoError(t, err)

	t.Run("same slot excludes itself", func(t *testing.T) {
		updated, err := svc.Update(ctx, a.ID, Request{PatientID: 1, DoctorID: 2, ScheduledAt: tomorrowAt10, Notes: ptr("bring x-rays")})
		require.NoError(t, err)
		assert.Equal(t, a.ID, updated.ID)
		assert.Equal(t, StatusScheduled, updated.Status)
		require.NotNil(t, updated.Notes)
		assert.Equal(t, "bring x-rays", *updated.Notes)
	})

	t.Run("moving onto another booking conflicts", func(t *testing.T) {
		_, err := svc.Update(ctx, a.ID, Request{PatientID: 1, DoctorID: 2, ScheduledAt: other.ScheduledAt})
		assert.ErrorIs(t, err, ErrSlotConflict)

		got, err := svc.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, got.ScheduledAt.Equal(tomorrowAt10))
	})

	t.Run("unknown id after valid payload", func(t *testing.T) {
		_, err := svc.Update(ctx, 404, Request{PatientID: 1, DoctorID: 4, ScheduledAt: tomorrowAt10})
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
	})

	t.Run("unknown id with invalid payload reports validation first", func(t *testing.T) {
		_, err := svc.Update(ctx, 404, Request{PatientID: 0, DoctorID: 4, ScheduledAt: tomorrowAt10})
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("moving into the past is rejected", func(t *testing.T) {
		_, err := svc.Update(ctx, a.ID, Request{PatientID: 1, DoctorID: 2, ScheduledAt: testNow.Add(-time.Hour)})
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Equal(t, "Validation failed: AppointmentDateTime cannot be in the past", MessageOf(err))

		got, err := svc.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, got.ScheduledAt.Equal(tomorrowAt10))
		assert.Equal(t, int64(2), got.DoctorID)
	})

	t.Run("status is kept", func(t *testing.T) {
		_, err := svc.Confirm(ctx, other.ID)
		require.NoError(t, err)

		updated, err := svc.Update(ctx, other.ID, Request{PatientID: 3, DoctorID: 4, ScheduledAt: tomorrowAt10})
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, updated.Status)
		assert.Equal(t, int64(4), updated.DoctorID)
	})
}

func TestService_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)

	a, err := svc.Create(ctx, Request{PatientID: 1, DoctorID: 2, ScheduledAt: tomorrowAt10})
	require.NoError(t, err)

	ok, err := svc.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Delete(ctx, 12345)
	require.NoError(t, err)
	assert.False(t, ok)

	events := repo.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventAppointmentCreated, events[0].EventType)
	assert.Equal(t, EventAppointmentCancelled, events[1].EventType)
	assert.JSONEq(t, `{"from":"Scheduled","to":"Cancelled"}`, string(events[1].Payload))
}

func TestService_Confirm(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	a, err := svc.Create(ctx, Request{PatientID: 1, DoctorID: 2, ScheduledAt: tomorrowAt10})
	require.NoError(t, err)

	confirmed, err := svc.Confirm(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)

	again, err := svc.Confirm(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, again.Status)

	_, err = svc.Delete(ctx, a.ID)
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, a.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "Cannot change appointment status from Cancelled to Confirmed", MessageOf(err))

	_, err = svc.Confirm(ctx, 777)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestService_ConcurrentCreatesBookOnce(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	const workers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		patientID := int64(1)
		if i%2 == 1 {
			patientID = 3
		}
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, Request{PatientID: patientID, DoctorID: 2, ScheduledAt: tomorrowAt10})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
}

type failingRepo struct {
	*MemoryRepository
}

func (failingRepo) List(context.Context, ListFilter) ([]Appointment, error) {
	return nil, errors.New("connection reset by peer")
}

func TestService_StoreFailureIsUnexpected(t *testing.T) {
	svc := NewService(failingRepo{NewMemoryRepository()}, nil, testEngine())

	_, err := svc.List(context.Background(), ListFilter{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpected)
	assert.Equal(t, "Unexpected error", MessageOf(err))
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) WithSlotLock(ctx context.Context, slotKey string, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, slotKey)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(ctx)
}

func TestService_SlotLock(t *testing.T) {
	ctx := context.Background()

	t.Run("held lock runs the write", func(t *testing.T) {
		repo := NewMemoryRepository()
		repo.AddPatient(Patient{ID: 1, Name: "Ana Torres"})
		repo.AddDoctor(Doctor{ID: 2, Name: "Dra. Ruiz"})
		locker := new(mockLocker)
		locker.On("WithSlotLock", ctx, "2:2030-05-11:10:00:00").Return(nil).Once()

		a, err := NewService(repo, locker, testEngine()).Create(ctx, Request{PatientID: 1, DoctorID: 2, ScheduledAt: tomorrowAt10})

		require.NoError(t, err)
		assert.Equal(t, StatusScheduled, a.Status)
		locker.AssertExpectations(t)
	})

	t.Run("contended lock still lets an update keep its own slot", func(t *testing.T) {
		repo := NewMemoryRepository()
		repo.AddPatient(Patient{ID: 1, Name: "Ana Torres"})
		repo.AddDoctor(Doctor{ID: 2, Name: "Dra. Ruiz"})
		locker := new(mockLocker)
		locker.On("WithSlotLock", ctx, mock.Anything).Return(nil).Once()
		locker.On("WithSlotLock", ctx, mock.Anything).Return(redisclient.ErrLockNotAcquired)
		svc := NewService(repo, locker, testEngine())

		a, err := svc.Create(ctx, Request{PatientID: 1, DoctorID: 2, ScheduledAt: tomorrowAt10})
		require.NoError(t, err)

		updated, err := svc.Update(ctx, a.ID, Request{PatientID: 1, DoctorID: 2, ScheduledAt: tomorrowAt10, Notes: ptr("x")})
		require.NoError(t, err)
		require.NotNil(t, updated.Notes)
		assert.Equal(t, "x", *updated.Notes)
	})

	t.Run("contended lock on a free slot books it", func(t *testing.T) {
		repo := NewMemoryRepository()
		repo.AddPatient(Patient{ID: 1, Name: "Ana Torres"})
		repo.AddDoctor(Doctor{ID: 2, Name: "Dra. Ruiz"})
		locker := new(mockLocker)
		locker.On("WithSlotLock", ctx, mock.Anything).Return(redisclient.ErrLockNotAcquired)

		a, err := NewService(repo, locker, testEngine()).Create(ctx, Request{PatientID: 1, DoctorID: 2, ScheduledAt: tomorrowAt10})

		require.NoError(t, err)
		assert.Equal(t, StatusScheduled, a.Status)
	})

	t.Run("contended lock on a taken slot is a conflict", func(t *testing.T) {
		repo := NewMemoryRepository()
		repo.AddPatient(Patient{ID: 1, Name: "Ana Torres"})
		repo.AddPatient(Patient{ID: 3, Name: "Luis Gómez"})
		repo.AddDoctor(Doctor{ID: 2, Name: "Dra. Ruiz"})
		locker := new(mockLocker)
		locker.On("WithSlotLock", ctx, mock.Anything).Return(nil).Once()
		locker.On("WithSlotLock", ctx, mock.Anything).Return(redisclient.ErrLockNotAcquired)
		svc := NewService(repo, locker, testEngine())

		_, err := svc.Create(ctx, Request{PatientID: 1, DoctorID: 2, ScheduledAt: tomorrowAt10})
		require.NoError(t, err)

		_, err = svc.Create(ctx, Request{PatientID: 3, DoctorID: 2, ScheduledAt: tomorrowAt10})
		assert.ErrorIs(t, err, ErrSlotConflict)
	})

	t.Run("contended lock still reports missing references", func(t *testing.T) {
		repo := NewMemoryRepository()
		repo.AddDoctor(Doctor{ID: 2, Name: "Dra. Ruiz"})
		locker := new(mockLocker)
		locker.On("WithSlotLock", ctx, mock.Anything).Return(redisclient.ErrLockNotAcquired)

		_, err := NewService(repo, locker, testEngine()).Create(ctx, Request{PatientID: 1, DoctorID: 2, ScheduledAt: tomorrowAt10})

		assert.ErrorIs(t, err, ErrPatientNotFound)
	})

	t.Run("redis outage writes without the lock", func(t *testing.T) {
		repo := NewMemoryRepository()
		repo.AddPatient(Patient{ID: 1, Name: "Ana Torres"})
		repo.AddDoctor(Doctor{ID: 2, Name: "Dra. Ruiz"})
		locker := new(mockLocker)
		outage := fmt.Errorf("%w: %w", redisclient.ErrLockUnavailable, errors.New("dial tcp 10.0.0.7:6379: connect: connection refused"))
		locker.On("WithSlotLock", ctx, mock.Anything).Return(outage)
		svc := NewService(repo, locker, testEngine())

		a, err := svc.Create(ctx, Request{PatientID: 1, DoctorID: 2, ScheduledAt: tomorrowAt10})
		require.NoError(t, err)
		assert.Equal(t, StatusScheduled, a.Status)

		// the storage guarantee still holds without the lock
		_, err = svc.Create(ctx, Request{PatientID: 1, DoctorID: 2, ScheduledAt: tomorrowAt10})
		assert.ErrorIs(t, err, ErrSlotConflict)
	})

	t.Run("write errors under a held lock are returned", func(t *testing.T) {
		repo := NewMemoryRepository()
		repo.AddDoctor(Doctor{ID: 2, Name: "Dra. Ruiz"})
		locker := new(mockLocker)
		locker.On("WithSlotLock", ctx, mock.Anything).Return(nil)

		_, err := NewService(repo, locker, testEngine()).Create(ctx, Request{PatientID: 1, DoctorID: 2, ScheduledAt: tomorrowAt10})

		assert.ErrorIs(t, err, ErrPatientNotFound)
	})
}

func TestService_SubSecondFutureIsNotPast(t *testing.T) {
	ctx := context.Background()
	now := testNow.Add(500 * time.Millisecond)
	repo := NewMemoryRepository()
	repo.AddPatient(Patient{ID: 1, Name: "Ana Torres"})
	repo.AddDoctor(Doctor{ID: 2, Name: "Dra. Ruiz"})
	svc := NewService(repo, nil, NewEngine(func() time.Time { return now }))

	a, err := svc.Create(ctx, Request{PatientID: 1, DoctorID: 2, ScheduledAt: now.Add(300 * time.Millisecond)})
	require.NoError(t, err)
	assert.True(t, a.ScheduledAt.Equal(testNow), "stored time is truncated to the second")

	_, err = svc.Create(ctx, Request{PatientID: 1, DoctorID: 2, ScheduledAt: now.Add(-time.Millisecond)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func ids(list []Appointment) []int64 {
	out := make([]int64, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID)
	}
	return out
}
