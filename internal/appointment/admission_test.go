package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockReader struct {
	mock.Mock
}

func (m *mockReader) PatientExists(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockReader) DoctorExists(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockReader) SlotTaken(ctx context.Context, slot Slot, excludeID int64) (bool, error) {
	args := m.Called(ctx, slot, excludeID)
	return args.Bool(0), args.Error(1)
}

var testNow = time.Date(2030, time.May, 10, 8, 0, 0, 0, time.UTC)

func testEngine() *Engine {
	return NewEngine(func() time.Time { return testNow })
}

func TestEngine_ValidateShape(t *testing.T) {
	e := testEngine()
	future := testNow.Add(26 * time.Hour)

	tests := []struct {
		name      string
		patientID int64
		doctorID  int64
		at        time.Time
		wantMsg   string
	}{
		{"valid", 1, 2, future, ""},
		{"exactly now", 1, 2, testNow, ""},
		{"zero patient", 0, 2, future, "Validation failed: PatientId must be greater than 0"},
		{"negative doctor", 1, -4, future, "Validation failed: DoctorId must be greater than 0"},
		{"missing time", 1, 2, time.Time{}, "Validation failed: AppointmentDateTime is required"},
		{"past", 1, 2, testNow.Add(-time.Second), "Validation failed: AppointmentDateTime cannot be in the past"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.ValidateShape(tt.patientID, tt.doctorID, tt.at)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.Equal(t, tt.wantMsg, MessageOf(err))
		})
	}
}

func TestEngine_AdmitShapeFailureSkipsStore(t *testing.T) {
	r := new(mockReader)

	err := testEngine().Admit(context.Background(), r, Request{PatientID: 0, DoctorID: 2, ScheduledAt: testNow.Add(time.Hour)}, 0)

	assert.ErrorIs(t, err, ErrInvalidArgument)
	r.AssertNotCalled(t, "PatientExists", mock.Anything, mock.Anything)
	r.AssertNotCalled(t, "DoctorExists", mock.Anything, mock.Anything)
	r.AssertNotCalled(t, "SlotTaken", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_AdmitReportsPatientBeforeDoctor(t *testing.T) {
	ctx := context.Background()
	r := new(mockReader)
	r.On("PatientExists", ctx, int64(9)).Return(false, nil).Once()

	err := testEngine().Admit(ctx, r, Request{PatientID: 9, DoctorID: 8, ScheduledAt: testNow.Add(time.Hour)}, 0)

	assert.ErrorIs(t, err, ErrPatientNotFound)
	r.AssertExpectations(t)
	r.AssertNotCalled(t, "DoctorExists", mock.Anything, mock.Anything)
}

func TestEngine_AdmitConflictExcludesSelf(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2030, time.May, 11, 10, 0, 0, 0, time.UTC)
	slot := Slot{DoctorID: 2, Date: "2030-05-11", Time: "10:00:00"}

	r := new(mockReader)
	r.On("PatientExists", ctx, int64(1)).Return(true, nil)
	r.On("DoctorExists", ctx, int64(2)).Return(true, nil)
	r.On("SlotTaken", ctx, slot, int64(7)).Return(true, nil).Once()

	err := testEngine().Admit(ctx, r, Request{PatientID: 1, DoctorID: 2, ScheduledAt: at}, 7)

	assert.ErrorIs(t, err, ErrSlotConflict)
	assert.Equal(t, "Doctor already has an appointment at that time", MessageOf(err))
	r.AssertExpectations(t)
}

func TestEngine_StoreFailureIsUnexpected(t *testing.T) {
	ctx := context.Background()
	r := new(mockReader)
	r.On("PatientExists", ctx, int64(1)).Return(true, nil)
	r.On("DoctorExists", ctx, int64(2)).Return(false, errors.New("connection reset"))

	err := testEngine().CheckReferences(ctx, r, 1, 2)

	require.Error(t, err)
	assert.Equal(t, KindUnexpected, KindOf(err))
	assert.Contains(t, err.Error(), "check doctor")
}

func TestSlotOf_NormalizesToUTC(t *testing.T) {
	bogota := time.FixedZone("COT", -5*60*60)
	at := time.Date(2030, time.May, 11, 19, 30, 0, 999, bogota)

	slot := SlotOf(2, at)

	assert.Equal(t, Slot{DoctorID: 2, Date: "2030-05-12", Time: "00:30:00"}, slot)
	assert.Equal(t, "2:2030-05-12:00:30:00", slot.Key())
}
