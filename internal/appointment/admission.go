package appointment

import (
	"context"
	"fmt"
	"time"
)

// Reader is the read access the admission checks need. Inside a write it is
// the transaction's Store, so the checks see the same snapshot the write does.
type Reader interface {
	PatientExists(ctx context.Context, id int64) (bool, error)
	DoctorExists(ctx context.Context, id int64) (bool, error)
	// SlotTaken reports whether an active appointment other than excludeID
	// holds the slot. excludeID 0 excludes nothing.
	SlotTaken(ctx context.Context, slot Slot, excludeID int64) (bool, error)
}

// Engine decides whether a proposed appointment may be committed. It only
// reads; every write goes through Service.
type Engine struct {
	now func() time.Time
}

func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// ValidateShape rejects malformed or past-dated input without touching the store.
func (e *Engine) ValidateShape(patientID, doctorID int64, at time.Time) error {
	switch {
	case patientID <= 0:
		return InvalidArgument("Validation failed: PatientId must be greater than 0")
	case doctorID <= 0:
		return InvalidArgument("Validation failed: DoctorId must be greater than 0")
	case at.IsZero():
		return InvalidArgument("Validation failed: AppointmentDateTime is required")
	case at.Before(e.now()):
		return InvalidArgument("Validation failed: AppointmentDateTime cannot be in the past")
	}
	return nil
}

func (e *Engine) CheckReferences(ctx context.Context, r Reader, patientID, doctorID int64) error {
	ok, err := r.PatientExists(ctx, patientID)
	if err != nil {
		return fmt.Errorf("check patient: %w", err)
	}
	if !ok {
		return ErrPatientNotFound
	}

	ok, err = r.DoctorExists(ctx, doctorID)
	if err != nil {
		return fmt.Errorf("check doctor: %w", err)
	}
	if !ok {
		return ErrDoctorNotFound
	}
	return nil
}

func (e *Engine) CheckConflict(ctx context.Context, r Reader, slot Slot, excludeID int64) error {
	taken, err := r.SlotTaken(ctx, slot, excludeID)
	if err != nil {
		return fmt.Errorf("check slot: %w", err)
	}
	if taken {
		return ErrSlotConflict
	}
	return nil
}

// Admit runs every check in the order the most specific error is reported:
// shape, then references, then conflict.
func (e *Engine) Admit(ctx context.Context, r Reader, req Request, excludeID int64) error {
	if err := e.ValidateShape(req.PatientID, req.DoctorID, req.ScheduledAt); err != nil {
		return err
	}
	if err := e.CheckReferences(ctx, r, req.PatientID, req.DoctorID); err != nil {
		return err
	}
	return e.CheckConflict(ctx, r, req.Slot(), excludeID)
}
