package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/clinic-appointments/internal/redis"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentUpdated   = "APPOINTMENT_UPDATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
)

// Service is the store-backed Backend. It is the only writer of appointments.
type Service struct {
	repo   Repository
	locker redisclient.Locker
	engine *Engine
}

var _ Backend = (*Service)(nil)

// NewService wires the service. locker may be nil, in which case slot writes
// rely on the repository's storage guarantee alone.
func NewService(repo Repository, locker redisclient.Locker, engine *Engine) *Service {
	if engine == nil {
		engine = NewEngine(nil)
	}
	return &Service{
		repo:   repo,
		locker: locker,
		engine: engine,
	}
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Appointment, error) {
	if filter.Date != "" {
		if _, err := time.Parse(DateLayout, filter.Date); err != nil {
			return nil, InvalidArgument("Validation failed: date must be YYYY-MM-DD")
		}
	}
	list, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, asOutcome(fmt.Errorf("list appointments: %w", err))
	}
	return list, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, asOutcome(fmt.Errorf("get appointment %d: %w", id, err))
	}
	return a, nil
}

// Create admits and stores a new appointment in status Scheduled. The shape
// check runs before any store access; references, conflict and insert share
// one transaction.
func (s *Service) Create(ctx context.Context, req Request) (*Appointment, error) {
	if err := s.engine.ValidateShape(req.PatientID, req.DoctorID, req.ScheduledAt); err != nil {
		return nil, err
	}
	req.ScheduledAt = Normalize(req.ScheduledAt)

	var created *Appointment
	err := s.withSlot(ctx, req, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx Store) error {
			if err := s.engine.CheckReferences(ctx, tx, req.PatientID, req.DoctorID); err != nil {
				return err
			}
			if err := s.engine.CheckConflict(ctx, tx, req.Slot(), 0); err != nil {
				return err
			}

			a, err := tx.Insert(ctx, Appointment{
				PatientID:   req.PatientID,
				DoctorID:    req.DoctorID,
				ScheduledAt: req.ScheduledAt,
				Notes:       req.Notes,
				Status:      StatusScheduled,
			})
			if err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}
			created = a

			return s.logEvent(ctx, tx, a.ID, EventAppointmentCreated, map[string]any{
				"patient_id":   req.PatientID,
				"doctor_id":    req.DoctorID,
				"scheduled_at": req.ScheduledAt,
			})
		})
	})
	if err != nil {
		return nil, asOutcome(err)
	}

	zerolog.Ctx(ctx).Info().Int64("appointment_id", created.ID).Str("slot", req.Slot().Key()).Msg("appointment created")
	return created, nil
}

// Update runs the same admission as Create, excluding the appointment itself
// from the conflict check. Existence is checked after admission succeeds, so
// an invalid payload for an unknown id reports the validation error.
func (s *Service) Update(ctx context.Context, id int64, req Request) (*Appointment, error) {
	if err := s.engine.ValidateShape(req.PatientID, req.DoctorID, req.ScheduledAt); err != nil {
		return nil, err
	}
	req.ScheduledAt = Normalize(req.ScheduledAt)

	var updated *Appointment
	err := s.withSlot(ctx, req, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx Store) error {
			if err := s.engine.CheckReferences(ctx, tx, req.PatientID, req.DoctorID); err != nil {
				return err
			}
			if err := s.engine.CheckConflict(ctx, tx, req.Slot(), id); err != nil {
				return err
			}

			current, err := tx.GetByID(ctx, id)
			if err != nil {
				return err
			}

			current.PatientID = req.PatientID
			current.DoctorID = req.DoctorID
			current.ScheduledAt = req.ScheduledAt
			current.Notes = req.Notes

			a, err := tx.Update(ctx, *current)
			if err != nil {
				return fmt.Errorf("update appointment: %w", err)
			}
			updated = a

			return s.logEvent(ctx, tx, id, EventAppointmentUpdated, map[string]any{
				"patient_id":   req.PatientID,
				"doctor_id":    req.DoctorID,
				"scheduled_at": req.ScheduledAt,
			})
		})
	})
	if err != nil {
		return nil, asOutcome(err)
	}
	return updated, nil
}

// Delete cancels the appointment. Records are never removed. Cancelling an
// already cancelled appointment succeeds without writing anything.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	_, err := s.transition(ctx, id, StatusCancelled, EventAppointmentCancelled)
	if errors.Is(err, ErrAppointmentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) Confirm(ctx context.Context, id int64) (*Appointment, error) {
	return s.transition(ctx, id, StatusConfirmed, EventAppointmentConfirmed)
}

func (s *Service) transition(ctx context.Context, id int64, target Status, eventType string) (*Appointment, error) {
	var result *Appointment
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		current, err := tx.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := Transition(current.Status, target); err != nil {
			return err
		}
		if current.Status == target {
			result = current
			return nil
		}

		a, err := tx.UpdateStatus(ctx, id, current.Status, target)
		if err != nil {
			return fmt.Errorf("set status %s: %w", target, err)
		}
		result = a

		return s.logEvent(ctx, tx, id, eventType, map[string]any{
			"from": current.Status,
			"to":   target,
		})
	})
	if err != nil {
		return nil, asOutcome(err)
	}
	return result, nil
}

// withSlot runs fn holding the distributed slot lock when one is configured.
// The lock only sheds contention: when it is held elsewhere or Redis cannot
// be reached, fn still runs and the admission checks plus the repository's
// storage guarantee decide the outcome.
func (s *Service) withSlot(ctx context.Context, req Request, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}

	key := req.Slot().Key()
	err := s.locker.WithSlotLock(ctx, key, fn)
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		zerolog.Ctx(ctx).Debug().Str("slot", key).Msg("slot lock contended")
		return fn(ctx)
	case errors.Is(err, redisclient.ErrLockUnavailable):
		zerolog.Ctx(ctx).Warn().Err(err).Str("slot", key).Msg("slot lock unavailable, writing without it")
		return fn(ctx)
	}
	return err
}

func (s *Service) logEvent(ctx context.Context, tx Store, appointmentID int64, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}
	if err := tx.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert event %s: %w", eventType, err)
	}
	return nil
}
