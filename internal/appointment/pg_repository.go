package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Constraint names from internal/db/schema.sql.
const (
	activeSlotIndex       = "appointments_active_slot_key"
	patientForeignKey     = "appointments_patient_id_fkey"
	doctorForeignKey      = "appointments_doctor_id_fkey"
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgRepository stores appointments in Postgres. The partial unique index
// appointments_active_slot_key is what guarantees no double-booking; a
// violation surfaces as ErrSlotConflict.
type PgRepository struct {
	pgStore
	pool *pgxpool.Pool
}

var _ Repository = (*PgRepository)(nil)

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{
		pgStore: pgStore{q: pool},
		pool:    pool,
	}
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgStore{q: tx})
	})
}

type pgStore struct {
	q querier
}

var dialect = goqu.Dialect("postgres")

const selectAppointment = `
	SELECT a.id, a.patient_id, COALESCE(p.name, ''), a.doctor_id, COALESCE(d.name, ''),
	       to_char(a.appointment_date, 'YYYY-MM-DD'), to_char(a.appointment_time, 'HH24:MI:SS'),
	       a.notes, a.status, a.created_at, a.updated_at
	FROM appointments a
	LEFT JOIN patients p ON p.id = a.patient_id
	LEFT JOIN doctors d ON d.id = a.doctor_id
`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date, clock, status string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PatientName,
		&a.DoctorID,
		&a.DoctorName,
		&date,
		&clock,
		&a.Notes,
		&status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if a.ScheduledAt, err = ScheduledAtOf(date, clock); err != nil {
		return nil, fmt.Errorf("appointment %d: %w", a.ID, err)
	}
	if a.Status, err = ParseStatus(status); err != nil {
		return nil, fmt.Errorf("appointment %d: %w", a.ID, err)
	}
	return &a, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == activeSlotIndex:
		return ErrSlotConflict
	case pgErr.Code == pgForeignKeyViolation && pgErr.ConstraintName == patientForeignKey:
		return ErrPatientNotFound
	case pgErr.Code == pgForeignKeyViolation && pgErr.ConstraintName == doctorForeignKey:
		return ErrDoctorNotFound
	}
	return err
}

// Interface methods

func (s *pgStore) PatientExists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (s *pgStore) DoctorExists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM doctors WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (s *pgStore) SlotTaken(ctx context.Context, slot Slot, excludeID int64) (bool, error) {
	var taken bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE doctor_id = $1
			  AND appointment_date = $2::date
			  AND appointment_time = $3::time
			  AND status <> 'Cancelled'
			  AND id <> $4
		)
	`, slot.DoctorID, slot.Date, slot.Time, excludeID).Scan(&taken)
	return taken, err
}

func (s *pgStore) List(ctx context.Context, filter ListFilter) ([]Appointment, error) {
	ds := dialect.
		Select(
			goqu.I("a.id"), goqu.I("a.patient_id"), goqu.L("COALESCE(p.name, '')"),
			goqu.I("a.doctor_id"), goqu.L("COALESCE(d.name, '')"),
			goqu.L("to_char(a.appointment_date, 'YYYY-MM-DD')"),
			goqu.L("to_char(a.appointment_time, 'HH24:MI:SS')"),
			goqu.I("a.notes"), goqu.I("a.status"), goqu.I("a.created_at"), goqu.I("a.updated_at"),
		).
		From(goqu.T("appointments").As("a")).
		LeftJoin(goqu.T("patients").As("p"), goqu.On(goqu.I("p.id").Eq(goqu.I("a.patient_id")))).
		LeftJoin(goqu.T("doctors").As("d"), goqu.On(goqu.I("d.id").Eq(goqu.I("a.doctor_id")))).
		Where(goqu.I("a.status").Neq(string(StatusCancelled))).
		Order(goqu.I("a.appointment_date").Desc(), goqu.I("a.appointment_time").Desc(), goqu.I("a.id").Desc()).
		Prepared(true)

	if filter.Date != "" {
		ds = ds.Where(goqu.L("a.appointment_date = ?::date", filter.Date))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *pgStore) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	row := s.q.QueryRow(ctx, selectAppointment+` WHERE a.id = $1`, id)
	return scanAppointment(row)
}

func (s *pgStore) Insert(ctx context.Context, a Appointment) (*Appointment, error) {
	slot := a.Slot()

	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO appointments (patient_id, doctor_id, appointment_date, appointment_time, notes, status, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4::time, $5, $6, now(), now())
		RETURNING id
	`, a.PatientID, a.DoctorID, slot.Date, slot.Time, a.Notes, string(a.Status)).Scan(&id)
	if err != nil {
		return nil, mapWriteError(err)
	}

	return s.GetByID(ctx, id)
}

func (s *pgStore) Update(ctx context.Context, a Appointment) (*Appointment, error) {
	slot := a.Slot()

	tag, err := s.q.Exec(ctx, `
		UPDATE appointments
		SET patient_id = $2,
		    doctor_id = $3,
		    appointment_date = $4::date,
		    appointment_time = $5::time,
		    notes = $6,
		    updated_at = now()
		WHERE id = $1
	`, a.ID, a.PatientID, a.DoctorID, slot.Date, slot.Time, a.Notes)
	if err != nil {
		return nil, mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAppointmentNotFound
	}

	return s.GetByID(ctx, a.ID)
}

func (s *pgStore) UpdateStatus(ctx context.Context, id int64, from, to Status) (*Appointment, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
	`, id, string(to), string(from))
	if err != nil {
		return nil, mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAppointmentNotFound
	}

	return s.GetByID(ctx, id)
}

func (s *pgStore) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
