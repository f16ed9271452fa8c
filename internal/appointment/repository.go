package appointment

import (
	"context"
)

// Store is the set of queries the service runs, either directly or inside
// a transaction.
type Store interface {
	Reader

	List(ctx context.Context, filter ListFilter) ([]Appointment, error)
	// GetByID returns ErrAppointmentNotFound when no row exists.
	GetByID(ctx context.Context, id int64) (*Appointment, error)

	// Insert stores a new appointment and returns it with its assigned id.
	Insert(ctx context.Context, a Appointment) (*Appointment, error)
	// Update overwrites patient, doctor, slot and notes. id and status are kept.
	Update(ctx context.Context, a Appointment) (*Appointment, error)
	// UpdateStatus moves id from one status to another and fails with
	// ErrAppointmentNotFound if the row is not currently in from.
	UpdateStatus(ctx context.Context, id int64, from, to Status) (*Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Repository is the appointment store.
//
// STORAGE CONTRACT: the admission checks in Engine are advisory on their own.
// Implementations MUST make a conflicting write fail with ErrSlotConflict even
// when two transactions pass CheckConflict concurrently, either by serialising
// WithinTx or by a uniqueness constraint on (doctor, date, time) over active
// rows. Without it doctors get double-booked under load.
type Repository interface {
	Store

	// WithinTx runs fn against a Store bound to one transaction. Everything fn
	// writes is committed if it returns nil and discarded otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// Backend is the appointment capability both tiers serve over HTTP. Service
// implements it against a Repository; the BFF implements it by forwarding to
// the resource tier.
type Backend interface {
	List(ctx context.Context, filter ListFilter) ([]Appointment, error)
	Get(ctx context.Context, id int64) (*Appointment, error)
	Create(ctx context.Context, req Request) (*Appointment, error)
	Update(ctx context.Context, id int64, req Request) (*Appointment, error)
	// Delete cancels the appointment. It reports false when id does not exist.
	Delete(ctx context.Context, id int64) (bool, error)
	Confirm(ctx context.Context, id int64) (*Appointment, error)
}
