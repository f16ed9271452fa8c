package appointment

import (
	"errors"
	"fmt"
)

// Kind classifies a failed operation. It travels between tiers in the
// response envelope so proxies never have to inspect message text.
type Kind string

const (
	KindInvalidArgument     Kind = "InvalidArgument"
	KindPatientNotFound     Kind = "PatientNotFound"
	KindDoctorNotFound      Kind = "DoctorNotFound"
	KindSlotConflict        Kind = "SlotConflict"
	KindAppointmentNotFound Kind = "AppointmentNotFound"
	KindInvalidTransition   Kind = "InvalidTransition"
	KindUnexpected          Kind = "Unexpected"
)

func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindInvalidArgument, KindPatientNotFound, KindDoctorNotFound, KindSlotConflict,
		KindAppointmentNotFound, KindInvalidTransition, KindUnexpected:
		return k, true
	}
	return "", false
}

// Error is the outcome of a failed operation. Message is safe to show to
// clients; Err keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrSlotConflict)
// holds regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument, Message: "Invalid argument"}
	ErrPatientNotFound     = &Error{Kind: KindPatientNotFound, Message: "Patient not found"}
	ErrDoctorNotFound      = &Error{Kind: KindDoctorNotFound, Message: "Doctor not found"}
	ErrSlotConflict        = &Error{Kind: KindSlotConflict, Message: "Doctor already has an appointment at that time"}
	ErrAppointmentNotFound = &Error{Kind: KindAppointmentNotFound, Message: "Appointment not found"}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition, Message: "Invalid status transition"}
	ErrUnexpected          = &Error{Kind: KindUnexpected, Message: "Unexpected error"}
)

// Sentinel returns the predefined error for kind.
func Sentinel(kind Kind) *Error {
	switch kind {
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindPatientNotFound:
		return ErrPatientNotFound
	case KindDoctorNotFound:
		return ErrDoctorNotFound
	case KindSlotConflict:
		return ErrSlotConflict
	case KindAppointmentNotFound:
		return ErrAppointmentNotFound
	case KindInvalidTransition:
		return ErrInvalidTransition
	default:
		return ErrUnexpected
	}
}

func InvalidArgument(message string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: message}
}

// Unexpected wraps a store or transport failure.
func Unexpected(err error) *Error {
	return &Error{Kind: KindUnexpected, Message: ErrUnexpected.Message, Err: err}
}

// KindOf reports the kind of err; anything that is not an *Error is unexpected.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// MessageOf returns the client-facing message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ErrUnexpected.Message
}

// asOutcome leaves typed errors untouched and classifies everything else
// as unexpected.
func asOutcome(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Unexpected(err)
}
