package appointment

import (
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusConfirmed Status = "Confirmed"
	StatusCancelled Status = "Cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusScheduled, StatusConfirmed, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

// Active reports whether the appointment still occupies its slot.
func (s Status) Active() bool {
	return s != StatusCancelled
}

type Patient struct {
	ID   int64
	Name string
}

type Doctor struct {
	ID   int64
	Name string
}

// Slot is the (doctor, date, time-of-day) key that at most one active
// appointment may hold. Date and Time use DateLayout and TimeLayout, so
// string order matches chronological order.
type Slot struct {
	DoctorID int64
	Date     string
	Time     string
}

func (s Slot) Key() string {
	return fmt.Sprintf("%d:%s:%s", s.DoctorID, s.Date, s.Time)
}

// SlotOf derives the slot for a doctor at the given instant. All times are
// UTC wall clock; sub-second precision is dropped.
func SlotOf(doctorID int64, at time.Time) Slot {
	at = Normalize(at)
	return Slot{
		DoctorID: doctorID,
		Date:     at.Format(DateLayout),
		Time:     at.Format(TimeLayout),
	}
}

// Normalize converts t to the single zone the system books in.
func Normalize(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Second)
}

// ScheduledAtOf rebuilds the instant stored as a date and a time-of-day.
func ScheduledAtOf(date, clock string) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+clock, time.UTC)
}

type Appointment struct {
	ID          int64
	PatientID   int64
	PatientName string
	DoctorID    int64
	DoctorName  string
	ScheduledAt time.Time
	Notes       *string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (a Appointment) Slot() Slot {
	return SlotOf(a.DoctorID, a.ScheduledAt)
}

// Request carries the client-supplied fields of a create or update.
type Request struct {
	PatientID   int64
	DoctorID    int64
	ScheduledAt time.Time
	Notes       *string
}

func (r Request) Slot() Slot {
	return SlotOf(r.DoctorID, r.ScheduledAt)
}

type ListFilter struct {
	// Date restricts the listing to one calendar day (DateLayout). Empty means all days.
	Date string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID int64
	Payload       []byte
	CreatedAt     time.Time
}
