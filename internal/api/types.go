package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

// Envelope wraps every response body on both tiers. Kind is only set on
// failures.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
	Kind    string `json:"kind,omitempty"`
}

type AppointmentDTO struct {
	ID                  int64    `json:"id"`
	PatientID           int64    `json:"patientId"`
	PatientName         string   `json:"patientName"`
	DoctorID            int64    `json:"doctorId"`
	DoctorName          string   `json:"doctorName"`
	AppointmentDateTime DateTime `json:"appointmentDateTime"`
	Notes               *string  `json:"notes"`
	Status              string   `json:"status"`
}

// AppointmentRequest is the body of POST and PUT /appointments.
type AppointmentRequest struct {
	PatientID           int64    `json:"patientId"`
	DoctorID            int64    `json:"doctorId"`
	AppointmentDateTime DateTime `json:"appointmentDateTime"`
	Notes               *string  `json:"notes,omitempty"`
}

// localLayouts are the zone-less forms accepted on input; they are read as UTC.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// DateTime is an appointment instant on the wire. It is emitted as RFC 3339
// in UTC.
type DateTime struct {
	time.Time
}

func (d DateTime) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.UTC().Format(time.RFC3339Nano))
}

func (d *DateTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		d.Time = time.Time{}
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("appointmentDateTime must be a string: %w", err)
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}

	t, err := ParseDateTime(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// ParseDateTime accepts RFC 3339 or a zone-less ISO-8601 local time. Sub-second
// precision is kept until the request has been validated.
func ParseDateTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid appointmentDateTime %q", s)
}

func ToDTO(a appointment.Appointment) AppointmentDTO {
	return AppointmentDTO{
		ID:                  a.ID,
		PatientID:           a.PatientID,
		PatientName:         a.PatientName,
		DoctorID:            a.DoctorID,
		DoctorName:          a.DoctorName,
		AppointmentDateTime: DateTime{Time: a.ScheduledAt},
		Notes:               a.Notes,
		Status:              string(a.Status),
	}
}

func ToDTOs(list []appointment.Appointment) []AppointmentDTO {
	out := make([]AppointmentDTO, 0, len(list))
	for _, a := range list {
		out = append(out, ToDTO(a))
	}
	return out
}

// FromDTO rebuilds the domain value from its wire form. The status is
// trusted as sent by the resource tier.
func FromDTO(d AppointmentDTO) (appointment.Appointment, error) {
	status, err := appointment.ParseStatus(d.Status)
	if err != nil {
		return appointment.Appointment{}, err
	}
	return appointment.Appointment{
		ID:          d.ID,
		PatientID:   d.PatientID,
		PatientName: d.PatientName,
		DoctorID:    d.DoctorID,
		DoctorName:  d.DoctorName,
		ScheduledAt: appointment.Normalize(d.AppointmentDateTime.Time),
		Notes:       d.Notes,
		Status:      status,
	}, nil
}

func (r AppointmentRequest) ToRequest() appointment.Request {
	return appointment.Request{
		PatientID:   r.PatientID,
		DoctorID:    r.DoctorID,
		ScheduledAt: r.AppointmentDateTime.Time,
		Notes:       r.Notes,
	}
}

func NewAppointmentRequest(req appointment.Request) AppointmentRequest {
	return AppointmentRequest{
		PatientID:           req.PatientID,
		DoctorID:            req.DoctorID,
		AppointmentDateTime: DateTime{Time: req.ScheduledAt},
		Notes:               req.Notes,
	}
}
