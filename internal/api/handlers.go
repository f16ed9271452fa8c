package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/metrics"
)

func listAppointmentsHandler(backend appointment.Backend, m *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := appointment.ListFilter{Date: r.URL.Query().Get("date")}

		list, err := backend.List(r.Context(), filter)
		m.ObserveOperation("list", outcome(err))
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeOK(w, http.StatusOK, "Appointments retrieved", ToDTOs(list))
	}
}

func getAppointmentHandler(backend appointment.Backend, m *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		appt, err := backend.Get(r.Context(), id)
		m.ObserveOperation("get", outcome(err))
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeOK(w, http.StatusOK, "Appointment retrieved", ToDTO(*appt))
	}
}

func createAppointmentHandler(backend appointment.Backend, m *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		appt, err := backend.Create(r.Context(), req)
		m.ObserveOperation("create", outcome(err))
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeOK(w, http.StatusCreated, "Appointment created", ToDTO(*appt))
	}
}

func updateAppointmentHandler(backend appointment.Backend, m *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		req, err := decodeRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		appt, err := backend.Update(r.Context(), id, req)
		m.ObserveOperation("update", outcome(err))
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeOK(w, http.StatusOK, "Appointment updated", ToDTO(*appt))
	}
}

func deleteAppointmentHandler(backend appointment.Backend, m *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		cancelled, err := backend.Delete(r.Context(), id)
		if err == nil && !cancelled {
			err = appointment.ErrAppointmentNotFound
		}
		m.ObserveOperation("delete", outcome(err))
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeOK[any](w, http.StatusOK, "Appointment cancelled", nil)
	}
}

func confirmAppointmentHandler(backend appointment.Backend, m *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		appt, err := backend.Confirm(r.Context(), id)
		m.ObserveOperation("confirm", outcome(err))
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeOK(w, http.StatusOK, "Appointment confirmed", ToDTO(*appt))
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, appointment.InvalidArgument("Validation failed: id must be a positive integer")
	}
	return id, nil
}

func decodeRequest(r *http.Request) (appointment.Request, error) {
	var body AppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return appointment.Request{}, &appointment.Error{
			Kind:    appointment.KindInvalidArgument,
			Message: "Invalid request body",
			Err:     err,
		}
	}
	return body.ToRequest(), nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(appointment.KindOf(err))
}
