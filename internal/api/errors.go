package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

// StatusFor maps an error kind to the HTTP status both tiers answer with.
func StatusFor(kind appointment.Kind) int {
	switch kind {
	case appointment.KindInvalidArgument:
		return http.StatusBadRequest
	case appointment.KindPatientNotFound,
		appointment.KindDoctorNotFound,
		appointment.KindAppointmentNotFound:
		return http.StatusNotFound
	case appointment.KindSlotConflict,
		appointment.KindInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK[T any](w http.ResponseWriter, status int, message string, data T) {
	writeJSON(w, status, Envelope[T]{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// writeError answers with the failure envelope for err. Causes of unexpected
// failures are logged and never sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := appointment.KindOf(err)
	message := appointment.MessageOf(err)
	if kind == appointment.KindUnexpected {
		message = appointment.ErrUnexpected.Message
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	} else {
		zerolog.Ctx(r.Context()).Debug().Str("kind", string(kind)).Str("message", message).Msg("request rejected")
	}

	writeJSON(w, StatusFor(kind), Envelope[any]{
		Success: false,
		Message: message,
		Kind:    string(kind),
	})
}
