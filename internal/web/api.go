package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sweeney/ac-button/internal/button"
	"github.com/sweeney/ac-button/internal/mqtt"
)

// ButtonJSON is one button in API responses.
type ButtonJSON struct {
	Pin     int    `json:"pin"`
	Pressed bool   `json:"pressed"`
	State   string `json:"state"`
}

// ButtonsJSON lists exported buttons.
type ButtonsJSON struct {
	Buttons []ButtonJSON `json:"buttons"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failure.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func newButtonJSON(pin int, pressed bool) ButtonJSON {
	return ButtonJSON{Pin: pin, Pressed: pressed, State: mqtt.StateString(pressed)}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	out := ButtonsJSON{Buttons: []ButtonJSON{}}
	for _, ch := range s.ctl.Channels() {
		out.Buttons = append(out.Buttons, newButtonJSON(ch.Pin, ch.Pressed))
	}
	sendJSON(w, http.StatusOK, out)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	pin, ok := parsePin(w, r)
	if !ok {
		return
	}
	pressed, err := s.ctl.Read(pin)
	if err != nil {
		sendLifecycleError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, newButtonJSON(pin, pressed))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	pin, ok := parsePin(w, r)
	if !ok {
		return
	}
	if err := s.ctl.Export(pin); err != nil {
		sendLifecycleError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, newButtonJSON(pin, false))
}

func (s *Server) handleUnexport(w http.ResponseWriter, r *http.Request) {
	pin, ok := parsePin(w, r)
	if !ok {
		return
	}
	if err := s.ctl.Unexport(pin); err != nil {
		sendLifecycleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parsePin(w http.ResponseWriter, r *http.Request) (int, bool) {
	pin, err := button.ParsePin(chi.URLParam(r, "pin"))
	if err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_PIN", err.Error())
		return 0, false
	}
	return pin, true
}

// errorStatus maps a lifecycle error to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, button.ErrInvalidPin):
		return http.StatusBadRequest, "INVALID_PIN"
	case errors.Is(err, button.ErrNotActive):
		return http.StatusNotFound, "NOT_EXPORTED"
	case errors.Is(err, button.ErrAlreadyActive):
		return http.StatusConflict, "ALREADY_EXPORTED"
	case errors.Is(err, button.ErrPinUnavailable):
		return http.StatusConflict, "PIN_UNAVAILABLE"
	case errors.Is(err, button.ErrClosed):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN"
	case errors.Is(err, button.ErrConfigurationFailed):
		return http.StatusInternalServerError, "CONFIGURATION_FAILED"
	case errors.Is(err, button.ErrSubscriptionFailed):
		return http.StatusInternalServerError, "SUBSCRIPTION_FAILED"
	case errors.Is(err, button.ErrRegistrationFailed):
		return http.StatusInternalServerError, "REGISTRATION_FAILED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func sendLifecycleError(w http.ResponseWriter, r *http.Request, err error) {
	code, name := errorStatus(err)
	sendError(w, r, code, name, err.Error())
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	id, _ := r.Context().Value(RequestIDKey).(string)
	sendJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message, RequestID: id}})
}
