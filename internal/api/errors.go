package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/ferrobot-core/internal/auth"
	"github.com/nerrad567/ferrobot-core/internal/command"
	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/robot"
)

// Error codes carried in ErrorResponse.Code.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnsupported  = "unsupported_action"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeQueueFull    = "queue_full"
	ErrCodeUnavailable  = "service_unavailable"
	ErrCodeInternal     = "internal_error"
)

// ErrorResponse is the body of every error reply. RequestID matches the
// X-Request-ID response header.
type ErrorResponse struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// domainErrors maps sentinel errors from the robot stack onto replies.
// The first match wins.
var domainErrors = []struct {
	target error
	status int
	code   string
}{
	{robot.ErrUnsupportedAction, http.StatusBadRequest, ErrCodeUnsupported},
	{device.ErrValidation, http.StatusBadRequest, ErrCodeValidation},
	{device.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound},
	{command.ErrQueueFull, http.StatusServiceUnavailable, ErrCodeQueueFull},
	{auth.ErrTokenExpired, http.StatusUnauthorized, ErrCodeUnauthorized},
	{auth.ErrTokenInvalid, http.StatusUnauthorized, ErrCodeUnauthorized},
	{auth.ErrForbidden, http.StatusForbidden, ErrCodeForbidden},
}

// classify returns the reply status and code for err. Unknown errors are
// internal.
func classify(err error) (int, string) {
	for _, m := range domainErrors {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

// respond writes v as a JSON reply.
func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	// The client may already be gone; nothing useful to do on failure.
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID, _ := r.Context().Value(ctxKeyRequestID).(string)
	respond(w, status, ErrorResponse{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: requestID,
	})
}

// respondErr classifies err and replies with its message. Internal errors
// are logged by the caller and answered with fallback instead.
func respondErr(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = fallback
	}
	respondError(w, r, status, code, msg)
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func notFound(w http.ResponseWriter, r *http.Request, message string) {
	respondError(w, r, http.StatusNotFound, ErrCodeNotFound, message)
}

func unavailable(w http.ResponseWriter, r *http.Request, message string) {
	respondError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

func internalError(w http.ResponseWriter, r *http.Request, message string) {
	respondError(w, r, http.StatusInternalServerError, ErrCodeInternal, message)
}
