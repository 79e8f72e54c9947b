package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"locoinspect/controller"
	"locoinspect/history"
	"locoinspect/inspection"
	"locoinspect/middleware"
	"locoinspect/usermgmt"

	"go.uber.org/zap"
)

// maxBodyBytes bounds JSON bodies; photos arrive as data URLs so this is generous.
const maxBodyBytes = 16 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// sessionID returns the id of the authenticated session, writing 401 when there is none.
func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	session, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		writeError(w, "Session not found in context", http.StatusUnauthorized)
		return "", false
	}
	return session.ID, true
}

// writeActionError maps domain errors to the message and status shown to the client.
func writeActionError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var validation *usermgmt.ValidationError
	var field *inspection.FieldError
	var submit *controller.SubmitError

	switch {
	case errors.As(err, &validation):
		writeError(w, validation.Message, http.StatusBadRequest)
	case errors.As(err, &field):
		writeError(w, field.Error(), http.StatusBadRequest)
	case errors.As(err, &submit):
		logger.Warn("Inspection upload failed", zap.Error(submit.Err))
		writeError(w, submit.Error(), http.StatusBadGateway)
	case errors.Is(err, inspection.ErrPhotoRequired),
		errors.Is(err, inspection.ErrNoCandidate),
		errors.Is(err, inspection.ErrEmptyPhoto),
		errors.Is(err, history.ErrInvalidDate),
		errors.Is(err, controller.ErrUnknownView),
		errors.Is(err, controller.ErrNoUserSelected):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, history.ErrNothingToExport):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, controller.ErrIncorrectPassword),
		errors.Is(err, controller.ErrSessionNotFound):
		writeError(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, controller.ErrForbidden),
		errors.Is(err, usermgmt.ErrForbidden):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, controller.ErrSubmitInProgress),
		errors.Is(err, controller.ErrNotOnCaptureForm):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		logger.Error("Request failed", zap.Error(err))
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}
