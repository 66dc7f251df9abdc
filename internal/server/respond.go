package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"comicforge/internal/api"
	"comicforge/internal/logging"
	"comicforge/internal/services"
)

const (
	messageUnauthorized = "Unauthorized"
	messageForbidden    = "Forbidden"
	messageInternal     = "Internal server error"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

// writeError maps err onto a status code and a client-safe message. Failures
// the caller cannot act on are logged and reported generically.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err, r.PathValue("projectId") != "")
	if status >= http.StatusInternalServerError {
		logger := logging.WithContext(r.Context(), s.logger)
		attrs := append(logging.ErrorDetails(err),
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
		)
		logging.ErrorWithContext(logger, "request failed", "api_request_failed", attrs...)
	}
	s.writeJSON(w, status, api.ErrorResponse{Success: false, Error: message})
}

// classify picks the status for err. On project routes a forbidden project is
// reported exactly like a missing one.
func classify(err error, projectRoute bool) (int, string) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, messageInternal
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, clientMessage(err, "Invalid request")
	case errors.Is(err, services.ErrUnauthenticated):
		return http.StatusUnauthorized, messageUnauthorized
	case errors.Is(err, services.ErrForbidden):
		if projectRoute {
			return http.StatusNotFound, api.ProjectNotFoundMessage
		}
		return http.StatusForbidden, messageForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, api.ProjectNotFoundMessage
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict, clientMessage(err, "Conflict")
	default:
		return http.StatusInternalServerError, messageInternal
	}
}

func clientMessage(err error, fallback string) string {
	if msg := services.Details(err).Message; msg != "" {
		return msg
	}
	return fallback
}
