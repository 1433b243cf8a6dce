// Package httputil writes JSON responses and translates domain errors into
// HTTP status codes.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "privata/pkg/domain-errors"
	"privata/pkg/platform/sentinel"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error       string              `json:"error"`
	Description string              `json:"error_description,omitempty"`
	Violations  []dErrors.Violation `json:"violations,omitempty"`
}

// WriteJSON encodes body with status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeValidation, dErrors.CodeInvalidInput, dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sentinel.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// WriteError writes err as an ErrorResponse. Internal errors never expose
// their message, since store errors may mention table or key names.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{Error: string(dErrors.CodeOf(err))}
	switch {
	case status == http.StatusInternalServerError:
		resp.Error = string(dErrors.CodeInternal)
	case status == http.StatusNotFound && !dErrors.HasCode(err, dErrors.CodeNotFound):
		resp.Error = string(dErrors.CodeNotFound)
	case status == http.StatusConflict && !dErrors.HasCode(err, dErrors.CodeConflict):
		resp.Error = string(dErrors.CodeConflict)
	default:
		var de *dErrors.Error
		if errors.As(err, &de) {
			resp.Description = de.Message
			resp.Violations = de.Violations
		}
	}
	WriteJSON(w, status, resp)
}
