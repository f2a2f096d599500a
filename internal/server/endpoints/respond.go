package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackzampolin/shrinkify/internal/cascade"
	"github.com/jackzampolin/shrinkify/internal/partition"
	"github.com/jackzampolin/shrinkify/internal/pipeline"
	"github.com/jackzampolin/shrinkify/internal/warehouse"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeErr maps domain errors to status codes.
func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidConfig),
		errors.Is(err, partition.ErrInvalidPlan),
		errors.Is(err, warehouse.ErrInvalidIdentifier),
		errors.Is(err, cascade.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, cascade.ErrNotFound),
		errors.Is(err, warehouse.ErrTableNotFound):
		return http.StatusNotFound
	case errors.Is(err, cascade.ErrRunActive),
		errors.Is(err, cascade.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
