package server

import (
	"encoding/json"
	"net/http"

	"github.com/tjfontaine/twin-gateway/internal/domain"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// WriteJSON writes payload with the given status code.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError maps err to a status code and writes an ErrorBody. Errors that
// are not *domain.Error are reported as internal errors.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if de, ok := domain.AsError(err); ok {
		status = de.HTTPStatusCode()
	}
	WriteJSON(w, status, ErrorBody{Success: false, Status: status, Message: err.Error()})
}
