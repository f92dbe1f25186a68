// Package httpx provides HTTP response utilities for the JSON API.
package httpx

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the stable wire shape returned on request failure. The error
// field carries diagnostic detail and is only populated outside production.
type ErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Message sends a bare {"message": ...} body with the given status code.
func Message(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorBody{Message: message})
}

// Failure sends a {"message", "error"} body. Detail should be empty in
// production so internals never leak to clients.
func Failure(w http.ResponseWriter, status int, message, detail string) {
	JSON(w, status, ErrorBody{Message: message, Error: detail})
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}
