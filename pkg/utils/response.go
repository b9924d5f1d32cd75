package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

// envelope matches the legacy front-end interceptor, which unwraps
// {success, data} and rejects {success: false} responses.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RespondJSON writes an arbitrary JSON payload.
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// RespondData wraps a successful payload in the {success, data} envelope.
func RespondData(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, envelope{Success: true, Data: data})
}

// RespondError wraps an error message in the {success, error} envelope.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, envelope{Success: false, Error: message})
}
