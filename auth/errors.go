package auth

import (
	"encoding/json"
	"net/http"

	"banking-ledger/logger"
)

// --- Responses ---

type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithDetails(w, code, message, nil)
}

// RespondWithDetails lets callers return the context a client needs to correct its input.
func RespondWithDetails(w http.ResponseWriter, code int, message string, details map[string]any) {
	JSON(w, code, ErrorResponse{Error: message, Details: details})
}

func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("could not encode response", logger.Error(err))
	}
}
