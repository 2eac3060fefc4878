package v1

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	ErrRequestCtx  = errors.New("download request missing in context")
	ErrMissingURL  = errors.New("url query parameter is required")
	ErrContentType = errors.New("Content-Type must be application/json")
)

// errorBody is the uniform error envelope for every non-2xx JSON response.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg, Details: details})
}
