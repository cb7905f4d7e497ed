package response

import (
	"encoding/json"
	"net/http"

	"willsave/pkg/apierror"
)

// Response represents a standard API response.
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(Response{
		Success: true,
		Data:    data,
	})
}

// Error sends an error response. Errors that are not API errors become a
// generic 500 so internal details do not leak.
func Error(w http.ResponseWriter, err error) {
	apiErr, ok := apierror.As(err)
	if !ok {
		apiErr = apierror.InternalError("an unexpected error occurred")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode)
	_, _ = w.Write(apiErr.ToJSON())
}

// Accepted sends a 202 Accepted response for work started in the background.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, data)
}

// OK sends a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}
