// Package response writes the control API's JSON envelope.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mouldrestoration/livesync/internal/api/errors"
	"github.com/rs/zerolog/log"
)

// Response wraps every control API body
type Response struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Error     any    `json:"error,omitempty"`
}

// JSON sends data in a success envelope
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, status, Response{
		Success:   status >= 200 && status < 300,
		RequestID: middleware.GetReqID(r.Context()),
		Data:      data,
	})
}

// Error sends err in a failure envelope with its HTTP status
func Error(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetReqID(r.Context())
	apiErr := errors.FromError(err)
	apiErr.RequestID = requestID

	write(w, apiErr.HTTPCode, Response{
		Success:   false,
		RequestID: requestID,
		Error:     apiErr,
	})
}

func write(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Headers are gone; all that is left is to record it
		log.Warn().Err(err).Str("component", "api").Msg("Failed to encode response")
	}
}
