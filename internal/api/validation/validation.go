// Package validation decodes and checks control API request bodies.
package validation

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mouldrestoration/livesync/internal/api/errors"
)

// MaxBodyBytes bounds every request body
const MaxBodyBytes = 64 << 10

// Validator defines the interface for request validation
type Validator interface {
	Validate() error
}

// ParseAndValidate decodes a JSON body into v and validates it. Unknown
// fields are rejected.
func ParseAndValidate(w http.ResponseWriter, r *http.Request, v Validator) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case stderrors.Is(err, io.EOF):
			return errors.ValidationError("empty_request_body", "Request body is empty")
		case stderrors.As(err, &tooLarge):
			return errors.ValidationError("request_too_large", fmt.Sprintf("Request body must be at most %d bytes", MaxBodyBytes))
		default:
			return errors.ValidationError("invalid_json", "Invalid JSON format: "+err.Error())
		}
	}

	return v.Validate()
}

// Required validates that a string is not empty
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.ValidationError("required_field_missing", field+" is required")
	}
	return nil
}

// MaxLength validates that a string is not longer than maxLen bytes
func MaxLength(field, value string, maxLen int) error {
	if len(value) > maxLen {
		return errors.ValidationError("max_length_exceeded", fmt.Sprintf("%s must be at most %d characters", field, maxLen))
	}
	return nil
}

// OneOf validates that value is one of allowed
func OneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return errors.ValidationError("invalid_value", fmt.Sprintf("%s must be one of %s", field, strings.Join(allowed, ", ")))
}
