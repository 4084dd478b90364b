// Package models holds control API request and response bodies.
package models

import (
	"strings"

	"github.com/mouldrestoration/livesync/internal/api/errors"
	"github.com/mouldrestoration/livesync/internal/api/validation"
	"github.com/mouldrestoration/livesync/pkg/proto"
)

const maxPathLength = 2048

// ActivityRequest publishes an activity ping
type ActivityRequest struct {
	Action proto.ActivityAction `json:"action"`
	Page   string               `json:"page,omitempty"`
}

// Validate validates the request
func (r *ActivityRequest) Validate() error {
	if err := validation.OneOf("action", string(r.Action),
		string(proto.ActivityOnline), string(proto.ActivityOffline), string(proto.ActivityViewingPage)); err != nil {
		return err
	}
	return validation.MaxLength("page", r.Page, maxPathLength)
}

// NavigateRequest reports a page change
type NavigateRequest struct {
	Path string `json:"path"`
}

// Validate validates the request
func (r *NavigateRequest) Validate() error {
	if err := validation.Required("path", r.Path); err != nil {
		return err
	}
	if !strings.HasPrefix(r.Path, "/") {
		return errors.ValidationError("invalid_path", "path must start with /")
	}
	return validation.MaxLength("path", r.Path, maxPathLength)
}

// VisibilityRequest reports the rendering layer being shown or hidden
type VisibilityRequest struct {
	Visible *bool `json:"visible"`
}

// Validate validates the request
func (r *VisibilityRequest) Validate() error {
	if r.Visible == nil {
		return errors.ValidationError("required_field_missing", "visible is required")
	}
	return nil
}
