package v1

import "errors"

var (
	ErrDesiredStatus     = errors.New("desired status missing in context")
	ErrDesiredStatusJSON = errors.New("desired status is required")
	ErrContentType       = errors.New("Content-Type must be application/json")
	ErrLimit             = errors.New("limit must be a positive integer")
)
