package models

import "errors"

// Error kinds shared across the service. Wrap them with fmt.Errorf("...: %w")
// and test with errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrNoFaceDetected  = errors.New("no face detected")
	ErrUnreadableImage = errors.New("unreadable image")
	ErrExternalService = errors.New("external service error")
)
