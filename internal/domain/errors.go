package domain

import "errors"

var (
	// ErrAdmission marks a malformed activator check. Raised at registration.
	ErrAdmission = errors.New("admission check invalid")
	// ErrTransform marks a failed translator stage.
	ErrTransform = errors.New("transform failed")
	// ErrGeneration marks a failed generation step.
	ErrGeneration = errors.New("generation failed")
	// ErrDelivery marks a failed send or edit.
	ErrDelivery = errors.New("delivery failed")
	// ErrSessionTimeout ends a session that reached its time bound.
	ErrSessionTimeout = errors.New("session timeout")
	// ErrNotFound is returned by lookups on missing keys.
	ErrNotFound = errors.New("not found")
	// ErrUnsupportedContext is returned when a context cannot hold a placeholder.
	ErrUnsupportedContext = errors.New("context does not support replies")
	// ErrNotEditable is returned when a handle can no longer be edited.
	ErrNotEditable = errors.New("message not editable")
)
