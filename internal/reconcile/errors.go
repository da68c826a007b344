package reconcile

import "errors"

var (
	// ErrUnmappedProperty is logged when an external write targets a
	// property the reconciler does not translate into commands.
	ErrUnmappedProperty = errors.New("reconcile: unmapped property")

	// ErrInvalidValue is logged when a tracked property is written with a
	// value that has no device equivalent.
	ErrInvalidValue = errors.New("reconcile: invalid value")
)
