package property

import "errors"

var (
	// ErrUnknownProperty is returned for names that were never registered
	ErrUnknownProperty = errors.New("property: unknown property")

	// ErrReadOnly is returned when writing a non-writable property
	ErrReadOnly = errors.New("property: read-only property")

	// ErrDuplicate is returned when a name is registered twice
	ErrDuplicate = errors.New("property: already registered")
)
