package lektrico

import "errors"

// Errors returned by the device client. Use errors.Is to check for them.
var (
	// ErrUnavailable means the device could not be reached or answered with
	// a non-200 status.
	ErrUnavailable = errors.New("lektrico: device unavailable")

	// ErrMalformedResponse means the device answered but the body could not
	// be decoded.
	ErrMalformedResponse = errors.New("lektrico: malformed response")
)
