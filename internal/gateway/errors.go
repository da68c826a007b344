package gateway

import "errors"

var (
	// ErrCommandRejected means the device answered without "result": true
	ErrCommandRejected = errors.New("gateway: command rejected")

	// ErrTransport means the command never got a usable answer
	ErrTransport = errors.New("gateway: transport error")

	// ErrInvalidCommand means the command could not be translated to an RPC
	ErrInvalidCommand = errors.New("gateway: invalid command")
)
