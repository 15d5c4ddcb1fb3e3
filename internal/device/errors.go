package device

import "errors"

var (
	ErrNoDevices      = errors.New("no accelerator devices found")
	ErrDeviceMismatch = errors.New("program binary does not match device")
	ErrKernelNotFound = errors.New("kernel not found in program")
	ErrInvalidRange   = errors.New("invalid ndrange")
	ErrInvalidArgs    = errors.New("invalid kernel arguments")
	ErrClock          = errors.New("device profiling clock went backwards")
	ErrClosed         = errors.New("runtime closed")
)
