package offload

import (
	"errors"
	"fmt"
)

var (
	ErrConfig   = errors.New("configuration error")
	ErrDevice   = errors.New("device error")
	ErrProgram  = errors.New("program load error")
	ErrBuffer   = errors.New("buffer allocation error")
	ErrDispatch = errors.New("kernel dispatch error")
	ErrTransfer = errors.New("buffer transfer error")
)

// ConfigError is returned before any device interaction when the problem
// geometry is unusable. Msg is the operator-facing message.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }
func (e *ConfigError) Unwrap() error { return ErrConfig }

func configErr(msg string) error {
	return &ConfigError{Msg: msg}
}

// StageError wraps a runtime failure with the pipeline stage it occurred in.
// errors.Is matches both the stage sentinel and the underlying cause.
type StageError struct {
	Stage State
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%v (after %s): %v", e.Kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
