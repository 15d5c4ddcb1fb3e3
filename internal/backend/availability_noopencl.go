//go:build !opencl

package backend

import (
	"errors"

	"github.com/samcharles93/mmoffload/internal/device"
)

var errOpenCLUnavailable = errors.New("opencl runtime is not available in this build (rebuild with -tags opencl)")

func Has(name string) bool {
	return name == Emulator
}

func newOpenCL(Options) (device.Runtime, error) {
	return nil, errOpenCLUnavailable
}
