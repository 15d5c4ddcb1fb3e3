//go:build opencl

package backend

import (
	"github.com/samcharles93/mmoffload/internal/device"
	"github.com/samcharles93/mmoffload/internal/device/opencl"
)

func Has(name string) bool {
	switch name {
	case OpenCL:
		return true
	default:
		return name == Emulator
	}
}

func newOpenCL(opts Options) (device.Runtime, error) {
	return opencl.New()
}
