// Package backend selects the accelerator runtime used by the offload pipeline.
package backend

import (
	"fmt"
	"strings"

	"github.com/samcharles93/mmoffload/internal/device"
	"github.com/samcharles93/mmoffload/internal/device/emulator"
)

const (
	Emulator = "emulator"
	OpenCL   = "opencl"
	Auto     = "auto"
)

type Options struct {
	// DeviceName overrides the emulated device name.
	DeviceName string
	// Workers bounds emulator work-group parallelism.
	Workers int
}

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Emulator, OpenCL, Auto:
		return backend, nil
	case "sw_emu", "emu":
		return Emulator, nil
	default:
		return "", fmt.Errorf("unknown runtime %q (expected auto, emulator, or opencl)", backend)
	}
}

// New opens the named runtime. Auto prefers OpenCL when it is compiled in
// and a platform is present, and falls back to the emulator otherwise.
func New(name string, opts Options) (device.Runtime, error) {
	backend, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	switch backend {
	case Emulator:
		return newEmulator(opts), nil
	case OpenCL:
		return newOpenCL(opts)
	default:
		if Has(OpenCL) {
			if rt, err := newOpenCL(opts); err == nil {
				return rt, nil
			}
		}
		return newEmulator(opts), nil
	}
}

func newEmulator(opts Options) device.Runtime {
	return emulator.New(emulator.Options{
		DeviceName: opts.DeviceName,
		Workers:    opts.Workers,
	})
}
