// Package device defines the host-side view of an accelerator runtime:
// device enumeration, program loading, buffer binding, kernel dispatch and
// queue synchronization. Implementations live in subpackages.
package device

import (
	"context"
	"fmt"
)

// Device identifies one compute device exposed by a runtime.
type Device struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Vendor string `json:"vendor,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// MemFlags control how a host slice is exposed to the device.
type MemFlags uint8

const (
	MemReadWrite MemFlags = 1 << iota
	MemReadOnly
	MemWriteOnly
	// MemUseHostPtr asks the runtime to alias the host slice. Runtimes fall
	// back to an internal copy when the slice is not suitably aligned.
	MemUseHostPtr
)

func (f MemFlags) Has(flag MemFlags) bool {
	return f&flag != 0
}

// Program is a loaded kernel binary.
type Program interface {
	Kernels() []string
	Release() error
}

// Buffer is device-visible memory bound to a host slice.
type Buffer interface {
	Len() int
	// ZeroCopy reports whether the device works directly on the host slice.
	ZeroCopy() bool
	Release() error
}

// Event tracks one enqueued command. Profile blocks until the command has
// completed and returns device timestamps in nanoseconds.
type Event interface {
	Profile() (start, end uint64, err error)
}

// Launch describes a single NDRange kernel invocation.
// Args holds Buffer values and int32 scalars in kernel argument order.
type Launch struct {
	Program Program
	Kernel  string
	Global  NDRange
	Local   NDRange
	Args    []any
}

// Runtime is the capability set the offload pipeline needs from an
// accelerator platform. Commands execute in submission order.
type Runtime interface {
	Name() string
	Devices(ctx context.Context) ([]Device, error)
	LoadProgram(ctx context.Context, dev Device, binary []byte) (Program, error)
	AllocateBuffer(ctx context.Context, dev Device, host []float32, flags MemFlags) (Buffer, error)
	Dispatch(ctx context.Context, launch Launch) (Event, error)
	ReadBuffer(ctx context.Context, buf Buffer, dst []float32) error
	Await(ctx context.Context) error
	Close() error
}

// ProgramSource resolves a logical kernel name and device name to a binary.
type ProgramSource interface {
	Resolve(kernel, deviceName string) ([]byte, error)
}

// NDRange is a 2-D index space extent.
type NDRange struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (r NDRange) Size() int {
	return r.X * r.Y
}

func (r NDRange) String() string {
	return fmt.Sprintf("%d, %d", r.X, r.Y)
}

// Groups returns the number of work-groups along each axis when r is
// partitioned into local-sized groups.
func (r NDRange) Groups(local NDRange) (NDRange, error) {
	if r.X <= 0 || r.Y <= 0 {
		return NDRange{}, fmt.Errorf("%w: global range (%s) must be positive", ErrInvalidRange, r)
	}
	if local.X <= 0 || local.Y <= 0 {
		return NDRange{}, fmt.Errorf("%w: local range (%s) must be positive", ErrInvalidRange, local)
	}
	if r.X%local.X != 0 || r.Y%local.Y != 0 {
		return NDRange{}, fmt.Errorf("%w: global range (%s) is not a multiple of local range (%s)", ErrInvalidRange, r, local)
	}
	return NDRange{X: r.X / local.X, Y: r.Y / local.Y}, nil
}

// Elapsed returns end-start for a completed event.
func Elapsed(ev Event) (uint64, error) {
	start, end, err := ev.Profile()
	if err != nil {
		return 0, err
	}
	if end < start {
		return 0, fmt.Errorf("%w: end %d before start %d", ErrClock, end, start)
	}
	return end - start, nil
}
