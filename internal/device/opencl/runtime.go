//go:build opencl

// Package opencl binds the offload pipeline to a native OpenCL platform
// (Xilinx XRT or any ICD loader). Host buffers handed to AllocateBuffer with
// MemUseHostPtr must come from hostmem so the runtime can keep the pointer.
package opencl

/*
#cgo CFLAGS: -DCL_TARGET_OPENCL_VERSION=120 -DCL_USE_DEPRECATED_OPENCL_1_2_APIS
#cgo linux LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL

#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif

#include <stdlib.h>

static cl_int mmCreateProgram(cl_context ctx, cl_device_id dev, const unsigned char* bin, size_t n, cl_program* out) {
	cl_int err = CL_SUCCESS;
	cl_int status = CL_SUCCESS;
	*out = clCreateProgramWithBinary(ctx, 1, &dev, &n, &bin, &status, &err);
	if (err != CL_SUCCESS) {
		return err;
	}
	if (status != CL_SUCCESS) {
		clReleaseProgram(*out);
		return status;
	}
	err = clBuildProgram(*out, 1, &dev, NULL, NULL, NULL);
	if (err != CL_SUCCESS) {
		clReleaseProgram(*out);
	}
	return err;
}

static cl_int mmEnqueue2D(cl_command_queue q, cl_kernel k, size_t gx, size_t gy, size_t lx, size_t ly, cl_event* ev) {
	size_t global[2] = {gx, gy};
	size_t local[2] = {lx, ly};
	return clEnqueueNDRangeKernel(q, k, 2, NULL, global, local, 0, NULL, ev);
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/samcharles93/mmoffload/internal/device"
	"github.com/samcharles93/mmoffload/internal/hostmem"
)

// Runtime owns one OpenCL context and one profiling-enabled in-order queue
// for the device the caller selects.
type Runtime struct {
	mu      sync.Mutex
	devices []C.cl_device_id
	info    []device.Device

	active  int
	ctx     C.cl_context
	queue   C.cl_command_queue
	started bool
}

// New enumerates accelerator devices across all platforms, falling back to
// any device type when no accelerator is present.
func New() (*Runtime, error) {
	var n C.cl_uint
	if err := check("clGetPlatformIDs", int32(C.clGetPlatformIDs(0, nil, &n))); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errors.New("opencl: no platforms found")
	}
	platforms := make([]C.cl_platform_id, n)
	if err := check("clGetPlatformIDs", int32(C.clGetPlatformIDs(n, &platforms[0], nil))); err != nil {
		return nil, err
	}

	devs := enumerate(platforms, C.CL_DEVICE_TYPE_ACCELERATOR)
	if len(devs) == 0 {
		devs = enumerate(platforms, C.CL_DEVICE_TYPE_ALL)
	}
	if len(devs) == 0 {
		return nil, device.ErrNoDevices
	}

	rt := &Runtime{devices: devs, active: -1}
	for i, d := range devs {
		rt.info = append(rt.info, device.Device{
			Index:  i,
			Name:   deviceString(d, C.CL_DEVICE_NAME),
			Vendor: deviceString(d, C.CL_DEVICE_VENDOR),
			Kind:   deviceKind(d),
		})
	}
	return rt, nil
}

func enumerate(platforms []C.cl_platform_id, kind C.cl_device_type) []C.cl_device_id {
	var out []C.cl_device_id
	for _, p := range platforms {
		var n C.cl_uint
		if C.clGetDeviceIDs(p, kind, 0, nil, &n) != C.CL_SUCCESS || n == 0 {
			continue
		}
		ids := make([]C.cl_device_id, n)
		if C.clGetDeviceIDs(p, kind, n, &ids[0], nil) != C.CL_SUCCESS {
			continue
		}
		out = append(out, ids...)
	}
	return out
}

func deviceString(d C.cl_device_id, param C.cl_device_info) string {
	var size C.size_t
	if C.clGetDeviceInfo(d, param, 0, nil, &size) != C.CL_SUCCESS || size == 0 {
		return ""
	}
	buf := make([]byte, int(size))
	if C.clGetDeviceInfo(d, param, size, unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return ""
	}
	return strings.TrimRight(string(buf), "\x00")
}

func deviceKind(d C.cl_device_id) string {
	var kind C.cl_device_type
	if C.clGetDeviceInfo(d, C.CL_DEVICE_TYPE, C.size_t(unsafe.Sizeof(kind)), unsafe.Pointer(&kind), nil) != C.CL_SUCCESS {
		return ""
	}
	switch {
	case kind&C.CL_DEVICE_TYPE_ACCELERATOR != 0:
		return "accelerator"
	case kind&C.CL_DEVICE_TYPE_GPU != 0:
		return "gpu"
	case kind&C.CL_DEVICE_TYPE_CPU != 0:
		return "cpu"
	default:
		return "other"
	}
}

func (r *Runtime) Name() string {
	return "opencl"
}

func (r *Runtime) Devices(ctx context.Context) ([]device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.Device(nil), r.info...), nil
}

// open creates the context and queue for dev on first use. A runtime serves
// one device for its lifetime.
func (r *Runtime) open(dev device.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		if r.active != dev.Index {
			return fmt.Errorf("opencl: runtime already bound to device %d", r.active)
		}
		return nil
	}
	if dev.Index < 0 || dev.Index >= len(r.devices) {
		return fmt.Errorf("opencl: device index %d out of range", dev.Index)
	}
	id := r.devices[dev.Index]

	var code C.cl_int
	cctx := C.clCreateContext(nil, 1, &id, nil, nil, &code)
	if err := check("clCreateContext", int32(code)); err != nil {
		return err
	}
	queue := C.clCreateCommandQueue(cctx, id, C.CL_QUEUE_PROFILING_ENABLE, &code)
	if err := check("clCreateCommandQueue", int32(code)); err != nil {
		C.clReleaseContext(cctx)
		return err
	}
	r.ctx, r.queue, r.active, r.started = cctx, queue, dev.Index, true
	return nil
}

type program struct {
	handle  C.cl_program
	mu      sync.Mutex
	kernels map[string]C.cl_kernel
}

func (p *program) Kernels() []string {
	var size C.size_t
	if C.clGetProgramInfo(p.handle, C.CL_PROGRAM_KERNEL_NAMES, 0, nil, &size) != C.CL_SUCCESS || size == 0 {
		return nil
	}
	buf := make([]byte, int(size))
	if C.clGetProgramInfo(p.handle, C.CL_PROGRAM_KERNEL_NAMES, size, unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return nil
	}
	names := strings.TrimRight(string(buf), "\x00")
	if names == "" {
		return nil
	}
	return strings.Split(names, ";")
}

func (p *program) kernel(name string) (C.cl_kernel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if k, ok := p.kernels[name]; ok {
		return k, nil
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var code C.cl_int
	k := C.clCreateKernel(p.handle, cname, &code)
	if code == C.CL_INVALID_KERNEL_NAME {
		return nil, fmt.Errorf("%w: %q", device.ErrKernelNotFound, name)
	}
	if err := check("clCreateKernel", int32(code)); err != nil {
		return nil, err
	}
	p.kernels[name] = k
	return k, nil
}

func (p *program) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, k := range p.kernels {
		C.clReleaseKernel(k)
		delete(p.kernels, name)
	}
	if p.handle == nil {
		return nil
	}
	err := check("clReleaseProgram", int32(C.clReleaseProgram(p.handle)))
	p.handle = nil
	return err
}

func (r *Runtime) LoadProgram(ctx context.Context, dev device.Device, binary []byte) (device.Program, error) {
	if len(binary) == 0 {
		return nil, errors.New("opencl: empty program binary")
	}
	if err := r.open(dev); err != nil {
		return nil, err
	}
	cbin := C.CBytes(binary)
	defer C.free(cbin)

	var handle C.cl_program
	code := C.mmCreateProgram(r.ctx, r.devices[dev.Index], (*C.uchar)(cbin), C.size_t(len(binary)), &handle)
	if code == C.CL_INVALID_BINARY {
		return nil, fmt.Errorf("%w: %v", device.ErrDeviceMismatch, Status(code))
	}
	if err := check("clCreateProgramWithBinary", int32(code)); err != nil {
		return nil, err
	}
	return &program{handle: handle, kernels: make(map[string]C.cl_kernel)}, nil
}

type buffer struct {
	mem      C.cl_mem
	n        int
	zeroCopy bool
}

func (b *buffer) Len() int       { return b.n }
func (b *buffer) ZeroCopy() bool { return b.zeroCopy }

func (b *buffer) Release() error {
	if b.mem == nil {
		return nil
	}
	err := check("clReleaseMemObject", int32(C.clReleaseMemObject(b.mem)))
	b.mem = nil
	return err
}

// AllocateBuffer uses CL_MEM_USE_HOST_PTR for page-aligned host slices and
// CL_MEM_COPY_HOST_PTR otherwise.
func (r *Runtime) AllocateBuffer(ctx context.Context, dev device.Device, host []float32, flags device.MemFlags) (device.Buffer, error) {
	if len(host) == 0 {
		return nil, fmt.Errorf("%w: empty host buffer", device.ErrInvalidArgs)
	}
	if err := r.open(dev); err != nil {
		return nil, err
	}

	var clFlags C.cl_mem_flags
	switch {
	case flags.Has(device.MemReadOnly):
		clFlags = C.CL_MEM_READ_ONLY
	case flags.Has(device.MemWriteOnly):
		clFlags = C.CL_MEM_WRITE_ONLY
	default:
		clFlags = C.CL_MEM_READ_WRITE
	}
	zeroCopy := flags.Has(device.MemUseHostPtr) && hostmem.IsAligned(host, hostmem.PageSize())
	if zeroCopy {
		clFlags |= C.CL_MEM_USE_HOST_PTR
	} else {
		clFlags |= C.CL_MEM_COPY_HOST_PTR
	}

	size := C.size_t(len(host) * 4)
	var code C.cl_int
	mem := C.clCreateBuffer(r.ctx, clFlags, size, unsafe.Pointer(&host[0]), &code)
	if err := check("clCreateBuffer", int32(code)); err != nil {
		return nil, err
	}
	return &buffer{mem: mem, n: len(host), zeroCopy: zeroCopy}, nil
}

type event struct {
	once       sync.Once
	handle     C.cl_event
	start, end uint64
	err        error
}

// Profile waits for the command and reads its start/end timestamps. The
// event handle is released after the first call.
func (e *event) Profile() (uint64, uint64, error) {
	e.once.Do(func() {
		defer C.clReleaseEvent(e.handle)
		if err := check("clWaitForEvents", int32(C.clWaitForEvents(1, &e.handle))); err != nil {
			e.err = err
			return
		}
		var start, end C.cl_ulong
		if err := check("clGetEventProfilingInfo", int32(C.clGetEventProfilingInfo(e.handle, C.CL_PROFILING_COMMAND_START, C.size_t(unsafe.Sizeof(start)), unsafe.Pointer(&start), nil))); err != nil {
			e.err = err
			return
		}
		if err := check("clGetEventProfilingInfo", int32(C.clGetEventProfilingInfo(e.handle, C.CL_PROFILING_COMMAND_END, C.size_t(unsafe.Sizeof(end)), unsafe.Pointer(&end), nil))); err != nil {
			e.err = err
			return
		}
		e.start, e.end = uint64(start), uint64(end)
	})
	return e.start, e.end, e.err
}

func (r *Runtime) Dispatch(ctx context.Context, launch device.Launch) (device.Event, error) {
	p, ok := launch.Program.(*program)
	if !ok || p.handle == nil {
		return nil, fmt.Errorf("%w: program was not loaded by this runtime", device.ErrInvalidArgs)
	}
	if _, err := launch.Global.Groups(launch.Local); err != nil {
		return nil, err
	}
	k, err := p.kernel(launch.Kernel)
	if err != nil {
		return nil, err
	}

	for i, arg := range launch.Args {
		idx := C.cl_uint(i)
		var code C.cl_int
		switch v := arg.(type) {
		case *buffer:
			mem := v.mem
			code = C.clSetKernelArg(k, idx, C.size_t(unsafe.Sizeof(mem)), unsafe.Pointer(&mem))
		case int32:
			n := C.cl_int(v)
			code = C.clSetKernelArg(k, idx, C.size_t(unsafe.Sizeof(n)), unsafe.Pointer(&n))
		case int:
			n := C.cl_int(v)
			code = C.clSetKernelArg(k, idx, C.size_t(unsafe.Sizeof(n)), unsafe.Pointer(&n))
		default:
			return nil, fmt.Errorf("%w: argument %d has unsupported type %T", device.ErrInvalidArgs, i, arg)
		}
		if err := check("clSetKernelArg", int32(code)); err != nil {
			return nil, err
		}
	}

	var ev C.cl_event
	code := C.mmEnqueue2D(r.queue, k,
		C.size_t(launch.Global.X), C.size_t(launch.Global.Y),
		C.size_t(launch.Local.X), C.size_t(launch.Local.Y), &ev)
	if err := check("clEnqueueNDRangeKernel", int32(code)); err != nil {
		return nil, err
	}
	return &event{handle: ev}, nil
}

// ReadBuffer performs a blocking read, which also orders it after the kernel
// on the in-order queue.
func (r *Runtime) ReadBuffer(ctx context.Context, buf device.Buffer, dst []float32) error {
	b, ok := buf.(*buffer)
	if !ok || b.mem == nil {
		return fmt.Errorf("%w: buffer was not allocated by this runtime", device.ErrInvalidArgs)
	}
	if len(dst) < b.n {
		return fmt.Errorf("%w: destination holds %d elements, buffer has %d", device.ErrInvalidArgs, len(dst), b.n)
	}
	code := C.clEnqueueReadBuffer(r.queue, b.mem, C.CL_TRUE, 0, C.size_t(b.n*4), unsafe.Pointer(&dst[0]), 0, nil, nil)
	return check("clEnqueueReadBuffer", int32(code))
}

func (r *Runtime) Await(ctx context.Context) error {
	r.mu.Lock()
	queue, started := r.queue, r.started
	r.mu.Unlock()
	if !started {
		return nil
	}
	return check("clFinish", int32(C.clFinish(queue)))
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	var err error
	C.clFinish(r.queue)
	if e := check("clReleaseCommandQueue", int32(C.clReleaseCommandQueue(r.queue))); e != nil {
		err = e
	}
	if e := check("clReleaseContext", int32(C.clReleaseContext(r.ctx))); e != nil && err == nil {
		err = e
	}
	r.queue, r.ctx, r.started, r.active = nil, nil, false, -1
	return err
}
