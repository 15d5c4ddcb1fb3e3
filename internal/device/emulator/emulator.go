// Package emulator is a software model of an OpenCL-style accelerator. It
// loads emulation program containers, binds host buffers and executes
// kernels over an NDRange with work-groups scheduled across goroutines.
package emulator

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/samcharles93/mmoffload/internal/device"
	"github.com/samcharles93/mmoffload/internal/hostmem"
	"github.com/samcharles93/mmoffload/internal/xclbin"
)

const (
	DefaultDeviceName = "xilinx_sw_emu"
	Target            = "sw_emu"
)

type Options struct {
	// DeviceName is reported by Devices and must match program metadata.
	DeviceName string
	// Workers bounds work-group parallelism. Zero means runtime.NumCPU.
	Workers int
}

// Runtime implements device.Runtime in software. Commands run on an
// in-order queue: each command starts after the previous one finishes.
type Runtime struct {
	opts  Options
	epoch time.Time

	mu     sync.Mutex
	tail   chan struct{}
	closed bool
}

func New(opts Options) *Runtime {
	if opts.DeviceName == "" {
		opts.DeviceName = DefaultDeviceName
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	done := make(chan struct{})
	close(done)
	return &Runtime{opts: opts, epoch: time.Now(), tail: done}
}

func (r *Runtime) Name() string {
	return "emulator"
}

func (r *Runtime) Devices(ctx context.Context) ([]device.Device, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	return []device.Device{{
		Index:  0,
		Name:   r.opts.DeviceName,
		Vendor: "Xilinx",
		Kind:   "accelerator",
	}}, nil
}

type program struct {
	bin     *xclbin.Binary
	kernels []string
}

func (p *program) Kernels() []string {
	return slices.Clone(p.kernels)
}

func (p *program) Release() error {
	p.bin = nil
	return nil
}

func (r *Runtime) LoadProgram(ctx context.Context, dev device.Device, binary []byte) (device.Program, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	bin, err := xclbin.Parse(binary)
	if err != nil {
		return nil, fmt.Errorf("load program: %w", err)
	}
	if bin.Meta.Device != dev.Name {
		return nil, fmt.Errorf("%w: binary built for %q, device is %q", device.ErrDeviceMismatch, bin.Meta.Device, dev.Name)
	}
	names := bin.KernelNames()
	for _, name := range names {
		if _, ok := kernels[name]; !ok {
			return nil, fmt.Errorf("%w: emulator has no implementation of %q", device.ErrKernelNotFound, name)
		}
	}
	return &program{bin: bin, kernels: names}, nil
}

type buffer struct {
	data     []float32
	shadow   *hostmem.Block
	zeroCopy bool
	flags    device.MemFlags
}

func (b *buffer) Len() int       { return len(b.data) }
func (b *buffer) ZeroCopy() bool { return b.zeroCopy }

func (b *buffer) Release() error {
	b.data = nil
	if b.shadow != nil {
		err := b.shadow.Free()
		b.shadow = nil
		return err
	}
	return nil
}

// AllocateBuffer aliases host when MemUseHostPtr is set and host is
// page-aligned. Otherwise the contents are staged through a runtime-owned
// aligned copy, which costs an extra memcpy in each direction.
func (r *Runtime) AllocateBuffer(ctx context.Context, dev device.Device, host []float32, flags device.MemFlags) (device.Buffer, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	if flags.Has(device.MemUseHostPtr) && hostmem.IsAligned(host, hostmem.PageSize()) {
		return &buffer{data: host, zeroCopy: true, flags: flags}, nil
	}
	shadow, err := hostmem.AllocFloat32(len(host))
	if err != nil {
		return nil, fmt.Errorf("allocate device buffer: %w", err)
	}
	data := shadow.Float32()
	copy(data, host)
	return &buffer{data: data, shadow: shadow, flags: flags}, nil
}

type event struct {
	done       chan struct{}
	start, end uint64
	err        error
}

func (e *event) Profile() (uint64, uint64, error) {
	<-e.done
	return e.start, e.end, e.err
}

func (r *Runtime) Dispatch(ctx context.Context, launch device.Launch) (device.Event, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	p, ok := launch.Program.(*program)
	if !ok || p.bin == nil {
		return nil, fmt.Errorf("%w: program was not loaded by this runtime", device.ErrInvalidArgs)
	}
	if !slices.Contains(p.kernels, launch.Kernel) {
		return nil, fmt.Errorf("%w: %q", device.ErrKernelNotFound, launch.Kernel)
	}
	groups, err := launch.Global.Groups(launch.Local)
	if err != nil {
		return nil, err
	}
	k := kernels[launch.Kernel]
	inv, err := k.bind(launch.Args, launch.Global, launch.Local)
	if err != nil {
		return nil, err
	}

	ev := &event{done: make(chan struct{})}
	r.enqueue(ev.done, func() {
		ev.start = r.now()
		r.runGroups(groups, launch.Local, inv)
		ev.end = r.now()
	})
	return ev, nil
}

// ReadBuffer blocks until all previously enqueued commands have finished,
// then copies the buffer contents into dst.
func (r *Runtime) ReadBuffer(ctx context.Context, buf device.Buffer, dst []float32) error {
	if err := r.check(); err != nil {
		return err
	}
	b, ok := buf.(*buffer)
	if !ok {
		return fmt.Errorf("%w: buffer was not allocated by this runtime", device.ErrInvalidArgs)
	}
	if len(dst) < len(b.data) {
		return fmt.Errorf("%w: destination holds %d elements, buffer has %d", device.ErrInvalidArgs, len(dst), len(b.data))
	}
	done := make(chan struct{})
	r.enqueue(done, func() {
		if !sameBacking(dst, b.data) {
			copy(dst, b.data)
		}
	})
	return r.wait(ctx, done)
}

// Await blocks until the queue is drained.
func (r *Runtime) Await(ctx context.Context) error {
	r.mu.Lock()
	tail := r.tail
	r.mu.Unlock()
	return r.wait(ctx, tail)
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	tail := r.tail
	r.mu.Unlock()
	<-tail
	return nil
}

func (r *Runtime) check() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return device.ErrClosed
	}
	return nil
}

func (r *Runtime) enqueue(done chan struct{}, fn func()) {
	r.mu.Lock()
	prev := r.tail
	r.tail = done
	r.mu.Unlock()

	go func() {
		<-prev
		fn()
		close(done)
	}()
}

func (r *Runtime) wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sameBacking(a, b []float32) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}

func (r *Runtime) now() uint64 {
	return uint64(time.Since(r.epoch).Nanoseconds())
}

// runGroups executes every work-group, spreading contiguous runs of groups
// over the worker goroutines.
func (r *Runtime) runGroups(groups, local device.NDRange, inv invocation) {
	total := groups.Size()
	workers := min(r.opts.Workers, total)
	perWorker := (total + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		first := w * perWorker
		last := min(first+perWorker, total)
		if first >= last {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			scratch := inv.scratch(local)
			for id := first; id < last; id++ {
				inv.group(id%groups.X, id/groups.X, scratch)
			}
		}()
	}
	wg.Wait()
}
