// Package offload runs a blocked matrix multiply on an accelerator: it
// selects a device, loads the kernel program, binds the host matrices,
// dispatches one 2-D NDRange, reads the result back and reports the
// device-measured kernel time.
package offload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samcharles93/mmoffload/internal/device"
	"github.com/samcharles93/mmoffload/internal/logger"
	"github.com/samcharles93/mmoffload/internal/matrix"
)

// Result describes a completed (or aborted) run.
type Result struct {
	// KernelNS is end-start of the kernel command as reported by the device.
	KernelNS uint64         `json:"kernel_ns"`
	Device   device.Device  `json:"device"`
	State    State          `json:"state"`
	Global   device.NDRange `json:"global"`
	Local    device.NDRange `json:"local"`
	// ZeroCopy is true when every buffer aliased host memory.
	ZeroCopy bool `json:"zero_copy"`
}

// KernelTime returns KernelNS as a time.Duration.
func (r Result) KernelTime() time.Duration {
	return time.Duration(r.KernelNS)
}

// Pipeline offloads one multiply per Run call to the first device of a
// runtime. It is not safe for concurrent use.
type Pipeline struct {
	cfg      Config
	rt       device.Runtime
	programs device.ProgramSource
	log      logger.Logger
}

// New validates cfg and returns a pipeline bound to rt. A nil log discards
// records. No device interaction happens until Run.
func New(cfg Config, rt device.Runtime, programs device.ProgramSource, log logger.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rt == nil {
		return nil, errors.New("offload: runtime is required")
	}
	if programs == nil {
		return nil, errors.New("offload: program source is required")
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Pipeline{cfg: cfg, rt: rt, programs: programs, log: log.With("runtime", rt.Name())}, nil
}

// Config returns the validated configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Check verifies that a, b and out are N x N with N = Config.Size. It runs
// before any device interaction.
func (p *Pipeline) Check(a, b, out *matrix.Matrix) error {
	n, bs := p.cfg.Size, p.cfg.BlockSize
	for _, m := range []struct {
		name string
		m    *matrix.Matrix
	}{{"A", a}, {"B", b}, {"C", out}} {
		if m.m == nil {
			return configErr(fmt.Sprintf("Matrix %s is missing.", m.name))
		}
		if m.m.Rows%bs != 0 || m.m.Cols%bs != 0 {
			return configErr(fmt.Sprintf("Matrix sizes must be a multiple of %d.", bs))
		}
		if m.m.Rows != n || m.m.Cols != n {
			return configErr(fmt.Sprintf("Matrix %s is %s, expected %d x %d.", m.name, m.m, n, n))
		}
		if len(m.m.Data) != n*n {
			return configErr(fmt.Sprintf("Matrix %s holds %d elements, expected %d.", m.name, len(m.m.Data), n*n))
		}
	}
	return nil
}

// Run computes out = a*b on the first device the runtime reports. Every
// resource acquired during the run is released before Run returns; the
// runtime itself stays open.
func (p *Pipeline) Run(ctx context.Context, a, b, out *matrix.Matrix) (res Result, err error) {
	if err := p.Check(a, b, out); err != nil {
		return res, err
	}
	res.State = Uninitialized
	n, bs := p.cfg.Size, p.cfg.BlockSize
	res.Global = device.NDRange{X: n, Y: n}
	res.Local = device.NDRange{X: bs, Y: bs}

	fail := func(kind, cause error) error {
		p.log.Error("offload failed", "state", res.State, "error", cause)
		return &StageError{Stage: res.State, Kind: kind, Err: cause}
	}

	devs, err := p.rt.Devices(ctx)
	if err != nil {
		return res, fail(ErrDevice, err)
	}
	if len(devs) == 0 {
		return res, fail(ErrDevice, device.ErrNoDevices)
	}
	dev := devs[0]
	res.Device = dev
	p.advance(&res, DeviceSelected, "device", dev.Name, "available", len(devs))

	binary, err := p.programs.Resolve(p.cfg.Kernel, dev.Name)
	if err != nil {
		return res, fail(ErrProgram, err)
	}
	prog, err := p.rt.LoadProgram(ctx, dev, binary)
	if err != nil {
		return res, fail(ErrProgram, err)
	}
	defer p.release("program", prog)
	p.advance(&res, ProgramLoaded, "kernel", p.cfg.Kernel, "bytes", len(binary))

	flags := device.MemReadWrite | device.MemUseHostPtr
	bufs := make([]device.Buffer, 0, 3)
	defer func() {
		for _, buf := range bufs {
			p.release("buffer", buf)
		}
	}()
	res.ZeroCopy = true
	for _, m := range []*matrix.Matrix{out, a, b} {
		buf, err := p.rt.AllocateBuffer(ctx, dev, m.Data, flags)
		if err != nil {
			return res, fail(ErrBuffer, err)
		}
		bufs = append(bufs, buf)
		res.ZeroCopy = res.ZeroCopy && buf.ZeroCopy()
	}
	if !res.ZeroCopy {
		p.log.Warn("host buffers are not page aligned; runtime will stage an extra copy",
			"aligned_config", p.cfg.Aligned)
	}
	p.advance(&res, BuffersBound, "zero_copy", res.ZeroCopy)

	ev, err := p.rt.Dispatch(ctx, device.Launch{
		Program: prog,
		Kernel:  p.cfg.Kernel,
		Global:  res.Global,
		Local:   res.Local,
		Args:    []any{bufs[0], bufs[1], bufs[2], int32(a.Cols), int32(b.Cols)},
	})
	if err != nil {
		return res, fail(ErrDispatch, err)
	}
	// Buffers must not be released while the kernel may still touch them,
	// so the drain ignores cancellation of ctx.
	defer func() {
		if err != nil {
			_ = p.rt.Await(context.WithoutCancel(ctx))
		}
	}()
	p.advance(&res, KernelDispatched, "global", res.Global.String(), "local", res.Local.String())

	if err := p.rt.ReadBuffer(ctx, bufs[0], out.Data); err != nil {
		return res, fail(ErrTransfer, err)
	}
	p.advance(&res, ResultsRetrieved)

	elapsed, err := device.Elapsed(ev)
	if err != nil {
		return res, fail(ErrDevice, err)
	}
	res.KernelNS += elapsed

	if err := p.rt.Await(ctx); err != nil {
		return res, fail(ErrDevice, err)
	}
	p.advance(&res, Finished, "kernel_ns", res.KernelNS)
	return res, nil
}

func (p *Pipeline) advance(res *Result, next State, args ...any) {
	p.log.Debug("pipeline state", append([]any{"from", res.State, "to", next}, args...)...)
	res.State = next
}

type releaser interface {
	Release() error
}

func (p *Pipeline) release(what string, r releaser) {
	if err := r.Release(); err != nil {
		p.log.Warn("release failed", "resource", what, "error", err)
	}
}
