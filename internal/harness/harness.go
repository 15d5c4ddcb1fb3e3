// Package harness drives one end-to-end check: it fills two random square
// operands, multiplies them on the host and on the accelerator, compares the
// results element by element and prints a verdict with the kernel time.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/samcharles93/mmoffload/internal/device"
	"github.com/samcharles93/mmoffload/internal/logger"
	"github.com/samcharles93/mmoffload/internal/matrix"
	"github.com/samcharles93/mmoffload/internal/offload"
	"github.com/samcharles93/mmoffload/internal/reference"
	"github.com/samcharles93/mmoffload/internal/verify"
)

// ErrMismatch is returned when the device result differs from the host
// reference.
var ErrMismatch = errors.New("device result does not match reference")

const emulationNote = "Note: Wall Clock Time is meaningful for real hardware execution only,not for emulation."

type Options struct {
	Config   offload.Config
	Runtime  device.Runtime
	Programs device.ProgramSource
	// Seed seeds the operand generator. Equal seeds give equal operands.
	Seed uint64
	// Zero fills both operands with zeros instead of random values.
	Zero bool
	// Tamper, when set, is applied to the device output before comparison.
	Tamper func(out []float32)
	Logger logger.Logger
}

// Outcome summarises a run for the CLI and the HTTP service.
type Outcome struct {
	Config  offload.Config `json:"config"`
	Result  offload.Result `json:"result"`
	Report  verify.Report  `json:"report"`
	Verdict string         `json:"verdict"`
	Seed    uint64         `json:"seed"`
	Error   string         `json:"error,omitempty"`
}

func (o Outcome) Passed() bool {
	return o.Error == "" && o.Report.Match
}

// ExitCode is 0 for a verified match and 1 for any failure.
func (o Outcome) ExitCode() int {
	if o.Passed() {
		return 0
	}
	return 1
}

// Run executes the check and writes the console transcript to w. The
// returned error is nil only when the device result matched.
func Run(ctx context.Context, opts Options, w io.Writer) (Outcome, error) {
	cfg := opts.Config
	out := Outcome{Config: cfg, Seed: opts.Seed, Verdict: "FAILED"}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	fail := func(err error) (Outcome, error) {
		out.Error = err.Error()
		return out, err
	}

	if cfg.MaxSize > 0 && cfg.Size > cfg.MaxSize {
		err := cfg.Validate()
		_, _ = fmt.Fprintln(w, err)
		return fail(err)
	}
	n := cfg.Size
	_, _ = fmt.Fprintf(w, "Matrix sizes:\n  A: %d x %d\n  B: %d x %d\n  C: %d x %d\n", n, n, n, n, n, n)
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintln(w, err)
		return fail(err)
	}
	if opts.Runtime == nil || opts.Programs == nil {
		return fail(errors.New("harness: runtime and program source are required"))
	}

	mats, err := allocate(n, 4, cfg.Aligned)
	if err != nil {
		return fail(err)
	}
	defer func() {
		for _, m := range mats {
			_ = m.Release()
		}
	}()
	a, b, cpu, fpga := mats[0], mats[1], mats[2], mats[3]
	if !opts.Zero {
		rng := matrix.NewRand(opts.Seed)
		fillInterleaved(rng, a, b, n)
	}
	log.Debug("operands ready", "n", n, "seed", opts.Seed, "zero", opts.Zero, "aligned", a.Aligned())

	_, _ = fmt.Fprintln(w, "Computing MM on CPU...")
	reference.MatMul(a, b, cpu)
	_, _ = fmt.Fprintln(w, "Finished. ")

	_, _ = fmt.Fprintln(w, "Computing MM on FPGA...")
	pipe, err := offload.New(cfg, opts.Runtime, opts.Programs, log)
	if err != nil {
		_, _ = fmt.Fprintln(w, err)
		return fail(err)
	}
	_, _ = fmt.Fprintf(w, "Launching for device %d (global size: %d, %d)\n", 0, n, n)
	_, _ = fmt.Fprintf(w, "Launching for device %d (local size: %d, %d)\n", 0, cfg.BlockSize, cfg.BlockSize)
	res, err := pipe.Run(ctx, a, b, fpga)
	out.Result = res
	if err != nil {
		_, _ = fmt.Fprintf(w, "Error: %v\n", err)
		return fail(err)
	}
	_, _ = fmt.Fprintln(w, "Finished. ")

	if opts.Tamper != nil {
		opts.Tamper(fpga.Data)
	}
	out.Report = verify.Compare(cpu.Data, fpga.Data)
	out.Verdict = out.Report.Verdict()
	if !out.Report.Match {
		out.Report.WriteMismatch(w)
	}
	_, _ = fmt.Fprintf(w, "TEST %s\n", out.Verdict)
	_, _ = fmt.Fprintf(w, "Wall Clock Time (Kernel execution): %d\n", res.KernelNS)
	_, _ = fmt.Fprintln(w, emulationNote)

	log.Info("run complete", "verdict", out.Verdict, "kernel_time", res.KernelTime(), "device", res.Device.Name)
	if !out.Report.Match {
		err := fmt.Errorf("%w at index %d", ErrMismatch, out.Report.Index)
		out.Error = err.Error()
		return out, err
	}
	return out, nil
}

func allocate(n, count int, aligned bool) ([]*matrix.Matrix, error) {
	mats := make([]*matrix.Matrix, 0, count)
	for range count {
		if !aligned {
			mats = append(mats, matrix.NewUnaligned(n, n))
			continue
		}
		m, err := matrix.NewAligned(n, n)
		if err != nil {
			for _, prev := range mats {
				_ = prev.Release()
			}
			return nil, fmt.Errorf("allocate %d x %d matrix: %w", n, n, err)
		}
		mats = append(mats, m)
	}
	return mats, nil
}

// fillInterleaved draws A[i] then B[i] for each i, each in [0, n).
func fillInterleaved(rng interface{ IntN(int) int }, a, b *matrix.Matrix, n int) {
	for i := range a.Data {
		a.Data[i] = float32(rng.IntN(n))
		b.Data[i] = float32(rng.IntN(n))
	}
}
