package emulator

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/samcharles93/mmoffload/internal/device"
	"github.com/samcharles93/mmoffload/internal/matrix"
	"github.com/samcharles93/mmoffload/internal/reference"
	"github.com/samcharles93/mmoffload/internal/xclbin"
)

func testBinary(t *testing.T, deviceName string, kernels ...string) []byte {
	t.Helper()
	meta := xclbin.Metadata{Device: deviceName, Target: Target}
	for _, k := range kernels {
		meta.Kernels = append(meta.Kernels, xclbin.Kernel{Name: k})
	}
	data, err := xclbin.Build(meta, nil)
	if err != nil {
		t.Fatalf("build binary: %v", err)
	}
	return data
}

type setup struct {
	rt   *Runtime
	dev  device.Device
	prog device.Program
}

func newSetup(t *testing.T, opts Options) setup {
	t.Helper()
	ctx := context.Background()
	rt := New(opts)
	t.Cleanup(func() { _ = rt.Close() })

	devs, err := rt.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devs) != 1 {
		t.Fatalf("expected one device, got %d", len(devs))
	}
	prog, err := rt.LoadProgram(ctx, devs[0], testBinary(t, devs[0].Name, MatrixMultKernel))
	if err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}
	return setup{rt: rt, dev: devs[0], prog: prog}
}

func runMatrixMult(t *testing.T, s setup, a, b, c *matrix.Matrix, block int) uint64 {
	t.Helper()
	ctx := context.Background()
	flags := device.MemReadWrite | device.MemUseHostPtr

	bufs := make([]device.Buffer, 3)
	for i, m := range []*matrix.Matrix{c, a, b} {
		buf, err := s.rt.AllocateBuffer(ctx, s.dev, m.Data, flags)
		if err != nil {
			t.Fatalf("AllocateBuffer: %v", err)
		}
		bufs[i] = buf
	}
	defer func() {
		for _, b := range bufs {
			_ = b.Release()
		}
	}()

	ev, err := s.rt.Dispatch(ctx, device.Launch{
		Program: s.prog,
		Kernel:  MatrixMultKernel,
		Global:  device.NDRange{X: c.Cols, Y: c.Rows},
		Local:   device.NDRange{X: block, Y: block},
		Args:    []any{bufs[0], bufs[1], bufs[2], int32(a.Cols), int32(b.Cols)},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := s.rt.ReadBuffer(ctx, bufs[0], c.Data); err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	if err := s.rt.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}
	d, err := device.Elapsed(ev)
	if err != nil {
		t.Fatalf("Elapsed: %v", err)
	}
	return d
}

func alignedRand(t *testing.T, rows, cols int, seed uint64) *matrix.Matrix {
	t.Helper()
	m, err := matrix.NewAligned(rows, cols)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Release() })
	m.FillRandInt(matrix.NewRand(seed), 32)
	return m
}

func TestMatrixMultMatchesReference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		m, k, n int
		block   int
		workers int
	}{
		{"square 32/16", 32, 32, 32, 16, 0},
		{"single group", 16, 16, 16, 16, 1},
		{"rectangular", 32, 48, 64, 16, 3},
		{"small blocks", 64, 64, 64, 8, 2},
	}

	for _, tc := range tests {
		s := newSetup(t, Options{Workers: tc.workers})
		a := alignedRand(t, tc.m, tc.k, 1)
		b := alignedRand(t, tc.k, tc.n, 2)
		c, err := matrix.NewAligned(tc.m, tc.n)
		if err != nil {
			t.Fatal(err)
		}

		runMatrixMult(t, s, a, b, c, tc.block)
		want := reference.Multiply(a, b)
		if !slices.Equal(c.Data, want.Data) {
			t.Errorf("%s: emulator output differs from reference", tc.name)
		}
		_ = c.Release()
	}
}

func TestUnalignedBuffersAreCopied(t *testing.T) {
	t.Parallel()
	s := newSetup(t, Options{})

	a := matrix.New(16, 16)
	b := matrix.New(16, 16)
	a.FillRandInt(matrix.NewRand(5), 16)
	b.FillRandInt(matrix.NewRand(6), 16)

	// Offset by one element so the host slice cannot be page aligned.
	backing := make([]float32, 16*16+1)
	c, err := matrix.FromData(16, 16, backing[1:])
	if err != nil {
		t.Fatal(err)
	}

	buf, err := s.rt.AllocateBuffer(context.Background(), s.dev, c.Data, device.MemReadWrite|device.MemUseHostPtr)
	if err != nil {
		t.Fatal(err)
	}
	if buf.ZeroCopy() {
		t.Fatal("unaligned host slice should not be aliased")
	}
	_ = buf.Release()

	runMatrixMult(t, s, a, b, c, 16)
	if !slices.Equal(c.Data, reference.Multiply(a, b).Data) {
		t.Fatal("copied-buffer path produced wrong result")
	}
}

func TestAlignedBufferIsZeroCopy(t *testing.T) {
	t.Parallel()
	s := newSetup(t, Options{})
	m := alignedRand(t, 16, 16, 9)

	buf, err := s.rt.AllocateBuffer(context.Background(), s.dev, m.Data, device.MemReadWrite|device.MemUseHostPtr)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = buf.Release() }()
	if !buf.ZeroCopy() {
		t.Fatal("aligned host slice should be aliased")
	}
	if buf.Len() != 256 {
		t.Fatalf("Len() = %d", buf.Len())
	}

	plain, err := s.rt.AllocateBuffer(context.Background(), s.dev, m.Data, device.MemReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = plain.Release() }()
	if plain.ZeroCopy() {
		t.Fatal("buffer without MemUseHostPtr should not alias host memory")
	}
}

func TestZeroOperandsGiveZeroOutput(t *testing.T) {
	t.Parallel()
	s := newSetup(t, Options{})
	a, _ := matrix.NewAligned(32, 32)
	b, _ := matrix.NewAligned(32, 32)
	c, _ := matrix.NewAligned(32, 32)
	defer func() { _, _, _ = a.Release(), b.Release(), c.Release() }()
	for i := range c.Data {
		c.Data[i] = 7
	}

	runMatrixMult(t, s, a, b, c, 16)
	for i, v := range c.Data {
		if v != 0 {
			t.Fatalf("c[%d] = %v, want 0", i, v)
		}
	}
}

func TestEventTimestampsOrdered(t *testing.T) {
	t.Parallel()
	s := newSetup(t, Options{})
	a := alignedRand(t, 32, 32, 1)
	b := alignedRand(t, 32, 32, 2)
	c, _ := matrix.NewAligned(32, 32)
	defer func() { _ = c.Release() }()

	ctx := context.Background()
	var bufs []device.Buffer
	for _, m := range []*matrix.Matrix{c, a, b} {
		buf, err := s.rt.AllocateBuffer(ctx, s.dev, m.Data, device.MemUseHostPtr)
		if err != nil {
			t.Fatal(err)
		}
		bufs = append(bufs, buf)
	}
	ev, err := s.rt.Dispatch(ctx, device.Launch{
		Program: s.prog,
		Kernel:  MatrixMultKernel,
		Global:  device.NDRange{X: 32, Y: 32},
		Local:   device.NDRange{X: 16, Y: 16},
		Args:    []any{bufs[0], bufs[1], bufs[2], 32, 32},
	})
	if err != nil {
		t.Fatal(err)
	}
	start, end, err := ev.Profile()
	if err != nil {
		t.Fatal(err)
	}
	if end < start {
		t.Fatalf("end %d before start %d", end, start)
	}
}

func TestLoadProgramErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rt := New(Options{DeviceName: "emu0"})
	defer func() { _ = rt.Close() }()
	dev := device.Device{Name: "emu0"}

	if _, err := rt.LoadProgram(ctx, dev, testBinary(t, "other", MatrixMultKernel)); !errors.Is(err, device.ErrDeviceMismatch) {
		t.Fatalf("expected ErrDeviceMismatch, got %v", err)
	}
	if _, err := rt.LoadProgram(ctx, dev, testBinary(t, "emu0", "vadd")); !errors.Is(err, device.ErrKernelNotFound) {
		t.Fatalf("expected ErrKernelNotFound, got %v", err)
	}
	if _, err := rt.LoadProgram(ctx, dev, []byte("garbage binary data")); !errors.Is(err, xclbin.ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestDispatchValidation(t *testing.T) {
	t.Parallel()
	s := newSetup(t, Options{})
	ctx := context.Background()
	m := alignedRand(t, 32, 32, 3)
	buf, err := s.rt.AllocateBuffer(ctx, s.dev, m.Data, device.MemUseHostPtr)
	if err != nil {
		t.Fatal(err)
	}
	args := []any{buf, buf, buf, int32(32), int32(32)}

	tests := []struct {
		name   string
		launch device.Launch
		want   error
	}{
		{"unknown kernel", device.Launch{Program: s.prog, Kernel: "vadd", Global: device.NDRange{X: 32, Y: 32}, Local: device.NDRange{X: 16, Y: 16}, Args: args}, device.ErrKernelNotFound},
		{"bad range", device.Launch{Program: s.prog, Kernel: MatrixMultKernel, Global: device.NDRange{X: 30, Y: 30}, Local: device.NDRange{X: 16, Y: 16}, Args: args}, device.ErrInvalidRange},
		{"non-square group", device.Launch{Program: s.prog, Kernel: MatrixMultKernel, Global: device.NDRange{X: 32, Y: 32}, Local: device.NDRange{X: 16, Y: 8}, Args: args}, device.ErrInvalidRange},
		{"missing args", device.Launch{Program: s.prog, Kernel: MatrixMultKernel, Global: device.NDRange{X: 32, Y: 32}, Local: device.NDRange{X: 16, Y: 16}, Args: args[:3]}, device.ErrInvalidArgs},
		{"scalar type", device.Launch{Program: s.prog, Kernel: MatrixMultKernel, Global: device.NDRange{X: 32, Y: 32}, Local: device.NDRange{X: 16, Y: 16}, Args: []any{buf, buf, buf, "32", int32(32)}}, device.ErrInvalidArgs},
		{"width mismatch", device.Launch{Program: s.prog, Kernel: MatrixMultKernel, Global: device.NDRange{X: 32, Y: 32}, Local: device.NDRange{X: 16, Y: 16}, Args: []any{buf, buf, buf, int32(32), int32(16)}}, device.ErrInvalidArgs},
		{"foreign program", device.Launch{Program: nil, Kernel: MatrixMultKernel}, device.ErrInvalidArgs},
	}
	for _, tc := range tests {
		if _, err := s.rt.Dispatch(ctx, tc.launch); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestClosedRuntimeRejectsCommands(t *testing.T) {
	t.Parallel()
	rt := New(Options{})
	if err := rt.Close(); err != nil {
		t.Fatal(err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := rt.Devices(context.Background()); !errors.Is(err, device.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestAwaitHonoursContext(t *testing.T) {
	t.Parallel()
	rt := New(Options{})
	defer func() { _ = rt.Close() }()

	block := make(chan struct{})
	done := make(chan struct{})
	rt.enqueue(done, func() { <-block })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rt.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(block)
	if err := rt.Await(context.Background()); err != nil {
		t.Fatalf("Await after completion: %v", err)
	}
}
