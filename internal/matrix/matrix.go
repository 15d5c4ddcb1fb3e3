// Package matrix holds the dense float32 operands shared by the host
// reference and the accelerator pipeline.
package matrix

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/samcharles93/mmoffload/internal/hostmem"
)

var errNegativeDim = errors.New("matrix: negative dimension")

// Matrix is a dense row-major matrix of float32 values.
//
// Matrices created with NewAligned are backed by page-aligned memory so an
// accelerator runtime can use the host pointer directly; they must be
// released with Release.
type Matrix struct {
	Rows, Cols int
	Data       []float32

	mem *hostmem.Block
}

// New allocates a zeroed matrix on the Go heap.
func New(rows, cols int) *Matrix {
	if rows < 0 || cols < 0 {
		panic(errNegativeDim)
	}
	return &Matrix{
		Rows: rows,
		Cols: cols,
		Data: make([]float32, rows*cols),
	}
}

// NewAligned allocates a zeroed matrix whose backing array starts on a page boundary.
func NewAligned(rows, cols int) (*Matrix, error) {
	if rows < 0 || cols < 0 {
		return nil, errNegativeDim
	}
	mem, err := hostmem.AllocFloat32(rows * cols)
	if err != nil {
		return nil, fmt.Errorf("allocate %dx%d matrix: %w", rows, cols, err)
	}
	return &Matrix{
		Rows: rows,
		Cols: cols,
		Data: mem.Float32(),
		mem:  mem,
	}, nil
}

// NewUnaligned allocates a zeroed heap matrix whose backing array is offset
// by one element from an 8-byte aligned allocation, so it never starts on a
// page boundary. Runtimes must stage it through a copy.
func NewUnaligned(rows, cols int) *Matrix {
	if rows < 0 || cols < 0 {
		panic(errNegativeDim)
	}
	backing := make([]float32, rows*cols+1)
	return &Matrix{
		Rows: rows,
		Cols: cols,
		Data: backing[1:],
	}
}

// FromData wraps data as a rows x cols matrix without copying.
func FromData(rows, cols int, data []float32) (*Matrix, error) {
	if rows < 0 || cols < 0 {
		return nil, errNegativeDim
	}
	if rows*cols != len(data) {
		return nil, fmt.Errorf("matrix: data length %d does not match %dx%d", len(data), rows, cols)
	}
	return &Matrix{Rows: rows, Cols: cols, Data: data}, nil
}

// Release frees aligned backing memory. It is a no-op for heap matrices.
func (m *Matrix) Release() error {
	if m == nil || m.mem == nil {
		return nil
	}
	err := m.mem.Free()
	m.mem = nil
	m.Data = nil
	return err
}

// At returns element (i, j).
func (m *Matrix) At(i, j int) float32 {
	return m.Data[i*m.Cols+j]
}

// Set stores v at (i, j).
func (m *Matrix) Set(i, j int, v float32) {
	m.Data[i*m.Cols+j] = v
}

// Row returns a view of row i.
func (m *Matrix) Row(i int) []float32 {
	off := i * m.Cols
	return m.Data[off : off+m.Cols]
}

// Square reports whether Rows == Cols.
func (m *Matrix) Square() bool {
	return m.Rows == m.Cols
}

// Aligned reports whether the backing array is page-aligned.
func (m *Matrix) Aligned() bool {
	return hostmem.IsAligned(m.Data, hostmem.PageSize())
}

// Zero clears every element.
func (m *Matrix) Zero() {
	clear(m.Data)
}

// FillRandInt fills m with integer values in [0, n) drawn from rng.
// Integral values keep products and sums exact in float32 for the sizes this
// tool supports, so results can be compared without tolerance.
func (m *Matrix) FillRandInt(rng *rand.Rand, n int) {
	if n <= 0 {
		m.Zero()
		return
	}
	for i := range m.Data {
		m.Data[i] = float32(rng.IntN(n))
	}
}

// NewRand returns a PCG-backed generator seeded from seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// SameShape reports whether a and b have identical dimensions.
func SameShape(a, b *Matrix) bool {
	return a.Rows == b.Rows && a.Cols == b.Cols
}

// String renders the shape as "R x C".
func (m *Matrix) String() string {
	return fmt.Sprintf("%d x %d", m.Rows, m.Cols)
}
