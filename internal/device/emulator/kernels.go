package emulator

import (
	"fmt"

	"github.com/samcharles93/mmoffload/internal/device"
)

// MatrixMultKernel is the blocked matrix multiply kernel name.
const MatrixMultKernel = "matrixMult"

// MatrixMultArgs are the kernel parameter names, in order.
var MatrixMultArgs = []string{"C", "A", "B", "A_width", "B_width"}

type kernel interface {
	bind(args []any, global, local device.NDRange) (invocation, error)
}

// invocation is a kernel bound to its arguments. group executes one
// work-group using per-worker scratch memory (the work-group's local memory).
type invocation interface {
	scratch(local device.NDRange) []float32
	group(gx, gy int, local []float32)
}

var kernels = map[string]kernel{
	MatrixMultKernel: matrixMult{},
}

// matrixMult computes C = A*B with C laid out over the global range
// (X = columns, Y = rows). Each work-group owns one block x block tile of C
// and walks the shared dimension one tile at a time, staging a tile of A and
// a tile of B in local memory.
type matrixMult struct{}

type matrixMultInv struct {
	c, a, b        []float32
	aWidth, bWidth int
	cWidth         int
	block          int
}

func (matrixMult) bind(args []any, global, local device.NDRange) (invocation, error) {
	if len(args) != len(MatrixMultArgs) {
		return nil, fmt.Errorf("%w: matrixMult takes %d arguments, got %d", device.ErrInvalidArgs, len(MatrixMultArgs), len(args))
	}
	var bufs [3][]float32
	for i := range bufs {
		b, ok := args[i].(*buffer)
		if !ok {
			return nil, fmt.Errorf("%w: argument %s must be a buffer from this runtime", device.ErrInvalidArgs, MatrixMultArgs[i])
		}
		bufs[i] = b.data
	}
	aWidth, err := intArg(args[3], MatrixMultArgs[3])
	if err != nil {
		return nil, err
	}
	bWidth, err := intArg(args[4], MatrixMultArgs[4])
	if err != nil {
		return nil, err
	}

	block := local.X
	if local.Y != block {
		return nil, fmt.Errorf("%w: matrixMult needs a square work-group, got (%s)", device.ErrInvalidRange, local)
	}
	if global.X != bWidth {
		return nil, fmt.Errorf("%w: global width %d does not match B_width %d", device.ErrInvalidArgs, global.X, bWidth)
	}
	if aWidth <= 0 || aWidth%block != 0 {
		return nil, fmt.Errorf("%w: A_width %d is not a positive multiple of %d", device.ErrInvalidArgs, aWidth, block)
	}

	height := global.Y
	inv := &matrixMultInv{
		c: bufs[0], a: bufs[1], b: bufs[2],
		aWidth: aWidth, bWidth: bWidth,
		cWidth: global.X,
		block:  block,
	}
	switch {
	case len(inv.c) < height*inv.cWidth:
		return nil, fmt.Errorf("%w: C holds %d elements, need %d", device.ErrInvalidArgs, len(inv.c), height*inv.cWidth)
	case len(inv.a) < height*aWidth:
		return nil, fmt.Errorf("%w: A holds %d elements, need %d", device.ErrInvalidArgs, len(inv.a), height*aWidth)
	case len(inv.b) < aWidth*bWidth:
		return nil, fmt.Errorf("%w: B holds %d elements, need %d", device.ErrInvalidArgs, len(inv.b), aWidth*bWidth)
	}
	return inv, nil
}

func intArg(v any, name string) (int, error) {
	switch n := v.(type) {
	case int32:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("%w: argument %s must be an integer, got %T", device.ErrInvalidArgs, name, v)
	}
}

func (m *matrixMultInv) scratch(local device.NDRange) []float32 {
	n := local.Size()
	return make([]float32, 3*n)
}

func (m *matrixMultInv) group(gx, gy int, local []float32) {
	bs := m.block
	n := bs * bs
	aTile, bTile, acc := local[:n], local[n:2*n], local[2*n:3*n]
	clear(acc)

	aBegin := m.aWidth * bs * gy
	aEnd := aBegin + m.aWidth - 1
	bStep := bs * m.bWidth

	for a, b := aBegin, bs*gx; a <= aEnd; a, b = a+bs, b+bStep {
		for ly := 0; ly < bs; ly++ {
			copy(aTile[ly*bs:(ly+1)*bs], m.a[a+m.aWidth*ly:])
			copy(bTile[ly*bs:(ly+1)*bs], m.b[b+m.bWidth*ly:])
		}
		for ly := 0; ly < bs; ly++ {
			aRow := aTile[ly*bs : (ly+1)*bs]
			for lx := 0; lx < bs; lx++ {
				sum := acc[ly*bs+lx]
				for k := 0; k < bs; k++ {
					sum += float32(aRow[k] * bTile[k*bs+lx])
				}
				acc[ly*bs+lx] = sum
			}
		}
	}

	for ly := 0; ly < bs; ly++ {
		row := gy*bs + ly
		copy(m.c[row*m.cWidth+gx*bs:row*m.cWidth+(gx+1)*bs], acc[ly*bs:(ly+1)*bs])
	}
}
