// Package reference holds the CPU matrix multiply used as the correctness
// oracle for accelerator output.
package reference

import "github.com/samcharles93/mmoffload/internal/matrix"

// MatMul accumulates a*b into c: c[i][j] += sum_k a[i][k]*b[k][j].
// c must be zeroed by the caller for a plain product. Shapes are not checked.
//
// Products are rounded to float32 before accumulation so the compiler cannot
// fuse them into FMA instructions; device kernels accumulate the same way.
func MatMul(a, b, c *matrix.Matrix) {
	m, n, k := c.Rows, c.Cols, a.Cols
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			for kk := 0; kk < k; kk++ {
				c.Data[i*n+j] += float32(a.Data[i*k+kk] * b.Data[kk*n+j])
			}
		}
	}
}

// Multiply returns a freshly allocated a*b.
func Multiply(a, b *matrix.Matrix) *matrix.Matrix {
	c := matrix.New(a.Rows, b.Cols)
	MatMul(a, b, c)
	return c
}
