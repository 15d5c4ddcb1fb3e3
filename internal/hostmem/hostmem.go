// Package hostmem allocates page-aligned host memory that an accelerator
// runtime can alias directly instead of staging through its own buffer.
package hostmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const float32Size = int(unsafe.Sizeof(float32(0)))

// PageSize returns the alignment used for device-visible allocations.
func PageSize() int {
	return unix.Getpagesize()
}

// Block is a page-aligned float32 allocation.
//
// Blocks obtained from an anonymous mapping must be released with Free;
// blocks from the fallback path are owned by the Go heap and Free only
// drops the references.
type Block struct {
	raw    []byte
	data   []float32
	mapped bool
}

// AllocFloat32 returns a zeroed, page-aligned block of n float32 values.
func AllocFloat32(n int) (*Block, error) {
	if n < 0 {
		return nil, fmt.Errorf("hostmem: negative length %d", n)
	}
	if n == 0 {
		return &Block{}, nil
	}
	size := n * float32Size
	if size/float32Size != n {
		return nil, fmt.Errorf("hostmem: allocation of %d elements overflows", n)
	}

	// Anonymous mappings are page-aligned and zero-filled by the kernel.
	raw, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err == nil {
		return &Block{
			raw:    raw,
			data:   unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), n),
			mapped: true,
		}, nil
	}

	// Fallback path: over-allocate on the heap and slice at the next page boundary.
	page := PageSize()
	raw = make([]byte, size+page)
	off := alignOffset(uintptr(unsafe.Pointer(&raw[0])), page)
	raw = raw[off : off+size]
	return &Block{
		raw:  raw,
		data: unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), n),
	}, nil
}

// Float32 returns the block contents. The slice is invalid after Free.
func (b *Block) Float32() []float32 {
	if b == nil {
		return nil
	}
	return b.data
}

// Mapped reports whether the block is backed by an anonymous mapping.
func (b *Block) Mapped() bool {
	return b != nil && b.mapped
}

func (b *Block) Free() error {
	if b == nil {
		return nil
	}
	if b.raw == nil {
		return nil
	}
	var err error
	if b.mapped {
		err = unix.Munmap(b.raw)
	}
	b.raw = nil
	b.data = nil
	b.mapped = false
	return err
}

// IsAligned reports whether the first element of p sits on an align-byte boundary.
// Empty slices are considered aligned.
func IsAligned(p []float32, align int) bool {
	if len(p) == 0 || align <= 1 {
		return true
	}
	return alignOffset(uintptr(unsafe.Pointer(&p[0])), align) == 0
}

func alignOffset(addr uintptr, align int) int {
	rem := int(addr % uintptr(align))
	if rem == 0 {
		return 0
	}
	return align - rem
}
