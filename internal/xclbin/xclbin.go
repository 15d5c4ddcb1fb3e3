// Package xclbin reads and writes the kernel program container consumed by
// the software emulator, and locates program binaries on disk by kernel and
// device name.
//
// Layout: 8-byte magic, little-endian uint32 metadata length, JSON
// metadata, opaque payload.
package xclbin

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const headerSize = 12

var magic = [8]byte{'x', 'c', 'l', 'e', 'm', 'u', '1', 0}

var (
	ErrInvalidMagic = errors.New("xclbin: invalid magic")
	ErrCorrupt      = errors.New("xclbin: corrupt container")
	ErrNotFound     = errors.New("xclbin: program binary not found")
)

type Kernel struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

type Metadata struct {
	Device  string    `json:"device"`
	Target  string    `json:"target,omitempty"`
	Kernels []Kernel  `json:"kernels"`
	BuildID string    `json:"build_id"`
	Created time.Time `json:"created"`
}

type Binary struct {
	Meta    Metadata
	Payload []byte
}

// KernelNames returns the kernel names declared in the metadata.
func (b *Binary) KernelNames() []string {
	names := make([]string, 0, len(b.Meta.Kernels))
	for _, k := range b.Meta.Kernels {
		names = append(names, k.Name)
	}
	return names
}

func (b *Binary) HasKernel(name string) bool {
	return slices.Contains(b.KernelNames(), name)
}

// IsContainer reports whether data starts with the container magic.
func IsContainer(data []byte) bool {
	return len(data) >= len(magic) && bytes.Equal(data[:len(magic)], magic[:])
}

// Build serializes meta and payload. A build ID and creation time are
// assigned when meta does not carry them.
func Build(meta Metadata, payload []byte) ([]byte, error) {
	if meta.Device == "" {
		return nil, errors.New("xclbin: device name is required")
	}
	if len(meta.Kernels) == 0 {
		return nil, errors.New("xclbin: at least one kernel is required")
	}
	if meta.BuildID == "" {
		meta.BuildID = uuid.NewString()
	}
	if meta.Created.IsZero() {
		meta.Created = time.Now().UTC()
	}
	js, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("xclbin: encode metadata: %w", err)
	}

	out := make([]byte, headerSize, headerSize+len(js)+len(payload))
	copy(out, magic[:])
	binary.LittleEndian.PutUint32(out[8:], uint32(len(js)))
	out = append(out, js...)
	out = append(out, payload...)
	return out, nil
}

// Parse decodes a container. The returned payload aliases data.
func Parse(data []byte) (*Binary, error) {
	if len(data) < headerSize {
		return nil, ErrCorrupt
	}
	if !IsContainer(data) {
		return nil, ErrInvalidMagic
	}
	n := binary.LittleEndian.Uint32(data[8:headerSize])
	if uint64(n) > uint64(len(data)-headerSize) {
		return nil, fmt.Errorf("%w: metadata length %d exceeds file size", ErrCorrupt, n)
	}
	end := headerSize + int(n)

	var meta Metadata
	if err := json.Unmarshal(data[headerSize:end], &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrCorrupt, err)
	}
	if meta.Device == "" {
		return nil, fmt.Errorf("%w: metadata has no device", ErrCorrupt)
	}
	if meta.BuildID != "" {
		if _, err := uuid.Parse(meta.BuildID); err != nil {
			return nil, fmt.Errorf("%w: build id: %v", ErrCorrupt, err)
		}
	}
	return &Binary{Meta: meta, Payload: data[end:]}, nil
}
