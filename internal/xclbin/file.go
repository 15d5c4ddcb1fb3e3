package xclbin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// File is a container opened from disk. Binary aliases the file contents,
// so it is only valid until Close.
type File struct {
	*Binary
	Path    string
	data    []byte
	mmapped bool
}

// Open maps a container read-only and parses it.
// If mmap is unavailable, it falls back to reading the file.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size < headerSize || size > int64(int(^uint(0)>>1)) {
		return nil, ErrCorrupt
	}

	mapped := true
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		mapped = false
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	bin, err := Parse(data)
	if err != nil {
		if mapped {
			_ = unix.Munmap(data)
		}
		return nil, err
	}
	return &File{Binary: bin, Path: path, data: data, mmapped: mapped}, nil
}

func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	f.Binary = nil
	return err
}

// Dir looks up program binaries in a directory. For kernel "matrixMult" on
// device "xilinx_u200:1.0" it tries matrixMult.xilinx_u200_1_0.xclbin and
// then matrixMult.xclbin.
type Dir string

func (d Dir) Candidates(kernel, deviceName string) []string {
	dir := string(d)
	var out []string
	if deviceName != "" {
		out = append(out, filepath.Join(dir, kernel+"."+SanitizeDeviceName(deviceName)+".xclbin"))
	}
	return append(out, filepath.Join(dir, kernel+".xclbin"))
}

// Resolve returns the raw bytes of the first matching binary.
func (d Dir) Resolve(kernel, deviceName string) ([]byte, error) {
	if kernel == "" {
		return nil, errors.New("xclbin: kernel name is required")
	}
	candidates := d.Candidates(kernel, deviceName)
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("xclbin: read %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("%w: kernel %q for device %q (looked for %s)",
		ErrNotFound, kernel, deviceName, strings.Join(candidates, ", "))
}

// SanitizeDeviceName maps a device name to the form used in file names.
func SanitizeDeviceName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ':', '.', '/', ' ':
			return '_'
		}
		return r
	}, name)
}
