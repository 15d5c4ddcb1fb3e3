package backend

import "strings"

// Available returns a comma-separated list of runtimes compiled into this build.
func Available() string {
	entries := []string{Emulator}
	if Has(OpenCL) {
		entries = append(entries, OpenCL)
	}
	return strings.Join(entries, ",")
}
