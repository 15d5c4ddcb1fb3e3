// Package verify compares accelerator output against the CPU reference.
package verify

import (
	"fmt"
	"io"
)

// Report is the outcome of an exact elementwise comparison.
// Index, Want and Got describe the first mismatch when Match is false.
type Report struct {
	Match    bool    `json:"match"`
	Index    int     `json:"index"`
	Want     float32 `json:"cpu_result"`
	Got      float32 `json:"device_result"`
	Compared int     `json:"compared"`
}

// Compare checks want (reference) against got (device output) element by
// element with exact equality, stopping at the first difference.
func Compare(want, got []float32) Report {
	n := min(len(want), len(got))
	for i := 0; i < n; i++ {
		if want[i] != got[i] {
			return Report{Index: i, Want: want[i], Got: got[i], Compared: i + 1}
		}
	}
	if len(want) != len(got) {
		r := Report{Index: n, Compared: n}
		if n < len(want) {
			r.Want = want[n]
		} else {
			r.Got = got[n]
		}
		return r
	}
	return Report{Match: true, Index: -1, Compared: n}
}

func (r Report) Verdict() string {
	if r.Match {
		return "PASSED"
	}
	return "FAILED"
}

// WriteMismatch prints the diagnostic for the first mismatch, if any.
func (r Report) WriteMismatch(w io.Writer) {
	if r.Match {
		return
	}
	_, _ = fmt.Fprintln(w, "Error: Result mismatch")
	_, _ = fmt.Fprintf(w, "i = %d CPU result = %g FPGA result = %g\n", r.Index, r.Want, r.Got)
}
