package api

import (
	"github.com/samcharles93/mmoffload/internal/device"
	"github.com/samcharles93/mmoffload/internal/harness"
)

// RunRequest overrides the server defaults for a single run. Omitted fields
// keep the default.
type RunRequest struct {
	Size      *int    `json:"size,omitempty"`
	BlockSize *int    `json:"block_size,omitempty"`
	Seed      *uint64 `json:"seed,omitempty"`
	Zero      bool    `json:"zero,omitempty"`
}

type Run struct {
	ID         string          `json:"id"`
	Object     string          `json:"object"`
	CreatedAt  int64           `json:"created_at"`
	Status     string          `json:"status"`
	Runtime    string          `json:"runtime"`
	Outcome    harness.Outcome `json:"outcome"`
	Transcript string          `json:"transcript,omitempty"`
}

// Run statuses.
const (
	StatusPassed = "passed"
	StatusFailed = "failed"
	StatusError  = "error"
)

type RunList struct {
	Object string `json:"object"`
	Data   []Run  `json:"data"`
}

type DeviceList struct {
	Object  string          `json:"object"`
	Runtime string          `json:"runtime"`
	Data    []device.Device `json:"data"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
