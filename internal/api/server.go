// Package api exposes the offload check over HTTP.
package api

import (
	"bytes"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/mmoffload/internal/device"
	"github.com/samcharles93/mmoffload/internal/harness"
	"github.com/samcharles93/mmoffload/internal/logger"
	"github.com/samcharles93/mmoffload/internal/offload"
)

type Config struct {
	Runtime  device.Runtime
	Programs device.ProgramSource
	// Defaults is the geometry used when a request leaves a field unset.
	Defaults offload.Config
	// KeepRuns bounds the in-memory run history. Zero keeps everything.
	KeepRuns int
	Logger   logger.Logger
}

type Server struct {
	cfg   Config
	store *RunStore
	log   logger.Logger
	clock func() time.Time
	seed  func() uint64

	// runMu serializes kernel invocations: the device queue is shared.
	runMu sync.Mutex
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		cfg:   cfg,
		store: NewRunStore(cfg.KeepRuns),
		log:   log,
		clock: time.Now,
		seed:  func() uint64 { return uint64(time.Now().UnixNano()) },
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/devices", s.handleDevices)
	e.POST("/v1/runs", s.handleCreateRun)
	e.GET("/v1/runs", s.handleListRuns)
	e.GET("/v1/runs/:id", s.handleGetRun)
	e.DELETE("/v1/runs/:id", s.handleDeleteRun)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDevices(c *echo.Context) error {
	if s.cfg.Runtime == nil {
		return writeError(c, http.StatusServiceUnavailable, "server_error", "runtime not configured", "", "")
	}
	devs, err := s.cfg.Runtime.Devices(c.Request().Context())
	if err != nil {
		return writeError(c, http.StatusBadGateway, "device_error", err.Error(), "", "")
	}
	return c.JSON(http.StatusOK, DeviceList{
		Object:  "list",
		Runtime: s.cfg.Runtime.Name(),
		Data:    devs,
	})
}

func (s *Server) handleCreateRun(c *echo.Context) error {
	if s.cfg.Runtime == nil || s.cfg.Programs == nil {
		return writeError(c, http.StatusServiceUnavailable, "server_error", "runtime not configured", "", "")
	}
	req, err := decodeJSON[RunRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error(), "")
	}

	cfg := s.cfg.Defaults
	if req.Size != nil {
		cfg.Size = *req.Size
	}
	if req.BlockSize != nil {
		cfg.BlockSize = *req.BlockSize
	}
	if err := cfg.Validate(); err != nil {
		return writeBadRequest(c, err.Error(), "invalid_geometry")
	}
	seed := s.seed()
	if req.Seed != nil {
		seed = *req.Seed
	}

	var transcript bytes.Buffer
	s.runMu.Lock()
	outcome, runErr := harness.Run(c.Request().Context(), harness.Options{
		Config:   cfg,
		Runtime:  s.cfg.Runtime,
		Programs: s.cfg.Programs,
		Seed:     seed,
		Zero:     req.Zero,
		Logger:   s.log,
	}, &transcript)
	s.runMu.Unlock()

	run := Run{
		ID:         newRunID(),
		Object:     "run",
		CreatedAt:  s.clock().Unix(),
		Runtime:    s.cfg.Runtime.Name(),
		Outcome:    outcome,
		Transcript: transcript.String(),
	}
	status := http.StatusOK
	switch {
	case runErr == nil:
		run.Status = StatusPassed
	case errors.Is(runErr, harness.ErrMismatch):
		run.Status = StatusFailed
	default:
		run.Status = StatusError
		status = http.StatusBadGateway
	}
	s.store.Put(run)
	s.log.Info("run finished", "id", run.ID, "status", run.Status, "size", cfg.Size, "kernel_ns", outcome.Result.KernelNS)
	return c.JSON(status, run)
}

func (s *Server) handleListRuns(c *echo.Context) error {
	return c.JSON(http.StatusOK, RunList{Object: "list", Data: s.store.List()})
}

func (s *Server) handleGetRun(c *echo.Context) error {
	run, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "run not found")
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleDeleteRun(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "run not found")
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "object": "run", "deleted": true})
}
