package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mmoffload/internal/api"
	"github.com/samcharles93/mmoffload/internal/backend"
	"github.com/samcharles93/mmoffload/internal/logger"
	"github.com/samcharles93/mmoffload/internal/xclbin"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		keepRuns    int
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the offload check over HTTP",
		Flags: append(append(commonPipelineFlags(), runtimeFlags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.IntFlag{
				Name:        "keep-runs",
				Usage:       "number of completed runs kept in memory (0 = unbounded)",
				Value:       256,
				Destination: &keepRuns,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, configFromContext(ctx), &addr)

			defaults := pipelineConfig()
			if err := defaults.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			rt, err := backend.New(runtimeName, backendOptions())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open runtime: %v", err), 1)
			}
			defer func() { _ = rt.Close() }()

			server := api.NewServer(api.Config{
				Runtime:  rt,
				Programs: xclbin.Dir(xclbinDir),
				Defaults: defaults,
				KeepRuns: keepRuns,
				Logger:   log,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "runtime", rt.Name(), "xclbin_dir", xclbinDir)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
