package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mmoffload/internal/backend"
	"github.com/samcharles93/mmoffload/internal/harness"
	"github.com/samcharles93/mmoffload/internal/logger"
	"github.com/samcharles93/mmoffload/internal/xclbin"
)

func runCmd() *cli.Command {
	var (
		seed       int64
		zero       bool
		jsonOutput bool
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Multiply two random N x N matrices on the host and the accelerator and compare",
		Flags: append(append(commonPipelineFlags(), runtimeFlags()...),
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "operand generator seed",
				Value:       1,
				Destination: &seed,
			},
			&cli.BoolFlag{
				Name:        "zero",
				Usage:       "use all-zero operands",
				Destination: &zero,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print a JSON report instead of the console transcript",
				Destination: &jsonOutput,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyPipelineConfig(cmd, configFromContext(ctx))

			rt, err := backend.New(runtimeName, backendOptions())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open runtime: %v", err), 1)
			}
			defer func() {
				if err := rt.Close(); err != nil {
					log.Warn("close runtime", "error", err)
				}
			}()
			log.Debug("runtime ready", "runtime", rt.Name(), "xclbin_dir", xclbinDir)

			var transcript io.Writer = os.Stdout
			if jsonOutput {
				transcript = io.Discard
			}
			out, runErr := harness.Run(ctx, harness.Options{
				Config:   pipelineConfig(),
				Runtime:  rt,
				Programs: xclbin.Dir(xclbinDir),
				Seed:     uint64(seed),
				Zero:     zero,
				Logger:   log,
			}, transcript)

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return cli.Exit(fmt.Sprintf("error: encode report: %v", err), 1)
				}
			}
			if runErr != nil {
				log.Debug("run failed", "error", runErr)
				return cli.Exit("", out.ExitCode())
			}
			return nil
		},
	}
}
