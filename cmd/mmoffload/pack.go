package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mmoffload/internal/device/emulator"
	"github.com/samcharles93/mmoffload/internal/logger"
	"github.com/samcharles93/mmoffload/internal/xclbin"
)

func packCmd() *cli.Command {
	return &cli.Command{
		Name:  "pack",
		Usage: "Write an emulator program container for the matrixMult kernel",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"out", "o"},
				Usage:   "output path (default <xclbin-dir>/<kernel>[.<device>].xclbin)",
			},
			&cli.StringFlag{
				Name:  "xclbin-dir",
				Usage: "directory for the default output path",
				Value: ".",
			},
			&cli.StringFlag{
				Name:  "device-name",
				Usage: "device the container targets",
				Value: emulator.DefaultDeviceName,
			},
			&cli.BoolFlag{
				Name:  "per-device",
				Usage: "name the default output after the device as well as the kernel",
			},
			&cli.StringFlag{
				Name:  "payload",
				Usage: "optional file embedded verbatim as the container payload",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			dev := cmd.String("device-name")

			var payload []byte
			if p := cmd.String("payload"); p != "" {
				data, err := os.ReadFile(p)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: read payload: %v", err), 1)
				}
				payload = data
			}

			bin, err := xclbin.Build(xclbin.Metadata{
				Device: dev,
				Target: emulator.Target,
				Kernels: []xclbin.Kernel{{
					Name: emulator.MatrixMultKernel,
					Args: emulator.MatrixMultArgs,
				}},
			}, payload)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build container: %v", err), 1)
			}

			out := packOutputPath(cmd.String("output"), cmd.String("xclbin-dir"), dev, cmd.Bool("per-device"))
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if err := os.WriteFile(out, bin, 0o644); err != nil {
				return cli.Exit(fmt.Sprintf("error: write %s: %v", out, err), 1)
			}
			log.Info("wrote program container", "path", out, "device", dev, "bytes", len(bin))
			return nil
		},
	}
}

// packOutputPath returns the explicit output when set, otherwise the first
// path xclbin.Dir would try for the kernel.
func packOutputPath(output, dir, deviceName string, perDevice bool) string {
	if output != "" {
		return filepath.Clean(output)
	}
	if !perDevice {
		deviceName = ""
	}
	return xclbin.Dir(dir).Candidates(emulator.MatrixMultKernel, deviceName)[0]
}
