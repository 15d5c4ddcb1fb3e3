package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mmoffload/internal/backend"
	"github.com/samcharles93/mmoffload/internal/offload"
)

var (
	configFile  string
	size        int
	maxSize     int
	blockSize   int
	kernelName  string
	unaligned   bool
	runtimeName string
	xclbinDir   string
	deviceName  string
	workers     int
	logLevel    string
	logFormat   string
	debug       bool
)

func commonPipelineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "size",
			Aliases:     []string{"n"},
			Usage:       "side length N of the square matrices",
			Value:       offload.DefaultSize,
			Destination: &size,
		},
		&cli.IntFlag{
			Name:        "max-size",
			Usage:       "largest accepted N",
			Value:       offload.DefaultMaxSize,
			Destination: &maxSize,
		},
		&cli.IntFlag{
			Name:        "block-size",
			Aliases:     []string{"b"},
			Usage:       "work-group side length; must divide N",
			Value:       offload.DefaultBlockSize,
			Destination: &blockSize,
		},
		&cli.StringFlag{
			Name:        "kernel",
			Usage:       "kernel name used to locate the program binary",
			Value:       offload.DefaultKernel,
			Destination: &kernelName,
		},
		&cli.BoolFlag{
			Name:        "unaligned",
			Usage:       "allocate host matrices on the Go heap instead of page-aligned memory",
			Destination: &unaligned,
		},
	}
}

func runtimeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "runtime",
			Usage:       "accelerator runtime (auto, emulator, opencl)",
			Value:       backend.Auto,
			Destination: &runtimeName,
		},
		&cli.StringFlag{
			Name:        "xclbin-dir",
			Usage:       "directory holding <kernel>[.<device>].xclbin program binaries",
			Value:       ".",
			Sources:     cli.EnvVars("MMOFFLOAD_XCLBIN_DIR"),
			Destination: &xclbinDir,
		},
		&cli.StringFlag{
			Name:        "device-name",
			Usage:       "device name reported by the emulator",
			Destination: &deviceName,
		},
		&cli.IntFlag{
			Name:        "workers",
			Usage:       "emulator work-group parallelism (0 = all CPUs)",
			Destination: &workers,
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default $XDG_CONFIG_HOME/mmoffload/config.yaml)",
			Sources:     cli.EnvVars("MMOFFLOAD_CONFIG"),
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func pipelineConfig() offload.Config {
	return offload.Config{
		Size:      size,
		MaxSize:   maxSize,
		BlockSize: blockSize,
		Kernel:    kernelName,
		Aligned:   !unaligned,
	}
}

func backendOptions() backend.Options {
	return backend.Options{DeviceName: deviceName, Workers: workers}
}
