package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mmoffload/internal/logger"
	"github.com/samcharles93/mmoffload/internal/version"
)

func main() {
	app := &cli.Command{
		Name:    "mmoffload",
		Usage:   "Offload blocked matrix multiply to an accelerator and verify it against the CPU",
		Version: version.String(),
		Flags:   globalFlags(),
		Before:  setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			runCmd(),
			devicesCmd(),
			packCmd(),
			inspectCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config file and installs the logger before any
// subcommand runs.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	applyLoggingConfig(cmd, cfg)
	log, err := logger.Setup(os.Stderr, logLevel, logFormat, debug)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	ctx = withConfig(ctx, cfg)
	return logger.WithContext(ctx, log), nil
}
