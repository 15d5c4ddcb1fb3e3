package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mmoffload/internal/backend"
	"github.com/samcharles93/mmoffload/internal/logger"
)

func devicesCmd() *cli.Command {
	var jsonOutput bool

	return &cli.Command{
		Name:    "devices",
		Aliases: []string{"ls"},
		Usage:   "List devices exposed by the selected runtime",
		Flags: append(runtimeFlags(),
			&cli.BoolFlag{Name: "json", Usage: "print devices as JSON", Destination: &jsonOutput},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyRuntimeConfig(cmd, configFromContext(ctx))

			rt, err := backend.New(runtimeName, backendOptions())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open runtime: %v", err), 1)
			}
			defer func() { _ = rt.Close() }()

			devs, err := rt.Devices(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: enumerate devices: %v", err), 1)
			}
			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"runtime": rt.Name(), "devices": devs})
			}
			if len(devs) == 0 {
				log.Info("no devices found", "runtime", rt.Name())
				return nil
			}

			fmt.Printf("Devices on %s (compiled in: %s):\n\n", rt.Name(), backend.Available())
			for _, d := range devs {
				fmt.Printf("  %d  %-40s %-12s %s\n", d.Index, d.Name, d.Kind, d.Vendor)
			}
			fmt.Printf("\n%d device(s) found\n", len(devs))
			return nil
		},
	}
}
