package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mmoffload/internal/xclbin"
)

func inspectCmd() *cli.Command {
	var (
		path     string
		showJSON bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect an emulator program container",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "xclbin",
				Aliases:     []string{"f"},
				Usage:       "path to .xclbin file",
				Destination: &path,
				Required:    true,
			},
			&cli.BoolFlag{Name: "json", Usage: "print the raw metadata as JSON", Destination: &showJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			f, err := xclbin.Open(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open xclbin: %v", err), 1)
			}
			defer func() { _ = f.Close() }()

			if showJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(f.Meta)
			}

			meta := f.Meta
			fmt.Printf("File:     %s\n", f.Path)
			fmt.Printf("Device:   %s\n", meta.Device)
			if meta.Target != "" {
				fmt.Printf("Target:   %s\n", meta.Target)
			}
			fmt.Printf("Build ID: %s\n", meta.BuildID)
			if !meta.Created.IsZero() {
				fmt.Printf("Created:  %s\n", meta.Created.Format(time.RFC3339))
			}
			fmt.Printf("Payload:  %d bytes\n", len(f.Payload))
			fmt.Printf("Kernels:\n")
			for _, k := range meta.Kernels {
				fmt.Printf("  %s(%s)\n", k.Name, strings.Join(k.Args, ", "))
			}
			return nil
		},
	}
}
