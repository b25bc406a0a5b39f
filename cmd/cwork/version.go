package main

import (
	"context"
	"flag"
	"fmt"
	"runtime"

	"github.com/peterbourgon/ff/v3/ffcli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type versionConfig struct {
	verbose bool
}

func newVersionCommand() *ffcli.Command {
	cfg := &versionConfig{}

	fs := flag.NewFlagSet("cwork version", flag.ContinueOnError)
	fs.BoolVar(&cfg.verbose, "v", false, "show verbose version information")

	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "cwork version [-v]",
		ShortHelp:  "Show version information",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if cfg.verbose {
				fmt.Printf("cwork version %s\n", version)
				fmt.Printf("  commit: %s\n", commit)
				fmt.Printf("  built at: %s\n", date)
				fmt.Printf("  go version: %s\n", runtime.Version())
				fmt.Printf("  platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			} else {
				fmt.Println(version)
			}
			return nil
		},
	}
}
