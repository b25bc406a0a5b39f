package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/clusterwork/clusterwork/internal/slurm"
	"github.com/clusterwork/clusterwork/pkg/template"
)

type checkConfig struct {
	binary string
}

func newCheckCommand(logger *slog.Logger) *ffcli.Command {
	var cfg checkConfig

	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.StringVar(&cfg.binary, "binary", "", "experiment binary to assume for the check")

	return &ffcli.Command{
		Name:       "check",
		ShortUsage: "cwork check [flags] <experiment.yml>",
		ShortHelp:  "Validate a configuration against its batch template",
		LongHelp: `Load and expand a configuration, then verify that every placeholder
in the batch template (the configured one, or the built-in default)
receives a value. A placeholder without a value would make the actual
submission fail.`,
		FlagSet: fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("expected exactly one configuration path")
			}
			return runCheck(ctx, logger, &cfg, args[0])
		},
	}
}

func runCheck(ctx context.Context, logger *slog.Logger, cc *checkConfig, path string) error {
	cfg, variants, tasks, err := loadSweep(logger, path, nil)
	if err != nil {
		return err
	}
	if cfg.Slurm == nil {
		return errors.New("configuration has no SLURM document")
	}
	if len(tasks) == 0 {
		return errors.New("configuration yields no jobs")
	}

	// The binary's value never affects which placeholders resolve, so any
	// stand-in works when none is configured.
	binary := cc.binary
	if binary == "" && cfg.Slurm.Binary == "" {
		binary = "experiment-binary"
	}

	svc := slurm.NewService(logger)
	script, err := svc.Finalize(cfg, variants, slurm.Options{
		JobCount: len(tasks),
		Binary:   binary,
		NoCopy:   true,
	})
	if err != nil {
		return err
	}

	text := template.Default()
	if script.TemplatePath != "" {
		data, err := os.ReadFile(script.TemplatePath)
		if err != nil {
			return fmt.Errorf("failed to read template: %w", err)
		}
		text = string(data)
		logger.Debug("checking custom template", "path", script.TemplatePath)
	}

	ids := template.Identifiers(text)
	var unknown []string
	for _, id := range ids {
		if _, ok := script.Subs[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("template has no value for: %s", strings.Join(unknown, ", "))
	}

	fmt.Printf("ok: %d experiments, %d jobs, %d placeholders\n", len(variants), len(tasks), len(ids))
	return nil
}
