package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/clusterwork/clusterwork/internal/slurm"
)

type renderConfig struct {
	experiments stringList
	out         string
	binary      string
}

func newRenderCommand(logger *slog.Logger) *ffcli.Command {
	var cfg renderConfig

	fs := flag.NewFlagSet("render", flag.ExitOnError)
	fs.Var(&cfg.experiments, "e", "select an experiment by name (repeatable)")
	fs.StringVar(&cfg.out, "out", "", "write the script to this path instead of stdout")
	fs.StringVar(&cfg.binary, "binary", "", "experiment binary written into the script")

	return &ffcli.Command{
		Name:       "render",
		ShortUsage: "cwork render [flags] <experiment.yml>",
		ShortHelp:  "Render the batch script for a configuration",
		LongHelp: `Render the batch script exactly as a submission would generate it,
without copying code or calling sbatch. The configuration needs a SLURM
document, and the experiment binary must come from the configuration or
-binary since cwork itself is not the worker.`,
		FlagSet: fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("expected exactly one configuration path")
			}
			return runRender(ctx, logger, &cfg, args[0])
		},
	}
}

func runRender(ctx context.Context, logger *slog.Logger, rc *renderConfig, path string) error {
	cfg, variants, tasks, err := loadSweep(logger, path, rc.experiments.elems)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return errors.New("configuration yields no jobs")
	}
	if rc.binary == "" && (cfg.Slurm == nil || cfg.Slurm.Binary == "") {
		return errors.New("no experiment binary configured, pass -binary")
	}

	svc := slurm.NewService(logger)
	script, err := svc.Finalize(cfg, variants, slurm.Options{
		JobCount: len(tasks),
		Binary:   rc.binary,
		NoCopy:   true,
	})
	if err != nil {
		return err
	}

	if rc.out != "" {
		script.Path = rc.out
		out, err := svc.Generate(script)
		if err != nil {
			return err
		}
		logger.Info("script written", "path", out)
		return nil
	}

	text, err := svc.Render(script)
	if err != nil {
		return err
	}
	fmt.Print(text)
	return nil
}
