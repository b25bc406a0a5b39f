package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/clusterwork/clusterwork/internal/config"
	"github.com/clusterwork/clusterwork/pkg/template"
)

const starterConfig = `# Experiment sweep configuration. Documents are separated by "---";
# DEFAULT merges into every experiment, SLURM configures submission.
---
name: DEFAULT
path: ./results
repetitions: 1
params:
  train:
    epochs: 10

---
name: sweep
params:
  train:
    momentum: 0.9
grid:
  train:
    lr: [0.1, 0.01, 0.001]

---
name: SLURM
partition: gpu
time: 60
mem-per-cpu: 1000
ntasks: 1
cpus-per-task: 1
# num_parallel_jobs: 4
# path_to_template: ./sbatch.tmpl
`

type initConfig struct {
	force bool
}

func newInitCommand(logger *slog.Logger, tool *config.Tool) *ffcli.Command {
	var cfg initConfig

	fs := flag.NewFlagSet("init", flag.ExitOnError)
	fs.BoolVar(&cfg.force, "force", false, "overwrite existing scaffold files")

	return &ffcli.Command{
		Name:       "init",
		ShortUsage: "cwork init [flags] [dir]",
		ShortHelp:  "Scaffold a starter experiment configuration",
		LongHelp: `Write a starter experiment.yml and a copy of the built-in batch
template into dir (default: the current directory), and create the rc
file with its defaults when none exists.`,
		FlagSet: fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) > 1 {
				return errors.New("expected at most one directory")
			}
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(ctx, logger, tool, &cfg, dir)
		},
	}
}

func runInit(ctx context.Context, logger *slog.Logger, tool *config.Tool, ic *initConfig, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	scaffold := []struct {
		name    string
		content string
	}{
		{"experiment.yml", starterConfig},
		{"sbatch.tmpl", template.Default()},
	}

	for _, file := range scaffold {
		path := filepath.Join(dir, file.name)
		if _, err := os.Stat(path); err == nil && !ic.force {
			logger.Info("already exists, skipping", "path", path)
			continue
		}
		if err := os.WriteFile(path, []byte(file.content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		logger.Info("created", "path", path)
	}

	return writeRC(logger, tool)
}

// writeRC creates the rc file with the current defaults. An existing file
// is left alone.
func writeRC(logger *slog.Logger, tool *config.Tool) error {
	if _, err := os.Stat(tool.ConfigFile); err == nil {
		return nil
	}

	f, err := os.Create(tool.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to create rc file: %w", err)
	}
	defer f.Close()

	rc := struct {
		Data  string `toml:"data"`
		Debug bool   `toml:"debug"`
	}{
		Data:  tool.DataDir,
		Debug: tool.Debug,
	}
	if err := toml.NewEncoder(f).Encode(rc); err != nil {
		return fmt.Errorf("failed to write rc file: %w", err)
	}

	logger.Info("created", "path", tool.ConfigFile)
	return nil
}
