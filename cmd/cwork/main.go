// Command cwork inspects experiment sweep configurations: it lists
// unfolded jobs, renders and checks batch scripts, browses the submission
// history and scaffolds new experiments. Running the sweep itself is the
// experiment binary's job.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/clusterwork/clusterwork/internal/config"
	"github.com/clusterwork/clusterwork/internal/grid"
)

func main() {
	args := os.Args[1:]

	tool, err := config.NewTool()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	rootFlagSet := flag.NewFlagSet("cwork", flag.ExitOnError)
	tool.RegisterFlags(rootFlagSet)

	if err := tool.Parse(rootFlagSet, args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := tool.Logger()

	root := &ffcli.Command{
		Name:      "cwork [flags] <subcommand>",
		ShortHelp: "inspect and prepare experiment sweeps",
		FlagSet:   rootFlagSet,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return flag.ErrHelp
			}
			return nil
		},
		Subcommands: []*ffcli.Command{
			newJobsCommand(logger),
			newRenderCommand(logger),
			newCheckCommand(logger),
			newHistoryCommand(logger, tool),
			newInitCommand(logger, tool),
			newVersionCommand(),
		},
	}

	processCtx, processCancel := context.WithCancel(context.Background())
	defer processCancel()

	var process run.Group
	{
		// handle interrupt signals
		execute, interrupt := run.SignalHandler(processCtx, os.Interrupt)
		process.Add(execute, interrupt)

		process.Add(func() error {
			return root.ParseAndRun(processCtx, args)
		}, func(error) {
			processCancel()
		})
	}

	err = process.Run()
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
	default:
		var sig run.SignalError
		if errors.As(err, &sig) {
			logger.Debug("interrupted", "signal", sig.Signal.String())
			os.Exit(1)
		}
		logger.Error("command failed", "error", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// stringList accumulates repeated flag values.
type stringList struct {
	elems []string
}

func (l *stringList) Set(value string) error {
	l.elems = append(l.elems, value)
	return nil
}

func (l *stringList) String() string {
	return strings.Join(l.elems, ",")
}

// loadSweep loads, selects and expands an experiment configuration.
func loadSweep(logger *slog.Logger, path string, selectors []string) (*config.Config, []*config.Experiment, []grid.Task, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(selectors) > 0 {
		if cfg, err = cfg.Select(selectors); err != nil {
			return nil, nil, nil, err
		}
	}

	variants, warnings, err := grid.Expand(cfg.Experiments)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, w := range warnings {
		logger.Warn(w)
	}

	return cfg, variants, grid.Unroll(variants), nil
}
