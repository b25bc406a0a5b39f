package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/clusterwork/clusterwork/internal/grid"
)

type jobsConfig struct {
	experiments stringList
	filter      string
	params      bool
}

func newJobsCommand(logger *slog.Logger) *ffcli.Command {
	var cfg jobsConfig

	fs := flag.NewFlagSet("jobs", flag.ExitOnError)
	fs.Var(&cfg.experiments, "e", "select an experiment by name (repeatable)")
	fs.StringVar(&cfg.filter, "filter", "", "fuzzy filter over job names")
	fs.BoolVar(&cfg.params, "params", false, "include a parameter summary column")

	return &ffcli.Command{
		Name:       "jobs",
		ShortUsage: "cwork jobs [flags] <experiment.yml>",
		ShortHelp:  "List the unfolded jobs of a configuration",
		LongHelp: `List every job a configuration unfolds into: one line per expanded
variant and repetition, with the global index used for -j and array
submission.`,
		FlagSet: fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("expected exactly one configuration path")
			}
			return runJobs(ctx, logger, &cfg, args[0])
		},
	}
}

func runJobs(ctx context.Context, logger *slog.Logger, jc *jobsConfig, path string) error {
	_, _, tasks, err := loadSweep(logger, path, jc.experiments.elems)
	if err != nil {
		return err
	}

	if jc.filter != "" {
		tasks = filterTasks(tasks, jc.filter)
		if len(tasks) == 0 {
			return fmt.Errorf("no job matches %q", jc.filter)
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if jc.params {
		fmt.Fprintln(w, "INDEX\tNAME\tREP\tDIR\tPARAMS")
	} else {
		fmt.Fprintln(w, "INDEX\tNAME\tREP\tDIR")
	}
	for _, task := range tasks {
		if jc.params {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
				task.Index, task.Name, task.Rep, task.Dir, summarizeParams(task.Params))
		} else {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n",
				task.Index, task.Name, task.Rep, task.Dir)
		}
	}
	return w.Flush()
}

// filterTasks keeps fuzzy matches of query, best match first.
func filterTasks(tasks []grid.Task, query string) []grid.Task {
	var matched []grid.Task
	dist := map[int]int{}

	for _, task := range tasks {
		if d := fuzzy.RankMatchFold(query, task.Name); d >= 0 {
			dist[task.Index] = d
			matched = append(matched, task)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return dist[matched[i].Index] < dist[matched[j].Index]
	})
	return matched
}

// summarizeParams renders the parameters as sorted dotted key=value pairs.
func summarizeParams(params map[string]any) string {
	var parts []string

	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			name := k
			if prefix != "" {
				name = prefix + "." + k
			}
			if nested, ok := v.(map[string]any); ok {
				walk(name, nested)
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%v", name, v))
		}
	}
	walk("", params)

	sort.Strings(parts)
	return strings.Join(parts, " ")
}
