package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/clusterwork/clusterwork/internal/config"
	"github.com/clusterwork/clusterwork/internal/history"
)

type historyConfig struct {
	limit int
}

func newHistoryCommand(logger *slog.Logger, tool *config.Tool) *ffcli.Command {
	var cfg historyConfig

	fs := flag.NewFlagSet("history", flag.ExitOnError)
	fs.IntVar(&cfg.limit, "n", 10, "number of entries to show (0 for all)")

	return &ffcli.Command{
		Name:       "history",
		ShortUsage: "cwork history [-n N]",
		ShortHelp:  "Show recent submissions",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 0 {
				return errors.New("history takes no arguments")
			}
			return runHistory(ctx, logger, tool, &cfg)
		},
	}
}

func runHistory(ctx context.Context, logger *slog.Logger, tool *config.Tool, hc *historyConfig) error {
	store, err := history.Open(tool.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()

	subs, err := store.List(hc.limit)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		fmt.Println("no submissions recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tKIND\tJOBS\tSLURM\tCOMMIT\tCONFIG\tNOTE")
	for _, sub := range subs {
		commit := sub.Commit
		if commit == "" {
			commit = "-"
		} else if sub.Dirty {
			commit += "-dirty"
		}
		slurmID := sub.SlurmJobID
		if slurmID == "" {
			slurmID = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			sub.CreatedAt.Local().Format("2006-01-02 15:04"),
			sub.Kind, sub.JobCount, slurmID, commit, sub.ConfigPath, sub.Note)
	}
	return w.Flush()
}
