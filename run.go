package clusterwork

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/clusterwork/clusterwork/internal/config"
	"github.com/clusterwork/clusterwork/internal/gitinfo"
	"github.com/clusterwork/clusterwork/internal/grid"
	"github.com/clusterwork/clusterwork/internal/history"
	"github.com/clusterwork/clusterwork/internal/slurm"
)

// Options is the parsed command line of an experiment binary.
type Options struct {
	// ConfigPath is the positional experiment configuration argument.
	ConfigPath string

	// Slurm submits the experiments through sbatch instead of running
	// them.
	Slurm bool

	// JobIndex selects a single job by its global index. Negative means
	// run everything; the batch script passes the array task id here.
	JobIndex int

	// Experiments restricts the run to the named experiments.
	Experiments []string

	// Overwrite re-runs jobs already marked finished.
	Overwrite bool

	// Workers caps parallel local jobs. Zero means one per CPU.
	Workers int

	// Dry generates the batch script without submitting it.
	Dry bool

	// NoCodeCopy skips the experiment code copy.
	NoCodeCopy bool

	// Debug increases log verbosity.
	Debug bool
}

// selectValue accumulates repeated -e flags.
type selectValue struct {
	elems []string
}

func (v *selectValue) Set(value string) error {
	v.elems = append(v.elems, value)
	return nil
}

func (v *selectValue) String() string {
	return strings.Join(v.elems, ",")
}

func parseOptions(args []string) (*Options, error) {
	var (
		opts Options
		sel  selectValue
	)

	fs := flag.NewFlagSet("clusterwork", flag.ContinueOnError)
	fs.BoolVar(&opts.Slurm, "s", false, "submit the experiments to slurm")
	fs.IntVar(&opts.JobIndex, "j", -1, "run a single job by its global index")
	fs.Var(&sel, "e", "run only the named experiment (repeatable)")
	fs.BoolVar(&opts.Overwrite, "o", false, "overwrite finished runs")
	fs.IntVar(&opts.Workers, "workers", 0, "max parallel local jobs (default one per cpu)")
	fs.BoolVar(&opts.Dry, "dry", false, "generate the batch script without submitting")
	fs.BoolVar(&opts.NoCodeCopy, "nocodecopy", false, "skip the experiment code copy")
	fs.BoolVar(&opts.Debug, "debug", false, "increase log verbosity")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("CWORK")); err != nil {
		return nil, fmt.Errorf("unable to parse flags: %w", err)
	}

	if fs.NArg() < 1 {
		return nil, errors.New("missing experiment configuration path")
	}
	opts.ConfigPath = fs.Arg(0)
	opts.Experiments = sel.elems

	return &opts, nil
}

// Run is the experiment binary entry point: it parses the command line,
// loads and expands the configuration, then either submits the sweep to
// slurm (-s), runs a single array task (-j) or runs every job locally.
func Run(exp Experiment) error {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := initLogger(opts.Debug)
	defer logger.Sync()
	log := NewZapAdapter(logger)

	processCtx, processCancel := context.WithCancel(context.Background())
	defer processCancel()

	var process run.Group
	{
		// handle interrupt signals
		execute, interrupt := run.SignalHandler(processCtx, os.Interrupt)
		process.Add(execute, interrupt)

		process.Add(func() error {
			return dispatch(processCtx, exp, opts, log)
		}, func(error) {
			processCancel()
		})
	}

	err = process.Run()
	var sig run.SignalError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &sig), errors.Is(err, context.Canceled):
		log.Warn("interrupted", "error", err)
		return err
	default:
		log.Error("run failed", "error", err)
		return err
	}
}

// dispatch executes one parsed invocation against the configuration.
func dispatch(ctx context.Context, exp Experiment, opts *Options, log Logger) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if len(opts.Experiments) > 0 {
		if cfg, err = cfg.Select(opts.Experiments); err != nil {
			return err
		}
	}

	variants, warnings, err := grid.Expand(cfg.Experiments)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	tasks := grid.Unroll(variants)
	if len(tasks) == 0 {
		return errors.New("configuration yields no jobs")
	}

	info, err := gitinfo.Describe(".")
	if err != nil {
		log.Debug("git provenance unavailable", "error", err)
	}
	if commit := info.String(); commit != "" {
		log.Info("working tree", "commit", commit)
	}

	if opts.Slurm || opts.Dry {
		return submit(ctx, cfg, variants, tasks, opts, info, log)
	}

	sched := NewScheduler(log, SchedulerOptions{
		Workers:   opts.Workers,
		Overwrite: opts.Overwrite,
		Commit:    info.String(),
	})
	jobs := newJobs(tasks)

	if opts.JobIndex >= 0 {
		// Array task runs record nothing: the submission that spawned
		// them already did.
		return sched.RunOne(ctx, exp, jobs, opts.JobIndex)
	}

	err = sched.RunAll(ctx, exp, jobs)
	record(log, &history.Submission{
		Kind:        history.KindLocal,
		ConfigPath:  cfg.Path,
		Experiments: opts.Experiments,
		JobCount:    len(tasks),
		Commit:      info.Commit,
		Dirty:       info.Dirty,
		Note:        noteFor(err),
	})
	return err
}

// workerArgs are the run flags forwarded to every array task invocation
// in the batch script.
func workerArgs(opts *Options) []string {
	var args []string
	for _, name := range opts.Experiments {
		args = append(args, "-e", name)
	}
	if opts.Overwrite {
		args = append(args, "-o")
	}
	return args
}

// submit finalizes, generates and submits the batch script.
func submit(ctx context.Context, cfg *config.Config, variants []*config.Experiment, tasks []grid.Task, opts *Options, info gitinfo.Info, log Logger) error {
	svc := slurm.NewService(log)

	script, err := svc.Finalize(cfg, variants, slurm.Options{
		JobCount: len(tasks),
		CwArgs:   workerArgs(opts),
		NoCopy:   opts.NoCodeCopy,
	})
	if err != nil {
		return err
	}

	if script.CopyDst != "" {
		if err := svc.CopyCode(script); err != nil {
			return err
		}
	}

	path, err := svc.Generate(script)
	if err != nil {
		return err
	}

	sub := &history.Submission{
		Kind:        history.KindSlurm,
		ConfigPath:  cfg.Path,
		Experiments: opts.Experiments,
		JobCount:    len(tasks),
		ScriptPath:  path,
		Commit:      info.Commit,
		Dirty:       info.Dirty,
	}

	if opts.Dry {
		log.Info("dry run, not submitting", "script", path)
		sub.Kind = history.KindDry
		sub.Note = "dry run"
		record(log, sub)
		return nil
	}

	jobID, err := svc.Submit(ctx, path)
	if err != nil {
		sub.Note = err.Error()
		record(log, sub)
		return err
	}

	log.Info("submitted batch job", "id", jobID, "script", path)
	sub.SlurmJobID = strconv.Itoa(jobID)
	sub.Note = "ok"
	record(log, sub)
	return nil
}

// record appends a submission to the history store. History is best
// effort: failures are logged and never abort the run.
func record(log Logger, sub *history.Submission) {
	tool, err := config.NewTool()
	if err != nil {
		log.Warn("skipping history record", "error", err)
		return
	}
	// resolve the rc file and environment like the cwork CLI
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	tool.RegisterFlags(fs)
	if err := tool.Parse(fs, nil); err != nil {
		log.Warn("skipping history record", "error", err)
		return
	}

	store, err := history.Open(tool.HistoryPath())
	if err != nil {
		log.Warn("skipping history record", "error", err)
		return
	}
	defer store.Close()

	if err := store.Record(sub); err != nil {
		log.Warn("failed to record submission", "error", err)
	}
}

func noteFor(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

func initLogger(verbose bool) *zap.Logger {
	var level zapcore.Level
	if verbose {
		level = zapcore.DebugLevel
	} else {
		level = zapcore.InfoLevel
	}

	encodeConfig := zap.NewDevelopmentEncoderConfig()
	encodeConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encodeConfig.EncodeTime = nil
	consoleEncoder := zapcore.NewConsoleEncoder(encodeConfig)
	consoleOut := zapcore.Lock(os.Stdout)
	core := zapcore.NewCore(consoleEncoder, consoleOut, level)
	logger := zap.New(core)

	logger.Debug("logger initialised")
	return logger
}
