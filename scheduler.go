package clusterwork

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/clusterwork/clusterwork/internal/grid"
)

// Files written into every run directory.
const (
	jobConfigName   = "config.yml"
	jobLogName      = "run.log"
	jobFinishedName = "finished"
)

// SchedulerOptions configures local job execution.
type SchedulerOptions struct {
	// Workers caps the number of jobs running at once. Zero means one
	// worker per CPU.
	Workers int

	// Overwrite re-runs jobs whose run directory is already marked
	// finished.
	Overwrite bool

	// Commit is the provenance stamp recorded in every job's config dump.
	Commit string
}

// Scheduler executes jobs on the local machine.
type Scheduler struct {
	logger Logger
	opts   SchedulerOptions
}

// NewScheduler creates a scheduler.
func NewScheduler(logger Logger, opts SchedulerOptions) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = runtime.NumCPU()
	}
	return &Scheduler{
		logger: logger,
		opts:   opts,
	}
}

// RunAll executes every job, at most Workers at a time. A failing or
// panicking job never stops its siblings; failures are logged as they
// happen and summarized in the returned error. Cancelling the context
// stops dispatch and is returned as the context error.
func (s *Scheduler) RunAll(ctx context.Context, exp Experiment, jobs []*Job) error {
	if len(jobs) == 0 {
		return errors.New("no jobs to run")
	}

	s.logger.Info("running jobs", "count", len(jobs), "workers", s.opts.Workers)

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)

	var failed atomic.Int32
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		job := job // pin per-iteration capture; module targets go < 1.22
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := s.runJob(ctx, exp, job); err != nil {
				failed.Add(1)
				s.logger.Error("job failed",
					"job", job.Name,
					"index", job.Index,
					"error", err,
				)
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d jobs failed", n, len(jobs))
	}
	return nil
}

// RunOne executes the job at the given global index. This is the entry
// point of cluster array tasks.
func (s *Scheduler) RunOne(ctx context.Context, exp Experiment, jobs []*Job, index int) error {
	if index < 0 || index >= len(jobs) {
		return fmt.Errorf("job index %d out of range, have %d jobs", index, len(jobs))
	}
	job := jobs[index]
	if err := s.runJob(ctx, exp, job); err != nil {
		return fmt.Errorf("job %d (%s) failed: %w", job.Index, job.Name, err)
	}
	return nil
}

// runJob prepares the run directory and drives one job through the
// experiment callbacks. A panic in user code is captured as the job error.
func (s *Scheduler) runJob(ctx context.Context, exp Experiment, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %q panicked: %v", job.Name, r)
		}
	}()

	if err := os.MkdirAll(job.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	marker := filepath.Join(job.Dir, jobFinishedName)
	if _, statErr := os.Stat(marker); statErr == nil {
		if !s.opts.Overwrite {
			s.logger.Info("skipping finished job", "job", job.Name, "rep", job.Repetition)
			return nil
		}
		if err := os.Remove(marker); err != nil {
			return fmt.Errorf("failed to reset finished marker: %w", err)
		}
	}

	logFile, err := os.Create(filepath.Join(job.Dir, jobLogName))
	if err != nil {
		return fmt.Errorf("failed to create run log: %w", err)
	}
	defer logFile.Close()

	job.Logger = teeLogger{
		file: NewSlogAdapter(slog.New(slog.NewTextHandler(logFile, nil))),
		proc: s.logger,
	}

	if err := s.writeJobConfig(job); err != nil {
		return err
	}

	job.Logger.Info("job starting", "job", job.Name, "index", job.Index, "rep", job.Repetition)

	if init, ok := exp.(Initializer); ok {
		if err := init.Initialize(ctx, job); err != nil {
			return fmt.Errorf("initialize failed: %w", err)
		}
	}

	runErr := exp.Run(ctx, job)

	if fin, ok := exp.(Finalizer); ok {
		if ferr := fin.Finalize(ctx, job, runErr); ferr != nil && runErr == nil {
			runErr = fmt.Errorf("finalize failed: %w", ferr)
		}
	}
	if runErr != nil {
		return runErr
	}

	if err := os.WriteFile(marker, []byte(time.Now().Format(time.RFC3339)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write finished marker: %w", err)
	}

	job.Logger.Info("job finished", "job", job.Name, "index", job.Index)
	return nil
}

// writeJobConfig dumps the job's resolved parameters into its run
// directory, so every run records exactly what it executed.
func (s *Scheduler) writeJobConfig(job *Job) error {
	dump := struct {
		Name       string         `yaml:"name"`
		Experiment string         `yaml:"experiment"`
		Index      int            `yaml:"index"`
		Repetition int            `yaml:"repetition"`
		Commit     string         `yaml:"commit,omitempty"`
		Params     map[string]any `yaml:"params"`
	}{
		Name:       job.Name,
		Experiment: job.Experiment,
		Index:      job.Index,
		Repetition: job.Repetition,
		Commit:     s.opts.Commit,
		Params:     job.Params,
	}

	data, err := yaml.Marshal(&dump)
	if err != nil {
		return fmt.Errorf("failed to encode job config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(job.Dir, jobConfigName), data, 0644); err != nil {
		return fmt.Errorf("failed to write job config: %w", err)
	}
	return nil
}

// newJobs converts unrolled tasks into jobs.
func newJobs(tasks []grid.Task) []*Job {
	jobs := make([]*Job, len(tasks))
	for i, t := range tasks {
		jobs[i] = &Job{
			Name:       t.Name,
			Experiment: t.Experiment,
			Index:      t.Index,
			Repetition: t.Rep,
			Dir:        t.Dir,
			Params:     t.Params,
		}
	}
	return jobs
}

// teeLogger duplicates records to the per-job run log and the process
// logger.
type teeLogger struct {
	file Logger
	proc Logger
}

func (t teeLogger) Debug(msg string, args ...any) {
	t.file.Debug(msg, args...)
	t.proc.Debug(msg, args...)
}

func (t teeLogger) Info(msg string, args ...any) {
	t.file.Info(msg, args...)
	t.proc.Info(msg, args...)
}

func (t teeLogger) Warn(msg string, args ...any) {
	t.file.Warn(msg, args...)
	t.proc.Warn(msg, args...)
}

func (t teeLogger) Error(msg string, args ...any) {
	t.file.Error(msg, args...)
	t.proc.Error(msg, args...)
}
