// Package slurm turns an experiment configuration into a submittable batch
// script: it computes the derived scheduler values, renders the script
// template and hands the result to sbatch.
package slurm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/clusterwork/clusterwork/internal/config"
)

// Logger is the logging surface the service needs. *slog.Logger satisfies
// it, as do the clusterwork adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Service prepares and submits batch scripts.
type Service struct {
	logger Logger
}

// NewService creates a slurm service.
func NewService(logger Logger) *Service {
	return &Service{
		logger: logger,
	}
}

// Options carries the per-invocation inputs of Finalize.
type Options struct {
	// JobCount is the number of unrolled tasks; the array directive runs
	// indices 0 through JobCount-1.
	JobCount int

	// Binary overrides the worker executable written into the script.
	// Empty means the SLURM document's binary, falling back to the
	// running executable.
	Binary string

	// CwArgs are extra worker flags forwarded into the script, typically
	// the experiment selectors and the overwrite flag.
	CwArgs []string

	// NoCopy disables the experiment code copy even when the
	// configuration requests one.
	NoCopy bool
}

// Script is a finalized batch script: the full substitution map plus the
// paths involved in writing and submitting it.
type Script struct {
	// Subs assigns a value to every template identifier. Optional
	// identifiers carry an empty string.
	Subs map[string]string

	// TemplatePath points at a custom template file. Empty selects the
	// built-in one.
	TemplatePath string

	// Path is where Generate writes the rendered script.
	Path string

	// LogDir receives scheduler stdout and stderr.
	LogDir string

	// CopyDst is the experiment code copy destination. Empty disables
	// the copy.
	CopyDst string
}

// Finalize computes every value the script template needs from the
// configuration, the expanded experiments and the task count. It fills in
// the documented defaults: the job name from the config file stem, the log
// directory and script path under the first experiment directory, and the
// worker binary from the running executable. The log directory is created.
func (s *Service) Finalize(cfg *config.Config, exps []*config.Experiment, opts Options) (*Script, error) {
	sc := cfg.Slurm
	if sc == nil {
		return nil, errors.New("configuration has no SLURM document")
	}
	if opts.JobCount < 1 {
		return nil, errors.New("no jobs to schedule")
	}
	if len(exps) == 0 {
		return nil, errors.New("no experiments to schedule")
	}

	jobName := sc.JobName
	if jobName == "" {
		base := filepath.Base(cfg.Path)
		jobName = strings.TrimSuffix(base, filepath.Ext(base))
	}

	firstDir := exps[0].Dir

	logDir := config.ExpandPath(sc.LogDir)
	if logDir == "" {
		logDir = filepath.Join(firstDir, "slurm_log")
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create slurm log directory: %w", err)
	}

	scriptPath := config.ExpandPath(sc.ScriptOut)
	if scriptPath == "" {
		scriptPath = filepath.Join(firstDir, "sbatch.sh")
	}

	copyDst, cwd, err := resolveCopyDst(sc, opts.NoCopy)
	if err != nil {
		return nil, err
	}
	workDir := copyDst
	if workDir == "" {
		workDir = cwd
	}

	binary := opts.Binary
	if binary == "" {
		binary = sc.Binary
	}
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate worker executable: %w", err)
		}
		binary = exe
	}
	binary, err = filepath.Abs(config.ExpandPath(binary))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve worker executable: %w", err)
	}

	venv := ""
	if sc.Venv != "" {
		venv = "source " + filepath.Join(config.ExpandPath(sc.Venv), "bin", "activate")
	}

	parallel := ""
	if sc.NumParallelJobs > 0 {
		parallel = "%" + strconv.Itoa(sc.NumParallelJobs)
	}

	subs := map[string]string{
		"partition":           sc.Partition,
		"account":             sc.Account,
		"job-name":            jobName,
		"last_job_idx":        strconv.Itoa(opts.JobCount - 1),
		"num_parallel_jobs":   parallel,
		"experiment_copy_dst": workDir,
		"slurm_log":           logDir,
		"ntasks":              strconv.Itoa(sc.Ntasks),
		"cpus-per-task":       strconv.Itoa(sc.CPUsPerTask),
		"mem-per-cpu":         strconv.Itoa(sc.MemPerCPU),
		"time":                formatTime(sc.TimeMinutes),
		"sbatch_args":         formatSbatchArgs(sc),
		"venv":                venv,
		"sh_lines":            strings.Join(sc.ShLines, "\n"),
		"python_script":       binary,
		"path_to_yaml_config": cfg.Path,
		"cw_args":             strings.Join(opts.CwArgs, " "),
	}

	return &Script{
		Subs:         subs,
		TemplatePath: config.ExpandPath(sc.Template),
		Path:         scriptPath,
		LogDir:       logDir,
		CopyDst:      copyDst,
	}, nil
}

// resolveCopyDst picks the experiment code copy destination. The auto
// destination gets a timestamp subdirectory so repeated submissions never
// collide.
func resolveCopyDst(sc *config.Slurm, noCopy bool) (dst, cwd string, err error) {
	cwd, err = os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("failed to get working directory: %w", err)
	}
	if noCopy {
		return "", cwd, nil
	}

	switch {
	case sc.CopyAutoDst != "":
		stamp := time.Now().Format("20060102_150405")
		dst = filepath.Join(config.ExpandPath(sc.CopyAutoDst), stamp)
	case sc.CopyDst != "":
		dst = config.ExpandPath(sc.CopyDst)
	}
	return dst, cwd, nil
}

// formatTime converts a minute budget into the H:MM:00 form sbatch expects.
func formatTime(minutes int) string {
	return fmt.Sprintf("%d:%02d:00", minutes/60, minutes%60)
}

// formatSbatchArgs renders the extra sbatch arguments as directive lines.
// A configured account leads, so the default template honors it without
// uncommenting the account line.
func formatSbatchArgs(sc *config.Slurm) string {
	var lines []string
	if sc.Account != "" {
		lines = append(lines, "#SBATCH -A "+sc.Account)
	}

	keys := make([]string, 0, len(sc.SbatchArgs))
	for k := range sc.SbatchArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("#SBATCH --%s=%s", k, sc.SbatchArgs[k]))
	}
	return strings.Join(lines, "\n")
}
