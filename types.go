// Package clusterwork is a framework for running parameter-sweep
// experiments locally or on a SLURM cluster. An experiment binary
// implements Experiment and hands control to Run; the same binary then
// serves as submission front-end, array-task worker and local runner.
package clusterwork

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Experiment is the user-implemented work unit. Run is called once per
// job with the job's parameters and run directory prepared.
type Experiment interface {
	Run(ctx context.Context, job *Job) error
}

// Initializer is implemented by experiments that need per-job setup
// before Run.
type Initializer interface {
	Initialize(ctx context.Context, job *Job) error
}

// Finalizer is implemented by experiments that need per-job teardown.
// Finalize always runs when present, and receives the error Run returned.
type Finalizer interface {
	Finalize(ctx context.Context, job *Job, runErr error) error
}

// Job is one schedulable unit: a single repetition of one expanded
// experiment variant.
type Job struct {
	// Name is the expanded variant name, e.g. "polynom__a_1_b_2".
	Name string

	// Experiment is the name of the experiment the variant came from.
	Experiment string

	// Index is the job's position in the global task list and doubles as
	// the array task id on the cluster.
	Index int

	// Repetition is the zero-based repetition number.
	Repetition int

	// Dir is the run directory. It exists by the time Run is called.
	Dir string

	// Params holds the merged, expanded parameters.
	Params map[string]any

	// Logger writes to the run log and the process log.
	Logger Logger
}

// Param looks up a parameter by dotted path ("train.lr").
func (j *Job) Param(path string) (any, bool) {
	var cur any = j.Params
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the parameter at path as a string, or def when absent.
// Scalar values of other types are formatted.
func (j *Job) String(path, def string) string {
	v, ok := j.Param(path)
	if !ok {
		return def
	}
	switch v := v.(type) {
	case string:
		return v
	case map[string]any, []any:
		return def
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the parameter at path as an int, or def.
func (j *Job) Int(path string, def int) int {
	v, ok := j.Param(path)
	if !ok {
		return def
	}
	switch v := v.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Float returns the parameter at path as a float64, or def.
func (j *Job) Float(path string, def float64) float64 {
	v, ok := j.Param(path)
	if !ok {
		return def
	}
	switch v := v.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns the parameter at path as a bool, or def.
func (j *Job) Bool(path string, def bool) bool {
	if v, ok := j.Param(path); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}
