// Package grid expands experiment definitions into concrete parameter
// variants and unrolls repetitions into schedulable tasks.
package grid

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/clusterwork/clusterwork/internal/config"
)

// Task is one schedulable unit of work: a single repetition of one expanded
// experiment variant. Index is the position in the global task list and
// doubles as the array task id on the cluster.
type Task struct {
	Index      int
	Name       string
	Experiment string
	Rep        int
	Dir        string
	Params     map[string]any
}

// Expand resolves the grid, list and ablative blocks of every experiment
// into concrete variants.
//
// A grid block yields the cartesian product of its value lists, a list
// block zips them position-wise. When an experiment carries both, the list
// is zipped first and each zipped variant is re-expanded against the grid.
// An ablative block appends one extra variant per value to the base
// expansion, changing a single parameter at a time.
//
// Variant names extend the experiment name with a parameter shorthand.
// Warnings report zipped lists of unequal length.
func Expand(exps []*config.Experiment) ([]*config.Experiment, []string, error) {
	queue := make([]*config.Experiment, 0, len(exps))
	for _, exp := range exps {
		queue = append(queue, cloneExperiment(exp))
	}

	var out []*config.Experiment
	var warnings []string

	for i := 0; i < len(queue); i++ {
		exp := queue[i]

		if len(exp.Grid) > 0 && len(exp.List) > 0 {
			variants, warns, err := combine(exp, exp.List, true)
			if err != nil {
				return nil, nil, err
			}
			warnings = append(warnings, warns...)
			for _, v := range variants {
				v.List = nil
			}
			queue = append(queue, variants...)
			continue
		}

		var variants []*config.Experiment
		switch {
		case len(exp.Grid) > 0:
			vs, _, err := combine(exp, exp.Grid, false)
			if err != nil {
				return nil, nil, err
			}
			variants = vs
			for _, v := range variants {
				v.Grid = nil
			}
		case len(exp.List) > 0:
			vs, warns, err := combine(exp, exp.List, true)
			if err != nil {
				return nil, nil, err
			}
			variants = vs
			warnings = append(warnings, warns...)
			for _, v := range variants {
				v.List = nil
			}
		default:
			variants = []*config.Experiment{exp}
		}

		if len(exp.Ablative) > 0 {
			extra, err := ablate(variants)
			if err != nil {
				return nil, nil, err
			}
			variants = append(variants, extra...)
		}
		out = append(out, variants...)
	}

	for _, exp := range out {
		exp.Ablative = nil
		exp.ResolveDir()
	}
	return out, warnings, nil
}

// Unroll turns expanded variants into per-repetition tasks. Task order
// follows variant order, repetitions innermost, and assigns the global
// zero-based index used for array submission.
func Unroll(exps []*config.Experiment) []Task {
	var tasks []Task
	for _, exp := range exps {
		for r := 0; r < exp.Repetitions; r++ {
			tasks = append(tasks, Task{
				Index:      len(tasks),
				Name:       exp.Name,
				Experiment: baseName(exp),
				Rep:        r,
				Dir:        filepath.Join(exp.Dir, "log", fmt.Sprintf("rep_%02d", r)),
				Params:     config.CloneMap(exp.Params),
			})
		}
	}
	return tasks
}

// combine expands one block (grid or list) of exp into variants.
func combine(exp *config.Experiment, block map[string]any, zip bool) ([]*config.Experiment, []string, error) {
	keys, err := flatten(exp.Name, block)
	if err != nil {
		return nil, nil, err
	}
	if len(keys) == 0 {
		return []*config.Experiment{exp}, nil, nil
	}

	var rows [][]any
	var warnings []string
	if zip {
		rows, warnings = zipRows(exp.Name, keys)
	} else {
		rows = productRows(keys)
	}

	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.name
	}

	variants := make([]*config.Experiment, 0, len(rows))
	for _, row := range rows {
		v := cloneExperiment(exp)
		for i, k := range keys {
			insertDeep(v.Params, k.path, config.CloneValue(row[i]))
		}
		extendName(v, names, row)
		variants = append(variants, v)
	}
	return variants, warnings, nil
}

// ablate appends single-parameter variants for every value in the ablative
// block, one per base variant.
func ablate(base []*config.Experiment) ([]*config.Experiment, error) {
	var out []*config.Experiment
	for _, exp := range base {
		keys, err := flatten(exp.Name, exp.Ablative)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			for _, val := range k.values {
				v := cloneExperiment(exp)
				insertDeep(v.Params, k.path, config.CloneValue(val))
				extendName(v, []string{k.name}, []any{val})
				out = append(out, v)
			}
		}
	}
	return out, nil
}

// flatKey is one dotted parameter of an expansion block.
type flatKey struct {
	path   []string
	name   string
	values []any
}

// flatten converts a nested block into dotted keys, sorted by name so
// expansion order does not depend on map iteration.
func flatten(expName string, block map[string]any) ([]flatKey, error) {
	var keys []flatKey

	var walk func(prefix []string, m map[string]any) error
	walk = func(prefix []string, m map[string]any) error {
		for k, v := range m {
			path := append(append([]string(nil), prefix...), k)
			switch t := v.(type) {
			case map[string]any:
				if err := walk(path, t); err != nil {
					return err
				}
			case []any:
				if len(t) == 0 {
					return fmt.Errorf("experiment %q: expansion key %s has no values", expName, strings.Join(path, "."))
				}
				keys = append(keys, flatKey{path: path, name: strings.Join(path, "."), values: t})
			default:
				return fmt.Errorf("experiment %q: expansion key %s must hold a list, got %T", expName, strings.Join(path, "."), v)
			}
		}
		return nil
	}
	if err := walk(nil, block); err != nil {
		return nil, err
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].name < keys[j].name })
	return keys, nil
}

// productRows builds the cartesian product of the key values, last key
// varying fastest.
func productRows(keys []flatKey) [][]any {
	total := 1
	for _, k := range keys {
		total *= len(k.values)
	}

	out := make([][]any, 0, total)
	idx := make([]int, len(keys))
	for {
		row := make([]any, len(keys))
		for i, k := range keys {
			row[i] = k.values[idx[i]]
		}
		out = append(out, row)

		i := len(keys) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(keys[i].values) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			break
		}
	}
	return out
}

// zipRows pairs the key values position-wise, stopping at the shortest
// list.
func zipRows(expName string, keys []flatKey) ([][]any, []string) {
	shortest := len(keys[0].values)
	equal := true
	for _, k := range keys[1:] {
		if len(k.values) != shortest {
			equal = false
		}
		if len(k.values) < shortest {
			shortest = len(k.values)
		}
	}

	var warnings []string
	if !equal {
		warnings = append(warnings, fmt.Sprintf("list params of experiment %q are not of equal length", expName))
	}

	out := make([][]any, 0, shortest)
	for i := 0; i < shortest; i++ {
		row := make([]any, len(keys))
		for j, k := range keys {
			row[j] = k.values[i]
		}
		out = append(out, row)
	}
	return out, warnings
}

// extendName appends the parameter shorthand to the variant name and nests
// the variant under its original experiment. The double underscore joins
// the shorthand only once; later extensions fall back to a single one.
func extendName(exp *config.Experiment, names []string, values []any) {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s_%v", shortenParam(n), values[i])
	}

	sep := "__"
	if strings.Contains(exp.Name, sep) {
		sep = "_"
	}
	exp.Name = exp.Name + sep + strings.Join(parts, "_")
	exp.NestDir = baseName(exp)
}

// shortenParam abbreviates a dotted parameter name: intermediate segments
// keep their first three characters, the leaf keeps the initials of its
// underscore-separated words. "train.learning_rate" becomes "tra.lr".
func shortenParam(name string) string {
	segs := strings.Split(name, ".")
	leafWords := strings.Split(segs[len(segs)-1], "_")

	var leaf strings.Builder
	for _, w := range leafWords {
		if w != "" {
			leaf.WriteByte(w[0])
		}
	}

	if len(segs) == 1 {
		return leaf.String()
	}

	parts := make([]string, 0, len(segs))
	for _, s := range segs[:len(segs)-1] {
		if len(s) > 3 {
			s = s[:3]
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ".") + "." + leaf.String()
}

func baseName(exp *config.Experiment) string {
	if exp.BaseName != "" {
		return exp.BaseName
	}
	return exp.Name
}

// insertDeep writes a value into a nested parameter map, creating
// intermediate maps as needed.
func insertDeep(m map[string]any, path []string, v any) {
	for _, k := range path[:len(path)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[k] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

func cloneExperiment(exp *config.Experiment) *config.Experiment {
	c := *exp
	c.Params = config.CloneMap(exp.Params)
	c.Grid = config.CloneMap(exp.Grid)
	c.List = config.CloneMap(exp.List)
	c.Ablative = config.CloneMap(exp.Ablative)
	if c.Params == nil {
		c.Params = make(map[string]any)
	}
	return &c
}
