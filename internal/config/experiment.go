package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Reserved document names in an experiment file.
const (
	DefaultName = "DEFAULT"
	SlurmName   = "SLURM"
)

// Experiment is one experiment document from a configuration file, after
// the DEFAULT document has been merged in.
type Experiment struct {
	Name        string         `yaml:"name"`
	Path        string         `yaml:"path"`
	Repetitions int            `yaml:"repetitions"`
	Params      map[string]any `yaml:"params"`
	Grid        map[string]any `yaml:"grid"`
	List        map[string]any `yaml:"list"`
	Ablative    map[string]any `yaml:"ablative"`

	// BaseName preserves the file-level name while expansion rewrites
	// Name with parameter shorthands.
	BaseName string `yaml:"-"`

	// NestDir groups expanded variants under their parent experiment
	// name. Empty for experiments without grid or list expansion.
	NestDir string `yaml:"-"`

	// Dir is the experiment output directory, derived from Path, NestDir
	// and Name.
	Dir string `yaml:"-"`
}

// Slurm mirrors the SLURM document: one field per template identifier plus
// the knobs controlling script generation. Values that the template needs
// but the document cannot set are computed at finalization.
type Slurm struct {
	Partition       string            `yaml:"partition"`
	Account         string            `yaml:"account"`
	JobName         string            `yaml:"job-name"`
	NumParallelJobs int               `yaml:"num_parallel_jobs"`
	Ntasks          int               `yaml:"ntasks"`
	CPUsPerTask     int               `yaml:"cpus-per-task"`
	MemPerCPU       int               `yaml:"mem-per-cpu"`
	TimeMinutes     int               `yaml:"time"`
	SbatchArgs      map[string]string `yaml:"sbatch_args"`
	Venv            string            `yaml:"venv"`
	ShLines         []string          `yaml:"sh_lines"`
	CopyDst         string            `yaml:"experiment_copy_dst"`
	CopyAutoDst     string            `yaml:"experiment_copy_auto_dst"`
	LogDir          string            `yaml:"slurm_log"`
	Template        string            `yaml:"path_to_template"`
	ScriptOut       string            `yaml:"slurm_out"`
	Binary          string            `yaml:"binary"`
}

// Config is a fully loaded experiment configuration file.
type Config struct {
	Path        string
	Experiments []*Experiment
	Slurm       *Slurm
}

// Load reads a multi-document experiment YAML file. The DEFAULT document is
// merged under every experiment document, the SLURM document is decoded
// into Config.Slurm, and every remaining document becomes one Experiment.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %s: %w", path, err)
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	cfg, err := parse(f, abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	return cfg, nil
}

func parse(r io.Reader, abs string) (*Config, error) {
	docs, err := decodeDocuments(r)
	if err != nil {
		return nil, err
	}

	var def map[string]any
	cfg := &Config{Path: abs}

	for i, doc := range docs {
		name, _ := doc["name"].(string)
		switch name {
		case "":
			return nil, fmt.Errorf("document %d has no name", i+1)
		case DefaultName:
			if def != nil {
				return nil, errors.New("multiple DEFAULT documents")
			}
			def = doc
		case SlurmName:
			if cfg.Slurm != nil {
				return nil, errors.New("multiple SLURM documents")
			}
			sc, err := decodeSlurm(doc)
			if err != nil {
				return nil, err
			}
			cfg.Slurm = sc
		default:
			exp, err := decodeExperiment(mergeMaps(def, doc), filepath.Dir(abs))
			if err != nil {
				return nil, fmt.Errorf("experiment %q: %w", name, err)
			}
			cfg.Experiments = append(cfg.Experiments, exp)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeDocuments reads every YAML document from r. Empty documents are
// skipped.
func decodeDocuments(r io.Reader) ([]map[string]any, error) {
	dec := yaml.NewDecoder(r)

	var docs []map[string]any
	for {
		var doc map[string]any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode document %d: %w", len(docs)+1, err)
		}
		if doc == nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// decodeExperiment converts a merged document map into an Experiment and
// fills derived fields. A relative path is resolved against the directory
// holding the configuration file, so results land in the same place no
// matter where the binary runs. Unknown top-level keys are ignored.
func decodeExperiment(doc map[string]any, baseDir string) (*Experiment, error) {
	var exp Experiment
	if err := reDecode(doc, &exp); err != nil {
		return nil, err
	}

	if exp.Path == "" {
		return nil, errors.New("missing path")
	}
	if exp.Repetitions == 0 {
		exp.Repetitions = 1
	}
	if exp.Repetitions < 0 {
		return nil, fmt.Errorf("repetitions must be positive, got %d", exp.Repetitions)
	}
	if exp.Params == nil {
		exp.Params = make(map[string]any)
	}

	exp.Path = ExpandPath(exp.Path)
	if !filepath.IsAbs(exp.Path) {
		exp.Path = filepath.Join(baseDir, exp.Path)
	}
	exp.BaseName = exp.Name
	exp.ResolveDir()
	return &exp, nil
}

// ResolveDir recomputes the output directory from Path, NestDir and Name.
// Expansion calls it again after rewriting names.
func (e *Experiment) ResolveDir() {
	e.Dir = filepath.Join(e.Path, e.NestDir, e.Name)
}

func decodeSlurm(doc map[string]any) (*Slurm, error) {
	sc := &Slurm{
		Ntasks:      1,
		CPUsPerTask: 1,
	}
	if err := reDecode(doc, sc); err != nil {
		return nil, fmt.Errorf("SLURM document: %w", err)
	}

	switch {
	case sc.Partition == "":
		return nil, errors.New("SLURM document: missing partition")
	case sc.TimeMinutes <= 0:
		return nil, errors.New("SLURM document: time must be positive minutes")
	case sc.MemPerCPU <= 0:
		return nil, errors.New("SLURM document: mem-per-cpu must be positive megabytes")
	case sc.Ntasks < 1 || sc.CPUsPerTask < 1:
		return nil, errors.New("SLURM document: ntasks and cpus-per-task must be at least 1")
	case sc.NumParallelJobs < 0:
		return nil, errors.New("SLURM document: num_parallel_jobs cannot be negative")
	}
	return sc, nil
}

// reDecode round-trips a document map through YAML into a typed struct.
func reDecode(doc map[string]any, out any) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, out)
}

func (c *Config) validate() error {
	if len(c.Experiments) == 0 {
		return errors.New("no experiment documents")
	}

	seen := make(map[string]bool, len(c.Experiments))
	for _, exp := range c.Experiments {
		if seen[exp.Name] {
			return fmt.Errorf("duplicate experiment name %q", exp.Name)
		}
		seen[exp.Name] = true
	}
	return nil
}

// Names returns the experiment names in file order.
func (c *Config) Names() []string {
	names := make([]string, len(c.Experiments))
	for i, exp := range c.Experiments {
		names[i] = exp.Name
	}
	return names
}

// Select reduces the configuration to the named experiments. With no names
// it returns the configuration unchanged.
func (c *Config) Select(names []string) (*Config, error) {
	if len(names) == 0 {
		return c, nil
	}

	byName := make(map[string]*Experiment, len(c.Experiments))
	for _, exp := range c.Experiments {
		byName[exp.Name] = exp
	}

	selected := &Config{Path: c.Path, Slurm: c.Slurm}
	for _, name := range names {
		exp, ok := byName[name]
		if !ok {
			known := c.Names()
			sort.Strings(known)
			return nil, fmt.Errorf("unknown experiment %q, have: %s", name, strings.Join(known, ", "))
		}
		selected.Experiments = append(selected.Experiments, exp)
	}
	return selected, nil
}

// mergeMaps overlays src on base: nested maps merge recursively, everything
// else in src wins. Neither argument is modified.
func mergeMaps(base, src map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(src))
	for k, v := range base {
		out[k] = CloneValue(v)
	}
	for k, v := range src {
		if bm, ok := out[k].(map[string]any); ok {
			if sm, ok := v.(map[string]any); ok {
				out[k] = mergeMaps(bm, sm)
				continue
			}
		}
		out[k] = CloneValue(v)
	}
	return out
}

// CloneMap deep-copies a parameter map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies maps and slices, returning scalars as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}
