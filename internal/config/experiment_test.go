package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "cwork-config-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "experiment.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	content := `---
name: DEFAULT
repetitions: 2
params:
  train:
    lr: 0.1
    epochs: 10
---
name: SLURM
partition: gpu
time: 90
mem-per-cpu: 1000
sbatch_args:
  gres: gpu:1
---
name: baseline
path: results
params:
  train:
    lr: 0.01
---
name: wide
path: results
repetitions: 5
params:
  model:
    width: 512
`

	path := writeConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if len(cfg.Experiments) != 2 {
		t.Fatalf("Load() experiments = %d, want 2", len(cfg.Experiments))
	}
	if !filepath.IsAbs(cfg.Path) {
		t.Errorf("Config.Path should be absolute, got %s", cfg.Path)
	}

	baseline := cfg.Experiments[0]
	if baseline.Name != "baseline" {
		t.Errorf("first experiment = %s, want baseline", baseline.Name)
	}
	if baseline.Repetitions != 2 {
		t.Errorf("baseline repetitions = %d, want 2 from DEFAULT", baseline.Repetitions)
	}

	train, ok := baseline.Params["train"].(map[string]any)
	if !ok {
		t.Fatalf("baseline params missing train block: %v", baseline.Params)
	}
	if lr := train["lr"]; lr != 0.01 {
		t.Errorf("baseline lr = %v, want experiment value 0.01 over DEFAULT", lr)
	}
	if epochs := train["epochs"]; epochs != 10 {
		t.Errorf("baseline epochs = %v, want 10 merged from DEFAULT", epochs)
	}

	wide := cfg.Experiments[1]
	if wide.Repetitions != 5 {
		t.Errorf("wide repetitions = %d, want 5 over DEFAULT", wide.Repetitions)
	}

	wantDir := filepath.Join(filepath.Dir(path), "results", "baseline")
	if baseline.Dir != wantDir {
		t.Errorf("baseline dir = %s, want %s", baseline.Dir, wantDir)
	}

	if cfg.Slurm == nil {
		t.Fatal("Load() should decode the SLURM document")
	}
	if cfg.Slurm.Partition != "gpu" {
		t.Errorf("slurm partition = %s, want gpu", cfg.Slurm.Partition)
	}
	if cfg.Slurm.TimeMinutes != 90 {
		t.Errorf("slurm time = %d, want 90", cfg.Slurm.TimeMinutes)
	}
	if cfg.Slurm.Ntasks != 1 || cfg.Slurm.CPUsPerTask != 1 {
		t.Errorf("slurm ntasks/cpus = %d/%d, want defaults 1/1", cfg.Slurm.Ntasks, cfg.Slurm.CPUsPerTask)
	}
	if got := cfg.Slurm.SbatchArgs["gres"]; got != "gpu:1" {
		t.Errorf("sbatch_args gres = %q, want gpu:1", got)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "document without name",
			content: "---\npath: results\n",
			wantErr: "no name",
		},
		{
			name:    "missing path",
			content: "---\nname: exp\n",
			wantErr: "missing path",
		},
		{
			name:    "no experiments",
			content: "---\nname: DEFAULT\nrepetitions: 1\n",
			wantErr: "no experiment documents",
		},
		{
			name:    "duplicate names",
			content: "---\nname: exp\npath: a\n---\nname: exp\npath: b\n",
			wantErr: "duplicate experiment name",
		},
		{
			name:    "negative repetitions",
			content: "---\nname: exp\npath: a\nrepetitions: -1\n",
			wantErr: "repetitions",
		},
		{
			name:    "multiple DEFAULT documents",
			content: "---\nname: DEFAULT\n---\nname: DEFAULT\n---\nname: exp\npath: a\n",
			wantErr: "multiple DEFAULT",
		},
		{
			name:    "slurm without partition",
			content: "---\nname: SLURM\ntime: 60\nmem-per-cpu: 1000\n---\nname: exp\npath: a\n",
			wantErr: "missing partition",
		},
		{
			name:    "slurm without time",
			content: "---\nname: SLURM\npartition: gpu\nmem-per-cpu: 1000\n---\nname: exp\npath: a\n",
			wantErr: "time must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() expected error, got none")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/experiment.yml")
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoadSkipsEmptyDocuments(t *testing.T) {
	content := "---\nname: exp\npath: results\n---\n"
	path := writeConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(cfg.Experiments) != 1 {
		t.Errorf("Load() experiments = %d, want 1", len(cfg.Experiments))
	}
	if cfg.Slurm != nil {
		t.Error("Load() should leave Slurm nil without a SLURM document")
	}
}

func TestSelect(t *testing.T) {
	content := `---
name: a
path: results
---
name: b
path: results
---
name: c
path: results
`
	path := writeConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	tests := []struct {
		name      string
		selectors []string
		want      []string
		wantErr   bool
	}{
		{
			name:      "no selectors keeps everything",
			selectors: nil,
			want:      []string{"a", "b", "c"},
		},
		{
			name:      "subset in selector order",
			selectors: []string{"c", "a"},
			want:      []string{"c", "a"},
		},
		{
			name:      "unknown name",
			selectors: []string{"missing"},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cfg.Select(tt.selectors)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Select() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !strings.Contains(err.Error(), "missing") {
					t.Errorf("Select() error should name the unknown experiment, got: %v", err)
				}
				return
			}

			names := got.Names()
			if len(names) != len(tt.want) {
				t.Fatalf("Select() names = %v, want %v", names, tt.want)
			}
			for i := range names {
				if names[i] != tt.want[i] {
					t.Errorf("Select() names = %v, want %v", names, tt.want)
					break
				}
			}
		})
	}
}

func TestMergeMapsDoesNotAlias(t *testing.T) {
	def := map[string]any{
		"params": map[string]any{"lr": 0.1},
	}
	doc := map[string]any{
		"name": "exp",
	}

	merged := mergeMaps(def, doc)
	params := merged["params"].(map[string]any)
	params["lr"] = 0.5

	if def["params"].(map[string]any)["lr"] != 0.1 {
		t.Error("mergeMaps() should deep-copy nested maps")
	}
}
