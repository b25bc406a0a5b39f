package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dir, err := os.MkdirTemp("", "history-test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func TestRecordAndList(t *testing.T) {
	store := openTestStore(t)

	sub := &Submission{
		Kind:        KindSlurm,
		ConfigPath:  "/tmp/polynom.yml",
		Experiments: []string{"polynom__lr_0.1", "polynom__lr_0.01"},
		JobCount:    10,
		SlurmJobID:  "123456",
		ScriptPath:  "/tmp/out/sbatch.sh",
		Commit:      "deadbeef",
		Dirty:       true,
	}
	if err := store.Record(sub); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if sub.ID == "" {
		t.Error("Record() did not assign an ID")
	}
	if sub.CreatedAt.IsZero() {
		t.Error("Record() did not assign a timestamp")
	}

	subs, err := store.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("List() returned %d submissions, want 1", len(subs))
	}

	got := subs[0]
	if got.ID != sub.ID {
		t.Errorf("ID = %q, want %q", got.ID, sub.ID)
	}
	if got.Kind != KindSlurm {
		t.Errorf("Kind = %q, want %q", got.Kind, KindSlurm)
	}
	if got.ConfigPath != sub.ConfigPath {
		t.Errorf("ConfigPath = %q, want %q", got.ConfigPath, sub.ConfigPath)
	}
	if len(got.Experiments) != 2 || got.Experiments[0] != "polynom__lr_0.1" {
		t.Errorf("Experiments = %v, want %v", got.Experiments, sub.Experiments)
	}
	if got.JobCount != 10 {
		t.Errorf("JobCount = %d, want 10", got.JobCount)
	}
	if got.SlurmJobID != "123456" {
		t.Errorf("SlurmJobID = %q, want %q", got.SlurmJobID, "123456")
	}
	if got.Commit != "deadbeef" {
		t.Errorf("Commit = %q, want %q", got.Commit, "deadbeef")
	}
	if !got.Dirty {
		t.Error("Dirty = false, want true")
	}
}

func TestListOrderAndLimit(t *testing.T) {
	store := openTestStore(t)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		sub := &Submission{
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			Kind:       KindLocal,
			ConfigPath: "/tmp/polynom.yml",
			JobCount:   i + 1,
		}
		if err := store.Record(sub); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	subs, err := store.List(3)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(subs) != 3 {
		t.Fatalf("List(3) returned %d submissions, want 3", len(subs))
	}
	for i, want := range []int{5, 4, 3} {
		if subs[i].JobCount != want {
			t.Errorf("subs[%d].JobCount = %d, want %d", i, subs[i].JobCount, want)
		}
	}
}

func TestListEmpty(t *testing.T) {
	store := openTestStore(t)

	subs, err := store.List(10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("List() returned %d submissions, want 0", len(subs))
	}
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	dir, err := os.MkdirTemp("", "history-test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "nested", "history.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := store.Record(&Submission{Kind: KindDry, ConfigPath: "a.yml"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() after Close error = %v", err)
	}
	defer reopened.Close()

	subs, err := reopened.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(subs) != 1 {
		t.Errorf("List() returned %d submissions after reopen, want 1", len(subs))
	}
	if reopened.Path() != path {
		t.Errorf("Path() = %q, want %q", reopened.Path(), path)
	}
}
