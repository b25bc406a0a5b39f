package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewTool(t *testing.T) {
	tool, err := NewTool()
	if err != nil {
		t.Fatalf("NewTool() failed: %v", err)
	}

	if tool.ConfigFile == "" {
		t.Error("ConfigFile should have a default value")
	}
	if tool.DataDir == "" {
		t.Error("DataDir should have a default value")
	}
	if tool.Debug {
		t.Error("Debug should default to false")
	}

	if !strings.Contains(tool.ConfigFile, ".clusterworkrc") {
		t.Errorf("ConfigFile should contain '.clusterworkrc', got: %s", tool.ConfigFile)
	}
	if !strings.Contains(tool.DataDir, ".clusterwork") {
		t.Errorf("DataDir should contain '.clusterwork', got: %s", tool.DataDir)
	}
}

func TestToolParse(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    func(*Tool) bool
		wantErr bool
	}{
		{
			name: "empty args",
			args: []string{},
			want: func(tl *Tool) bool {
				return tl.Debug == false
			},
		},
		{
			name: "debug flag",
			args: []string{"--debug"},
			want: func(tl *Tool) bool {
				return tl.Debug == true
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir, err := os.MkdirTemp("", "cwork-test-*")
			if err != nil {
				t.Fatalf("Failed to create temp dir: %v", err)
			}
			defer os.RemoveAll(tempDir)

			tool := &Tool{
				ConfigFile: filepath.Join(tempDir, ".clusterworkrc"),
				DataDir:    filepath.Join(tempDir, "data"),
			}

			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			tool.RegisterFlags(fs)

			err = tool.Parse(fs, tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && !tt.want(tool) {
				t.Errorf("Parse() result doesn't match expectations for args: %v", tt.args)
			}

			if _, err := os.Stat(tool.DataDir); os.IsNotExist(err) {
				t.Error("Parse() should create the data directory")
			}
		})
	}
}

func TestToolParseConfigFile(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "cwork-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	rc := filepath.Join(tempDir, ".clusterworkrc")
	if err := os.WriteFile(rc, []byte("debug = true\n"), 0644); err != nil {
		t.Fatalf("Failed to write rc file: %v", err)
	}

	tool := &Tool{
		ConfigFile: rc,
		DataDir:    filepath.Join(tempDir, "data"),
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	tool.RegisterFlags(fs)

	if err := tool.Parse(fs, []string{}); err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	if !tool.Debug {
		t.Error("Parse() should pick up debug from the rc file")
	}
}

func TestToolLogger(t *testing.T) {
	tests := []struct {
		name  string
		debug bool
	}{
		{
			name:  "debug disabled",
			debug: false,
		},
		{
			name:  "debug enabled",
			debug: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := &Tool{Debug: tt.debug}
			logger := tool.Logger()

			if logger == nil {
				t.Fatal("Logger() returned nil")
			}

			logger.Info("test message")
			logger.Debug("debug message")
		})
	}
}

func TestHistoryPath(t *testing.T) {
	tool := &Tool{DataDir: "/data/cwork"}
	want := filepath.Join("/data/cwork", "history.db")
	if got := tool.HistoryPath(); got != want {
		t.Errorf("HistoryPath() = %s, want %s", got, want)
	}
}

func TestExpandPath(t *testing.T) {
	originalHome := os.Getenv("HOME")
	testHome := "/test/home"
	os.Setenv("HOME", testHome)
	defer os.Setenv("HOME", originalHome)

	if got := ExpandPath("/absolute/path"); got != "/absolute/path" {
		t.Errorf("ExpandPath(/absolute/path) = %s", got)
	}
	if got := ExpandPath("$HOME/experiments"); got != testHome+"/experiments" {
		t.Errorf("ExpandPath($HOME/experiments) = %s", got)
	}

	t.Run("tilde expansion", func(t *testing.T) {
		result := ExpandPath("~/experiments")
		if strings.Contains(result, "~") {
			t.Errorf("ExpandPath(~/experiments) should not contain ~, got %s", result)
		}
		if !strings.HasSuffix(result, "/experiments") {
			t.Errorf("ExpandPath(~/experiments) should end with /experiments, got %s", result)
		}
	})
}
