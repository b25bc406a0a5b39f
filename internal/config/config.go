package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/fftoml"
)

// Tool holds the settings shared by every entry point: the rc file, the
// data directory for the submission history, and logging verbosity.
type Tool struct {
	ConfigFile string
	DataDir    string
	Debug      bool
}

// NewTool creates a tool configuration with default values.
func NewTool() (*Tool, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}

	return &Tool{
		ConfigFile: filepath.Join(u.HomeDir, ".clusterworkrc"),
		DataDir:    filepath.Join(u.HomeDir, ".clusterwork"),
		Debug:      false,
	}, nil
}

// RegisterFlags adds the tool flags to fs.
func (t *Tool) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&t.ConfigFile, "config", t.ConfigFile, "tool configuration file path")
	fs.StringVar(&t.DataDir, "data", t.DataDir, "directory for the submission history")
	fs.BoolVar(&t.Debug, "debug", t.Debug, "enable debug logging")
}

// Parse parses flags, environment variables and the rc file into fs.
func (t *Tool) Parse(fs *flag.FlagSet, args []string) error {
	err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("CWORK"),
		ff.WithConfigFileFlag("config"),
		ff.WithAllowMissingConfigFile(true),
		ff.WithConfigFileParser(fftoml.Parser),
	)
	if err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}

	t.ConfigFile = ExpandPath(t.ConfigFile)
	t.DataDir = ExpandPath(t.DataDir)

	if err := t.ensureDataDir(); err != nil {
		return fmt.Errorf("failed to ensure data directory: %w", err)
	}
	return nil
}

// Logger creates a structured logger based on the debug configuration.
func (t *Tool) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if t.Debug {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler)
}

// HistoryPath returns the location of the submission history database.
func (t *Tool) HistoryPath() string {
	return filepath.Join(t.DataDir, "history.db")
}

// ensureDataDir creates the data directory if it doesn't exist.
func (t *Tool) ensureDataDir() error {
	if _, err := os.Stat(t.DataDir); os.IsNotExist(err) {
		if err := os.MkdirAll(t.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory %s: %w", t.DataDir, err)
		}
	}
	return nil
}

// ExpandPath expands environment variables and ~ in paths.
func ExpandPath(path string) string {
	path = os.ExpandEnv(path)
	if strings.HasPrefix(path, "~") {
		if u, err := user.Current(); err == nil {
			return strings.Replace(path, "~", u.HomeDir, 1)
		}
	}
	return path
}
