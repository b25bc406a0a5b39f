package slurm

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/clusterwork/clusterwork/pkg/template"
)

// Render produces the script text for a finalized script, using the custom
// template when one is configured.
func (s *Service) Render(script *Script) (string, error) {
	text := template.Default()
	if script.TemplatePath != "" {
		raw, err := os.ReadFile(script.TemplatePath)
		if err != nil {
			return "", fmt.Errorf("failed to read template %s: %w", script.TemplatePath, err)
		}
		text = string(raw)
	}

	out, err := template.Render(text, script.Subs)
	if err != nil {
		return "", fmt.Errorf("failed to render script: %w", err)
	}
	return out, nil
}

// Generate renders the script and writes it, executable, to its output
// path.
func (s *Service) Generate(script *Script) (string, error) {
	text, err := s.Render(script)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(script.Path), 0755); err != nil {
		return "", fmt.Errorf("failed to create script directory: %w", err)
	}
	if err := os.WriteFile(script.Path, []byte(text), 0755); err != nil {
		return "", fmt.Errorf("failed to write script: %w", err)
	}

	s.logger.Info("sbatch script written", "path", script.Path)
	return script.Path, nil
}

// CopyCode mirrors the working tree into the copy destination so cluster
// jobs run against a frozen snapshot of the code. Git metadata, the
// destination itself and the slurm log directory stay behind.
func (s *Service) CopyCode(script *Script) error {
	if script.CopyDst == "" {
		return nil
	}

	src, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	dst, err := filepath.Abs(script.CopyDst)
	if err != nil {
		return fmt.Errorf("failed to resolve copy destination: %w", err)
	}
	logDir, err := filepath.Abs(script.LogDir)
	if err != nil {
		return fmt.Errorf("failed to resolve log directory: %w", err)
	}

	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("failed to create copy destination: %w", err)
	}

	s.logger.Info("copying experiment code", "from", src, "to", dst)

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if d.Name() == ".git" || path == dst || path == logDir {
				return filepath.SkipDir
			}
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			s.logger.Debug("skipping non-regular file", "path", path)
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
