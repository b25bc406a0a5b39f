package slurm

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const submittedPrefix = "Submitted batch job "

// Submit hands a generated script to sbatch and returns the batch job id.
func (s *Service) Submit(ctx context.Context, scriptPath string) (int, error) {
	s.logger.Debug("submitting script", "path", scriptPath)

	cmd := exec.CommandContext(ctx, "sbatch", scriptPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("failed to submit script: %w\nOutput: %s", err, string(output))
	}

	id, err := parseJobID(string(output))
	if err != nil {
		return 0, err
	}

	s.logger.Info("batch job submitted", "id", id, "script", scriptPath)
	return id, nil
}

// parseJobID extracts the job id from the sbatch confirmation line, which
// reads "Submitted batch job <id>" optionally followed by a cluster name.
func parseJobID(output string) (int, error) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, submittedPrefix) {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			break
		}
		id, err := strconv.Atoi(fields[3])
		if err != nil {
			return 0, fmt.Errorf("failed to parse job id from %q: %w", line, err)
		}
		return id, nil
	}
	return 0, fmt.Errorf("unexpected sbatch output: %q", strings.TrimSpace(output))
}
