package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mgit-dev/mgit/internal/bulk"
)

// RunSummary is the persisted record of one completed bulk run, written so
// a later invocation (or a support request) can see what the last run did
// without re-parsing terminal output.
type RunSummary struct {
	CompletedAt time.Time `yaml:"completed_at"`
	Duration    time.Duration `yaml:"duration"`
	TargetDir   string    `yaml:"target_dir"`
	Cloned      int       `yaml:"cloned"`
	Pulled      int       `yaml:"pulled"`
	Skipped     int       `yaml:"skipped"`
	Failed      int       `yaml:"failed"`
	Canceled    bool      `yaml:"canceled"`
	Failures    []string  `yaml:"failures,omitempty"`
}

// NewRunSummary builds a RunSummary from a completed BulkResult.
func NewRunSummary(targetDir string, result *bulk.BulkResult, duration time.Duration, completedAt time.Time) *RunSummary {
	s := &RunSummary{
		CompletedAt: completedAt,
		Duration:    duration,
		TargetDir:   targetDir,
		Cloned:      result.CountByOutcome(bulk.OutcomeCloned),
		Pulled:      result.CountByOutcome(bulk.OutcomePulled),
		Skipped:     result.CountByOutcome(bulk.OutcomeSkipped),
		Failed:      result.CountByOutcome(bulk.OutcomeFailed),
		Canceled:    result.Canceled,
	}
	for _, oc := range result.Outcomes {
		if oc.Outcome == bulk.OutcomeFailed {
			s.Failures = append(s.Failures, fmt.Sprintf("%s: %s", oc.Repository.FullName, oc.Reason))
		}
	}
	return s
}

// SaveRunSummary writes summary under targetDir/.mgit/last-run.yaml.
func SaveRunSummary(targetDir string, summary *RunSummary) error {
	dir := filepath.Join(targetDir, ".mgit")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create .mgit directory: %w", err)
	}

	data, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	path := filepath.Join(dir, "last-run.yaml")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write run summary: %w", err)
	}
	return nil
}

// LoadRunSummary reads the last saved run summary for targetDir.
func LoadRunSummary(targetDir string) (*RunSummary, error) {
	path := filepath.Join(targetDir, ".mgit", "last-run.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run summary: %w", err)
	}

	var summary RunSummary
	if err := yaml.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run summary: %w", err)
	}
	return &summary, nil
}
