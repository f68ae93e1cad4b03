package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tether/internal/ir"
)

// GoldenDir is the directory, next to the scenarios, holding golden traces.
const GoldenDir = "golden"

// Snapshot renders the trace of result as canonical JSON:
// {"scenario_name": ..., "trace": [event fields...]}.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	events := make([]any, 0, len(result.Trace))
	for _, ev := range result.Trace {
		events = append(events, ev.Fields())
	}
	data, err := ir.MarshalCanonical(map[string]any{
		"scenario_name": scenarioName,
		"trace":         events,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal trace: %w", err)
	}
	return data, nil
}

// RunWithGolden runs scenario and compares its trace with
// testdata/golden/<name>.golden, which `go test -update` rewrites.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()
	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed trace with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()
	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	).Assert(t, scenarioName, data)
	return nil
}

// GoldenPath returns the golden file of a scenario file:
// <dir>/golden/<base>.golden.
func GoldenPath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, GoldenDir, name+".golden")
}

// WriteGolden stores the trace of result as the golden file of
// scenarioFile.
func WriteGolden(scenarioFile, scenarioName string, result *Result) error {
	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	path := GoldenPath(scenarioFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// CompareGolden reports whether the trace of result matches the golden file
// of scenarioFile. found is false when there is no golden file.
func CompareGolden(scenarioFile, scenarioName string, result *Result) (match, found bool, err error) {
	golden, err := os.ReadFile(GoldenPath(scenarioFile))
	if os.IsNotExist(err) {
		return false, false, nil
	}
	if err != nil {
		return false, true, fmt.Errorf("failed to read golden file: %w", err)
	}
	current, err := Snapshot(scenarioName, result)
	if err != nil {
		return false, true, err
	}
	return string(golden) == string(current), true, nil
}
