package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirNotFoundError is returned when a scenarios directory doesn't exist.
type DirNotFoundError struct {
	Dir string
}

// Error implements the error interface.
func (e *DirNotFoundError) Error() string {
	return fmt.Sprintf("scenarios directory not found: %s", e.Dir)
}

// SuiteOptions controls RunDir.
type SuiteOptions struct {
	// Filter is a glob matched against scenario file names without
	// extension.
	Filter string
	// Update rewrites golden files instead of comparing them.
	Update bool
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Path   string   `json:"path"`
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "matched", "updated" or "mismatch"
	Errors []string `json:"errors,omitempty"`
}

// SuiteResult summarizes a directory run.
type SuiteResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// FindScenarios returns the YAML files under dir, sorted. Files in golden
// directories are ignored.
func FindScenarios(dir, filter string) ([]string, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) || (err == nil && !info.IsDir()) {
		return nil, &DirNotFoundError{Dir: dir}
	}
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == GoldenDir {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	sort.Strings(files)
	return files, err
}

// RunDir runs every scenario under dir. Each scenario passes when it
// executes, its expectations and assertions hold and its golden file, if
// present, matches.
func RunDir(ctx context.Context, dir string, opts SuiteOptions) (*SuiteResult, error) {
	files, err := FindScenarios(dir, opts.Filter)
	if err != nil {
		return nil, err
	}

	suite := &SuiteResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		res := RunFile(ctx, file, opts.Update)
		if res.Pass {
			suite.Passed++
		} else {
			suite.Failed++
		}
		suite.Scenarios = append(suite.Scenarios, res)
	}
	return suite, nil
}

// RunFile loads and runs one scenario file.
func RunFile(ctx context.Context, file string, update bool) ScenarioResult {
	out := ScenarioResult{Path: file, Name: filepath.Base(file)}

	scenario, err := LoadScenario(file)
	if err != nil {
		out.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return out
	}
	out.Name = scenario.Name

	result, err := Run(ctx, scenario)
	if err != nil {
		out.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return out
	}
	out.Pass = result.Pass
	out.Errors = result.Errors

	if update {
		if err := WriteGolden(file, scenario.Name, result); err != nil {
			out.Pass = false
			out.Errors = append(out.Errors, err.Error())
			return out
		}
		out.Golden = "updated"
		return out
	}

	match, found, err := CompareGolden(file, scenario.Name, result)
	switch {
	case err != nil:
		out.Pass = false
		out.Errors = append(out.Errors, fmt.Sprintf("golden comparison failed: %v", err))
	case !found:
	case match:
		out.Golden = "matched"
	default:
		out.Pass = false
		out.Golden = "mismatch"
		out.Errors = append(out.Errors, "trace does not match golden file (run with --update to regenerate)")
	}
	return out
}
