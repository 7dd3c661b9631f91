package harness

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"
)

// SuiteResult is the outcome of one scenario file in a suite.
type SuiteResult struct {
	Path     string
	Scenario string
	Result   *Result
	// Err is set when the scenario could not be loaded or run.
	Err error
}

// Passed reports whether the scenario ran and every check passed.
func (r SuiteResult) Passed() bool {
	return r.Err == nil && r.Result != nil && r.Result.Pass
}

// FindScenarios returns the .yaml and .yml files under dir, sorted.
func FindScenarios(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// RunDir runs every scenario under dir. See RunFiles.
func RunDir(ctx context.Context, dir string, parallelism int) ([]SuiteResult, error) {
	files, err := FindScenarios(dir)
	if err != nil {
		return nil, err
	}
	return RunFiles(ctx, files, parallelism)
}

// RunFiles runs the given scenario files, at most parallelism at a time
// (unbounded if parallelism <= 0). Results are in input order. The error
// return reports cancellation of ctx; per-scenario failures are in the
// results.
func RunFiles(ctx context.Context, files []string, parallelism int) ([]SuiteResult, error) {
	results := make([]SuiteResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = runFile(gctx, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func runFile(ctx context.Context, path string) SuiteResult {
	res := SuiteResult{Path: path}
	scenario, err := LoadScenario(path)
	if err != nil {
		res.Err = err
		return res
	}
	res.Scenario = scenario.Name
	res.Result, res.Err = RunContext(ctx, scenario)
	return res
}
