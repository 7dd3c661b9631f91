package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/hivelang/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter   string // scenario filter (glob pattern on the file name)
	Parallel int
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Run YAML conformance scenarios against canned HTTP responses.

Each scenario loads its source into a fresh runtime, invokes its steps
and checks their expectations and the scenario's assertions. No request
leaves the process.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  hive test ./scenarios
  hive test ./scenarios --filter "github-*"
  hive test ./scenarios --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 4, "scenarios to run at once (0 = unbounded)")

	return cmd
}

func runTests(cmd *cobra.Command, opts *TestOptions, dir string) error {
	f := newFormatter(cmd, opts.RootOptions)

	files, err := harness.FindScenarios(dir)
	if err != nil {
		return f.Fail(ExitCommandError, CodeFileNotFound, fmt.Sprintf("scenarios directory: %v", err), nil)
	}
	if opts.Filter != "" {
		if _, err := filepath.Match(opts.Filter, ""); err != nil {
			return f.Fail(ExitCommandError, CodeBadArgument, fmt.Sprintf("invalid --filter: %v", err), nil)
		}
		kept := files[:0]
		for _, file := range files {
			if ok, _ := filepath.Match(opts.Filter, filepath.Base(file)); ok {
				kept = append(kept, file)
			}
		}
		files = kept
	}

	suite, err := harness.RunFiles(cmd.Context(), files, opts.Parallel)
	if err != nil {
		return f.Fail(ExitCommandError, CodeScenario, err.Error(), nil)
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(suite)),
		Total:     len(suite),
	}
	for _, r := range suite {
		sr := ScenarioResult{Name: r.Scenario, Path: r.Path, Pass: r.Passed()}
		if sr.Name == "" {
			sr.Name = filepath.Base(r.Path)
		}
		switch {
		case r.Err != nil:
			sr.Errors = []string{r.Err.Error()}
		case r.Result != nil:
			sr.Errors = r.Result.Errors
		}
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		f.VerboseLog("%s: pass=%v", sr.Name, sr.Pass)
		result.Scenarios = append(result.Scenarios, sr)
	}

	if err := f.Success(result, func(w io.Writer) { printTestResult(w, result) }); err != nil {
		return err
	}
	if result.Failed > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d scenario(s) failed", result.Failed), Err: errReported}
	}
	return nil
}

func printTestResult(w io.Writer, result TestResult) {
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, s := range result.Scenarios {
		if s.Pass {
			fmt.Fprintf(w, "✓ %s\n", s.Name)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", s.Name)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
}
