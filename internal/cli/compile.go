package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hivelang/internal/compiler"
	"github.com/roach88/hivelang/internal/runtime"
)

// CompiledCapability describes one capability in compile output.
type CompiledCapability struct {
	Name       string   `json:"name"`
	Parameters []string `json:"parameters"`
	Line       int      `json:"line"`
}

// CompilationResult is the compile command's output.
type CompilationResult struct {
	File         string               `json:"file"`
	Hash         string               `json:"hash"`
	Capabilities []CompiledCapability `json:"capabilities"`
	Warnings     []string             `json:"warnings,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compile <file.hive>",
		Short: "Compile integration source and list its capabilities",
		Long: `Compile an integration source file.

Every capability is extracted, transpiled and synthesized. Compilation is
all-or-nothing: the first broken capability fails the whole file.

Exit codes:
  0 - Source compiled
  1 - Source rejected
  2 - Command error (unreadable file, etc.)

Examples:
  hive compile github.hive
  hive compile github.hive --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, rootOpts, args[0])
		},
	}
}

func runCompile(cmd *cobra.Command, opts *RootOptions, path string) error {
	f := newFormatter(cmd, opts)
	src, err := readSource(f, path)
	if err != nil {
		return err
	}

	prog, err := opts.newRuntime().LoadSource(src)
	if err != nil {
		return f.Fail(ExitFailure, CodeCompile, err.Error(), compileDetails(err))
	}

	result := CompilationResult{
		File:         path,
		Hash:         prog.Hash,
		Capabilities: make([]CompiledCapability, 0, len(prog.Names)),
	}
	for _, name := range prog.Names {
		c, _ := prog.Lookup(name)
		result.Capabilities = append(result.Capabilities, CompiledCapability{
			Name:       name,
			Parameters: append([]string{}, c.Unit.Parameters...),
			Line:       c.Unit.Line,
		})
	}
	for _, w := range prog.Warnings {
		result.Warnings = append(result.Warnings, w.Error())
	}

	return f.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Compiled %d capability(s) from %s\n", len(result.Capabilities), path)
		for _, c := range result.Capabilities {
			fmt.Fprintf(w, "  %s(%s)  line %d\n", c.Name, strings.Join(c.Parameters, ", "), c.Line)
		}
		for _, warn := range result.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warn)
		}
	})
}

func compileDetails(err error) map[string]any {
	d := map[string]any{"error_kind": runtime.Classify(err)}
	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		d["capability"] = ce.Capability
		if ce.Line > 0 {
			d["line"] = ce.Line
		}
	}
	return d
}
