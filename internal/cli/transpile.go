package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// TranspiledCapability is one capability's host code.
type TranspiledCapability struct {
	Name     string `json:"name"`
	HostCode string `json:"host_code"`
}

// NewTranspileCommand creates the transpile command.
func NewTranspileCommand(rootOpts *RootOptions) *cobra.Command {
	var capability string

	cmd := &cobra.Command{
		Use:   "transpile <file.hive>",
		Short: "Print the host code generated for each capability",
		Long: `Compile an integration source file and print the host code each
capability body was transpiled to.

Examples:
  hive transpile github.hive
  hive transpile github.hive --capability list_repos`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranspile(cmd, rootOpts, args[0], capability)
		},
	}

	cmd.Flags().StringVar(&capability, "capability", "", "only print this capability")

	return cmd
}

func runTranspile(cmd *cobra.Command, opts *RootOptions, path, only string) error {
	f := newFormatter(cmd, opts)
	src, err := readSource(f, path)
	if err != nil {
		return err
	}

	prog, err := opts.newRuntime().LoadSource(src)
	if err != nil {
		return f.Fail(ExitFailure, CodeCompile, err.Error(), compileDetails(err))
	}

	names := prog.Names
	if only != "" {
		if _, ok := prog.Lookup(only); !ok {
			return f.Fail(ExitFailure, CodeNotFound, fmt.Sprintf("capability %q not found in %s", only, path), nil)
		}
		names = []string{only}
	}

	out := make([]TranspiledCapability, 0, len(names))
	for _, name := range names {
		c, _ := prog.Lookup(name)
		out = append(out, TranspiledCapability{Name: name, HostCode: c.HostCode()})
	}

	return f.Success(out, func(w io.Writer) {
		for i, c := range out {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "// %s\n%s\n", c.Name, c.HostCode)
		}
	})
}
