package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hivelang/internal/ir"
	"github.com/roach88/hivelang/internal/service"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Integration string
	Args        string // JSON array
	Context     string // JSON object
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke [file.hive] <capability>",
		Short: "Invoke one capability",
		Long: `Invoke a capability, either from a source file or from an integration
stored in the database (--integration without a file).

Arguments are a JSON array bound positionally. The context is a JSON
object with "user" and "integration" members; its user fields are the
credentials the capability sees.

Exit codes:
  0 - Capability returned a value
  1 - Capability failed (the error kind is reported)
  2 - Command error

Examples:
  hive invoke github.hive list_repos --args '["octocat"]' --context '{"user":{"api_key":"..."}}'
  hive invoke --integration github list_repos --args '["octocat"]'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Integration, "integration", "", "integration ID (loads from the database when no file is given)")
	cmd.Flags().StringVar(&opts.Args, "args", "[]", "capability arguments as a JSON array")
	cmd.Flags().StringVar(&opts.Context, "context", "{}", "execution context as a JSON object")

	return cmd
}

func runInvoke(cmd *cobra.Command, opts *InvokeOptions, args []string) error {
	f := newFormatter(cmd, opts.RootOptions)
	ctx := cmd.Context()

	var arguments []any
	if err := decodeStrict(opts.Args, &arguments); err != nil {
		return f.Fail(ExitCommandError, CodeBadArgument, fmt.Sprintf("invalid --args JSON: %v", err), nil)
	}
	var ec ir.ExecutionContext
	if err := decodeStrict(opts.Context, &ec); err != nil {
		return f.Fail(ExitCommandError, CodeBadArgument, fmt.Sprintf("invalid --context JSON: %v", err), nil)
	}

	req := service.InvocationRequest{Capability: args[len(args)-1], Arguments: arguments}
	var svc *service.Service

	if len(args) == 2 {
		path := args[0]
		src, err := readSource(f, path)
		if err != nil {
			return err
		}
		req.IntegrationID = opts.Integration
		if req.IntegrationID == "" {
			req.IntegrationID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		svc = opts.newService(nil, nil)
		if res, err := svc.LoadSource(ctx, req.IntegrationID, src); err != nil {
			return f.Fail(ExitFailure, CodeCompile, res.Message, compileDetails(err))
		}
	} else {
		if opts.Integration == "" {
			return f.Fail(ExitCommandError, CodeBadArgument, "either a source file or --integration is required", nil)
		}
		st, err := opts.openStore()
		if err != nil {
			return err
		}
		defer opts.closeStore(st)
		req.IntegrationID = opts.Integration
		svc = opts.newService(st, nil)
	}

	f.VerboseLog("invoking %s.%s with %d argument(s)", req.IntegrationID, req.Capability, len(arguments))
	res := svc.Invoke(ctx, req, ec)
	if !res.Success {
		return f.Fail(ExitFailure, CodeInvocation, res.Message, map[string]any{"error_kind": res.ErrorKind})
	}

	return f.Success(res, func(w io.Writer) {
		data, err := json.MarshalIndent(res.Value, "", "  ")
		if err != nil {
			fmt.Fprintf(w, "%v\n", res.Value)
			return
		}
		fmt.Fprintln(w, string(data))
	})
}

// decodeStrict decodes a JSON flag value, rejecting unknown fields.
func decodeStrict(s string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
