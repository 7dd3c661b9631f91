package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/hivelang/internal/ir"
	"github.com/roach88/hivelang/internal/manifest"
	"github.com/roach88/hivelang/internal/store"
)

// PutResult reports one integration registered by "integration put".
type PutResult struct {
	ID           string   `json:"id"`
	Slug         string   `json:"slug"`
	Success      bool     `json:"success"`
	Capabilities []string `json:"capabilities,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	ErrorKind    string   `json:"error_kind,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// IntegrationSummary is one row of "integration list".
type IntegrationSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	UpdatedAt string `json:"updated_at"`
}

// IntegrationDetail is the output of "integration show".
type IntegrationDetail struct {
	IntegrationSummary
	Capabilities []string              `json:"capabilities"`
	Failures     map[ir.ErrorKind]int  `json:"failures"`
	Recent       []ir.InvocationRecord `json:"recent"`
}

// NewIntegrationCommand creates the integration command group.
func NewIntegrationCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integration",
		Short: "Manage stored integrations",
	}

	cmd.AddCommand(newIntegrationPutCommand(rootOpts))
	cmd.AddCommand(newIntegrationListCommand(rootOpts))
	cmd.AddCommand(newIntegrationShowCommand(rootOpts))
	cmd.AddCommand(newIntegrationDeleteCommand(rootOpts))

	return cmd
}

func newIntegrationPutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <manifest-dir>",
		Short: "Compile and store the integrations declared in CUE manifests",
		Long: `Load CUE manifests from a directory, compile each integration's source
and store the ones that compile. Integrations whose source is rejected
are reported and not stored; a previously stored version is kept.

Example:
  hive integration put ./integrations`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIntegrationPut(cmd, rootOpts, args[0])
		},
	}
}

func runIntegrationPut(cmd *cobra.Command, opts *RootOptions, dir string) error {
	f := newFormatter(cmd, opts)

	m, errs := manifest.LoadDir(dir, manifest.LoadModeCollectAll)
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return f.Fail(ExitCommandError, CodeManifest, fmt.Sprintf("%d manifest error(s)", len(errs)), msgs)
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)
	svc := opts.newService(st, nil)

	results := make([]PutResult, 0, len(m.Integrations))
	failed := 0
	for _, integ := range m.Integrations {
		res, err := svc.Register(cmd.Context(), integ)
		pr := PutResult{ID: integ.ID, Slug: integ.Slug, Success: err == nil}
		switch {
		case err == nil:
			pr.Capabilities = res.CompiledCapabilityNames
			pr.Warnings = res.Warnings
		case res.ErrorKind != "":
			pr.ErrorKind = string(res.ErrorKind)
			pr.Message = res.Message
			failed++
		default:
			return f.Fail(ExitCommandError, CodeStore, err.Error(), nil)
		}
		results = append(results, pr)
	}

	if err := f.Success(results, func(w io.Writer) {
		for _, r := range results {
			if r.Success {
				fmt.Fprintf(w, "✓ %s: %d capability(s)\n", r.ID, len(r.Capabilities))
				for _, warn := range r.Warnings {
					fmt.Fprintf(w, "  warning: %s\n", warn)
				}
				continue
			}
			fmt.Fprintf(w, "✗ %s: %s\n", r.ID, r.Message)
		}
	}); err != nil {
		return err
	}
	if failed > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d integration(s) rejected", failed), Err: errReported}
	}
	return nil
}

func newIntegrationListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored integrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd, rootOpts)
			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer rootOpts.closeStore(st)

			integs, err := st.ListIntegrations(cmd.Context())
			if err != nil {
				return f.Fail(ExitCommandError, CodeStore, err.Error(), nil)
			}
			rows := make([]IntegrationSummary, len(integs))
			for i, integ := range integs {
				rows[i] = summarize(integ)
			}
			return f.Success(rows, func(w io.Writer) {
				if len(rows) == 0 {
					fmt.Fprintln(w, "No integrations.")
					return
				}
				for _, r := range rows {
					fmt.Fprintf(w, "%-20s %-20s %s\n", r.ID, r.Slug, r.Name)
				}
			})
		},
	}
}

func newIntegrationShowCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an integration's capabilities and recent invocations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIntegrationShow(cmd, rootOpts, args[0], limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of recent invocations to show")

	return cmd
}

func runIntegrationShow(cmd *cobra.Command, opts *RootOptions, id string, limit int) error {
	f := newFormatter(cmd, opts)
	ctx := cmd.Context()

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	integ, err := st.GetIntegration(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return f.Fail(ExitFailure, CodeNotFound, fmt.Sprintf("integration %q not found", id), nil)
	}
	if err != nil {
		return f.Fail(ExitCommandError, CodeStore, err.Error(), nil)
	}

	caps, err := opts.newService(st, nil).Capabilities(ctx, id)
	if err != nil {
		return f.Fail(ExitFailure, CodeCompile, err.Error(), compileDetails(err))
	}
	failures, err := st.FailureCounts(ctx, id)
	if err != nil {
		return f.Fail(ExitCommandError, CodeStore, err.Error(), nil)
	}
	recent, err := st.ListInvocations(ctx, id, limit)
	if err != nil {
		return f.Fail(ExitCommandError, CodeStore, err.Error(), nil)
	}

	detail := IntegrationDetail{
		IntegrationSummary: summarize(integ),
		Capabilities:       caps,
		Failures:           failures,
		Recent:             recent,
	}
	return f.Success(detail, func(w io.Writer) {
		fmt.Fprintf(w, "%s (%s)\n", detail.Name, detail.ID)
		fmt.Fprintf(w, "  slug:         %s\n", detail.Slug)
		fmt.Fprintf(w, "  updated:      %s\n", detail.UpdatedAt)
		fmt.Fprintf(w, "  capabilities: %v\n", detail.Capabilities)
		if len(detail.Failures) > 0 {
			kinds := make([]string, 0, len(detail.Failures))
			for k := range detail.Failures {
				kinds = append(kinds, string(k))
			}
			sort.Strings(kinds)
			fmt.Fprintln(w, "  failures:")
			for _, k := range kinds {
				fmt.Fprintf(w, "    %-20s %d\n", k, detail.Failures[ir.ErrorKind(k)])
			}
		}
		if len(detail.Recent) > 0 {
			fmt.Fprintln(w, "  recent:")
			for _, r := range detail.Recent {
				status := "ok"
				if !r.Success {
					status = string(r.ErrorKind)
				}
				fmt.Fprintf(w, "    %s %-20s %-20s %dms\n", r.CreatedAt.Format(time.RFC3339), r.Capability, status, r.DurationMs)
			}
		}
	})
}

func newIntegrationDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored integration (its invocation log is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd, rootOpts)
			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer rootOpts.closeStore(st)

			err = st.DeleteIntegration(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return f.Fail(ExitFailure, CodeNotFound, fmt.Sprintf("integration %q not found", args[0]), nil)
			}
			if err != nil {
				return f.Fail(ExitCommandError, CodeStore, err.Error(), nil)
			}
			return f.Success(map[string]string{"deleted": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Deleted %s\n", args[0])
			})
		},
	}
}

func summarize(integ ir.Integration) IntegrationSummary {
	return IntegrationSummary{
		ID:        integ.ID,
		Name:      integ.Name,
		Slug:      integ.Slug,
		UpdatedAt: integ.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
