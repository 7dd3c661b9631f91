package cli

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/hivelang/internal/metrics"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen          string
	ShutdownTimeout time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve capability invocations over HTTP",
		Long: `Serve stored integrations over HTTP.

Endpoints:
  POST /v1/invoke                          run a capability
  PUT  /v1/integrations/{id}               compile and store an integration
  GET  /v1/integrations/{id}/capabilities  list an integration's capabilities
  GET  /metrics                            Prometheus metrics
  GET  /healthz                            liveness

Example:
  hive serve --config hive.yaml --listen 127.0.0.1:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	logger := opts.Logger
	addr := opts.Config.Listen
	if opts.Listen != "" {
		addr = opts.Listen
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	m := metrics.New(true)
	svc := opts.newService(st, m)

	srv := &http.Server{
		Addr:              addr,
		Handler:           newServerHandler(svc, m, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serveHTTP(ctx, logger, srv, opts.ShutdownTimeout); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}
