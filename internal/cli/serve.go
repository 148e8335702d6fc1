package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/cdv/internal/observability"
	"github.com/roach88/cdv/internal/scheduler"
	"github.com/roach88/cdv/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr       string
	NoSchedule bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the batch job scheduler",
		Long: `Run the CDV HTTP API together with the scheduled engine jobs
(promote, reconcile, evaluate, mint-uibs).

Jobs take a lock before every run, so several replicas can serve the same
database. Set CDV_REDIS_ADDR to share locks across hosts.

Example:
  cdv serve --db ./cdv.db --policy ./policy.cue
  cdv serve --addr :9090 --no-schedule`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default $CDV_HTTP_ADDR)")
	cmd.Flags().BoolVar(&opts.NoSchedule, "no-schedule", false, "serve only; jobs run through POST /jobs/{name}/run")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	a, err := opts.open(ctx, f)
	if err != nil {
		return err
	}
	defer a.Close()

	obs, err := observability.New(ctx, a.cfg.Observability(Version))
	if err != nil {
		return f.CommandError(ErrCodeConfig, "failed to start telemetry", err)
	}
	defer func() {
		if err := obs.Shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Error("telemetry shutdown", "error", err)
		}
	}()

	jobs := scheduler.NewForEngine(a.engine, a.locker, a.policy.Intervals, scheduler.WithLogger(a.logger))

	serverOpts := []server.Option{
		server.WithLogger(a.logger),
		server.WithObservability(obs),
		server.WithRateLimit(a.cfg.HTTP.RateLimit, a.cfg.HTTP.RateBurst),
	}
	if a.cfg.HTTP.JWTSecret != "" {
		auth, err := server.NewAuthenticator([]byte(a.cfg.HTTP.JWTSecret), a.cfg.HTTP.JWTIssuer)
		if err != nil {
			return f.CommandError(ErrCodeConfig, "invalid JWT settings", err)
		}
		serverOpts = append(serverOpts, server.WithAuthenticator(auth))
	} else {
		a.logger.Warn("CDV_HTTP_JWT_SECRET not set; authenticated routes will reject every request")
	}
	srv, err := server.New(a.engine, jobs, serverOpts...)
	if err != nil {
		return f.CommandError(ErrCodeInternal, "failed to build server", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	var wg sync.WaitGroup
	if !opts.NoSchedule {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs.Run(ctx)
		}()
	}

	addr := opts.Addr
	if addr == "" {
		addr = a.cfg.HTTP.Addr
	}
	fmt.Fprintf(cmd.OutOrStdout(), "CDV listening on %s\n", addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	err = srv.ListenAndServe(ctx, addr, a.cfg.HTTP.ShutdownTimeout)
	cancel()
	wg.Wait()
	if err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	a.logger.Info("server stopped gracefully")
	return nil
}
