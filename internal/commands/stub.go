package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaborage/apiprobe/httpbin/stub"
)

// StubOptions holds options for the stub command
type StubOptions struct {
	Addr       string
	FailFirst  int
	FailStatus int
}

// NewStubCommand creates the stub command
func NewStubCommand(rt *Runtime) *cobra.Command {
	opts := &StubOptions{}

	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Serve a local httpbin-compatible stub",
		Example: `  # Serve on port 8080 and fail the first two requests with 503
  apiprobe stub --addr :8080 --fail-first 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStub(ctx, rt, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8080", "Listen address")
	cmd.Flags().IntVar(&opts.FailFirst, "fail-first", 0, "Answer the first N requests with --fail-status")
	cmd.Flags().IntVar(&opts.FailStatus, "fail-status", http.StatusServiceUnavailable, "Status used for failed requests")

	return cmd
}

func runStub(ctx context.Context, rt *Runtime, opts *StubOptions) error {
	s := stub.New(rt.Logger,
		stub.WithFlakiness(opts.FailFirst, opts.FailStatus),
		stub.WithTracerProvider(rt.Telemetry.TracerProvider()),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(opts.Addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	rt.Logger.Info().Int64("hits", s.Hits()).Msg("Stub stopped")
	return nil
}
