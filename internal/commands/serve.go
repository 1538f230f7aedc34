package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	handler "payment-reconciliation-engine/internal/handlers"
	"payment-reconciliation-engine/internal/routes"
	"payment-reconciliation-engine/internal/services/payments"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the expiry sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()

	router := routes.NewRouter(a.cfg.Server.AllowedOrigins, routes.Handlers{
		Reconciliation: handler.NewReconciliationHandler(a.reconciliation, a.cfg.Ingest.Workers, a.log),
		Payments:       handler.NewPaymentHandler(a.payments, a.log),
		Accounts:       handler.NewAccountHandler(a.allocator, a.log),
	}, a.log)
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	sweeper := payments.NewSweeper(a.payments, a.cfg.Sweep.Interval, a.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
