package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/events"
	"github.com/safar/storefront/internal/httpx"
	kafkax "github.com/safar/storefront/internal/kafka"
	"github.com/safar/storefront/internal/payments"
	"github.com/safar/storefront/internal/redisx"
	"github.com/safar/storefront/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the storefront HTTP server",
	Long: `Start the storefront HTTP server and the reconciliation sweep.

Redis (REDIS_ADDR) and Kafka (KAFKA_BROKERS) are optional: without them the
processed-event cache and OrderPaid publishing are disabled.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, st, logger, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.DB().Close()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger.Info("connected to database")

	var eventLog checkout.EventLog
	if cfg.Redis.Addr != "" {
		rdb, err := redisx.Connect(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		eventLog = redisx.NewEventLog(rdb, cfg.Redis.DedupTTL)
		logger.Info("processed-event cache enabled", "addr", cfg.Redis.Addr)
	}

	publisher, closePublisher := newPublisher(cfg, logger)
	defer closePublisher()

	gateway := newStripe(cfg, logger)
	service := newService(cfg, st, gateway, publisher, eventLog, logger)

	router := httpx.NewRouter(logger, cfg.Server.RequestTimeout)
	storefront := &httpx.StorefrontHandler{
		Catalog:  st,
		Checkout: service,
		Identity: &httpx.Identity{
			Users:      st,
			UserHeader: cfg.Auth.UserHeader,
			NameHeader: cfg.Auth.NameHeader,
			Logger:     logger,
		},
		Logger: logger,
	}
	storefront.Register(router)
	admin := &httpx.AdminHandler{
		Store:     st,
		MediaRoot: cfg.Server.MediaRoot,
		User:      cfg.Admin.User,
		Password:  cfg.Admin.Password,
		Logger:    logger,
	}
	admin.Register(router)
	httpx.RegisterMedia(router, cfg.Server.MediaRoot)

	reconcileDone := startReconciler(ctx, cfg.Reconcile, checkout.NewReconciler(st, gateway, service, cfg.Reconcile.OrphanAfter, cfg.Reconcile.SessionExpiry, logger), logger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		<-reconcileDone
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	<-reconcileDone
	return nil
}

// newPublisher returns the Kafka publisher when brokers are configured. The
// returned func flushes and closes the producer.
func newPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, func()) {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.NopPublisher{}, func() {}
	}

	producer := kafkax.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, 1024, logger)
	producer.Start()
	logger.Info("order events enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	return events.NewKafkaPublisher(producer), producer.Close
}

func newStripe(cfg *config.Config, logger *slog.Logger) *payments.Stripe {
	opts := []payments.StripeOption{
		payments.WithSignatureTolerance(cfg.Stripe.WebhookTolerance),
		payments.WithMaxNetworkRetries(int64(cfg.Stripe.MaxNetworkRetries)),
	}
	if cfg.Stripe.APIURL != "" {
		opts = append(opts, payments.WithAPIURL(cfg.Stripe.APIURL))
	}
	return payments.NewStripe(cfg.Stripe, logger, opts...)
}

func newService(cfg *config.Config, st *store.Store, gateway *payments.Stripe, publisher events.Publisher, eventLog checkout.EventLog, logger *slog.Logger) *checkout.Service {
	return checkout.NewService(st, gateway, publisher, eventLog,
		checkout.Options{
			Currency:   cfg.Stripe.Currency,
			SuccessURL: cfg.Server.PublicBaseURL + "/success/",
			CancelURL:  cfg.Server.PublicBaseURL + "/cancel/",
		},
		logger,
	)
}

// startReconciler runs the sweep in the background until ctx ends. The
// returned channel closes once it has stopped.
func startReconciler(ctx context.Context, cfg config.ReconcileConfig, r *checkout.Reconciler, logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	if cfg.Interval <= 0 {
		logger.Info("reconciliation sweep disabled")
		close(done)
		return done
	}

	go func() {
		defer close(done)
		if _, err := r.RunOnce(ctx); err != nil {
			logger.Error("reconciliation sweep failed", "error", err)
		}
		r.Run(ctx, cfg.Interval)
	}()
	return done
}
