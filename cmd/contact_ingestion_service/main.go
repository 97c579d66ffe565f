package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vocallabs/golang_services/internal/contact_ingestion_service/adapters/backend"
	"github.com/vocallabs/golang_services/internal/contact_ingestion_service/app"
	"github.com/vocallabs/golang_services/internal/contact_ingestion_service/domain"
	"github.com/vocallabs/golang_services/internal/contact_ingestion_service/repository/postgres"
	"github.com/vocallabs/golang_services/internal/contact_ingestion_service/source"
	"github.com/vocallabs/golang_services/internal/platform/config"
	"github.com/vocallabs/golang_services/internal/platform/database"
	"github.com/vocallabs/golang_services/internal/platform/graphql"
	"github.com/vocallabs/golang_services/internal/platform/logger"
	"github.com/vocallabs/golang_services/internal/platform/messagebroker"
)

const (
	serviceName     = "contact_ingestion_service"
	shutdownTimeout = 15 * time.Second
	runTimeout      = 5 * time.Minute
	metricsPort     = 9102
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.ForService(logger.New(cfg.LogLevel), serviceName)
	appLogger.Info("Contact ingestion service starting...",
		"nats_url", cfg.NATSUrl,
		"subject", cfg.AccountLinkedSubject,
		"page_size", cfg.ContactsPageSize,
		"store", cfg.ContactsStore,
	)

	var store domain.ContactStore
	switch cfg.ContactsStore {
	case "postgres":
		dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN)
		if err != nil {
			appLogger.Error("Failed to initialize database connection pool", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()
		store = postgres.NewPgContactStore(dbPool, appLogger)
	case "backend", "":
		gqlClient := graphql.NewClient(appLogger, cfg.BackendGraphQLURL, cfg.BackendTimeout(), cfg.BackendServiceToken, nil)
		store = backend.NewContactSink(gqlClient, appLogger)
	default:
		appLogger.Error("Unsupported contacts store", "store", cfg.ContactsStore)
		os.Exit(1)
	}

	pipeline := app.NewPipeline(source.NewPeopleSource(cfg.PeopleAPIEndpoint, appLogger), store, cfg.ContactsPageSize, appLogger)

	natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	consumer := app.NewNATSConsumer(pipeline, natsClient, runTimeout, appLogger)

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		subscription, err := consumer.Start(groupCtx, cfg.AccountLinkedSubject, cfg.IngestionQueueGroup)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", cfg.AccountLinkedSubject, err)
		}
		<-groupCtx.Done()
		appLogger.Info("NATS consumer shutting down, unsubscribing...")
		if err := subscription.Unsubscribe(); err != nil {
			appLogger.Error("Error unsubscribing from NATS", "subject", cfg.AccountLinkedSubject, "error", err)
		}
		return nil
	})

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: fmt.Sprintf(":%d", metricsPort), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			appLogger.Info("Metrics server listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)

	g.Go(func() error {
		select {
		case sig := <-stopSignal:
			appLogger.Info("Received termination signal", "signal", sig.String())
		case <-groupCtx.Done():
			appLogger.Info("Group context done, initiating shutdown", "error", groupCtx.Err())
		}
		mainCancel()

		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				appLogger.Error("Metrics server shutdown failed", "error", err)
			}
		}
		return nil
	})

	appLogger.Info("Contact ingestion service is ready and running.")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Service group encountered an error during run", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Contact ingestion service shut down successfully.")
}
