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

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/vocallabs/golang_services/internal/forwarding_service/adapters/backend"
	forwardingApp "github.com/vocallabs/golang_services/internal/forwarding_service/app"
	"github.com/vocallabs/golang_services/internal/forwarding_service/cache"
	"github.com/vocallabs/golang_services/internal/forwarding_service/registry"
	"github.com/vocallabs/golang_services/internal/platform/config"
	"github.com/vocallabs/golang_services/internal/platform/graphql"
	"github.com/vocallabs/golang_services/internal/platform/logger"
	"github.com/vocallabs/golang_services/internal/platform/messagebroker"
	"github.com/vocallabs/golang_services/internal/public_api_service/middleware"
	httptransport "github.com/vocallabs/golang_services/internal/public_api_service/transport/http"
)

const (
	serviceName     = "forwarding_api_service"
	shutdownTimeout = 30 * time.Second
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
	appLogger.Info("Forwarding API service starting...",
		"port", cfg.ForwardingAPIPort,
		"backend_url", cfg.BackendGraphQLURL,
		"backend_timeout", cfg.BackendTimeout().String(),
	)

	stateCache, closeCache, err := cache.Open(mainCtx, cfg.StateCacheDSN, appLogger)
	if err != nil {
		appLogger.Error("Failed to open local state cache", "error", err)
		os.Exit(1)
	}
	defer closeCache()

	gqlClient := graphql.NewClient(appLogger, cfg.BackendGraphQLURL, cfg.BackendTimeout(), cfg.BackendServiceToken, nil)
	remote := backend.NewRemoteSyncClient(gqlClient, appLogger)
	providers := registry.NewProviderRegistry(remote, appLogger)
	// Browsers cannot dial; dial steps are handed back to the client.
	forwardingService := forwardingApp.NewService(remote, stateCache, providers, nil, cfg.BackendTimeout(), appLogger)

	validate := validator.New()
	forwardingHandler := httptransport.NewForwardingHandler(forwardingService, providers, appLogger, validate)

	var contactsHandler *httptransport.ContactsHandler
	natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Warn("NATS unavailable; contact ingestion endpoint disabled", "error", err)
	} else {
		defer natsClient.Close()
		contactsHandler = httptransport.NewContactsHandler(natsClient, cfg.AccountLinkedSubject, appLogger, validate)
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Forwarding:     forwardingHandler,
		Contacts:       contactsHandler,
		AuthMiddleware: middleware.SessionAuthMiddleware(cfg.JWTAccessSecret, appLogger),
		MetricsEnabled: cfg.MetricsEnabled,
		ServiceName:    serviceName,
		Logger:         appLogger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ForwardingAPIPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		appLogger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("HTTP server shutdown failed", "error", err)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Service group encountered an error during run", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Forwarding API service shut down successfully.")
}
