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

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/clients"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/config"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/events"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/httpapi"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/middleware"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/payment"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/service"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/store"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("aex-negotiation stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting aex-negotiation",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"store", cfg.StoreType,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	entityStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	// Payment trigger
	var gateway payment.Gateway
	if cfg.WalletURL != "" {
		gateway = clients.NewWalletClient(cfg.WalletURL, cfg.WalletAPIKey, cfg.PaymentTimeout)
	} else {
		slog.Warn("WALLET_URL not set, using development wallet")
		gateway = payment.DevGateway{BaseURL: cfg.PublicURL}
	}
	payments := payment.NewAdapter(gateway, cfg.PaymentTimeout)

	// Events
	publisher := events.NewPublisher("aex-negotiation")
	for eventType, urls := range cfg.EventWebhooks {
		for _, url := range urls {
			publisher.RegisterEndpoint(eventType, url)
		}
	}

	retry := service.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.PaymentMaxAttempts
	retry.SweepInterval = cfg.PaymentRetryInterval
	retry.StaleAfter = max(retry.StaleAfter, 2*cfg.PaymentTimeout)
	opts := []service.Option{service.WithRetryPolicy(retry)}
	if cfg.CatalogURL != "" {
		opts = append(opts, service.WithCatalog(clients.NewCatalogClient(cfg.CatalogURL)))
	}
	svc := service.New(entityStore, payments, publisher, opts...)

	auth := middleware.NewAuthenticator(cfg.JWTSecret, cfg.IsDevelopment())
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpapi.NewRouter(svc, auth, cfg.WalletAPIKey),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.PaymentTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return svc.RunPaymentRetries(gctx)
	})
	// Webhook delivery outlives the server so events from in-flight
	// requests drain.
	deliverCtx, stopDelivery := context.WithCancel(context.Background())
	defer stopDelivery()
	g.Go(func() error {
		return publisher.Run(deliverCtx)
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopDelivery()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (store.EntityStore, func(), error) {
	switch cfg.StoreType {
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		mongoClient, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, err
		}
		if err := mongoClient.Ping(connectCtx, nil); err != nil {
			_ = mongoClient.Disconnect(context.Background())
			return nil, nil, err
		}

		s := store.NewMongoStore(mongoClient, cfg.MongoDB)
		if err := s.EnsureIndexes(connectCtx); err != nil {
			slog.Warn("failed to create indexes", "error", err)
		}
		slog.Info("using mongodb store", "db", cfg.MongoDB)

		return s, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongoClient.Disconnect(ctx); err != nil {
				slog.Error("failed to disconnect mongodb", "error", err)
			}
		}, nil

	case "firestore":
		s, err := store.NewFirestoreStore(cfg.FirestoreProjectID, cfg.FirestorePrefix)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using firestore store", "project", cfg.FirestoreProjectID)
		return s, func() {
			if err := s.Close(); err != nil {
				slog.Error("failed to close firestore", "error", err)
			}
		}, nil

	default:
		slog.Info("using in-memory store")
		return store.NewMemoryStore(), func() {}, nil
	}
}
