package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"learnhub/messaging-service/internal/admin"
	"learnhub/messaging-service/internal/config"
	grpcServer "learnhub/messaging-service/internal/grpc"
	"learnhub/messaging-service/internal/notification"
	"learnhub/messaging-service/internal/profile"
	"learnhub/messaging-service/internal/realtime"
	"learnhub/messaging-service/internal/repository"
	"learnhub/messaging-service/internal/service"

	pb "learnhub/messaging-service/api/messaging"
	"github.com/sirupsen/logrus"
)

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}
	return logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Logging)
	checks := map[string]admin.Checker{}

	var (
		chatRepo repository.ChatRepository
		profiles profile.Store
	)

	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("Using in-memory storage, data is lost on restart")
		chatRepo = repository.NewMemoryRepository()
		profiles = profile.NewMapStore()
	default:
		db, err := sql.Open("postgres", cfg.Database.DSN())
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

		if err := db.Ping(); err != nil {
			logger.Fatalf("Failed to ping database: %v", err)
		}
		logger.Info("Connected to PostgreSQL database")
		checks["postgres"] = db.PingContext

		chatRepo = repository.NewChatRepository(db)
		profiles = profile.NewSQLStore(db)
	}

	if err := chatRepo.InitializeTables(); err != nil {
		logger.Fatalf("Failed to initialize database tables: %v", err)
	}

	if cfg.Profiles.CacheEnabled {
		cached, err := profile.NewCachedStore(profiles, cfg.Profiles.CacheMaxCost, cfg.Profiles.CacheTTL)
		if err != nil {
			logger.Fatalf("Failed to create profile cache: %v", err)
		}
		defer cached.Close()
		profiles = cached
	}

	var bus realtime.Bus
	switch cfg.Realtime.Backend {
	case "nats":
		natsBus, err := realtime.NewNatsBus(cfg.NATS.URL, cfg.NATS.SubjectPrefix, cfg.Realtime.QueueSize, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to NATS: %v", err)
		}
		logger.WithField("url", cfg.NATS.URL).Info("Connected to NATS")
		checks["nats"] = natsBus.Ping
		bus = natsBus
	default:
		bus = realtime.NewMemoryBus(cfg.Realtime.QueueSize, logger)
	}
	hub := realtime.NewHub(bus, profiles, logger)

	deliverers := notification.MultiDeliverer{notification.NewLogDeliverer(logger)}
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatalf("Invalid redis url: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatalf("Failed to ping redis: %v", err)
		}
		logger.Info("Connected to Redis, notification inbox enabled")
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		deliverers = append(deliverers, notification.NewRedisDeliverer(rdb, cfg.Redis.InboxSize, cfg.Redis.InboxTTL))
	}
	fanout := notification.NewFanout(chatRepo, deliverers, logger, cfg.Notifications.DeliveryTimeout)

	chatService := service.NewChatService(chatRepo, profiles, fanout, hub, logger)
	grpcSrv := grpcServer.NewChatServer(chatService, logger)

	address := cfg.Server.Address()
	lis, err := net.Listen("tcp", address)
	if err != nil {
		logger.Fatalf("Failed to listen on %s: %v", address, err)
	}

	s := grpc.NewServer(
		grpc.UnaryInterceptor(grpcServer.UnaryInterceptor(logger)),
		grpc.StreamInterceptor(grpcServer.StreamInterceptor(logger)),
	)
	pb.RegisterMessagingServiceServer(s, grpcSrv)

	if cfg.GRPC.ReflectionEnabled {
		reflection.Register(s)
		logger.Info("gRPC reflection enabled")
	}

	go func() {
		logger.Infof("Starting gRPC server on %s", address)
		if err := s.Serve(lis); err != nil {
			logger.Fatalf("Failed to start gRPC server: %v", err)
		}
	}()

	var adminSrv *http.Server
	if cfg.Metrics.Enabled {
		adminSrv = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           admin.NewRouter(logger, checks),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Infof("Starting admin server on %s", cfg.Metrics.Address)
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatalf("Failed to start admin server: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gRPC server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GRPC.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		fanout.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("gRPC server exited gracefully")
	case <-ctx.Done():
		logger.Info("gRPC server shutdown timeout")
		s.Stop()
	}

	if adminSrv != nil {
		if err := adminSrv.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Admin server shutdown failed")
		}
	}
	if err := hub.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close realtime bus")
	}

	logger.Info("Server exited")
}
