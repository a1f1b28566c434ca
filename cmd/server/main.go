// Command syncd starts the multi-device sync gRPC server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/AlAfiz/starked-education/internal/config"
	"github.com/AlAfiz/starked-education/internal/logging"
	"github.com/AlAfiz/starked-education/internal/migrate"
	"github.com/AlAfiz/starked-education/internal/notify"
	"github.com/AlAfiz/starked-education/internal/queue"
	"github.com/AlAfiz/starked-education/internal/repository"
	"github.com/AlAfiz/starked-education/internal/repository/memory"
	"github.com/AlAfiz/starked-education/internal/repository/postgres"
	"github.com/AlAfiz/starked-education/internal/repository/sqlite"
	grpcserver "github.com/AlAfiz/starked-education/internal/server/grpc"
	"github.com/AlAfiz/starked-education/internal/server/ws"
	"github.com/AlAfiz/starked-education/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type stores struct {
	devices repository.DeviceRepository
	status  repository.SyncStatusRepository
	queue   repository.QueueRepository
	close   func()
}

func openStores(ctx context.Context, cfg config.Config, log *zap.Logger) (stores, error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using in-memory store, state is lost on restart")
		return stores{
			devices: memory.NewDeviceRepo(),
			status:  memory.NewStatusRepo(),
			queue:   memory.NewQueueRepo(),
			close:   func() {},
		}, nil
	case config.StoreSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return stores{}, err
		}
		log.Info("sqlite store", zap.String("path", cfg.SQLitePath))
		return stores{
			devices: sqlite.NewDeviceRepo(db),
			status:  sqlite.NewStatusRepo(db),
			queue:   sqlite.NewQueueRepo(db),
			close:   db.Close,
		}, nil
	}
	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		return stores{}, fmt.Errorf("migrate up: %w", err)
	}
	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return stores{}, fmt.Errorf("connect: %w", err)
	}
	return stores{
		devices: postgres.NewDeviceRepo(db),
		status:  postgres.NewStatusRepo(db),
		queue:   postgres.NewQueueRepo(db),
		close:   db.Close,
	}, nil
}

// main parses configuration and runs the server until SIGINT or SIGTERM.
func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, out, err := logging.New(logging.Options{
		Dev:        cfg.Dev,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		_ = logger.Sync()
		_ = out.Close()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
	_ = logger.Sync()
	_ = out.Close()
}

func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store),
		zap.String("wsAddr", cfg.WSAddr),
	)

	creds := insecure.NewCredentials()
	if !cfg.Insecure {
		c, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		creds = c
	} else {
		logger.Warn("serving without TLS")
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	// Services
	q := queue.New(st.queue, queue.Config{
		MaxSize:    cfg.QueueMax,
		MaxRetries: cfg.QueueRetries,
		RetryDelay: cfg.QueueRetryDelay,
	}, logger.Named("queue"))
	registry := service.NewDeviceRegistry(st.devices, logger.Named("devices"))
	hub := notify.NewHub(logger.Named("hub"))
	notifier := notify.New(cfg.NotifyBuffer, logger.Named("notify"), notify.LogSink{Log: logger.Named("events")}, hub)
	defer notifier.Close()

	coord := service.NewSyncCoordinator(st.status, registry, q, notifier, service.SyncConfig{
		CASRetries:  cfg.SyncCASRetries,
		HistorySize: cfg.ConflictHistory,
	}, logger.Named("sync"))
	registry.SetOnlineHook(coord.OnDeviceOnline)

	// gRPC server with interceptors
	s := grpc.NewServer(
		grpc.Creds(creds),
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
		),
		grpc.ChainStreamInterceptor(
			grpcserver.RecoverStream(logger),
			grpcserver.LoggingStream(logger),
		),
	)
	grpcserver.RegisterSyncServiceServer(s, grpcserver.New(registry, coord, hub, []byte(cfg.JWTKey), logger,
		grpcserver.WithAdmins(cfg.AdminUsers...)))

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(grpcserver.ServiceName, healthpb.HealthCheckResponse_SERVING)
	if cfg.Dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", lis.Addr().String()), zap.Bool("tls", !cfg.Insecure))
		return s.Serve(lis)
	})

	// Optional WebSocket event bridge, sharing the TLS key pair
	var hsrv *http.Server
	if cfg.WSAddr != "" {
		hsrv = &http.Server{
			Addr:              cfg.WSAddr,
			Handler:           ws.New(hub, []byte(cfg.JWTKey), ws.Config{}, logger.Named("ws")).Mux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("websocket listening", zap.String("addr", cfg.WSAddr))
			var err error
			if cfg.Insecure {
				err = hsrv.ListenAndServe()
			} else {
				err = hsrv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		hs.Shutdown()

		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// ends Subscribe streams and websocket conns so GracefulStop can finish;
		// hijacked conns are not tracked by http.Server.Shutdown
		hub.Close()
		if hsrv != nil {
			if err := hsrv.Shutdown(shutCtx); err != nil {
				logger.Warn("websocket shutdown", zap.Error(err))
			}
		}

		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutCtx.Done():
			s.Stop()
		}
		if err := coord.Shutdown(shutCtx); err != nil {
			logger.Warn("reconnect drains cut short", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
