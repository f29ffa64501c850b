package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/blertbank/internal/config"
	"github.com/MarkoPoloResearchLab/blertbank/internal/database"
	"github.com/MarkoPoloResearchLab/blertbank/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/blertbank/internal/httpapi"
	"github.com/MarkoPoloResearchLab/blertbank/internal/oplog"
	"github.com/MarkoPoloResearchLab/blertbank/internal/replaycache"
	"github.com/MarkoPoloResearchLab/blertbank/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/blertbank/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/blertbank/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const requestTimeout = 10 * time.Second

// ledgerRuntime holds the opened resources behind a ledger service.
type ledgerRuntime struct {
	service  *ledger.Service
	cleanups []func()
}

func (rt *ledgerRuntime) close() {
	for index := len(rt.cleanups) - 1; index >= 0; index-- {
		rt.cleanups[index]()
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	gin.SetMode(gin.ReleaseMode)
	router, err := httpapi.NewRouter(rt.service, httpapi.Config{
		ServiceToken:   cfg.ServiceToken,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: requestTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("router init: %w", err)
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var grpcServer *grpc.Server
	if cfg.GRPCListenAddr != "" {
		grpcServer, err = grpcserver.NewServer(rt.service, cfg.ServiceToken, logger)
		if err != nil {
			return fmt.Errorf("grpc server init: %w", err)
		}
	}

	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpapi.Serve(groupContext, httpServer, cfg.ShutdownTimeout, logger)
	})
	if grpcServer != nil {
		group.Go(func() error {
			return serveGRPC(groupContext, grpcServer, cfg.GRPCListenAddr, logger)
		})
	}
	return group.Wait()
}

func serveGRPC(ctx context.Context, server *grpc.Server, listenAddr string, logger *zap.Logger) error {
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", listenAddr))
		errCh <- server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("gRPC shutdown requested")
		server.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}

func runMigrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	handle, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = handle.Close() }()
	if err := database.Migrate(handle.DB); err != nil {
		return err
	}
	logger.Info("schema migrated", zap.String("driver", handle.Driver))
	return nil
}

func runSeed(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()
	return seedSystemAccounts(ctx, rt.service, cfg.SystemAccounts, logger)
}

func seedSystemAccounts(ctx context.Context, service *ledger.Service, names []string, logger *zap.Logger) error {
	for _, raw := range names {
		name, err := ledger.NewSystemAccountName(raw)
		if err != nil {
			return err
		}
		account, created, err := service.EnsureSystemAccount(ctx, name)
		if err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
		logger.Info("system account ready",
			zap.String("system_name", name.String()),
			zap.Int64("account_id", account.ID.Int64()),
			zap.Bool("created", created),
		)
	}
	return nil
}

// openRuntime opens the configured store, the optional replay cache and the ledger service.
// sqlite schemas are migrated on open; postgres schemas are owned by the migrate command.
func openRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ledgerRuntime, error) {
	rt := &ledgerRuntime{}
	store, err := openStore(ctx, cfg, rt)
	if err != nil {
		rt.close()
		return nil, err
	}

	options := []ledger.ServiceOption{
		ledger.WithOperationLogger(oplog.New(logger)),
		ledger.WithBalancePolicy(ledger.NewBalancePolicy(cfg.NonNegativeSystemAccounts...)),
	}
	if cfg.RedisAddr != "" {
		cache, err := openReplayCache(ctx, cfg, rt)
		if err != nil {
			rt.close()
			return nil, err
		}
		options = append(options, ledger.WithReplayCache(cache))
		logger.Info("replay cache enabled", zap.String("redis_addr", cfg.RedisAddr))
	}

	service, err := ledger.NewService(store, func() time.Time { return time.Now().UTC() }, options...)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("ledger service init: %w", err)
	}
	rt.service = service
	return rt, nil
}

func openStore(ctx context.Context, cfg *config.Config, rt *ledgerRuntime) (ledger.Store, error) {
	if cfg.StoreDriver == config.StoreDriverPgx {
		pool, err := database.OpenPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database pool open: %w", err)
		}
		rt.cleanups = append(rt.cleanups, pool.Close)
		return pgstore.New(pool), nil
	}

	handle, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database open: %w", err)
	}
	rt.cleanups = append(rt.cleanups, func() { _ = handle.Close() })
	if handle.Driver == database.DriverSQLite {
		if err := database.Migrate(handle.DB); err != nil {
			return nil, err
		}
	}
	return gormstore.New(handle.DB), nil
}

func openReplayCache(ctx context.Context, cfg *config.Config, rt *ledgerRuntime) (*replaycache.Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	rt.cleanups = append(rt.cleanups, func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	cache, err := replaycache.New(client, cfg.ReplayCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("replay cache init: %w", err)
	}
	return cache, nil
}
