package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/feral-file/ttc-coordinator/internal/adapter"
	"github.com/feral-file/ttc-coordinator/internal/api/middleware"
	"github.com/feral-file/ttc-coordinator/internal/config"
	"github.com/feral-file/ttc-coordinator/internal/logger"
	"github.com/feral-file/ttc-coordinator/internal/monitor"
	"github.com/feral-file/ttc-coordinator/internal/store"
	"github.com/feral-file/ttc-coordinator/internal/watcher"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

// eventBufferSize bounds the watcher-to-monitor event channel. A watcher's
// Poll blocks on send once full, applying backpressure rather than
// dropping a phase transition, per spec.md §5.
const eventBufferSize = 256

func main() {
	flag.Parse()

	config.ChdirRepoRoot()
	cfg, err := config.LoadMonitorConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags:            logger.ServiceTags("monitor"),
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting TTC monitor")

	if err := store.Migrate(cfg.Database.DSN()); err != nil {
		logger.FatalCtx(ctx, "Failed to run migrations", zap.Error(err))
	}

	pool, err := store.NewPool(ctx, cfg.Database.DSN(),
		cfg.Database.MaxOpenConns, cfg.Database.MinIdleConns,
		cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	logger.InfoCtx(ctx, "Connected to database")

	jobStore := store.NewPGStore(pool)

	ethDialer := adapter.NewEthClientDialer()
	ethClient, err := ethDialer.Dial(ctx, cfg.Ethereum.RPCURL)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to dial Ethereum RPC", zap.Error(err), zap.String("rpc_url", cfg.Ethereum.RPCURL))
	}
	defer ethClient.Close()
	logger.InfoCtx(ctx, "Connected to Ethereum RPC", zap.String("rpc_url", cfg.Ethereum.RPCURL))

	httpClient := adapter.NewHTTPClient(10 * time.Second)
	proverClient := monitor.NewHTTPProverClient(cfg.ProverURL, httpClient)

	events := make(chan watcher.Event, eventBufferSize)
	registry := monitor.NewRegistry(ethClient, cfg.Ethereum.PollInterval, events)
	m := monitor.NewMonitor(registry, jobStore, proverClient, events)

	go m.Run(ctx)

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.SetupCORS(cfg.Server.AllowedOrigins))
	monitor.NewRPCServer(m).Register(router)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCtx(ctx, "Monitor RPC server listening", zap.String("address", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "server"))
	}

	cancel()
	m.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.FatalCtx(shutdownCtx, "Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Monitor stopped")
}
