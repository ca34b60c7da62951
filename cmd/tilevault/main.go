package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sandahl/tilevault/internal/api"
	"github.com/sandahl/tilevault/internal/area"
	"github.com/sandahl/tilevault/internal/compress"
	"github.com/sandahl/tilevault/internal/core/config"
	"github.com/sandahl/tilevault/internal/core/httpclient"
	"github.com/sandahl/tilevault/internal/core/observability"
	"github.com/sandahl/tilevault/internal/core/server"
	"github.com/sandahl/tilevault/internal/download"
	"github.com/sandahl/tilevault/internal/logger"
	"github.com/sandahl/tilevault/internal/metrics"
	"github.com/sandahl/tilevault/internal/orchestrator"
	"github.com/sandahl/tilevault/internal/quota"
	"github.com/sandahl/tilevault/internal/resolver"
	"github.com/sandahl/tilevault/internal/store"
	"github.com/sandahl/tilevault/internal/store/keys"
	"github.com/sandahl/tilevault/internal/store/redisstore"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Component: "tilevault",
	}, os.Stdout)

	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting tilevault",
		"addr", cfg.Addr,
		"version", Version,
		"redis", cfg.RedisAddr,
		"tile_url", cfg.TileURLTemplate)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	client, err := redisstore.New(connectCtx, cfg.RedisAddr)
	cancel()
	if err != nil {
		appLog.Error("store connect failed", "err", err)
		return 1
	}
	defer func() { _ = client.Close() }()

	var st store.Interface = client
	if cfg.StoreOpTimeout > 0 {
		st = store.WithTimeout(client, cfg.StoreOpTimeout)
	}

	if cfg.CompressionEnabled {
		seedCompressionSettings(ctx, st, cfg.CompressionProfile, appLog)
	}

	engine := compress.NewEngine(appLog)
	downloader := download.New(httpclient.NewOutbound(), st, engine, appLog, download.Config{
		Workers:    cfg.DownloadWorkers,
		MaxRetries: cfg.DownloadMaxRetries,
		BaseDelay:  cfg.DownloadRetryBase,
	})
	areas := area.NewManager(st, appLog)
	monitor := quota.NewMonitor(client, cfg.QuotaMaxBytes, appLog)
	orch := orchestrator.New(downloader, areas, monitor, st, appLog, orchestrator.Config{
		TileURLTemplate:    cfg.TileURLTemplate,
		CompressionEnabled: cfg.CompressionEnabled,
	})
	res, err := resolver.New(st, downloader, engine, appLog, resolver.Config{
		TileURLTemplate:    cfg.TileURLTemplate,
		MemCacheSize:       cfg.ResolverMemCacheSize,
		CompressionEnabled: cfg.CompressionEnabled,
	})
	if err != nil {
		appLog.Error("resolver setup failed", "err", err)
		return 1
	}

	handler := api.New(res, orch, areas, monitor, st, appLog)

	p := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Addr:    cfg.MetricsAddr,
		Path:    os.Getenv("METRICS_PATH"),
	})
	p.Serve(ctx, appLog)

	var metricsHandler = p.Handler()
	if !cfg.MetricsEnabled {
		metricsHandler = nil
	}

	if err := server.Run(ctx, cfg, appLog, handler, client, metricsHandler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// seedCompressionSettings writes the configured default profile, but only
// when no settings record exists yet; a user-saved record always wins.
func seedCompressionSettings(ctx context.Context, st store.Interface, profile string, appLog *slog.Logger) {
	p := compress.Profile(profile)
	if !p.Valid() {
		return
	}
	if _, err := st.Get(ctx, keys.CompressionSettings); err == nil {
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		appLog.Warn("compression settings unavailable", "err", err)
		return
	}
	if err := compress.SaveSettings(ctx, st, compress.Settings{DefaultProfile: p}); err != nil {
		appLog.Warn("compression settings seed failed", "err", err)
	}
}
