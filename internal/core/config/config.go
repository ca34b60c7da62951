package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr     string
	LogLevel string

	RedisAddr      string
	StoreOpTimeout time.Duration
	QuotaMaxBytes  int64

	TileURLTemplate    string
	DownloadWorkers    int
	DownloadMaxRetries int
	DownloadRetryBase  time.Duration

	CompressionEnabled bool
	CompressionProfile string

	ResolverMemCacheSize int

	MetricsEnabled bool
	MetricsAddr    string
}

func FromEnv() Config {
	return Config{
		Addr:     getenv("ADDR", ":8090"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		StoreOpTimeout: getduration("STORE_OP_TIMEOUT", 250*time.Millisecond),
		QuotaMaxBytes:  getint64("QUOTA_MAX_BYTES", 0),

		TileURLTemplate:    getenv("TILE_URL_TEMPLATE", "https://tile.openstreetmap.org/{z}/{x}/{y}.png"),
		DownloadWorkers:    getint("DOWNLOAD_WORKERS", 6),
		DownloadMaxRetries: getint("DOWNLOAD_MAX_RETRIES", 3),
		DownloadRetryBase:  getduration("DOWNLOAD_RETRY_BASE_DELAY", time.Second),

		CompressionEnabled: getbool("COMPRESSION_ENABLED", false),
		CompressionProfile: getenv("COMPRESSION_PROFILE", "balanced"),

		ResolverMemCacheSize: getint("RESOLVER_MEMCACHE_SIZE", 256),

		MetricsEnabled: getbool("METRICS_ENABLED", true),
		MetricsAddr:    getenv("METRICS_ADDR", ""),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
