package config

import (
	"os"
	"strconv"
)

type Config struct {
	HTTPAddr       string
	MySQLDSN       string
	RedisAddr      string
	RedisPoolSize  int
	IngestWorkers  int
	RebuildWorkers int
}

// Default builds the configuration from environment variables with
// fallbacks suitable for local development.
func Default() *Config {
	return &Config{
		HTTPAddr:       envStr("HTTP_ADDR", ":8080"),
		MySQLDSN:       envStr("MYSQL_DSN", "root:root@tcp(localhost:3306)/seckill?parseTime=true"),
		RedisAddr:      envStr("REDIS_ADDR", "localhost:6379"),
		RedisPoolSize:  envInt("REDIS_POOL_SIZE", 100),
		IngestWorkers:  envInt("INGEST_WORKERS", 1),
		RebuildWorkers: envInt("REBUILD_WORKERS", 10),
	}
}

func envStr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
