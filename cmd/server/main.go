package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/citydeal/seckill/internal/adapter/handler"
	"github.com/citydeal/seckill/internal/adapter/storage"
	"github.com/citydeal/seckill/internal/cache"
	"github.com/citydeal/seckill/internal/config"
	"github.com/citydeal/seckill/internal/core/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(os.Stdout)

	cfg := config.Default()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open mysql")
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("ping mysql")
	}
	log.Info().Msg("connected to mysql")

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: cfg.RedisPoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("ping redis")
	}
	log.Info().Msg("connected to redis")

	// Adapters
	redisAdapter := storage.NewRedisAdapter(rdb)
	mysqlAdapter := storage.NewMySQLAdapter(db)
	locker := storage.NewRedisLock(rdb)

	if err := redisAdapter.EnsureGroup(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure consumer group")
	}

	// Services
	cacheClient := cache.NewClient(rdb, locker, cfg.RebuildWorkers,
		log.With().Str("component", "cache").Logger())
	voucherService := service.NewVoucherService(mysqlAdapter, cacheClient,
		log.With().Str("component", "voucher").Logger())
	seckillService := service.NewSeckillService(redisAdapter, redisAdapter, voucherService,
		log.With().Str("component", "seckill").Logger())

	ingest := service.NewOrderIngest(redisAdapter, mysqlAdapter, cfg.IngestWorkers,
		log.With().Str("component", "ingest").Logger())
	ingest.Start(ctx)
	log.Info().Int("workers", cfg.IngestWorkers).Msg("order ingest started")

	// HTTP server
	httpHandler := handler.NewHTTPHandler(seckillService, voucherService)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", httpHandler.HealthCheck)
	mux.HandleFunc("/api/seckill", httpHandler.Seckill)
	mux.HandleFunc("/api/voucher", httpHandler.GetVoucher)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Info().Msg("http server stopped")

	ingest.Stop()
	log.Info().Msg("order ingest stopped")

	cacheClient.Close()
	rdb.Close()
	db.Close()
	log.Info().Msg("connections closed")
}
