// seedvoucher creates or refreshes a seckill voucher: the durable row,
// the Redis stock counter and the pre-warmed sale-window cache entry.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/citydeal/seckill/internal/adapter/storage"
	"github.com/citydeal/seckill/internal/cache"
	"github.com/citydeal/seckill/internal/config"
	"github.com/citydeal/seckill/internal/core/domain"
	"github.com/citydeal/seckill/internal/core/service"
)

func main() {
	log.Logger = log.Output(os.Stdout)

	var (
		id       = flag.Uint64("id", 1, "voucher id")
		title    = flag.String("title", "100 off voucher", "voucher title")
		stock    = flag.Int("stock", 100, "initial stock")
		duration = flag.Duration("duration", 24*time.Hour, "sale window length from now")
		warmTTL  = flag.Duration("warm-ttl", 30*time.Minute, "logical expiry for the pre-warmed entry")
	)
	flag.Parse()

	cfg := config.Default()
	ctx := context.Background()

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open mysql")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("ping mysql")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("ping redis")
	}

	mysqlAdapter := storage.NewMySQLAdapter(db)
	redisAdapter := storage.NewRedisAdapter(rdb)
	locker := storage.NewRedisLock(rdb)
	cacheClient := cache.NewClient(rdb, locker, 1, log.Logger)
	defer cacheClient.Close()

	now := time.Now()
	voucher := domain.Voucher{
		ID:        *id,
		Title:     *title,
		Stock:     *stock,
		BeginTime: now,
		EndTime:   now.Add(*duration),
	}

	if err := mysqlAdapter.CreateVoucher(ctx, voucher); err != nil {
		log.Fatal().Err(err).Msg("create voucher row")
	}
	if err := redisAdapter.SeedStock(ctx, *id, *stock); err != nil {
		log.Fatal().Err(err).Msg("seed redis stock")
	}
	if err := redisAdapter.EnsureGroup(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure consumer group")
	}

	vouchers := service.NewVoucherService(mysqlAdapter, cacheClient, log.Logger)
	if err := vouchers.Prewarm(ctx, *id, *warmTTL); err != nil {
		log.Fatal().Err(err).Msg("prewarm voucher")
	}

	log.Info().Uint64("voucher", *id).Int("stock", *stock).
		Time("ends", voucher.EndTime).Msg("voucher seeded")
}
