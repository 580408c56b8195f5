// stress_test fires concurrent admission attempts at Redis and reports
// how many were admitted versus rejected.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/citydeal/seckill/internal/adapter/storage"
	"github.com/citydeal/seckill/internal/core/domain"
)

const (
	redisAddr     = "localhost:6379"
	voucherID     = 999
	initialStock  = 20
	totalRequests = 50
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(os.Stdout)

	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("connect redis")
	}
	defer rdb.Close()

	adapter := storage.NewRedisAdapter(rdb)
	if err := adapter.SeedStock(ctx, voucherID, initialStock); err != nil {
		log.Fatal().Err(err).Msg("seed stock")
	}
	if err := adapter.EnsureGroup(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure consumer group")
	}

	var admitted, soldOut, duplicate atomic.Int32
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID uint64) {
			defer wg.Done()

			orderID, err := adapter.NextID(ctx, "stress")
			if err != nil {
				log.Error().Err(err).Msg("mint id")
				return
			}
			result, err := adapter.Admit(ctx, voucherID, userID, orderID)
			if err != nil {
				log.Error().Err(err).Msg("admit")
				return
			}
			switch result {
			case domain.AdmissionOK:
				admitted.Add(1)
			case domain.AdmissionSoldOut:
				soldOut.Add(1)
			case domain.AdmissionDuplicate:
				duplicate.Add(1)
			}
		}(uint64(i + 1))
	}
	wg.Wait()

	fmt.Printf("requests: %d in %v\n", totalRequests, time.Since(start))
	fmt.Printf("admitted: %d (want %d)\n", admitted.Load(), initialStock)
	fmt.Printf("sold out: %d\n", soldOut.Load())
	fmt.Printf("duplicate: %d\n", duplicate.Load())
}
