package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/citydeal/seckill/internal/core/domain"
	"github.com/citydeal/seckill/internal/port"
)

const (
	readCount      = 10
	readBlock      = 2 * time.Second
	readErrorPause = time.Second
	pendingBackoff = 20 * time.Millisecond
)

// OrderIngest turns admitted queue entries into committed order rows. It
// owns a bounded pool of consumer workers created at Start and drained at
// Stop. Each worker has a stable consumer name, so the entries it read
// before a crash stay on its pending list and are replayed on restart.
type OrderIngest struct {
	queue   port.OrderQueue
	orders  port.OrderRepository
	workers int
	log     zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrderIngest(queue port.OrderQueue, orders port.OrderRepository, workers int, logger zerolog.Logger) *OrderIngest {
	if workers < 1 {
		workers = 1
	}
	return &OrderIngest{
		queue:   queue,
		orders:  orders,
		workers: workers,
		log:     logger,
	}
}

func (f *OrderIngest) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	for i := 1; i <= f.workers; i++ {
		consumer := fmt.Sprintf("c%d", i)
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.runWorker(ctx, consumer)
		}()
	}
}

// Stop cancels the workers and waits for them to finish their current
// entry. Unacked entries survive on the pending lists.
func (f *OrderIngest) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

func (f *OrderIngest) runWorker(ctx context.Context, consumer string) {
	log := f.log.With().Str("consumer", consumer).Logger()

	// a predecessor with this consumer name may have died mid-processing
	f.drainPending(ctx, consumer, log)

	for ctx.Err() == nil {
		entries, err := f.queue.ReadNext(ctx, consumer, readCount, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("read order stream")
			time.Sleep(readErrorPause)
			continue
		}
		for _, entry := range entries {
			if err := f.handle(ctx, entry, log); err != nil {
				log.Error().Err(err).Str("entry", entry.ID).Msg("process order entry")
				f.drainPending(ctx, consumer, log)
				break
			}
		}
	}
}

// drainPending reprocesses this consumer's delivered-but-unacked entries
// from the oldest until the pending set is empty. Failures back off and
// retry; nothing is dropped here.
func (f *OrderIngest) drainPending(ctx context.Context, consumer string, log zerolog.Logger) {
	for ctx.Err() == nil {
		entries, err := f.queue.ReadPending(ctx, consumer, readCount)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("read pending entries")
			time.Sleep(pendingBackoff)
			continue
		}
		if len(entries) == 0 {
			return
		}
		for _, entry := range entries {
			if err := f.handle(ctx, entry, log); err != nil {
				log.Error().Err(err).Str("entry", entry.ID).Msg("reprocess pending entry")
				time.Sleep(pendingBackoff)
				break
			}
		}
	}
}

func (f *OrderIngest) handle(ctx context.Context, entry domain.QueueEntry, log zerolog.Logger) error {
	if err := f.persist(ctx, entry.Order, log); err != nil {
		return err
	}
	if err := f.queue.Ack(ctx, entry.ID); err != nil {
		return err
	}
	return nil
}

// persist is idempotent: replaying the same entry yields exactly one
// committed row. Duplicates caught here slipped past admission only as
// queue redeliveries; they are logged and discarded, never failed, so the
// entry can be acked.
func (f *OrderIngest) persist(ctx context.Context, order domain.Order, log zerolog.Logger) error {
	order.Status = domain.OrderStatusCommitted

	err := f.orders.SaveOrder(ctx, order)
	switch {
	case err == nil:
		log.Info().Uint64("order", order.ID).Uint64("user", order.UserID).
			Uint64("voucher", order.VoucherID).Msg("order committed")
		return nil
	case errors.Is(err, port.ErrDuplicateOrder):
		log.Warn().Uint64("order", order.ID).Uint64("user", order.UserID).
			Msg("duplicate order discarded")
		return nil
	case errors.Is(err, port.ErrStockConflict):
		// admission bounded OKs by the shared-store counter, so the durable
		// ledger only conflicts if it drifted out of band
		log.Error().Uint64("order", order.ID).Uint64("voucher", order.VoucherID).
			Msg("stock ledger conflict, order discarded")
		return nil
	default:
		return fmt.Errorf("save order %d: %w", order.ID, err)
	}
}
