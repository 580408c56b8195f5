package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/citydeal/seckill/internal/core/domain"
)

const (
	stockKeyPrefix  = "seckill:stock:"
	buyersKeyPrefix = "seckill:buyers:"
	idKeyPrefix     = "icr:"

	orderStream   = "stream.orders"
	consumerGroup = "g1"
)

// idEpoch is 2024-01-01T00:00:00Z; ids are (seconds since epoch)<<32 | seq.
const idEpoch int64 = 1704067200

// admitScript is the whole admission decision. Redis evaluates scripts
// single-threaded, so stock check, dedup check, decrement, purchase record
// and queue append are one indivisible unit with no client-side locking.
var admitScript = redis.NewScript(`
local stockKey = KEYS[1]
local buyersKey = KEYS[2]
local streamKey = KEYS[3]
local userId = ARGV[1]
local voucherId = ARGV[2]
local orderId = ARGV[3]

local stock = redis.call('GET', stockKey)
if not stock or tonumber(stock) <= 0 then
	return 1
end
if redis.call('SISMEMBER', buyersKey, userId) == 1 then
	return 2
end

redis.call('INCRBY', stockKey, -1)
redis.call('SADD', buyersKey, userId)
redis.call('XADD', streamKey, '*', 'id', orderId, 'userId', userId, 'voucherId', voucherId)
return 0
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

// NextID composes a time-ordered id from the seconds since idEpoch and an
// atomic per-day counter. The counter key embeds the calendar date, so a
// new day starts a fresh counter at 1 while the timestamp half keeps the
// combined value increasing.
func (r *RedisAdapter) NextID(ctx context.Context, namespace string) (uint64, error) {
	now := time.Now().UTC()
	seq, err := r.client.Incr(ctx, idCounterKey(namespace, now)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment id counter: %w", err)
	}
	return composeID(now, seq), nil
}

// idCounterKey embeds the calendar date, so each day gets its own counter.
func idCounterKey(namespace string, now time.Time) string {
	return idKeyPrefix + namespace + ":" + now.Format("2006:01:02")
}

func composeID(now time.Time, seq int64) uint64 {
	ts := uint64(now.Unix() - idEpoch)
	return ts<<32 | uint64(seq)
}

func (r *RedisAdapter) Admit(ctx context.Context, voucherID, userID, orderID uint64) (domain.AdmissionResult, error) {
	keys := []string{stockKey(voucherID), buyersKey(voucherID), orderStream}
	res, err := admitScript.Run(ctx, r.client, keys,
		strconv.FormatUint(userID, 10),
		strconv.FormatUint(voucherID, 10),
		strconv.FormatUint(orderID, 10),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("run admission script: %w", err)
	}
	return domain.AdmissionResult(res), nil
}

// SeedStock writes the sale-window stock counter and clears the purchase
// records for a voucher. Called at pre-warm time, never during the sale.
func (r *RedisAdapter) SeedStock(ctx context.Context, voucherID uint64, stock int) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, stockKey(voucherID), stock, 0)
	pipe.Del(ctx, buyersKey(voucherID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("seed stock: %w", err)
	}
	return nil
}

// EnsureGroup creates the order stream and its consumer group if missing.
func (r *RedisAdapter) EnsureGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, orderStream, consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (r *RedisAdapter) ReadNext(ctx context.Context, consumer string, count int64, block time.Duration) ([]domain.QueueEntry, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: consumer,
		Streams:  []string{orderStream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read order stream: %w", err)
	}
	return entriesFromStreams(streams)
}

// ReadPending re-reads this consumer's delivered-but-unacked entries from
// the start of its pending list, for crash recovery.
func (r *RedisAdapter) ReadPending(ctx context.Context, consumer string, count int64) ([]domain.QueueEntry, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: consumer,
		Streams:  []string{orderStream, "0"},
		Count:    count,
		Block:    -1,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pending entries: %w", err)
	}
	return entriesFromStreams(streams)
}

func (r *RedisAdapter) Ack(ctx context.Context, entryID string) error {
	if err := r.client.XAck(ctx, orderStream, consumerGroup, entryID).Err(); err != nil {
		return fmt.Errorf("ack entry %s: %w", entryID, err)
	}
	return nil
}

func entriesFromStreams(streams []redis.XStream) ([]domain.QueueEntry, error) {
	var entries []domain.QueueEntry
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			entry, err := entryFromMessage(msg)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func entryFromMessage(msg redis.XMessage) (domain.QueueEntry, error) {
	field := func(name string) (uint64, error) {
		s, ok := msg.Values[name].(string)
		if !ok {
			return 0, fmt.Errorf("entry %s: missing field %q", msg.ID, name)
		}
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("entry %s: field %q: %w", msg.ID, name, err)
		}
		return v, nil
	}

	orderID, err := field("id")
	if err != nil {
		return domain.QueueEntry{}, err
	}
	userID, err := field("userId")
	if err != nil {
		return domain.QueueEntry{}, err
	}
	voucherID, err := field("voucherId")
	if err != nil {
		return domain.QueueEntry{}, err
	}

	return domain.QueueEntry{
		ID: msg.ID,
		Order: domain.Order{
			ID:        orderID,
			UserID:    userID,
			VoucherID: voucherID,
			Status:    domain.OrderStatusPending,
		},
	}, nil
}

func stockKey(voucherID uint64) string {
	return stockKeyPrefix + strconv.FormatUint(voucherID, 10)
}

func buyersKey(voucherID uint64) string {
	return buyersKeyPrefix + strconv.FormatUint(voucherID, 10)
}
