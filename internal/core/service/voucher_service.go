package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/citydeal/seckill/internal/cache"
	"github.com/citydeal/seckill/internal/core/domain"
	"github.com/citydeal/seckill/internal/port"
)

const (
	voucherKeyPrefix        = "cache:voucher:"
	seckillVoucherKeyPrefix = "cache:seckill:voucher:"

	voucherTTL = 30 * time.Minute
)

// VoucherService fronts the voucher table with the cache-aside policies.
// General reads go through the mutex policy; the seckill hot path reads a
// pre-warmed logical-expire entry so admission never blocks on MySQL.
type VoucherService struct {
	repo  port.OrderRepository
	cache *cache.Client
	log   zerolog.Logger
}

func NewVoucherService(repo port.OrderRepository, cacheClient *cache.Client, logger zerolog.Logger) *VoucherService {
	return &VoucherService{
		repo:  repo,
		cache: cacheClient,
		log:   logger,
	}
}

// GetVoucher returns the voucher or nil when it does not exist.
func (s *VoucherService) GetVoucher(ctx context.Context, voucherID uint64) (*domain.Voucher, error) {
	v, err := cache.GetWithMutex(ctx, s.cache, voucherKey(voucherID), voucherLockResource(voucherID), voucherTTL,
		func(ctx context.Context) (*domain.Voucher, error) {
			return s.repo.GetVoucher(ctx, voucherID)
		})
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// SeckillVoucher reads the pre-warmed sale-window entry. A voucher that
// was never warmed is reported as unknown; stale entries are served as-is
// while a background rebuild refreshes them.
func (s *VoucherService) SeckillVoucher(ctx context.Context, voucherID uint64) (*domain.Voucher, error) {
	v, err := cache.GetWithLogicalExpire(ctx, s.cache, seckillVoucherKey(voucherID), seckillLockResource(voucherID), voucherTTL,
		func(ctx context.Context) (*domain.Voucher, error) {
			return s.repo.GetVoucher(ctx, voucherID)
		})
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// Prewarm loads the voucher from the system of record and writes the
// logical-expire entry the seckill path reads.
func (s *VoucherService) Prewarm(ctx context.Context, voucherID uint64, logicalTTL time.Duration) error {
	v, err := s.repo.GetVoucher(ctx, voucherID)
	if err != nil {
		return err
	}
	if v == nil {
		return fmt.Errorf("prewarm: voucher %d not found", voucherID)
	}
	if err := cache.SetWithLogicalExpire(ctx, s.cache, seckillVoucherKey(voucherID), v, logicalTTL); err != nil {
		return err
	}
	s.log.Info().Uint64("voucher", voucherID).Dur("ttl", logicalTTL).Msg("voucher pre-warmed")
	return nil
}

// UpdateVoucher mutates the backing row and deletes the cache entries, so
// the next read repopulates. The entry is never rewritten in place.
func (s *VoucherService) UpdateVoucher(ctx context.Context, v domain.Voucher) error {
	if v.ID == 0 {
		return ErrInvalidRequest
	}
	if err := s.repo.UpdateVoucher(ctx, v); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, voucherKey(v.ID)); err != nil {
		return err
	}
	return s.cache.Delete(ctx, seckillVoucherKey(v.ID))
}

func voucherKey(id uint64) string {
	return voucherKeyPrefix + strconv.FormatUint(id, 10)
}

func seckillVoucherKey(id uint64) string {
	return seckillVoucherKeyPrefix + strconv.FormatUint(id, 10)
}

func voucherLockResource(id uint64) string {
	return "voucher:" + strconv.FormatUint(id, 10)
}

func seckillLockResource(id uint64) string {
	return "seckill:voucher:" + strconv.FormatUint(id, 10)
}
