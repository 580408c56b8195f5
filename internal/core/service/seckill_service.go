package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/citydeal/seckill/internal/core/domain"
	"github.com/citydeal/seckill/internal/port"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrVoucherNotFound  = errors.New("voucher not found")
	ErrSaleNotStarted   = errors.New("sale not started")
	ErrSaleEnded        = errors.New("sale ended")
	ErrSoldOut          = errors.New("sold out")
	ErrAlreadyPurchased = errors.New("already purchased")
)

const orderNamespace = "order"

// SeckillService is the admission boundary: it mints the order id, runs
// the atomic admission step and returns synchronously. The durable commit
// happens later through the ingest flow; an OK here is deliberately ahead
// of persistence.
type SeckillService struct {
	ids      port.IDGenerator
	store    port.AdmissionStore
	vouchers port.VoucherReader
	log      zerolog.Logger
}

func NewSeckillService(ids port.IDGenerator, store port.AdmissionStore, vouchers port.VoucherReader, logger zerolog.Logger) *SeckillService {
	return &SeckillService{
		ids:      ids,
		store:    store,
		vouchers: vouchers,
		log:      logger,
	}
}

// RequestAdmission decides whether userID may claim one unit of voucherID
// and returns the minted order id on success.
func (s *SeckillService) RequestAdmission(ctx context.Context, voucherID, userID uint64) (uint64, error) {
	if voucherID == 0 || userID == 0 {
		return 0, ErrInvalidRequest
	}

	voucher, err := s.vouchers.SeckillVoucher(ctx, voucherID)
	if err != nil {
		return 0, fmt.Errorf("load voucher %d: %w", voucherID, err)
	}
	if voucher == nil {
		return 0, ErrVoucherNotFound
	}

	now := time.Now()
	if now.Before(voucher.BeginTime) {
		return 0, ErrSaleNotStarted
	}
	if now.After(voucher.EndTime) {
		return 0, ErrSaleEnded
	}

	orderID, err := s.ids.NextID(ctx, orderNamespace)
	if err != nil {
		return 0, fmt.Errorf("mint order id: %w", err)
	}

	result, err := s.store.Admit(ctx, voucherID, userID, orderID)
	if err != nil {
		return 0, fmt.Errorf("admission for voucher %d: %w", voucherID, err)
	}

	switch result {
	case domain.AdmissionOK:
		s.log.Info().Uint64("voucher", voucherID).Uint64("user", userID).
			Uint64("order", orderID).Msg("admission granted")
		return orderID, nil
	case domain.AdmissionSoldOut:
		return 0, ErrSoldOut
	case domain.AdmissionDuplicate:
		return 0, ErrAlreadyPurchased
	default:
		return 0, fmt.Errorf("admission for voucher %d: unexpected result %d", voucherID, result)
	}
}
