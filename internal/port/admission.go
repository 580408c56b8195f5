package port

import (
	"context"

	"github.com/citydeal/seckill/internal/core/domain"
)

// AdmissionStore runs the atomic admission step on the shared store:
// stock check, one-order-per-user check, stock decrement, purchase
// record and queue append execute as a single indivisible unit.
type AdmissionStore interface {
	Admit(ctx context.Context, voucherID, userID, orderID uint64) (domain.AdmissionResult, error)
}

// IDGenerator mints globally unique, time-ordered ids within a namespace.
type IDGenerator interface {
	NextID(ctx context.Context, namespace string) (uint64, error)
}

// VoucherReader hands out sale-window metadata for pre-warmed seckill
// vouchers. A nil voucher with a nil error means unknown (or not warmed).
type VoucherReader interface {
	SeckillVoucher(ctx context.Context, voucherID uint64) (*domain.Voucher, error)
}
