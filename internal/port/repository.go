package port

import (
	"context"
	"errors"

	"github.com/citydeal/seckill/internal/core/domain"
)

var (
	// ErrDuplicateOrder signals the user already has a committed order for
	// the voucher; the second line of defense against queue redelivery.
	ErrDuplicateOrder = errors.New("duplicate order for user")

	// ErrStockConflict signals the durable stock row could not be deducted.
	ErrStockConflict = errors.New("no stock left in database")
)

// OrderRepository is the system of record. SaveOrder persists one admitted
// order idempotently inside a single transaction and is the only path that
// mutates the orders table.
type OrderRepository interface {
	SaveOrder(ctx context.Context, order domain.Order) error
	GetVoucher(ctx context.Context, voucherID uint64) (*domain.Voucher, error)
	CreateVoucher(ctx context.Context, voucher domain.Voucher) error
	UpdateVoucher(ctx context.Context, voucher domain.Voucher) error
}
