package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/citydeal/seckill/internal/core/domain"
	"github.com/citydeal/seckill/internal/port"
)

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// SaveOrder persists one admitted order in a single transaction: re-check
// one-order-per-user, deduct the durable stock row conditionally, insert
// the committed order. The re-check duplicates what the admission script
// already guarantees; it is the defense against queue redelivery.
func (m *MySQLAdapter) SaveOrder(ctx context.Context, order domain.Order) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders WHERE user_id = ? AND voucher_id = ?`,
		order.UserID, order.VoucherID,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("check existing order: %w", err)
	}
	if count > 0 {
		return port.ErrDuplicateOrder
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE vouchers
		SET stock = stock - 1, updated_at = NOW()
		WHERE id = ? AND stock > 0`,
		order.VoucherID,
	)
	if err != nil {
		return fmt.Errorf("deduct stock: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrStockConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, voucher_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, NOW(), NOW())`,
		order.ID, order.UserID, order.VoucherID, domain.OrderStatusCommitted,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return port.ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", err)
	}

	return tx.Commit()
}

func (m *MySQLAdapter) GetVoucher(ctx context.Context, voucherID uint64) (*domain.Voucher, error) {
	var v domain.Voucher
	err := m.db.QueryRowContext(ctx, `
		SELECT id, title, stock, begin_time, end_time, created_at, updated_at
		FROM vouchers WHERE id = ?`, voucherID,
	).Scan(&v.ID, &v.Title, &v.Stock, &v.BeginTime, &v.EndTime, &v.CreatedAt, &v.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query voucher: %w", err)
	}
	return &v, nil
}

func (m *MySQLAdapter) CreateVoucher(ctx context.Context, v domain.Voucher) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO vouchers (id, title, stock, begin_time, end_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
			title = VALUES(title), stock = VALUES(stock),
			begin_time = VALUES(begin_time), end_time = VALUES(end_time),
			updated_at = NOW()`,
		v.ID, v.Title, v.Stock, v.BeginTime, v.EndTime,
	)
	if err != nil {
		return fmt.Errorf("create voucher: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) UpdateVoucher(ctx context.Context, v domain.Voucher) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE vouchers
		SET title = ?, stock = ?, begin_time = ?, end_time = ?, updated_at = NOW()
		WHERE id = ?`,
		v.Title, v.Stock, v.BeginTime, v.EndTime, v.ID,
	)
	if err != nil {
		return fmt.Errorf("update voucher: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("update voucher: id %d not found", v.ID)
	}
	return nil
}
