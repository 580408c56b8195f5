package domain

import "time"

// Voucher is the stock ledger for one limited-stock deal. Stock in the
// database is the durable copy; during the sale window the authoritative
// counter lives in Redis and is only decremented by the admission script.
type Voucher struct {
	ID        uint64
	Title     string
	Stock     int
	BeginTime time.Time
	EndTime   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
