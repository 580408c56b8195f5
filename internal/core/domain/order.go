package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCommitted OrderStatus = "committed"
)

type Order struct {
	ID        uint64
	UserID    uint64
	VoucherID uint64
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AdmissionResult mirrors the integer codes returned by the admission
// script: 0 admitted, 1 sold out, 2 repeat purchase.
type AdmissionResult int

const (
	AdmissionOK AdmissionResult = iota
	AdmissionSoldOut
	AdmissionDuplicate
)

// QueueEntry is one delivered order message from the durable stream.
// ID is the stream entry id used for acknowledgement.
type QueueEntry struct {
	ID    string
	Order Order
}
