package port

import (
	"context"
	"time"

	"github.com/citydeal/seckill/internal/core/domain"
)

// OrderQueue is the durable ordered queue the admission script appends to.
// Delivery uses consumer-group semantics: each entry goes to exactly one
// active consumer, and undelivered acknowledgements are tracked per
// consumer in a pending list.
type OrderQueue interface {
	// ReadNext blocks up to block for entries not yet delivered to any
	// consumer in the group. A nil slice with a nil error means timeout.
	ReadNext(ctx context.Context, consumer string, count int64, block time.Duration) ([]domain.QueueEntry, error)

	// ReadPending returns entries already delivered to this consumer but
	// not yet acknowledged, oldest first.
	ReadPending(ctx context.Context, consumer string, count int64) ([]domain.QueueEntry, error)

	// Ack marks an entry as processed; it is removed from the pending list.
	Ack(ctx context.Context, entryID string) error
}
