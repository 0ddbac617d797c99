package storage

import (
	"context"

	"snowballrss/internal/domain"
)

// Repository stores the history of delivered posts.
type Repository interface {
	// SaveDelivery appends one delivery record.
	SaveDelivery(ctx context.Context, d domain.Delivery) error

	// ListDeliveries returns up to limit records, newest first. A limit of
	// zero or less returns everything.
	ListDeliveries(ctx context.Context, limit int) ([]domain.Delivery, error)

	// Close gracefully shuts down the repository connection.
	Close() error
}
