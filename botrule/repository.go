package botrule

import (
	"context"

	"github.com/hazyhaar/botrule/botrule/internal/store"
)

// Repository is the persistence collaborator of the Service.
type Repository interface {
	FindAll(ctx context.Context, f store.Filter) ([]*store.Row, error)
	Create(ctx context.Context, r *store.Row) error
	Destroy(ctx context.Context, r *store.Row) error
	// Tx runs fn against a transactional view of the repository.
	Tx(ctx context.Context, fn func(Repository) error) error
}

// sqlRepository adapts *store.Store to Repository.
type sqlRepository struct {
	*store.Store
}

// NewSQLRepository wraps an opened store.
func NewSQLRepository(s *store.Store) Repository {
	return sqlRepository{Store: s}
}

func (r sqlRepository) Tx(ctx context.Context, fn func(Repository) error) error {
	return r.Store.Tx(ctx, func(tx *store.Store) error {
		return fn(sqlRepository{Store: tx})
	})
}
