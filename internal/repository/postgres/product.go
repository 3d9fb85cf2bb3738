package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/NurzhauganovA/galmart/internal/domain"
	"github.com/NurzhauganovA/galmart/internal/repository"
	"github.com/NurzhauganovA/galmart/pkg/database"
	apperrors "github.com/NurzhauganovA/galmart/pkg/errors"
)

// ProductStore reads catalog rows needed at reservation time.
type ProductStore struct {
	q database.DBTX
}

// NewProductStore creates a PostgreSQL-backed product reader.
func NewProductStore(q database.DBTX) *ProductStore {
	return &ProductStore{q: q}
}

// WithTx returns a copy of the store bound to the given querier.
func (s *ProductStore) WithTx(q database.DBTX) repository.ProductStore {
	return &ProductStore{q: q}
}

// Find retrieves a product by ID.
func (s *ProductStore) Find(ctx context.Context, id int64) (*domain.Product, error) {
	query := `
		SELECT id, name, price, is_active, created_at
		FROM products
		WHERE id = $1`

	var p domain.Product
	err := s.q.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Price, &p.IsActive, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("product", fmt.Sprintf("%d", id))
		}
		return nil, fmt.Errorf("find product: %w", err)
	}
	return &p, nil
}
