package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog row referenced by reservations. The engine only
// reads products; the catalog service owns them.
type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
}
