package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lunebijoux/storefront/pkg/database"
	"github.com/lunebijoux/storefront/services/storefront/internal/shipping"
)

// ShippingRepository implements repository.ShippingRepository using PostgreSQL.
type ShippingRepository struct {
	pool database.DBTX
}

// NewShippingRepository creates a new PostgreSQL-backed shipping repository.
func NewShippingRepository(pool database.DBTX) *ShippingRepository {
	return &ShippingRepository{pool: pool}
}

// ListMethods returns the active shipping methods. Methods are not
// validated here; shipping.NewCatalog rejects malformed bracket lists.
func (r *ShippingRepository) ListMethods(ctx context.Context) ([]shipping.Method, error) {
	query := `
		SELECT id, name, weight_brackets, free_above_cents
		FROM shipping_methods
		WHERE is_active = true
		ORDER BY sort_order, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list shipping methods: %w", err)
	}
	defer rows.Close()

	methods := make([]shipping.Method, 0)
	for rows.Next() {
		var (
			m            shipping.Method
			bracketsJSON []byte
			freeAbove    *int64
		)
		if err := rows.Scan(&m.ID, &m.Name, &bracketsJSON, &freeAbove); err != nil {
			return nil, fmt.Errorf("scan shipping method: %w", err)
		}
		if err := json.Unmarshal(bracketsJSON, &m.Brackets); err != nil {
			return nil, fmt.Errorf("unmarshal weight_brackets of %s: %w", m.ID, err)
		}
		m.FreeAboveCents = centsPtr(freeAbove)
		methods = append(methods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shipping methods: %w", err)
	}

	return methods, nil
}
