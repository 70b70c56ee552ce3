package promo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ScyisMe/croco-sushi/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetByCode looks a promo code up by its normalized form.
func (r *Repository) GetByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	pc := &domain.PromoCode{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, code, discount_type, discount_value, is_active,
		       start_date, end_date, min_order_amount,
		       max_uses, max_uses_per_user, current_uses, created_at
		FROM promo_codes
		WHERE code = $1
	`, Normalize(code)).Scan(
		&pc.ID, &pc.Code, &pc.DiscountType, &pc.DiscountValue, &pc.IsActive,
		&pc.StartDate, &pc.EndDate, &pc.MinOrderAmount,
		&pc.MaxUses, &pc.MaxUsesPerUser, &pc.CurrentUses, &pc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: promo code %q", domain.ErrNotFound, code)
		}
		return nil, err
	}

	return pc, nil
}
