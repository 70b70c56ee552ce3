// Package catalog resolves menu items and size variants to their
// authoritative current price and availability. Prices supplied by
// clients are never trusted; every order line is re-priced here.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ScyisMe/croco-sushi/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetItem(ctx context.Context, id string) (*domain.MenuItem, error) {
	item := &domain.MenuItem{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, price, is_orderable, created_at
		FROM menu_items
		WHERE id = $1
	`, id).Scan(&item.ID, &item.Name, &item.Price, &item.IsOrderable, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: menu item %s", domain.ErrNotFound, id)
		}
		return nil, err
	}

	return item, nil
}

// GetVariant resolves a size variant and verifies it belongs to itemID.
// A size that exists under a different item is a validation failure, not
// a lookup miss.
func (r *Repository) GetVariant(ctx context.Context, id, itemID string) (*domain.ItemSize, error) {
	size := &domain.ItemSize{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, item_id, name, price
		FROM item_sizes
		WHERE id = $1
	`, id).Scan(&size.ID, &size.ItemID, &size.Name, &size.Price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: item size %s", domain.ErrNotFound, id)
		}
		return nil, err
	}

	if size.ItemID != itemID {
		return nil, fmt.Errorf("%w: size %s does not belong to item %s", domain.ErrValidation, id, itemID)
	}

	return size, nil
}

func (r *Repository) ListMenu(ctx context.Context) ([]domain.MenuItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, price, is_orderable, created_at
		FROM menu_items
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	itemMap := make(map[string]*domain.MenuItem)
	var itemIDs []string

	for rows.Next() {
		var item domain.MenuItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Price, &item.IsOrderable, &item.CreatedAt); err != nil {
			return nil, err
		}
		itemMap[item.ID] = &item
		itemIDs = append(itemIDs, item.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(itemIDs) == 0 {
		return []domain.MenuItem{}, nil
	}

	sizeRows, err := r.db.QueryContext(ctx, `
		SELECT id, item_id, name, price
		FROM item_sizes
		WHERE item_id = ANY($1)
		ORDER BY price
	`, pq.Array(itemIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = sizeRows.Close() }()

	for sizeRows.Next() {
		var size domain.ItemSize
		if err := sizeRows.Scan(&size.ID, &size.ItemID, &size.Name, &size.Price); err != nil {
			return nil, err
		}
		item := itemMap[size.ItemID]
		item.Sizes = append(item.Sizes, size)
	}

	if err := sizeRows.Err(); err != nil {
		return nil, err
	}

	items := make([]domain.MenuItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		items = append(items, *itemMap[id])
	}

	return items, nil
}
