package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MenuItem is a catalog entry: the single source of truth for current
// price and availability.
type MenuItem struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	IsOrderable bool            `json:"is_orderable"`
	CreatedAt   time.Time       `json:"created_at"`
	Sizes       []ItemSize      `json:"sizes,omitempty"`
}

// ItemSize is a priced variant of a menu item. A size carries its own
// price which replaces the item's base price when ordered.
type ItemSize struct {
	ID     string          `json:"id"`
	ItemID string          `json:"item_id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
}
