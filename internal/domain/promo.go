package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercent     DiscountType = "percent"
	DiscountFixed       DiscountType = "fixed"
	DiscountFreeProduct DiscountType = "free_product"
)

// PromoCode is a redeemable discount definition. Codes compare
// case-insensitively; the canonical form is upper-case.
type PromoCode struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	IsActive      bool            `json:"is_active"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       time.Time       `json:"end_date"`

	MinOrderAmount *decimal.Decimal `json:"min_order_amount,omitempty"`

	// MaxUses caps total redemptions; nil means unlimited.
	// MaxUsesPerUser is stored for completeness but only enforceable
	// once callers are authenticated.
	MaxUses        *int `json:"max_uses,omitempty"`
	MaxUsesPerUser *int `json:"max_uses_per_user,omitempty"`
	CurrentUses    int  `json:"current_uses"`

	CreatedAt time.Time `json:"created_at"`
}
