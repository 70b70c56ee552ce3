// Package promo evaluates promotional codes against an order subtotal.
// Evaluation is pure; the usage counter is incremented by the order
// repository inside the same transaction that persists the order.
package promo

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ScyisMe/croco-sushi/internal/domain"
)

// User-facing rejection reasons. Each failure mode is distinguishable so
// the storefront can tell the customer what exactly went wrong.
const (
	ReasonNotFound      = "promo code not found"
	ReasonInactive      = "promo code is not active"
	ReasonNotStarted    = "promo code is not valid yet"
	ReasonExpired       = "promo code has expired"
	ReasonLimitExceeded = "promo code usage limit exhausted"
	ReasonBelowMinimum  = "order amount is below the promo code minimum"
)

type Evaluation struct {
	Valid    bool
	Discount decimal.Decimal
	Reason   string
}

// Normalize produces the canonical form of a code: trimmed, upper-case.
// Codes are stored and compared in this form.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Evaluate checks a promo code against the subtotal at a point in time
// and computes the discount it would grant. The discount is clamped to
// the subtotal so an order total can never go negative.
func Evaluate(pc *domain.PromoCode, subtotal decimal.Decimal, now time.Time) Evaluation {
	reject := func(reason string) Evaluation {
		return Evaluation{Discount: decimal.Zero, Reason: reason}
	}

	if !pc.IsActive {
		return reject(ReasonInactive)
	}
	if now.Before(pc.StartDate) {
		return reject(ReasonNotStarted)
	}
	if now.After(pc.EndDate) {
		return reject(ReasonExpired)
	}
	if pc.MaxUses != nil && pc.CurrentUses >= *pc.MaxUses {
		return reject(ReasonLimitExceeded)
	}
	if pc.MinOrderAmount != nil && subtotal.LessThan(*pc.MinOrderAmount) {
		return reject(ReasonBelowMinimum)
	}

	var discount decimal.Decimal
	switch pc.DiscountType {
	case domain.DiscountFixed:
		discount = pc.DiscountValue
	case domain.DiscountPercent:
		discount = subtotal.Mul(pc.DiscountValue).Div(decimal.NewFromInt(100)).Round(2)
	case domain.DiscountFreeProduct:
		// The free item is added by the storefront; no money discount.
		discount = decimal.Zero
	}

	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}

	return Evaluation{Valid: true, Discount: discount}
}
