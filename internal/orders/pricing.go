package orders

import "github.com/shopspring/decimal"

// PricingConfig carries the money thresholds of the assembly engine.
// Values come from the environment in cmd/server; tests construct their
// own.
type PricingConfig struct {
	// MinOrderAmount and MaxOrderAmount bound the pre-discount subtotal.
	// The ceiling is an overflow/fraud guard, not a business rule.
	MinOrderAmount decimal.Decimal
	MaxOrderAmount decimal.Decimal

	// DeliveryFee applies to orders whose post-discount amount is below
	// FreeDeliveryOver; at or above the threshold delivery is free.
	DeliveryFee      decimal.Decimal
	FreeDeliveryOver decimal.Decimal
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		MinOrderAmount:   decimal.NewFromInt(200),
		MaxOrderAmount:   decimal.NewFromInt(100000),
		DeliveryFee:      decimal.NewFromInt(50),
		FreeDeliveryOver: decimal.NewFromInt(500),
	}
}

// DeliveryCost returns the delivery fee for a post-discount order amount.
func (c PricingConfig) DeliveryCost(amount decimal.Decimal) decimal.Decimal {
	if amount.GreaterThanOrEqual(c.FreeDeliveryOver) {
		return decimal.Zero
	}
	return c.DeliveryFee
}
