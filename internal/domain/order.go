package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is one purchase transaction. Customer fields and line items are
// snapshots taken at creation time; later edits to profiles, menu items
// or promo codes never rewrite a persisted order.
type Order struct {
	ID          string      `json:"id"`
	OrderNumber string      `json:"order_number"`
	Status      OrderStatus `json:"status"`

	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	CustomerEmail string `json:"customer_email"`

	// TotalAmount is the sum of line totals after discount, before
	// delivery. Computed once from catalog prices, never from client
	// input, and never recomputed.
	TotalAmount  decimal.Decimal `json:"total_amount"`
	DeliveryCost decimal.Decimal `json:"delivery_cost"`
	Discount     decimal.Decimal `json:"discount"`

	PromoCodeID   *string `json:"promo_code_id,omitempty"`
	PromoCodeName *string `json:"promo_code_name,omitempty"`

	AddressID *string `json:"address_id,omitempty"`
	Comment   string  `json:"comment,omitempty"`

	Items []OrderItem `json:"items"`

	// StatusHistory mirrors the order_history table for cheap reads.
	// The table remains the authoritative audit trail.
	StatusHistory []StatusEntry `json:"status_history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrderItem is one immutable priced line. ProductID and SizeID may
// outlive their referents; the denormalized names keep the line readable
// after a menu item is deleted.
type OrderItem struct {
	ID          string          `json:"id"`
	ProductID   *string         `json:"product_id,omitempty"`
	SizeID      *string         `json:"size_id,omitempty"`
	ProductName string          `json:"product_name"`
	SizeName    *string         `json:"size_name,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// StatusEntry is one element of the order's inline status history.
type StatusEntry struct {
	Status    OrderStatus `json:"status"`
	Comment   string      `json:"comment,omitempty"`
	ChangedBy string      `json:"changed_by,omitempty"`
	ChangedAt time.Time   `json:"changed_at"`
}

// HistoryRecord is one row of the append-only audit trail. Rows are
// never updated or deleted.
type HistoryRecord struct {
	ID             string      `json:"id"`
	OrderID        string      `json:"order_id"`
	ManagerID      *string     `json:"manager_id,omitempty"`
	ManagerName    string      `json:"manager_name"`
	PreviousStatus OrderStatus `json:"previous_status"`
	NewStatus      OrderStatus `json:"new_status"`
	Comment        string      `json:"comment,omitempty"`
	ChangedAt      time.Time   `json:"changed_at"`
}

// Address is a delivery destination. CustomerID is nil for anonymous
// orders.
type Address struct {
	ID         string    `json:"id"`
	CustomerID *string   `json:"customer_id,omitempty"`
	City       string    `json:"city"`
	Street     string    `json:"street"`
	Building   string    `json:"building"`
	Apartment  *string   `json:"apartment,omitempty"`
	Comment    *string   `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
