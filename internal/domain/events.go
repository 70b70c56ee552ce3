package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event type values carried in the Kafka message header so consumers can
// route without decoding the payload.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

type OrderCreatedEvent struct {
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	CustomerEmail string          `json:"customer_email"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	DeliveryCost  decimal.Decimal `json:"delivery_cost"`
	Discount      decimal.Decimal `json:"discount"`
	Items         []OrderItem     `json:"items"`
	Timestamp     time.Time       `json:"timestamp"`
}

type OrderStatusChangedEvent struct {
	OrderID        string      `json:"order_id"`
	OrderNumber    string      `json:"order_number"`
	CustomerPhone  string      `json:"customer_phone"`
	CustomerEmail  string      `json:"customer_email"`
	PreviousStatus OrderStatus `json:"previous_status"`
	NewStatus      OrderStatus `json:"new_status"`
	Comment        string      `json:"comment,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}
