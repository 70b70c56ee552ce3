package domain

import (
	"fmt"
	"slices"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusPreparing  OrderStatus = "preparing"
	OrderStatusReady      OrderStatus = "ready"
	OrderStatusDelivering OrderStatus = "delivering"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// statusTransitions lists the forward edges of the order lifecycle.
// The ready step is optional: a kitchen may hand an order straight to a
// courier. cancelled is reachable from every non-terminal status and is
// handled separately in CanTransition.
var statusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed},
	OrderStatusConfirmed:  {OrderStatusPreparing},
	OrderStatusPreparing:  {OrderStatusReady, OrderStatusDelivering},
	OrderStatusReady:      {OrderStatusDelivering},
	OrderStatusDelivering: {OrderStatusCompleted},
}

var knownStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusReady,
	OrderStatusDelivering,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

func (s OrderStatus) Valid() bool {
	return slices.Contains(knownStatuses, s)
}

// IsTerminal reports whether no further transition is permitted.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

func CanTransition(current, target OrderStatus) bool {
	if current == target {
		return true
	}
	if target == OrderStatusCancelled {
		return !current.IsTerminal()
	}
	return slices.Contains(statusTransitions[current], target)
}

// ValidateTransition checks a requested status change against the
// lifecycle rules without mutating anything. Cancellation requires a
// non-empty reason.
func ValidateTransition(current, target OrderStatus, comment string) error {
	if !target.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, string(target))
	}
	if current == target {
		return nil
	}
	if target == OrderStatusCancelled && comment == "" {
		return fmt.Errorf("%w: cancellation requires a reason", ErrValidation)
	}
	if !CanTransition(current, target) {
		return fmt.Errorf("%w: cannot change status from %s to %s", ErrValidation, current, target)
	}
	return nil
}
