// Package notify is the worker side of the notification pipeline: it
// consumes order events and hands rendered messages to the dispatcher.
// Delivery is best-effort by design; a failed dispatch is logged and
// dropped, never retried into the order path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ScyisMe/croco-sushi/internal/domain"
)

const (
	KindEmail = "email"
	KindSMS   = "sms"
)

type Handler struct {
	dispatcherURL string
	httpClient    *http.Client
	logger        *slog.Logger
}

func NewHandler(dispatcherURL string, client *http.Client, logger *slog.Logger) *Handler {
	return &Handler{
		dispatcherURL: dispatcherURL,
		httpClient:    client,
		logger:        logger,
	}
}

// Handle routes one consumed event by its type header. Unknown types are
// skipped so old workers survive new event kinds.
func (h *Handler) Handle(ctx context.Context, eventType string, payload []byte) error {
	switch eventType {
	case domain.EventOrderCreated:
		var event domain.OrderCreatedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("unmarshal order created event: %w", err)
		}
		h.notifyCreated(ctx, event)
	case domain.EventOrderStatusChanged:
		var event domain.OrderStatusChangedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("unmarshal status changed event: %w", err)
		}
		h.notifyStatusChanged(ctx, event)
	default:
		h.logger.Warn("skipping event of unknown type", "event_type", eventType)
	}
	return nil
}

func (h *Handler) notifyCreated(ctx context.Context, event domain.OrderCreatedEvent) {
	payable := event.TotalAmount.Add(event.DeliveryCost)
	body := fmt.Sprintf("Hi %s, we received your order %s: %d item(s), %s to pay (delivery %s).",
		event.CustomerName, event.OrderNumber, len(event.Items), payable, event.DeliveryCost)

	if event.CustomerEmail != "" {
		h.dispatch(ctx, KindEmail, event.CustomerEmail, "Order "+event.OrderNumber+" accepted", body)
	}
	h.dispatch(ctx, KindSMS, event.CustomerPhone,
		"", fmt.Sprintf("Croco Sushi: order %s accepted, %s to pay.", event.OrderNumber, payable))
}

func (h *Handler) notifyStatusChanged(ctx context.Context, event domain.OrderStatusChangedEvent) {
	var text string
	switch event.NewStatus {
	case domain.OrderStatusConfirmed:
		text = fmt.Sprintf("Order %s is confirmed and queued for the kitchen.", event.OrderNumber)
	case domain.OrderStatusDelivering:
		text = fmt.Sprintf("Order %s is on its way.", event.OrderNumber)
	case domain.OrderStatusCompleted:
		text = fmt.Sprintf("Order %s is delivered. Enjoy!", event.OrderNumber)
	case domain.OrderStatusCancelled:
		text = fmt.Sprintf("Order %s was cancelled: %s", event.OrderNumber, event.Comment)
	default:
		// Kitchen-internal steps don't message the customer.
		return
	}

	h.dispatch(ctx, KindSMS, event.CustomerPhone, "", "Croco Sushi: "+text)
	if event.CustomerEmail != "" {
		h.dispatch(ctx, KindEmail, event.CustomerEmail, "Order "+event.OrderNumber+" update", text)
	}
}

type sendRequest struct {
	Kind      string `json:"kind"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
}

// dispatch posts one message to the dispatcher. Failures are logged and
// swallowed: the event is already consumed and the order already
// durable, so there is nothing upstream to fail.
func (h *Handler) dispatch(ctx context.Context, kind, recipient, subject, body string) {
	data, err := json.Marshal(sendRequest{
		Kind:      kind,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
	})
	if err != nil {
		h.logger.Error("failed to marshal notification", "error", err, "kind", kind)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.dispatcherURL+"/send", bytes.NewReader(data))
	if err != nil {
		h.logger.Error("failed to create dispatch request", "error", err, "kind", kind)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.logger.Error("failed to dispatch notification", "error", err, "kind", kind, "recipient", recipient)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		h.logger.Error("dispatcher rejected notification", "status", resp.StatusCode, "kind", kind, "recipient", recipient)
		return
	}

	h.logger.Info("notification dispatched", "kind", kind, "recipient", recipient)
}
