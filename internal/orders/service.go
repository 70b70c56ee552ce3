// Package orders implements the order assembly, pricing and fulfillment
// engine: cart validation, catalog re-pricing, promo application,
// delivery cost, unique order numbers and the status state machine.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ScyisMe/croco-sushi/internal/domain"
	"github.com/ScyisMe/croco-sushi/internal/promo"
)

const maxCartLines = 20

var serviceTracer = otel.Tracer("orders/service")

// Catalog is the price/availability source of truth. Implemented by
// internal/catalog; faked in tests.
type Catalog interface {
	GetItem(ctx context.Context, id string) (*domain.MenuItem, error)
	GetVariant(ctx context.Context, id, itemID string) (*domain.ItemSize, error)
}

// PromoStore looks promo codes up by their normalized code.
type PromoStore interface {
	GetByCode(ctx context.Context, code string) (*domain.PromoCode, error)
}

// Store is the persistence boundary. Create must be atomic: order,
// items, optional new address and the promo usage increment commit
// together or not at all, and it must report an order-number collision
// as errOrderNumberTaken so the service can retry with a fresh number.
type Store interface {
	Create(ctx context.Context, order *domain.Order, newAddress *domain.Address) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	GetAddress(ctx context.Context, id string) (*domain.Address, error)
	ApplyTransition(ctx context.Context, orderID string, entry domain.StatusEntry, rec *domain.HistoryRecord) error
	History(ctx context.Context, orderID string) ([]domain.HistoryRecord, error)
}

// Publisher hands events to the notification pipeline. Publishing is
// fire-and-forget: errors are logged by the service and never surfaced.
type Publisher interface {
	Publish(ctx context.Context, key, eventType string, event any) error
}

// errOrderNumberTaken is returned by Store.Create when the generated
// order number already exists. It stays internal to the package: callers
// only ever see domain.ErrConflict after the retry budget runs out.
var errOrderNumberTaken = errors.New("order number already taken")

type Service struct {
	store   Store
	catalog Catalog
	promos  PromoStore
	pub     Publisher
	pricing PricingConfig
	logger  *slog.Logger
	now     func() time.Time

	ordersCreated    metric.Int64Counter
	promoRedemptions metric.Int64Counter
}

func NewService(store Store, cat Catalog, promos PromoStore, pub Publisher, pricing PricingConfig, logger *slog.Logger) *Service {
	meter := otel.Meter("orders/service")
	ordersCreated, _ := meter.Int64Counter("orders_created_total",
		metric.WithDescription("Number of orders successfully persisted"))
	promoRedemptions, _ := meter.Int64Counter("promo_redemptions_total",
		metric.WithDescription("Number of successful promo code redemptions"))

	return &Service{
		store:            store,
		catalog:          cat,
		promos:           promos,
		pub:              pub,
		pricing:          pricing,
		logger:           logger,
		now:              time.Now,
		ordersCreated:    ordersCreated,
		promoRedemptions: promoRedemptions,
	}
}

type CartLine struct {
	ProductID string  `json:"product_id"`
	SizeID    *string `json:"size_id,omitempty"`
	Quantity  int     `json:"quantity"`
}

type CustomerInfo struct {
	ID    *string `json:"customer_id,omitempty"`
	Name  string  `json:"name"`
	Phone string  `json:"phone"`
	Email string  `json:"email"`
}

// AddressInput either references an existing address by id or carries
// the fields of a new one.
type AddressInput struct {
	AddressID *string `json:"address_id,omitempty"`
	City      string  `json:"city,omitempty"`
	Street    string  `json:"street,omitempty"`
	Building  string  `json:"building,omitempty"`
	Apartment *string `json:"apartment,omitempty"`
	Comment   *string `json:"comment,omitempty"`
}

type CreateOrderInput struct {
	Lines     []CartLine
	Customer  CustomerInfo
	PromoCode string
	Address   *AddressInput
	Comment   string
}

// CreateOrder prices a cart from the catalog, applies an optional promo
// code, computes the delivery fee and persists the order atomically.
// Any failure aborts the whole operation; no partial order is ever
// visible.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (*domain.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "CreateOrder")
	defer span.End()

	if err := validateCustomer(input.Customer); err != nil {
		return nil, err
	}

	items, subtotal, err := s.priceLines(ctx, input.Lines)
	if err != nil {
		return nil, err
	}

	if subtotal.LessThan(s.pricing.MinOrderAmount) {
		return nil, fmt.Errorf("%w: order amount %s is below the minimum of %s",
			domain.ErrValidation, subtotal, s.pricing.MinOrderAmount)
	}
	if subtotal.GreaterThan(s.pricing.MaxOrderAmount) {
		return nil, fmt.Errorf("%w: order amount %s exceeds the maximum of %s",
			domain.ErrValidation, subtotal, s.pricing.MaxOrderAmount)
	}

	now := s.now()

	discount := decimal.Zero
	var promoID, promoName *string
	if input.PromoCode != "" {
		pc, err := s.promos.GetByCode(ctx, input.PromoCode)
		if err != nil {
			return nil, err
		}
		eval := promo.Evaluate(pc, subtotal, now)
		if !eval.Valid {
			return nil, fmt.Errorf("%w: %s", domain.ErrValidation, eval.Reason)
		}
		discount = eval.Discount
		promoID = &pc.ID
		promoName = &pc.Code
	}

	amountAfterDiscount := subtotal.Sub(discount)
	deliveryCost := s.pricing.DeliveryCost(amountAfterDiscount)

	addressID, newAddress, err := s.resolveAddress(ctx, input.Address, input.Customer.ID)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		Status:        domain.OrderStatusPending,
		CustomerName:  input.Customer.Name,
		CustomerPhone: input.Customer.Phone,
		CustomerEmail: input.Customer.Email,
		TotalAmount:   amountAfterDiscount,
		DeliveryCost:  deliveryCost,
		Discount:      discount,
		PromoCodeID:   promoID,
		PromoCodeName: promoName,
		AddressID:     addressID,
		Comment:       input.Comment,
		Items:         items,
		StatusHistory: []domain.StatusEntry{{
			Status:    domain.OrderStatusPending,
			ChangedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.persistWithFreshNumber(ctx, order, newAddress); err != nil {
		return nil, err
	}

	s.ordersCreated.Add(ctx, 1)
	if promoID != nil {
		s.promoRedemptions.Add(ctx, 1)
	}
	span.SetAttributes(attribute.String("order.number", order.OrderNumber))

	s.publishCreated(ctx, order)

	s.logger.Info("order created",
		"order_number", order.OrderNumber,
		"total", order.TotalAmount,
		"delivery_cost", order.DeliveryCost,
		"lines", len(order.Items))

	return order, nil
}

// Reorder builds a new order from a historical one. Lines whose item or
// size no longer exists, or is no longer orderable, are dropped without
// error; survivors are re-priced from the catalog. Promo codes are not
// carried over.
func (s *Service) Reorder(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "Reorder")
	defer span.End()

	original, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var items []domain.OrderItem
	subtotal := decimal.Zero
	for _, line := range original.Items {
		item, ok, err := s.repriceLine(ctx, line)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		items = append(items, item)
		subtotal = subtotal.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("%w: nothing left to reorder", domain.ErrValidation)
	}

	now := s.now()
	order := &domain.Order{
		Status:        domain.OrderStatusPending,
		CustomerName:  original.CustomerName,
		CustomerPhone: original.CustomerPhone,
		CustomerEmail: original.CustomerEmail,
		TotalAmount:   subtotal,
		DeliveryCost:  s.pricing.DeliveryCost(subtotal),
		Discount:      decimal.Zero,
		AddressID:     original.AddressID,
		Comment:       fmt.Sprintf("reordered from %s", original.OrderNumber),
		Items:         items,
		StatusHistory: []domain.StatusEntry{{
			Status:    domain.OrderStatusPending,
			ChangedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.persistWithFreshNumber(ctx, order, nil); err != nil {
		return nil, err
	}

	s.ordersCreated.Add(ctx, 1)
	s.publishCreated(ctx, order)

	s.logger.Info("order reordered",
		"order_number", order.OrderNumber,
		"source_order_number", original.OrderNumber,
		"dropped_lines", len(original.Items)-len(items))

	return order, nil
}

// ManagerRef identifies who changed an order's status. A zero value
// means the system itself.
type ManagerRef struct {
	ID   *string
	Name string
}

// Transition applies a status change: validates it against the
// lifecycle, updates the order and appends one audit record in a single
// transaction. A same-status request is a no-op.
func (s *Service) Transition(ctx context.Context, orderID string, target domain.OrderStatus, actor ManagerRef, comment string) (*domain.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "Transition", trace.WithAttributes(
		attribute.String("order.target_status", string(target))))
	defer span.End()

	order, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := domain.ValidateTransition(order.Status, target, comment); err != nil {
		return nil, err
	}

	if order.Status == target {
		return order, nil
	}

	now := s.now()
	managerName := actor.Name
	if managerName == "" {
		managerName = "system"
	}

	entry := domain.StatusEntry{
		Status:    target,
		Comment:   comment,
		ChangedBy: managerName,
		ChangedAt: now,
	}
	rec := &domain.HistoryRecord{
		OrderID:        order.ID,
		ManagerID:      actor.ID,
		ManagerName:    managerName,
		PreviousStatus: order.Status,
		NewStatus:      target,
		Comment:        comment,
		ChangedAt:      now,
	}

	if err := s.store.ApplyTransition(ctx, order.ID, entry, rec); err != nil {
		return nil, err
	}

	previous := order.Status
	order.Status = target
	order.StatusHistory = append(order.StatusHistory, entry)
	order.UpdatedAt = now

	s.publishStatusChanged(ctx, order, previous, comment)

	s.logger.Info("order status changed",
		"order_number", order.OrderNumber,
		"previous_status", previous,
		"new_status", target,
		"manager", managerName)

	return order, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.store.GetByID(ctx, orderID)
}

func (s *Service) List(ctx context.Context) ([]domain.Order, error) {
	return s.store.List(ctx)
}

// History returns the authoritative audit trail of an order.
func (s *Service) History(ctx context.Context, orderID string) ([]domain.HistoryRecord, error) {
	if _, err := s.store.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, orderID)
}

// TrackingView is the public projection of an order: no customer PII.
type TrackingView struct {
	OrderNumber string             `json:"order_number"`
	Status      domain.OrderStatus `json:"status"`
	History     []trackingStep     `json:"history"`
	CreatedAt   time.Time          `json:"created_at"`
}

type trackingStep struct {
	Status    domain.OrderStatus `json:"status"`
	ChangedAt time.Time          `json:"changed_at"`
}

func (s *Service) Track(ctx context.Context, orderNumber string) (*TrackingView, error) {
	order, err := s.store.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	view := &TrackingView{
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		History:     make([]trackingStep, 0, len(order.StatusHistory)),
		CreatedAt:   order.CreatedAt,
	}
	for _, entry := range order.StatusHistory {
		view.History = append(view.History, trackingStep{Status: entry.Status, ChangedAt: entry.ChangedAt})
	}

	return view, nil
}

func validateCustomer(c CustomerInfo) error {
	if c.Name == "" {
		return fmt.Errorf("%w: customer name is required", domain.ErrValidation)
	}
	if c.Phone == "" {
		return fmt.Errorf("%w: customer phone is required", domain.ErrValidation)
	}
	return nil
}

// priceLines resolves every cart line against the catalog and returns
// the priced snapshots plus the subtotal. Client-supplied prices never
// reach this point; the catalog is the only price source.
func (s *Service) priceLines(ctx context.Context, lines []CartLine) ([]domain.OrderItem, decimal.Decimal, error) {
	if len(lines) == 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: cart is empty", domain.ErrValidation)
	}
	if len(lines) > maxCartLines {
		return nil, decimal.Zero, fmt.Errorf("%w: cart exceeds %d lines", domain.ErrValidation, maxCartLines)
	}

	items := make([]domain.OrderItem, 0, len(lines))
	subtotal := decimal.Zero

	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
		}

		menuItem, err := s.catalog.GetItem(ctx, line.ProductID)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if !menuItem.IsOrderable {
			return nil, decimal.Zero, fmt.Errorf("%w: %s cannot be ordered right now", domain.ErrUnavailable, menuItem.Name)
		}

		productID := menuItem.ID
		item := domain.OrderItem{
			ProductID:   &productID,
			ProductName: menuItem.Name,
			Quantity:    line.Quantity,
			Price:       menuItem.Price,
		}

		if line.SizeID != nil {
			size, err := s.catalog.GetVariant(ctx, *line.SizeID, menuItem.ID)
			if err != nil {
				return nil, decimal.Zero, err
			}
			sizeID, sizeName := size.ID, size.Name
			item.SizeID = &sizeID
			item.SizeName = &sizeName
			item.Price = size.Price
		}

		items = append(items, item)
		subtotal = subtotal.Add(item.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	return items, subtotal, nil
}

// repriceLine re-resolves one historical line for a reorder. The second
// return value reports whether the line survived; vanished or
// unorderable items and stale size references drop silently.
func (s *Service) repriceLine(ctx context.Context, line domain.OrderItem) (domain.OrderItem, bool, error) {
	if line.ProductID == nil {
		return domain.OrderItem{}, false, nil
	}

	menuItem, err := s.catalog.GetItem(ctx, *line.ProductID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OrderItem{}, false, nil
		}
		return domain.OrderItem{}, false, err
	}
	if !menuItem.IsOrderable {
		return domain.OrderItem{}, false, nil
	}

	productID := menuItem.ID
	item := domain.OrderItem{
		ProductID:   &productID,
		ProductName: menuItem.Name,
		Quantity:    line.Quantity,
		Price:       menuItem.Price,
	}

	if line.SizeID != nil {
		size, err := s.catalog.GetVariant(ctx, *line.SizeID, menuItem.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
				return domain.OrderItem{}, false, nil
			}
			return domain.OrderItem{}, false, err
		}
		sizeID, sizeName := size.ID, size.Name
		item.SizeID = &sizeID
		item.SizeName = &sizeName
		item.Price = size.Price
	}

	return item, true, nil
}

// resolveAddress returns either the id of a verified existing address or
// a new address record to be inserted in the order's transaction. An
// existing address must belong to the requesting customer; addresses
// created for anonymous orders have no owner.
func (s *Service) resolveAddress(ctx context.Context, input *AddressInput, customerID *string) (*string, *domain.Address, error) {
	if input == nil {
		return nil, nil, nil
	}

	if input.AddressID != nil {
		addr, err := s.store.GetAddress(ctx, *input.AddressID)
		if err != nil {
			return nil, nil, err
		}
		if addr.CustomerID != nil && (customerID == nil || *addr.CustomerID != *customerID) {
			return nil, nil, fmt.Errorf("%w: address does not belong to this customer", domain.ErrValidation)
		}
		return &addr.ID, nil, nil
	}

	if input.City == "" || input.Street == "" || input.Building == "" {
		return nil, nil, fmt.Errorf("%w: address requires city, street and building", domain.ErrValidation)
	}

	return nil, &domain.Address{
		CustomerID: customerID,
		City:       input.City,
		Street:     input.Street,
		Building:   input.Building,
		Apartment:  input.Apartment,
		Comment:    input.Comment,
	}, nil
}

// persistWithFreshNumber runs the optimistic order-number loop: generate
// a candidate, attempt the insert, and on a uniqueness collision try
// again with a new number. The attempt ceiling keeps worst-case latency
// bounded; exhausting it is a non-retryable conflict for this request.
func (s *Service) persistWithFreshNumber(ctx context.Context, order *domain.Order, newAddress *domain.Address) error {
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		order.OrderNumber = generateOrderNumber(order.CreatedAt)

		err := s.store.Create(ctx, order, newAddress)
		if err == nil {
			return nil
		}
		if errors.Is(err, errOrderNumberTaken) {
			s.logger.Warn("order number collision, retrying",
				"order_number", order.OrderNumber, "attempt", attempt+1)
			continue
		}
		return err
	}
	return fmt.Errorf("%w: could not allocate a unique order number after %d attempts",
		domain.ErrConflict, maxNumberAttempts)
}

func (s *Service) publishCreated(ctx context.Context, order *domain.Order) {
	if s.pub == nil {
		return
	}
	event := domain.OrderCreatedEvent{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerName:  order.CustomerName,
		CustomerPhone: order.CustomerPhone,
		CustomerEmail: order.CustomerEmail,
		TotalAmount:   order.TotalAmount,
		DeliveryCost:  order.DeliveryCost,
		Discount:      order.Discount,
		Items:         order.Items,
		Timestamp:     order.CreatedAt,
	}
	if err := s.pub.Publish(ctx, order.ID, domain.EventOrderCreated, event); err != nil {
		s.logger.Error("failed to publish order created event", "error", err, "order_number", order.OrderNumber)
	}
}

func (s *Service) publishStatusChanged(ctx context.Context, order *domain.Order, previous domain.OrderStatus, comment string) {
	if s.pub == nil {
		return
	}
	event := domain.OrderStatusChangedEvent{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		CustomerPhone:  order.CustomerPhone,
		CustomerEmail:  order.CustomerEmail,
		PreviousStatus: previous,
		NewStatus:      order.Status,
		Comment:        comment,
		Timestamp:      order.UpdatedAt,
	}
	if err := s.pub.Publish(ctx, order.ID, domain.EventOrderStatusChanged, event); err != nil {
		s.logger.Error("failed to publish status changed event", "error", err, "order_number", order.OrderNumber)
	}
}
