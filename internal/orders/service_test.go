package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ScyisMe/croco-sushi/internal/domain"
	"github.com/ScyisMe/croco-sushi/internal/promo"
)

type fakeCatalog struct {
	items map[string]*domain.MenuItem
	sizes map[string]*domain.ItemSize
}

func (c *fakeCatalog) GetItem(_ context.Context, id string) (*domain.MenuItem, error) {
	item, ok := c.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: menu item %s", domain.ErrNotFound, id)
	}
	return item, nil
}

func (c *fakeCatalog) GetVariant(_ context.Context, id, itemID string) (*domain.ItemSize, error) {
	size, ok := c.sizes[id]
	if !ok {
		return nil, fmt.Errorf("%w: item size %s", domain.ErrNotFound, id)
	}
	if size.ItemID != itemID {
		return nil, fmt.Errorf("%w: size %s does not belong to item %s", domain.ErrValidation, id, itemID)
	}
	return size, nil
}

type fakePromos struct {
	codes map[string]*domain.PromoCode
}

func (p *fakePromos) GetByCode(_ context.Context, code string) (*domain.PromoCode, error) {
	pc, ok := p.codes[promo.Normalize(code)]
	if !ok {
		return nil, fmt.Errorf("%w: promo code %q", domain.ErrNotFound, code)
	}
	return pc, nil
}

type fakeStore struct {
	orders      map[string]*domain.Order
	byNumber    map[string]*domain.Order
	addresses   map[string]*domain.Address
	history     []domain.HistoryRecord
	promoUses   map[string]int
	createCalls int

	// collisions forces the next n Create calls to report a duplicate
	// order number.
	collisions int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:    make(map[string]*domain.Order),
		byNumber:  make(map[string]*domain.Order),
		addresses: make(map[string]*domain.Address),
		promoUses: make(map[string]int),
	}
}

func (s *fakeStore) Create(_ context.Context, order *domain.Order, newAddress *domain.Address) error {
	s.createCalls++
	if s.collisions > 0 {
		s.collisions--
		return errOrderNumberTaken
	}
	if _, exists := s.byNumber[order.OrderNumber]; exists {
		return errOrderNumberTaken
	}

	if newAddress != nil {
		newAddress.ID = fmt.Sprintf("addr-%d", len(s.addresses)+1)
		s.addresses[newAddress.ID] = newAddress
		id := newAddress.ID
		order.AddressID = &id
	}

	order.ID = fmt.Sprintf("order-%d", len(s.orders)+1)
	for i := range order.Items {
		order.Items[i].ID = fmt.Sprintf("%s-item-%d", order.ID, i+1)
	}
	if order.PromoCodeID != nil {
		s.promoUses[*order.PromoCodeID]++
	}

	s.orders[order.ID] = order
	s.byNumber[order.OrderNumber] = order
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	return order, nil
}

func (s *fakeStore) GetByNumber(_ context.Context, number string) (*domain.Order, error) {
	order, ok := s.byNumber[number]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, number)
	}
	return order, nil
}

func (s *fakeStore) List(_ context.Context) ([]domain.Order, error) {
	orders := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, *o)
	}
	return orders, nil
}

func (s *fakeStore) GetAddress(_ context.Context, id string) (*domain.Address, error) {
	addr, ok := s.addresses[id]
	if !ok {
		return nil, fmt.Errorf("%w: address %s", domain.ErrNotFound, id)
	}
	return addr, nil
}

func (s *fakeStore) ApplyTransition(_ context.Context, orderID string, entry domain.StatusEntry, rec *domain.HistoryRecord) error {
	order, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	order.Status = entry.Status
	order.StatusHistory = append(order.StatusHistory, entry)
	rec.ID = fmt.Sprintf("hist-%d", len(s.history)+1)
	s.history = append(s.history, *rec)
	return nil
}

func (s *fakeStore) History(_ context.Context, orderID string) ([]domain.HistoryRecord, error) {
	var records []domain.HistoryRecord
	for _, rec := range s.history {
		if rec.OrderID == orderID {
			records = append(records, rec)
		}
	}
	return records, nil
}

type publishedEvent struct {
	key       string
	eventType string
	event     any
}

type fakePublisher struct {
	events []publishedEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, key, eventType string, event any) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{key: key, eventType: eventType, event: event})
	return nil
}

var testClock = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, store *fakeStore, cat *fakeCatalog, promos *fakePromos, pub Publisher) *Service {
	t.Helper()
	pricing := PricingConfig{
		MinOrderAmount:   decimal.NewFromInt(100),
		MaxOrderAmount:   decimal.NewFromInt(100000),
		DeliveryFee:      decimal.NewFromInt(50),
		FreeDeliveryOver: decimal.NewFromInt(500),
	}
	svc := NewService(store, cat, promos, pub, pricing, testLogger())
	svc.now = func() time.Time { return testClock }
	return svc
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{
		items: map[string]*domain.MenuItem{
			"item-a": {ID: "item-a", Name: "Philadelphia Roll", Price: decimal.NewFromInt(100), IsOrderable: true},
			"item-b": {ID: "item-b", Name: "Miso Soup", Price: decimal.NewFromInt(50), IsOrderable: true},
			"item-c": {ID: "item-c", Name: "Dragon Roll", Price: decimal.NewFromInt(300), IsOrderable: false},
			"item-d": {ID: "item-d", Name: "Sushi Set", Price: decimal.NewFromInt(400), IsOrderable: true},
		},
		sizes: map[string]*domain.ItemSize{
			"size-large": {ID: "size-large", ItemID: "item-d", Name: "Large", Price: decimal.NewFromInt(600)},
		},
	}
}

func customer() CustomerInfo {
	return CustomerInfo{Name: "Olena", Phone: "+380501112233", Email: "olena@example.com"}
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("prices come from the catalog, not the client", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, nil)

		order, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines: []CartLine{
				{ProductID: "item-a", Quantity: 2},
				{ProductID: "item-b", Quantity: 1},
			},
			Customer: customer(),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !order.TotalAmount.Equal(decimal.NewFromInt(250)) {
			t.Errorf("expected total 250, got %s", order.TotalAmount)
		}
		if !order.DeliveryCost.Equal(decimal.NewFromInt(50)) {
			t.Errorf("expected delivery cost 50, got %s", order.DeliveryCost)
		}
		if order.Status != domain.OrderStatusPending {
			t.Errorf("expected status pending, got %s", order.Status)
		}
		if len(order.Items) != 2 {
			t.Fatalf("expected 2 items, got %d", len(order.Items))
		}
		if order.Items[0].ProductName != "Philadelphia Roll" {
			t.Errorf("expected snapshot name, got %s", order.Items[0].ProductName)
		}
		if len(order.StatusHistory) != 1 || order.StatusHistory[0].Status != domain.OrderStatusPending {
			t.Errorf("expected initial pending history entry, got %+v", order.StatusHistory)
		}
		if !strings.HasPrefix(order.OrderNumber, "CS-20260615-") {
			t.Errorf("unexpected order number: %s", order.OrderNumber)
		}
	})

	t.Run("rejects empty cart", func(t *testing.T) {
		svc := newTestService(t, newFakeStore(), testCatalog(), &fakePromos{}, nil)

		_, err := svc.CreateOrder(ctx, CreateOrderInput{Customer: customer()})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("rejects oversized cart", func(t *testing.T) {
		svc := newTestService(t, newFakeStore(), testCatalog(), &fakePromos{}, nil)

		lines := make([]CartLine, maxCartLines+1)
		for i := range lines {
			lines[i] = CartLine{ProductID: "item-b", Quantity: 1}
		}

		_, err := svc.CreateOrder(ctx, CreateOrderInput{Lines: lines, Customer: customer()})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		svc := newTestService(t, newFakeStore(), testCatalog(), &fakePromos{}, nil)

		_, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:    []CartLine{{ProductID: "item-a", Quantity: 0}},
			Customer: customer(),
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("rejects unknown item", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, nil)

		_, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:    []CartLine{{ProductID: "item-x", Quantity: 1}},
			Customer: customer(),
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found error, got %v", err)
		}
		if store.createCalls != 0 {
			t.Errorf("expected no persistence attempt, got %d", store.createCalls)
		}
	})

	t.Run("rejects unorderable item", func(t *testing.T) {
		svc := newTestService(t, newFakeStore(), testCatalog(), &fakePromos{}, nil)

		_, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:    []CartLine{{ProductID: "item-c", Quantity: 1}},
			Customer: customer(),
		})
		if !errors.Is(err, domain.ErrUnavailable) {
			t.Fatalf("expected unavailable error, got %v", err)
		}
	})

	t.Run("size variant replaces the base price", func(t *testing.T) {
		svc := newTestService(t, newFakeStore(), testCatalog(), &fakePromos{}, nil)

		sizeID := "size-large"
		order, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:    []CartLine{{ProductID: "item-d", SizeID: &sizeID, Quantity: 1}},
			Customer: customer(),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !order.TotalAmount.Equal(decimal.NewFromInt(600)) {
			t.Errorf("expected total 600 from size price, got %s", order.TotalAmount)
		}
		if order.Items[0].SizeName == nil || *order.Items[0].SizeName != "Large" {
			t.Errorf("expected size name snapshot, got %+v", order.Items[0].SizeName)
		}
	})

	t.Run("rejects size belonging to another item", func(t *testing.T) {
		svc := newTestService(t, newFakeStore(), testCatalog(), &fakePromos{}, nil)

		sizeID := "size-large"
		_, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:    []CartLine{{ProductID: "item-a", SizeID: &sizeID, Quantity: 1}},
			Customer: customer(),
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("enforces minimum order amount", func(t *testing.T) {
		svc := newTestService(t, newFakeStore(), testCatalog(), &fakePromos{}, nil)

		_, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:    []CartLine{{ProductID: "item-b", Quantity: 1}},
			Customer: customer(),
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("enforces maximum order amount", func(t *testing.T) {
		svc := newTestService(t, newFakeStore(), testCatalog(), &fakePromos{}, nil)

		_, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:    []CartLine{{ProductID: "item-d", Quantity: 20, SizeID: nil}, {ProductID: "item-a", Quantity: 20}, {ProductID: "item-a", Quantity: 20}},
			Customer: customer(),
		})
		if err != nil {
			t.Fatalf("unexpected error below ceiling: %v", err)
		}

		lines := make([]CartLine, maxCartLines)
		for i := range lines {
			lines[i] = CartLine{ProductID: "item-d", Quantity: 20}
		}
		// 20 lines x 20 x 400 = 160000 > 100000 ceiling.
		_, err = svc.CreateOrder(ctx, CreateOrderInput{Lines: lines, Customer: customer()})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("requires customer name and phone", func(t *testing.T) {
		svc := newTestService(t, newFakeStore(), testCatalog(), &fakePromos{}, nil)

		_, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:    []CartLine{{ProductID: "item-a", Quantity: 2}},
			Customer: CustomerInfo{Phone: "+380501112233"},
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func TestCreateOrderPromo(t *testing.T) {
	ctx := context.Background()

	promoCode := func() *domain.PromoCode {
		return &domain.PromoCode{
			ID:            "pc-1",
			Code:          "SUSHI10",
			DiscountType:  domain.DiscountPercent,
			DiscountValue: decimal.NewFromInt(10),
			IsActive:      true,
			StartDate:     testClock.Add(-time.Hour),
			EndDate:       testClock.Add(time.Hour),
		}
	}

	t.Run("applies discount and counts one redemption", func(t *testing.T) {
		store := newFakeStore()
		promos := &fakePromos{codes: map[string]*domain.PromoCode{"SUSHI10": promoCode()}}
		svc := newTestService(t, store, testCatalog(), promos, nil)

		order, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:     []CartLine{{ProductID: "item-a", Quantity: 2}, {ProductID: "item-b", Quantity: 1}},
			Customer:  customer(),
			PromoCode: " sushi10 ",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !order.Discount.Equal(decimal.NewFromInt(25)) {
			t.Errorf("expected discount 25, got %s", order.Discount)
		}
		if !order.TotalAmount.Equal(decimal.NewFromInt(225)) {
			t.Errorf("expected total 225, got %s", order.TotalAmount)
		}
		if order.PromoCodeName == nil || *order.PromoCodeName != "SUSHI10" {
			t.Errorf("expected promo name snapshot, got %v", order.PromoCodeName)
		}
		if store.promoUses["pc-1"] != 1 {
			t.Errorf("expected exactly 1 redemption, got %d", store.promoUses["pc-1"])
		}
	})

	t.Run("rejects exhausted promo with no side effects", func(t *testing.T) {
		pc := promoCode()
		maxUses := 1
		pc.MaxUses = &maxUses
		pc.CurrentUses = 1

		store := newFakeStore()
		promos := &fakePromos{codes: map[string]*domain.PromoCode{"SUSHI10": pc}}
		svc := newTestService(t, store, testCatalog(), promos, nil)

		_, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:     []CartLine{{ProductID: "item-a", Quantity: 2}},
			Customer:  customer(),
			PromoCode: "SUSHI10",
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if !strings.Contains(err.Error(), promo.ReasonLimitExceeded) {
			t.Errorf("expected limit reason, got %v", err)
		}
		if store.createCalls != 0 {
			t.Errorf("expected no order created, got %d create calls", store.createCalls)
		}
		if store.promoUses["pc-1"] != 0 {
			t.Errorf("expected no redemption, got %d", store.promoUses["pc-1"])
		}
	})

	t.Run("rejects unknown promo code", func(t *testing.T) {
		svc := newTestService(t, newFakeStore(), testCatalog(), &fakePromos{codes: map[string]*domain.PromoCode{}}, nil)

		_, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:     []CartLine{{ProductID: "item-a", Quantity: 2}},
			Customer:  customer(),
			PromoCode: "NOPE",
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found error, got %v", err)
		}
	})
}

func TestCreateOrderDeliveryThreshold(t *testing.T) {
	ctx := context.Background()

	createWithSubtotal := func(t *testing.T, price decimal.Decimal) *domain.Order {
		t.Helper()
		cat := &fakeCatalog{items: map[string]*domain.MenuItem{
			"item-x": {ID: "item-x", Name: "Set", Price: price, IsOrderable: true},
		}}
		svc := newTestService(t, newFakeStore(), cat, &fakePromos{}, nil)

		order, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:    []CartLine{{ProductID: "item-x", Quantity: 1}},
			Customer: customer(),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return order
	}

	t.Run("just below the threshold pays the flat fee", func(t *testing.T) {
		order := createWithSubtotal(t, decimal.RequireFromString("499.99"))
		if !order.DeliveryCost.Equal(decimal.NewFromInt(50)) {
			t.Errorf("expected delivery cost 50, got %s", order.DeliveryCost)
		}
	})

	t.Run("at the threshold delivery is free", func(t *testing.T) {
		order := createWithSubtotal(t, decimal.RequireFromString("500.00"))
		if !order.DeliveryCost.IsZero() {
			t.Errorf("expected free delivery, got %s", order.DeliveryCost)
		}
	})

	t.Run("threshold applies to the post-discount amount", func(t *testing.T) {
		pc := &domain.PromoCode{
			ID:            "pc-2",
			Code:          "MINUS1",
			DiscountType:  domain.DiscountFixed,
			DiscountValue: decimal.RequireFromString("0.01"),
			IsActive:      true,
			StartDate:     testClock.Add(-time.Hour),
			EndDate:       testClock.Add(time.Hour),
		}
		cat := &fakeCatalog{items: map[string]*domain.MenuItem{
			"item-x": {ID: "item-x", Name: "Set", Price: decimal.NewFromInt(500), IsOrderable: true},
		}}
		svc := newTestService(t, newFakeStore(), cat, &fakePromos{codes: map[string]*domain.PromoCode{"MINUS1": pc}}, nil)

		order, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:     []CartLine{{ProductID: "item-x", Quantity: 1}},
			Customer:  customer(),
			PromoCode: "MINUS1",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !order.DeliveryCost.Equal(decimal.NewFromInt(50)) {
			t.Errorf("expected flat fee after discount dropped below threshold, got %s", order.DeliveryCost)
		}
	})
}

func TestCreateOrderAddress(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a new address with the order", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, nil)

		order, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:    []CartLine{{ProductID: "item-a", Quantity: 2}},
			Customer: customer(),
			Address:  &AddressInput{City: "Kyiv", Street: "Khreshchatyk", Building: "1"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.AddressID == nil {
			t.Fatal("expected address id on order")
		}
		addr := store.addresses[*order.AddressID]
		if addr == nil || addr.City != "Kyiv" {
			t.Fatalf("expected persisted address, got %+v", addr)
		}
		if addr.CustomerID != nil {
			t.Errorf("anonymous order should produce ownerless address, got owner %s", *addr.CustomerID)
		}
	})

	t.Run("rejects incomplete address fields", func(t *testing.T) {
		svc := newTestService(t, newFakeStore(), testCatalog(), &fakePromos{}, nil)

		_, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:    []CartLine{{ProductID: "item-a", Quantity: 2}},
			Customer: customer(),
			Address:  &AddressInput{City: "Kyiv"},
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("rejects someone else's address", func(t *testing.T) {
		store := newFakeStore()
		owner := "customer-1"
		store.addresses["addr-1"] = &domain.Address{ID: "addr-1", CustomerID: &owner, City: "Kyiv"}
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, nil)

		addrID := "addr-1"
		other := "customer-2"
		cust := customer()
		cust.ID = &other

		_, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:    []CartLine{{ProductID: "item-a", Quantity: 2}},
			Customer: cust,
			Address:  &AddressInput{AddressID: &addrID},
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("accepts the owner's address", func(t *testing.T) {
		store := newFakeStore()
		owner := "customer-1"
		store.addresses["addr-1"] = &domain.Address{ID: "addr-1", CustomerID: &owner, City: "Kyiv"}
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, nil)

		addrID := "addr-1"
		cust := customer()
		cust.ID = &owner

		order, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:    []CartLine{{ProductID: "item-a", Quantity: 2}},
			Customer: cust,
			Address:  &AddressInput{AddressID: &addrID},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.AddressID == nil || *order.AddressID != "addr-1" {
			t.Errorf("expected existing address to be referenced, got %v", order.AddressID)
		}
	})
}

func TestCreateOrderNumberRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("retries on collision until a free number", func(t *testing.T) {
		store := newFakeStore()
		store.collisions = 3
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, nil)

		order, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:    []CartLine{{ProductID: "item-a", Quantity: 2}},
			Customer: customer(),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if store.createCalls != 4 {
			t.Errorf("expected 4 attempts, got %d", store.createCalls)
		}
		if order.OrderNumber == "" {
			t.Error("expected order number to be assigned")
		}
	})

	t.Run("gives up after the attempt ceiling", func(t *testing.T) {
		store := newFakeStore()
		store.collisions = maxNumberAttempts + 1
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, nil)

		_, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:    []CartLine{{ProductID: "item-a", Quantity: 2}},
			Customer: customer(),
		})
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected conflict error, got %v", err)
		}
		if store.createCalls != maxNumberAttempts {
			t.Errorf("expected %d attempts, got %d", maxNumberAttempts, store.createCalls)
		}
	})
}

func TestCreateOrderPublishesEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes order created after persisting", func(t *testing.T) {
		pub := &fakePublisher{}
		svc := newTestService(t, newFakeStore(), testCatalog(), &fakePromos{}, pub)

		order, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:    []CartLine{{ProductID: "item-a", Quantity: 2}},
			Customer: customer(),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(pub.events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(pub.events))
		}
		if pub.events[0].eventType != domain.EventOrderCreated {
			t.Errorf("expected %s event, got %s", domain.EventOrderCreated, pub.events[0].eventType)
		}
		if pub.events[0].key != order.ID {
			t.Errorf("expected event keyed by order id, got %s", pub.events[0].key)
		}
	})

	t.Run("publish failure does not fail the order", func(t *testing.T) {
		pub := &fakePublisher{err: errors.New("broker down")}
		store := newFakeStore()
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, pub)

		_, err := svc.CreateOrder(ctx, CreateOrderInput{
			Lines:    []CartLine{{ProductID: "item-a", Quantity: 2}},
			Customer: customer(),
		})
		if err != nil {
			t.Fatalf("expected order to survive publish failure, got %v", err)
		}
		if len(store.orders) != 1 {
			t.Errorf("expected order persisted, got %d", len(store.orders))
		}
	})
}

func TestReorder(t *testing.T) {
	ctx := context.Background()

	seedOriginal := func(t *testing.T, store *fakeStore, items []domain.OrderItem) *domain.Order {
		t.Helper()
		order := &domain.Order{
			ID:            "order-orig",
			OrderNumber:   "CS-20260101-AAAAAA",
			Status:        domain.OrderStatusCompleted,
			CustomerName:  "Olena",
			CustomerPhone: "+380501112233",
			Items:         items,
		}
		store.orders[order.ID] = order
		store.byNumber[order.OrderNumber] = order
		return order
	}

	itemRef := func(id string) *string { return &id }

	t.Run("drops vanished lines and re-prices survivors", func(t *testing.T) {
		store := newFakeStore()
		seedOriginal(t, store, []domain.OrderItem{
			{ProductID: itemRef("item-a"), ProductName: "Philadelphia Roll", Quantity: 2, Price: decimal.NewFromInt(80)},
			{ProductID: itemRef("item-c"), ProductName: "Dragon Roll", Quantity: 1, Price: decimal.NewFromInt(300)},
			{ProductID: itemRef("item-gone"), ProductName: "Removed Roll", Quantity: 1, Price: decimal.NewFromInt(120)},
		})
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, nil)

		order, err := svc.Reorder(ctx, "order-orig")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(order.Items) != 1 {
			t.Fatalf("expected 1 surviving item, got %d", len(order.Items))
		}
		// Catalog price 100 wins over the historical 80.
		if !order.TotalAmount.Equal(decimal.NewFromInt(200)) {
			t.Errorf("expected total 200 from current catalog price, got %s", order.TotalAmount)
		}
		if order.Comment != "reordered from CS-20260101-AAAAAA" {
			t.Errorf("unexpected comment: %s", order.Comment)
		}
		if order.PromoCodeID != nil || !order.Discount.IsZero() {
			t.Error("promo must not carry over to a reorder")
		}
		if order.Status != domain.OrderStatusPending {
			t.Errorf("expected pending, got %s", order.Status)
		}
	})

	t.Run("rejects when nothing survives", func(t *testing.T) {
		store := newFakeStore()
		seedOriginal(t, store, []domain.OrderItem{
			{ProductID: itemRef("item-c"), ProductName: "Dragon Roll", Quantity: 1, Price: decimal.NewFromInt(300)},
			{ProductID: nil, ProductName: "Deleted Product", Quantity: 2, Price: decimal.NewFromInt(90)},
		})
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, nil)

		_, err := svc.Reorder(ctx, "order-orig")
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if len(store.orders) != 1 {
			t.Errorf("expected no new order, store has %d", len(store.orders))
		}
	})

	t.Run("drops lines with stale size references", func(t *testing.T) {
		store := newFakeStore()
		seedOriginal(t, store, []domain.OrderItem{
			{ProductID: itemRef("item-d"), SizeID: itemRef("size-gone"), ProductName: "Sushi Set", Quantity: 1, Price: decimal.NewFromInt(600)},
			{ProductID: itemRef("item-a"), ProductName: "Philadelphia Roll", Quantity: 2, Price: decimal.NewFromInt(100)},
		})
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, nil)

		order, err := svc.Reorder(ctx, "order-orig")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(order.Items) != 1 || *order.Items[0].ProductID != "item-a" {
			t.Fatalf("expected only the plain line to survive, got %+v", order.Items)
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		svc := newTestService(t, newFakeStore(), testCatalog(), &fakePromos{}, nil)

		_, err := svc.Reorder(ctx, "missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestTransition(t *testing.T) {
	ctx := context.Background()

	seedOrder := func(store *fakeStore, status domain.OrderStatus) *domain.Order {
		order := &domain.Order{
			ID:            "order-1",
			OrderNumber:   "CS-20260615-AAAAAA",
			Status:        status,
			CustomerPhone: "+380501112233",
			StatusHistory: []domain.StatusEntry{{Status: domain.OrderStatusPending, ChangedAt: testClock}},
		}
		store.orders[order.ID] = order
		store.byNumber[order.OrderNumber] = order
		return order
	}

	t.Run("happy path appends exactly one audit record", func(t *testing.T) {
		store := newFakeStore()
		seedOrder(store, domain.OrderStatusPending)
		pub := &fakePublisher{}
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, pub)

		managerID := "mgr-1"
		order, err := svc.Transition(ctx, "order-1", domain.OrderStatusConfirmed, ManagerRef{ID: &managerID, Name: "Ivan"}, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if order.Status != domain.OrderStatusConfirmed {
			t.Errorf("expected confirmed, got %s", order.Status)
		}
		if len(store.history) != 1 {
			t.Fatalf("expected 1 history record, got %d", len(store.history))
		}
		rec := store.history[0]
		if rec.PreviousStatus != domain.OrderStatusPending || rec.NewStatus != domain.OrderStatusConfirmed {
			t.Errorf("unexpected record: %+v", rec)
		}
		if rec.ManagerName != "Ivan" {
			t.Errorf("expected manager name, got %s", rec.ManagerName)
		}
		if len(order.StatusHistory) != 2 {
			t.Errorf("expected inline mirror appended, got %d entries", len(order.StatusHistory))
		}
		if len(pub.events) != 1 || pub.events[0].eventType != domain.EventOrderStatusChanged {
			t.Errorf("expected status changed event, got %+v", pub.events)
		}
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		store := newFakeStore()
		seedOrder(store, domain.OrderStatusPending)
		pub := &fakePublisher{}
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, pub)

		_, err := svc.Transition(ctx, "order-1", domain.OrderStatusPending, ManagerRef{}, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(store.history) != 0 {
			t.Errorf("expected no audit record, got %d", len(store.history))
		}
		if len(pub.events) != 0 {
			t.Errorf("expected no event, got %d", len(pub.events))
		}
	})

	t.Run("cancel without a reason is rejected", func(t *testing.T) {
		store := newFakeStore()
		seedOrder(store, domain.OrderStatusPending)
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, nil)

		_, err := svc.Transition(ctx, "order-1", domain.OrderStatusCancelled, ManagerRef{Name: "Ivan"}, "")
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if len(store.history) != 0 {
			t.Errorf("expected no mutation, got %d records", len(store.history))
		}
	})

	t.Run("cancel with a reason succeeds from any active status", func(t *testing.T) {
		store := newFakeStore()
		seedOrder(store, domain.OrderStatusPreparing)
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, nil)

		order, err := svc.Transition(ctx, "order-1", domain.OrderStatusCancelled, ManagerRef{}, "customer asked")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.Status != domain.OrderStatusCancelled {
			t.Errorf("expected cancelled, got %s", order.Status)
		}
		if len(store.history) != 1 || store.history[0].Comment != "customer asked" {
			t.Errorf("expected one record with the reason, got %+v", store.history)
		}
		if store.history[0].ManagerName != "system" {
			t.Errorf("expected system actor fallback, got %s", store.history[0].ManagerName)
		}
	})

	t.Run("unknown status is rejected before mutating", func(t *testing.T) {
		store := newFakeStore()
		seedOrder(store, domain.OrderStatusPending)
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, nil)

		_, err := svc.Transition(ctx, "order-1", domain.OrderStatus("shipped"), ManagerRef{}, "")
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("terminal states admit no transitions", func(t *testing.T) {
		store := newFakeStore()
		seedOrder(store, domain.OrderStatusCompleted)
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, nil)

		_, err := svc.Transition(ctx, "order-1", domain.OrderStatusCancelled, ManagerRef{}, "too late")
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("skipping steps is rejected", func(t *testing.T) {
		store := newFakeStore()
		seedOrder(store, domain.OrderStatusPending)
		svc := newTestService(t, store, testCatalog(), &fakePromos{}, nil)

		_, err := svc.Transition(ctx, "order-1", domain.OrderStatusDelivering, ManagerRef{}, "")
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func TestTrack(t *testing.T) {
	store := newFakeStore()
	order := &domain.Order{
		ID:            "order-1",
		OrderNumber:   "CS-20260615-AAAAAA",
		Status:        domain.OrderStatusPreparing,
		CustomerName:  "Olena",
		CustomerPhone: "+380501112233",
		StatusHistory: []domain.StatusEntry{
			{Status: domain.OrderStatusPending, ChangedAt: testClock},
			{Status: domain.OrderStatusConfirmed, ChangedBy: "Ivan", ChangedAt: testClock.Add(time.Minute)},
		},
	}
	store.orders[order.ID] = order
	store.byNumber[order.OrderNumber] = order
	svc := newTestService(t, store, testCatalog(), &fakePromos{}, nil)

	view, err := svc.Track(context.Background(), "CS-20260615-AAAAAA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Status != domain.OrderStatusPreparing {
		t.Errorf("expected preparing, got %s", view.Status)
	}
	if len(view.History) != 2 {
		t.Errorf("expected 2 steps, got %d", len(view.History))
	}
}
