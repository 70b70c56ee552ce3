package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ScyisMe/croco-sushi/internal/domain"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists the order, its items, an optional new address and the
// promo usage increment in one transaction. A duplicate order number
// surfaces as errOrderNumberTaken; the rollback also undoes the address
// insert and the promo increment, so the caller's retry starts clean.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order, newAddress *domain.Address) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if newAddress != nil {
		newAddress.ID = uuid.New().String()
		newAddress.CreatedAt = order.CreatedAt
		_, err = tx.ExecContext(ctx, `
			INSERT INTO addresses (id, customer_id, city, street, building, apartment, comment, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, newAddress.ID, newAddress.CustomerID, newAddress.City, newAddress.Street,
			newAddress.Building, newAddress.Apartment, newAddress.Comment, newAddress.CreatedAt)
		if err != nil {
			return err
		}
		id := newAddress.ID
		order.AddressID = &id
	}

	order.ID = uuid.New().String()

	historyJSON, err := json.Marshal(order.StatusHistory)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, status, customer_name, customer_phone, customer_email,
			total_amount, delivery_cost, discount, promo_code_id, promo_code_name,
			address_id, comment, status_history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
	`, order.ID, order.OrderNumber, order.Status, order.CustomerName, order.CustomerPhone,
		order.CustomerEmail, order.TotalAmount, order.DeliveryCost, order.Discount,
		order.PromoCodeID, order.PromoCodeName, order.AddressID, nullableString(order.Comment),
		historyJSON, order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "orders_order_number_key") {
			return errOrderNumberTaken
		}
		return err
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.ID = uuid.New().String()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, size_id, product_name, size_name, quantity, price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, item.ID, order.ID, item.ProductID, item.SizeID, item.ProductName, item.SizeName,
			item.Quantity, item.Price)
		if err != nil {
			return err
		}
	}

	if order.PromoCodeID != nil {
		// The usage cap was checked at evaluation time; the increment
		// rolls back with the order on any failure.
		if _, err := tx.ExecContext(ctx, `
			UPDATE promo_codes SET current_uses = current_uses + 1 WHERE id = $1
		`, *order.PromoCodeID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOne(ctx, "id", id)
}

func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return r.getOne(ctx, "order_number", number)
}

func (r *OrderRepository) getOne(ctx context.Context, column, value string) (*domain.Order, error) {
	order := &domain.Order{}
	var historyJSON []byte
	var comment sql.NullString

	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, order_number, status, customer_name, customer_phone, customer_email,
			total_amount, delivery_cost, discount, promo_code_id, promo_code_name,
			address_id, comment, status_history, created_at, updated_at
		FROM orders
		WHERE %s = $1
	`, column), value).Scan(
		&order.ID, &order.OrderNumber, &order.Status, &order.CustomerName, &order.CustomerPhone,
		&order.CustomerEmail, &order.TotalAmount, &order.DeliveryCost, &order.Discount,
		&order.PromoCodeID, &order.PromoCodeName, &order.AddressID, &comment,
		&historyJSON, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, value)
		}
		return nil, err
	}

	order.Comment = comment.String
	if err := json.Unmarshal(historyJSON, &order.StatusHistory); err != nil {
		return nil, fmt.Errorf("decode status history of order %s: %w", order.ID, err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, size_id, product_name, size_name, quantity, price
		FROM order_items
		WHERE order_id = $1
	`, order.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.SizeID, &item.ProductName,
			&item.SizeName, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_number, status, customer_name, customer_phone, customer_email,
			total_amount, delivery_cost, discount, promo_code_id, promo_code_name,
			address_id, comment, status_history, created_at, updated_at
		FROM orders
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var order domain.Order
		var historyJSON []byte
		var comment sql.NullString
		if err := rows.Scan(
			&order.ID, &order.OrderNumber, &order.Status, &order.CustomerName, &order.CustomerPhone,
			&order.CustomerEmail, &order.TotalAmount, &order.DeliveryCost, &order.Discount,
			&order.PromoCodeID, &order.PromoCodeName, &order.AddressID, &comment,
			&historyJSON, &order.CreatedAt, &order.UpdatedAt,
		); err != nil {
			return nil, err
		}
		order.Comment = comment.String
		if err := json.Unmarshal(historyJSON, &order.StatusHistory); err != nil {
			return nil, fmt.Errorf("decode status history of order %s: %w", order.ID, err)
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, id, product_id, size_id, product_name, size_name, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ID, &item.ProductID, &item.SizeID,
			&item.ProductName, &item.SizeName, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

func (r *OrderRepository) GetAddress(ctx context.Context, id string) (*domain.Address, error) {
	addr := &domain.Address{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, city, street, building, apartment, comment, created_at
		FROM addresses
		WHERE id = $1
	`, id).Scan(&addr.ID, &addr.CustomerID, &addr.City, &addr.Street, &addr.Building,
		&addr.Apartment, &addr.Comment, &addr.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: address %s", domain.ErrNotFound, id)
		}
		return nil, err
	}

	return addr, nil
}

// ApplyTransition updates the order status, appends the inline history
// entry and writes the audit row as one transaction. The order_history
// table is append-only; rows are never updated or deleted.
func (r *OrderRepository) ApplyTransition(ctx context.Context, orderID string, entry domain.StatusEntry, rec *domain.HistoryRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, status_history = status_history || $3::jsonb, updated_at = $4
		WHERE id = $1
	`, orderID, entry.Status, entryJSON, entry.ChangedAt)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}

	rec.ID = uuid.New().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_history (id, order_id, manager_id, manager_name, previous_status, new_status, comment, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.OrderID, rec.ManagerID, rec.ManagerName, rec.PreviousStatus, rec.NewStatus,
		nullableString(rec.Comment), rec.ChangedAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// History returns the audit trail of an order, oldest first.
func (r *OrderRepository) History(ctx context.Context, orderID string) ([]domain.HistoryRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, manager_id, manager_name, previous_status, new_status, comment, changed_at
		FROM order_history
		WHERE order_id = $1
		ORDER BY changed_at
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []domain.HistoryRecord
	for rows.Next() {
		var rec domain.HistoryRecord
		var comment sql.NullString
		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.ManagerID, &rec.ManagerName,
			&rec.PreviousStatus, &rec.NewStatus, &comment, &rec.ChangedAt); err != nil {
			return nil, err
		}
		rec.Comment = comment.String
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == constraint
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
