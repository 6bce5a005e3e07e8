package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

const orderColumns = `id, order_number, customer_name, customer_phone, customer_address,
	COALESCE(delivery_type, ''), status, total_amount, subtotal_amount, shipping_amount, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var o domain.Order
	var subtotal, shipping decimal.NullDecimal
	err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerName, &o.CustomerPhone, &o.CustomerAddress,
		&o.DeliveryType, &o.Status, &o.TotalAmount, &subtotal, &shipping, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if subtotal.Valid {
		o.SubtotalAmount = &subtotal.Decimal
	}
	if shipping.Valid {
		o.ShippingAmount = &shipping.Decimal
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return *val
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.CustomerName == "" {
		return nil, store.ErrInvalidInput
	}
	if order.ID == "" {
		order.ID = xid.New()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	created, err := scanOrder(pgTx.QueryRowContext(ctx, `
		INSERT INTO orders (
			id, customer_name, customer_phone, customer_address, delivery_type, status,
			total_amount, subtotal_amount, shipping_amount, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,COALESCE($10, now()),COALESCE($10, now()))
		RETURNING `+orderColumns+`
	`, order.ID, order.CustomerName, order.CustomerPhone, order.CustomerAddress, nullIfEmpty(order.DeliveryType), order.Status,
		order.TotalAmount, nullDecimal(order.SubtotalAmount), nullDecimal(order.ShippingAmount), nullTime(order.CreatedAt)))
	if err != nil {
		return nil, err
	}

	for _, item := range order.Items {
		if item.ID == "" {
			item.ID = xid.New()
		}
		item.OrderNumber = created.OrderNumber
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_number, product_id, product_name, quantity, unit_price, notes, is_prepared)
			VALUES ($1,$2,$3,$4,$5,$6,$7,false)
		`, item.ID, item.OrderNumber, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.Notes)
		if err != nil {
			return nil, err
		}
		created.Items = append(created.Items, item)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) GetOrder(ctx context.Context, orderNumber int64) (*domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE order_number = $1
	`, orderNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := loadOrderItems(ctx, s.db, []int64{orderNumber})
	if err != nil {
		return nil, err
	}
	order.Items = items[orderNumber]
	return order, nil
}

func (s *Store) ListOrders(ctx context.Context, filter store.OrderFilter) ([]domain.Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}

	var (
		rows *sql.Rows
		err  error
	)
	if len(filter.Statuses) > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+orderColumns+`
			FROM orders
			WHERE status = ANY($1)
			ORDER BY order_number DESC
			LIMIT $2
		`, filter.Statuses, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+orderColumns+`
			FROM orders
			ORDER BY order_number DESC
			LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 64)
	numbers := make([]int64, 0, 64)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
		numbers = append(numbers, order.OrderNumber)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := loadOrderItems(ctx, s.db, numbers)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].OrderNumber]
	}
	return orders, nil
}

func loadOrderItems(ctx context.Context, db querier, orderNumbers []int64) (map[int64][]domain.OrderItem, error) {
	result := make(map[int64][]domain.OrderItem, len(orderNumbers))
	if len(orderNumbers) == 0 {
		return result, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, order_number, product_id, product_name, quantity, unit_price, notes,
		       is_prepared, COALESCE(prepared_by, ''), prepared_at
		FROM order_items
		WHERE order_number = ANY($1)
		ORDER BY order_number, id
	`, orderNumbers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		var preparedAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.OrderNumber, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.Notes,
			&item.IsPrepared, &item.PreparedBy, &preparedAt); err != nil {
			return nil, err
		}
		if preparedAt.Valid {
			at := preparedAt.Time.UTC()
			item.PreparedAt = &at
		}
		result[item.OrderNumber] = append(result[item.OrderNumber], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderNumber int64, from string, to string, at time.Time) (*domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $3, updated_at = $4
		WHERE order_number = $1 AND status = $2
		RETURNING `+orderColumns+`
	`, orderNumber, from, to, at))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_number = $1)`, orderNumber).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrConflict
	}

	items, err := loadOrderItems(ctx, s.db, []int64{orderNumber})
	if err != nil {
		return nil, err
	}
	order.Items = items[orderNumber]
	return order, nil
}

func (s *Store) SetOrderItemsPrepared(ctx context.Context, orderNumber int64, itemIDs []string, prepared bool, by string, at time.Time) error {
	var preparedBy, preparedAt any
	if prepared {
		preparedBy = by
		preparedAt = at
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE order_items
		SET is_prepared = $3, prepared_by = $4, prepared_at = $5
		WHERE order_number = $1 AND id = ANY($2)
	`, orderNumber, itemIDs, prepared, preparedBy, preparedAt)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) UpdateOrderItems(ctx context.Context, update store.OrderItemsUpdate) (*domain.Order, error) {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if len(update.RemovedIDs) > 0 {
		if _, err := pgTx.ExecContext(ctx, `
			DELETE FROM order_items
			WHERE order_number = $1 AND id = ANY($2)
		`, update.OrderNumber, update.RemovedIDs); err != nil {
			return nil, err
		}
	}
	for _, change := range update.Changes {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE order_items
			SET quantity = $3, notes = $4
			WHERE order_number = $1 AND id = $2
		`, update.OrderNumber, change.ID, change.Quantity, change.Notes)
		if err != nil {
			return nil, err
		}
		if err := expectAffected(res); err != nil {
			return nil, err
		}
	}

	order, err := scanOrder(pgTx.QueryRowContext(ctx, `
		UPDATE orders
		SET total_amount = $2, subtotal_amount = COALESCE($3, subtotal_amount), updated_at = $4
		WHERE order_number = $1
		RETURNING `+orderColumns+`
	`, update.OrderNumber, update.Total, nullDecimal(update.Subtotal), update.At))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := loadOrderItems(ctx, pgTx, []int64{update.OrderNumber})
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	order.Items = items[update.OrderNumber]
	return order, nil
}

func (s *Store) DeleteOrderItems(ctx context.Context, orderNumber int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM order_items WHERE order_number = $1`, orderNumber)
	return err
}

func (s *Store) DeleteOrder(ctx context.Context, orderNumber int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE order_number = $1`, orderNumber)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return expectAffected(res)
}

// CreateOrderInvoice files the sale invoice for a gated order and moves it
// to its next status in one transaction.
func (s *Store) CreateOrderInvoice(ctx context.Context, params domain.OrderInvoiceParams) (domain.OrderInvoiceResult, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.OrderInvoiceResult{}, err
	}
	defer func() { _ = pgTx.Rollback() }()

	order, err := scanOrder(pgTx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE order_number = $1
		FOR UPDATE
	`, params.OrderNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OrderInvoiceResult{Error: "order not found"}, nil
		}
		return domain.OrderInvoiceResult{}, err
	}
	if order.Status != params.FromStatus {
		return domain.OrderInvoiceResult{Error: "order status changed to " + order.Status}, nil
	}

	items, err := loadOrderItems(ctx, pgTx, []int64{params.OrderNumber})
	if err != nil {
		return domain.OrderInvoiceResult{}, err
	}
	orderItems := items[params.OrderNumber]
	if len(orderItems) == 0 {
		return domain.OrderInvoiceResult{Error: "order has no items"}, nil
	}

	productIDs := make([]string, 0, len(orderItems))
	for _, item := range orderItems {
		productIDs = append(productIDs, item.ProductID)
	}
	costs := make(map[string]decimal.Decimal, len(productIDs))
	costRows, err := pgTx.QueryContext(ctx, `SELECT id, cost_price FROM products WHERE id = ANY($1)`, productIDs)
	if err != nil {
		return domain.OrderInvoiceResult{}, err
	}
	for costRows.Next() {
		var id string
		var cost decimal.Decimal
		if err := costRows.Scan(&id, &cost); err != nil {
			_ = costRows.Close()
			return domain.OrderInvoiceResult{}, err
		}
		costs[id] = cost
	}
	if err := costRows.Err(); err != nil {
		_ = costRows.Close()
		return domain.OrderInvoiceResult{}, err
	}
	_ = costRows.Close()

	invoice := store.BuildOrderInvoice(*order, orderItems, costs, params)
	if err := insertInvoiceHeader(ctx, pgTx, invoice); err != nil {
		if isUniqueViolation(err) {
			return domain.OrderInvoiceResult{}, store.ErrConflict
		}
		return domain.OrderInvoiceResult{}, err
	}
	if err := insertInvoiceItems(ctx, pgTx, invoice.ID, invoice.Items); err != nil {
		return domain.OrderInvoiceResult{}, err
	}
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, updated_at = $3
		WHERE order_number = $1
	`, params.OrderNumber, params.NextStatus, params.At); err != nil {
		return domain.OrderInvoiceResult{}, err
	}

	if err := pgTx.Commit(); err != nil {
		return domain.OrderInvoiceResult{}, err
	}
	return domain.OrderInvoiceResult{
		Success:       true,
		SaleID:        invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		Invoice:       invoice,
	}, nil
}
