package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const invoiceColumns = `id, invoice_number, kind, invoice_type, record_id, branch_id, warehouse_id,
	COALESCE(customer_id, ''), COALESCE(supplier_id, ''), order_number, total_amount, paid_amount,
	profit_amount, is_return, notes, created_by, created_at`

func scanInvoice(row interface{ Scan(...any) error }) (*domain.Invoice, error) {
	var inv domain.Invoice
	var branchID, warehouseID sql.NullString
	var orderNumber sql.NullInt64
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.Kind, &inv.InvoiceType, &inv.RecordID, &branchID, &warehouseID,
		&inv.CustomerID, &inv.SupplierID, &orderNumber, &inv.TotalAmount, &inv.PaidAmount,
		&inv.ProfitAmount, &inv.IsReturn, &inv.Notes, &inv.CreatedBy, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	inv.Location = scanLocation(branchID, warehouseID)
	if orderNumber.Valid {
		n := orderNumber.Int64
		inv.OrderNumber = &n
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	return &inv, nil
}

func (s *Store) InsertInvoiceHeader(ctx context.Context, invoice domain.Invoice) error {
	if invoice.ID == "" || invoice.InvoiceNumber == "" {
		return store.ErrInvalidInput
	}
	if err := insertInvoiceHeader(ctx, s.db, invoice); err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func insertInvoiceHeader(ctx context.Context, db execer, invoice domain.Invoice) error {
	branchID, warehouseID := locationArgs(invoice.Location)
	var orderNumber any
	if invoice.OrderNumber != nil {
		orderNumber = *invoice.OrderNumber
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO invoices (
			id, invoice_number, kind, invoice_type, record_id, branch_id, warehouse_id,
			customer_id, supplier_id, order_number, total_amount, paid_amount,
			profit_amount, is_return, notes, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,COALESCE($17, now()))
	`, invoice.ID, invoice.InvoiceNumber, invoice.Kind, invoice.InvoiceType, invoice.RecordID, branchID, warehouseID,
		nullIfEmpty(invoice.CustomerID), nullIfEmpty(invoice.SupplierID), orderNumber, invoice.TotalAmount, invoice.PaidAmount,
		invoice.ProfitAmount, invoice.IsReturn, invoice.Notes, invoice.CreatedBy, nullTime(invoice.CreatedAt))
	return err
}

func (s *Store) InsertInvoiceItems(ctx context.Context, invoiceID string, items []domain.InvoiceItem) error {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := insertInvoiceItems(ctx, pgTx, invoiceID, items); err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return err
	}
	return pgTx.Commit()
}

func insertInvoiceItems(ctx context.Context, db execer, invoiceID string, items []domain.InvoiceItem) error {
	for _, item := range items {
		if item.ID == "" {
			item.ID = xid.New()
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO invoice_items (id, invoice_id, product_id, product_name, quantity, unit_price, cost_price, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, item.ID, invoiceID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.CostPrice, item.Notes)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteInvoice(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := loadInvoiceItems(ctx, s.db, []string{inv.ID})
	if err != nil {
		return nil, err
	}
	inv.Items = items[inv.ID]
	return inv, nil
}

func (s *Store) ListInvoices(ctx context.Context, filter store.InvoiceFilter) ([]domain.Invoice, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if filter.RecordID != "" {
		args = append(args, filter.RecordID)
		clauses = append(clauses, "record_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		clauses = append(clauses, "kind = $"+strconv.Itoa(len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
		ids = append(ids, inv.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := loadInvoiceItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		invoices[i].Items = items[invoices[i].ID]
	}
	return invoices, nil
}

func loadInvoiceItems(ctx context.Context, db querier, invoiceIDs []string) (map[string][]domain.InvoiceItem, error) {
	result := make(map[string][]domain.InvoiceItem, len(invoiceIDs))
	if len(invoiceIDs) == 0 {
		return result, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, invoice_id, product_id, product_name, quantity, unit_price, cost_price, notes
		FROM invoice_items
		WHERE invoice_id = ANY($1)
		ORDER BY invoice_id, id
	`, invoiceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.InvoiceItem
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.CostPrice, &item.Notes); err != nil {
			return nil, err
		}
		result[item.InvoiceID] = append(result[item.InvoiceID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
