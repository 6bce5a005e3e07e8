package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"retailpos/backend/internal/cart"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/logger"
	"retailpos/backend/internal/realtime"
	"retailpos/backend/internal/receipt"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

const (
	salesInvoicePrefix    = "INV"
	purchaseInvoicePrefix = "PINV"
)

// InvoiceLine is an inline invoice line. Catalog data fills the fields left
// out; an explicit unit price, zero included, is kept as given.
type InvoiceLine struct {
	ProductID      string           `json:"product_id"`
	ProductName    string           `json:"product_name,omitempty"`
	Quantity       int              `json:"quantity"`
	UnitPrice      *decimal.Decimal `json:"unit_price,omitempty"`
	CostPrice      *decimal.Decimal `json:"cost_price,omitempty"`
	SelectedColors map[string]int   `json:"selected_colors,omitempty"`
	Notes          string           `json:"notes,omitempty"`
}

// SalesInvoiceRequest takes either a cart session or inline lines.
type SalesInvoiceRequest struct {
	CartID     string           `json:"cart_id,omitempty"`
	Lines      []InvoiceLine    `json:"lines,omitempty"`
	CustomerID string           `json:"customer_id,omitempty"`
	BranchID   string           `json:"branch_id"`
	RecordID   string           `json:"record_id"`
	IsReturn   bool             `json:"is_return"`
	Notes      string           `json:"notes,omitempty"`
	PaidAmount *decimal.Decimal `json:"paid_amount,omitempty"`
}

type PurchaseInvoiceRequest struct {
	CartID     string          `json:"cart_id,omitempty"`
	Lines      []InvoiceLine   `json:"lines,omitempty"`
	SupplierID string          `json:"supplier_id"`
	Location   domain.Location `json:"location"`
	RecordID   string          `json:"record_id"`
	IsReturn   bool            `json:"is_return"`
	Notes      string          `json:"notes,omitempty"`
}

type InvoiceResult struct {
	InvoiceID     string          `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
}

// CreateSalesInvoice commits a sale or sale return. Only the header and item
// writes can fail the call; the main-record mirror and stock updates that
// follow are logged and swallowed.
func (s *Service) CreateSalesInvoice(ctx context.Context, req SalesInvoiceRequest) (InvoiceResult, error) {
	req.BranchID = strings.TrimSpace(req.BranchID)
	req.RecordID = strings.TrimSpace(req.RecordID)
	if req.BranchID == "" {
		return InvoiceResult{}, invalid("branch_id", "branch is required")
	}
	if req.RecordID == "" {
		return InvoiceResult{}, invalid("record_id", "record is required")
	}
	if req.CartID = strings.TrimSpace(req.CartID); req.CartID != "" {
		defer s.carts.lock(req.CartID)()
	}
	lines, err := s.resolveLines(ctx, req.CartID, req.Lines)
	if err != nil {
		return InvoiceResult{}, err
	}
	if req.PaidAmount != nil && req.PaidAmount.IsNegative() {
		return InvoiceResult{}, invalid("paid_amount", "must not be negative")
	}

	sign := 1
	invoiceType := domain.InvoiceTypeSale
	if req.IsReturn {
		sign = -1
		invoiceType = domain.InvoiceTypeSaleReturn
	}
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		customerID = s.opts.DefaultCustomerID
	}

	total, profit := lineTotals(lines, sign)
	paid := total
	if req.PaidAmount != nil {
		paid = *req.PaidAmount
		if req.IsReturn {
			paid = paid.Neg()
		}
	}

	now := s.now()
	invoice := domain.Invoice{
		ID:            xid.New(),
		InvoiceNumber: xid.InvoiceNumber(salesInvoicePrefix, now),
		Kind:          domain.InvoiceKindSale,
		InvoiceType:   invoiceType,
		RecordID:      req.RecordID,
		Location:      domain.BranchLocation(req.BranchID),
		CustomerID:    customerID,
		TotalAmount:   total,
		PaidAmount:    paid,
		ProfitAmount:  profit,
		IsReturn:      req.IsReturn,
		Notes:         strings.TrimSpace(req.Notes),
		CreatedBy:     actorName(ctx),
		CreatedAt:     now,
	}
	items := invoiceItems(invoice.ID, lines, sign)

	if err := s.commitInvoice(ctx, invoice, items); err != nil {
		return InvoiceResult{}, err
	}
	s.mirrorToMainRecord(ctx, invoice, items)

	for _, line := range lines {
		s.applyStockDelta(ctx, invoice.InvoiceNumber, line.ProductID, invoice.Location, -sign*line.Quantity, req.IsReturn)
		s.applyVariantDeltas(ctx, invoice.InvoiceNumber, line.ProductID, invoice.Location, line.SelectedColors, -sign)
	}

	s.finishInvoice(ctx, invoice, req.CartID)
	return InvoiceResult{
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		TotalAmount:   invoice.TotalAmount,
	}, nil
}

// CreatePurchaseInvoice commits a supplier receipt or purchase return at a
// branch or warehouse. Stock moves opposite to a sale and lands in the
// unspecified variant bucket.
func (s *Service) CreatePurchaseInvoice(ctx context.Context, req PurchaseInvoiceRequest) (InvoiceResult, error) {
	req.SupplierID = strings.TrimSpace(req.SupplierID)
	req.RecordID = strings.TrimSpace(req.RecordID)
	if req.SupplierID == "" {
		return InvoiceResult{}, invalid("supplier_id", "supplier is required")
	}
	if err := validateLocation(req.Location); err != nil {
		return InvoiceResult{}, err
	}
	if req.RecordID == "" {
		return InvoiceResult{}, invalid("record_id", "record is required")
	}
	if req.CartID = strings.TrimSpace(req.CartID); req.CartID != "" {
		defer s.carts.lock(req.CartID)()
	}
	lines, err := s.resolveLines(ctx, req.CartID, req.Lines)
	if err != nil {
		return InvoiceResult{}, err
	}

	sign := 1
	invoiceType := domain.InvoiceTypePurchase
	if req.IsReturn {
		sign = -1
		invoiceType = domain.InvoiceTypePurchaseReturn
	}
	total, _ := lineTotals(lines, sign)

	now := s.now()
	invoice := domain.Invoice{
		ID:            xid.New(),
		InvoiceNumber: xid.InvoiceNumber(purchaseInvoicePrefix, now),
		Kind:          domain.InvoiceKindPurchase,
		InvoiceType:   invoiceType,
		RecordID:      req.RecordID,
		Location:      req.Location,
		SupplierID:    req.SupplierID,
		TotalAmount:   total,
		PaidAmount:    total,
		ProfitAmount:  decimal.Zero,
		IsReturn:      req.IsReturn,
		Notes:         strings.TrimSpace(req.Notes),
		CreatedBy:     actorName(ctx),
		CreatedAt:     now,
	}
	items := invoiceItems(invoice.ID, lines, sign)

	if err := s.commitInvoice(ctx, invoice, items); err != nil {
		return InvoiceResult{}, err
	}
	s.mirrorToMainRecord(ctx, invoice, items)

	create := !req.IsReturn
	for _, line := range lines {
		delta := sign * line.Quantity
		s.applyStockDelta(ctx, invoice.InvoiceNumber, line.ProductID, invoice.Location, delta, create)
		saved, err := s.repo.ReconcileVariantBucket(ctx, line.ProductID, invoice.Location, domain.VariantTypeColor, domain.UnspecifiedVariant, delta, create)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				logger.With("service").WithFields(logrus.Fields{
					"invoice": invoice.InvoiceNumber,
					"product": line.ProductID,
				}).WithError(err).Warn("unspecified bucket update after purchase failed")
			}
			continue
		}
		s.afterVariantWrite(ctx, saved)
	}

	s.finishInvoice(ctx, invoice, req.CartID)
	return InvoiceResult{
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		TotalAmount:   invoice.TotalAmount,
	}, nil
}

func (s *Service) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalid("id", "required")
	}
	return s.repo.GetInvoice(ctx, id)
}

// RenderReceipt produces the printable HTML receipt of an invoice.
func (s *Service) RenderReceipt(ctx context.Context, id string) (string, error) {
	invoice, err := s.GetInvoice(ctx, id)
	if err != nil {
		return "", err
	}

	r := receipt.Receipt{
		CompanyName:   s.opts.CompanyName,
		LogoURL:       s.opts.LogoURL,
		InvoiceNumber: invoice.InvoiceNumber,
		InvoiceType:   invoice.InvoiceType,
		Date:          invoice.CreatedAt,
		Total:         invoice.TotalAmount,
		Paid:          invoice.PaidAmount,
		Operator:      invoice.CreatedBy,
		PrintedAt:     s.now(),
	}
	if invoice.Location.Kind == domain.LocationBranch {
		if branch, err := s.repo.GetBranch(ctx, invoice.Location.ID); err == nil {
			r.BranchName = branch.Name
			r.BranchPhone = branch.Phone
		}
	}
	if record, err := s.repo.GetRecord(ctx, invoice.RecordID); err == nil {
		r.RecordName = record.Name
	} else {
		r.RecordName = invoice.RecordID
	}
	for _, item := range invoice.Items {
		r.Lines = append(r.Lines, receipt.Line{
			Name:      item.ProductName,
			Notes:     item.Notes,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))),
		})
	}
	return receipt.Render(r)
}

// resolveLines loads the cart session when one is named, otherwise fills
// catalog data missing from the inline lines. Cart lines keep their price
// snapshots untouched.
func (s *Service) resolveLines(ctx context.Context, cartID string, inline []InvoiceLine) ([]cart.Line, error) {
	if cartID = strings.TrimSpace(cartID); cartID != "" {
		c, err := s.loadCart(ctx, cartID)
		if err != nil {
			return nil, err
		}
		if len(c.Lines) == 0 {
			return nil, invalid("lines", "cart is empty")
		}
		lines := c.Lines
		for i := range lines {
			if err := checkLine(i, &lines[i]); err != nil {
				return nil, err
			}
		}
		return lines, nil
	}
	if len(inline) == 0 {
		return nil, invalid("lines", "cart is empty")
	}

	lines := make([]cart.Line, len(inline))
	ids := make([]string, 0, len(inline))
	for i, in := range inline {
		lines[i] = cart.Line{
			ProductID:      strings.TrimSpace(in.ProductID),
			ProductName:    in.ProductName,
			Quantity:       in.Quantity,
			SelectedColors: in.SelectedColors,
			Notes:          strings.TrimSpace(in.Notes),
		}
		if in.UnitPrice != nil {
			lines[i].UnitPrice = *in.UnitPrice
		}
		if in.CostPrice != nil {
			lines[i].CostPrice = *in.CostPrice
		}
		if err := checkLine(i, &lines[i]); err != nil {
			return nil, err
		}
		ids = append(ids, lines[i].ProductID)
	}

	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i, in := range inline {
		product, ok := products[lines[i].ProductID]
		if !ok {
			continue
		}
		if lines[i].ProductName == "" {
			lines[i].ProductName = product.Name
		}
		if in.CostPrice == nil {
			lines[i].CostPrice = product.CostPrice
		}
		if in.UnitPrice == nil {
			lines[i].UnitPrice = product.Price
		}
	}
	return lines, nil
}

// checkLine validates a line and derives its quantity from the variant
// selection when none is given.
func checkLine(i int, line *cart.Line) error {
	if line.ProductID == "" {
		return invalid(fmt.Sprintf("lines[%d].product_id", i), "required")
	}
	if len(line.SelectedColors) > 0 {
		sum := 0
		for _, qty := range line.SelectedColors {
			if qty < 0 {
				return invalid(fmt.Sprintf("lines[%d].selected_colors", i), "quantities must not be negative")
			}
			sum += qty
		}
		if line.Quantity == 0 {
			line.Quantity = sum
		} else if sum != line.Quantity {
			return invalid(fmt.Sprintf("lines[%d].selected_colors", i), "variant quantities must add up to the line quantity")
		}
	}
	if err := cart.ManualQuantity(line.Quantity); err != nil {
		return invalid(fmt.Sprintf("lines[%d].quantity", i), err.Error())
	}
	if line.UnitPrice.IsNegative() {
		return invalid(fmt.Sprintf("lines[%d].unit_price", i), "must not be negative")
	}
	if line.CostPrice.IsNegative() {
		return invalid(fmt.Sprintf("lines[%d].cost_price", i), "must not be negative")
	}
	return nil
}

func lineTotals(lines []cart.Line, sign int) (decimal.Decimal, decimal.Decimal) {
	total := decimal.Zero
	profit := decimal.Zero
	for _, line := range lines {
		qty := decimal.NewFromInt(int64(line.Quantity))
		total = total.Add(line.Total())
		profit = profit.Add(line.UnitPrice.Sub(line.CostPrice).Mul(qty))
	}
	if sign < 0 {
		return total.Neg(), profit.Neg()
	}
	return total, profit
}

func invoiceItems(invoiceID string, lines []cart.Line, sign int) []domain.InvoiceItem {
	items := make([]domain.InvoiceItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.InvoiceItem{
			ID:          xid.New(),
			InvoiceID:   invoiceID,
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    sign * line.Quantity,
			UnitPrice:   line.UnitPrice,
			CostPrice:   line.CostPrice,
			Notes:       line.ItemNotes(),
		})
	}
	return items
}

// commitInvoice writes the header then the items. A failed item write
// removes the header again on a best-effort basis.
func (s *Service) commitInvoice(ctx context.Context, invoice domain.Invoice, items []domain.InvoiceItem) error {
	if err := s.repo.InsertInvoiceHeader(ctx, invoice); err != nil {
		return &CommitError{Message: msgInvoiceHeaderFailed, Err: err}
	}
	if err := s.repo.InsertInvoiceItems(ctx, invoice.ID, items); err != nil {
		if delErr := s.repo.DeleteInvoice(ctx, invoice.ID); delErr != nil {
			logger.With("service").WithField("invoice", invoice.InvoiceNumber).WithError(delErr).Error("failed to remove invoice header after item write failure")
		}
		return &CommitError{Message: msgInvoiceItemsFailed, Err: err}
	}
	return nil
}

// mirrorToMainRecord files a copy of the invoice under the main record
// unless it already belongs there.
func (s *Service) mirrorToMainRecord(ctx context.Context, invoice domain.Invoice, items []domain.InvoiceItem) {
	if invoice.RecordID == s.opts.MainRecordID {
		return
	}

	mirror := invoice
	mirror.ID = xid.New()
	mirror.InvoiceNumber = invoice.InvoiceNumber + domain.MainRecordSuffix
	mirror.RecordID = s.opts.MainRecordID
	mirror.Items = nil

	mirrorItems := make([]domain.InvoiceItem, 0, len(items))
	for _, item := range items {
		item.ID = xid.New()
		item.InvoiceID = mirror.ID
		mirrorItems = append(mirrorItems, item)
	}

	entry := logger.With("service").WithField("invoice", invoice.InvoiceNumber)
	if err := s.repo.InsertInvoiceHeader(ctx, mirror); err != nil {
		entry.WithError(err).Warn("main record mirror header failed")
		return
	}
	if err := s.repo.InsertInvoiceItems(ctx, mirror.ID, mirrorItems); err != nil {
		entry.WithError(err).Warn("main record mirror items failed")
		if delErr := s.repo.DeleteInvoice(ctx, mirror.ID); delErr != nil {
			entry.WithError(delErr).Warn("failed to remove partial main record mirror")
		}
	}
}

func (s *Service) finishInvoice(ctx context.Context, invoice domain.Invoice, cartID string) {
	s.publish(ctx, realtime.TableInvoices, realtime.EventInsert, invoice.ID, invoice, map[string]string{
		"record_id": invoice.RecordID,
	})
	s.logAudit(ctx, "invoice_create", "invoice", invoice.ID, fmt.Sprintf("number=%s,type=%s,total=%s", invoice.InvoiceNumber, invoice.InvoiceType, invoice.TotalAmount.StringFixed(2)))
	if cartID = strings.TrimSpace(cartID); cartID != "" {
		if err := s.cache.Delete(ctx, cartKey(cartID)); err != nil {
			logger.With("service").WithError(err).WithField("cart", cartID).Warn("failed to discard cart after invoice")
		}
	}
}
