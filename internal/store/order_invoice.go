package store

import (
	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/xid"
)

// BuildOrderInvoice assembles the sale invoice filed when an order passes
// its invoice gate. costs maps product id to cost price.
func BuildOrderInvoice(order domain.Order, items []domain.OrderItem, costs map[string]decimal.Decimal, p domain.OrderInvoiceParams) domain.Invoice {
	orderNumber := order.OrderNumber
	invoice := domain.Invoice{
		ID:            p.InvoiceID,
		InvoiceNumber: p.InvoiceNumber,
		Kind:          domain.InvoiceKindSale,
		InvoiceType:   domain.InvoiceTypeSale,
		RecordID:      p.RecordID,
		Location:      domain.BranchLocation(p.BranchID),
		CustomerID:    p.CustomerID,
		OrderNumber:   &orderNumber,
		TotalAmount:   order.InvoiceableAmount(),
		PaidAmount:    p.PaidAmount,
		ProfitAmount:  decimal.Zero,
		Notes:         p.Notes,
		CreatedBy:     p.CreatedBy,
		CreatedAt:     p.At,
		Items:         make([]domain.InvoiceItem, 0, len(items)),
	}
	for _, item := range items {
		cost := costs[item.ProductID]
		qty := decimal.NewFromInt(int64(item.Quantity))
		invoice.ProfitAmount = invoice.ProfitAmount.Add(item.UnitPrice.Sub(cost).Mul(qty))
		invoice.Items = append(invoice.Items, domain.InvoiceItem{
			ID:          xid.New(),
			InvoiceID:   invoice.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			CostPrice:   cost,
			Notes:       item.Notes,
		})
	}
	return invoice
}
