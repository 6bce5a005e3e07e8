package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
)

type OrderFilter struct {
	Statuses []string
	Limit    int
}

type InvoiceFilter struct {
	RecordID string
	Kind     string
	Limit    int
}

// OrderItemChange is the persisted form of one edited order line.
type OrderItemChange struct {
	ID       string
	Quantity int
	Notes    string
}

type OrderItemsUpdate struct {
	OrderNumber int64
	Changes     []OrderItemChange
	RemovedIDs  []string
	Total       decimal.Decimal
	Subtotal    *decimal.Decimal
	At          time.Time
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
	GetRecord(ctx context.Context, id string) (*domain.Record, error)

	GetInventory(ctx context.Context, productID string, loc domain.Location) (*domain.InventoryRecord, error)
	ListInventory(ctx context.Context, loc domain.Location) ([]domain.InventoryRecord, error)
	// AdjustInventory applies a signed delta floored at zero in one step.
	AdjustInventory(ctx context.Context, productID string, loc domain.Location, delta int, createIfMissing bool) (*domain.InventoryRecord, error)
	SetInventory(ctx context.Context, record domain.InventoryRecord) (*domain.InventoryRecord, error)

	ListVariants(ctx context.Context, productID string, loc domain.Location) ([]domain.VariantRecord, error)
	UpsertVariant(ctx context.Context, variant domain.VariantRecord) (*domain.VariantRecord, error)
	AdjustVariant(ctx context.Context, productID string, loc domain.Location, variantType string, name string, delta int) (*domain.VariantRecord, error)
	// ReconcileVariantBucket collapses every row matching the key into the
	// first one, adding delta to their summed quantity.
	ReconcileVariantBucket(ctx context.Context, productID string, loc domain.Location, variantType string, name string, delta int, allowCreate bool) (*domain.VariantRecord, error)

	InsertInvoiceHeader(ctx context.Context, invoice domain.Invoice) error
	InsertInvoiceItems(ctx context.Context, invoiceID string, items []domain.InvoiceItem) error
	DeleteInvoice(ctx context.Context, id string) error
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]domain.Invoice, error)

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, orderNumber int64) (*domain.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error)
	// UpdateOrderStatus writes to only when the order is still in from.
	UpdateOrderStatus(ctx context.Context, orderNumber int64, from string, to string, at time.Time) (*domain.Order, error)
	SetOrderItemsPrepared(ctx context.Context, orderNumber int64, itemIDs []string, prepared bool, by string, at time.Time) error
	UpdateOrderItems(ctx context.Context, update OrderItemsUpdate) (*domain.Order, error)
	DeleteOrderItems(ctx context.Context, orderNumber int64) error
	DeleteOrder(ctx context.Context, orderNumber int64) error
	CreateOrderInvoice(ctx context.Context, params domain.OrderInvoiceParams) (domain.OrderInvoiceResult, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
