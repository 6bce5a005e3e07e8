package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Barcode     string          `json:"barcode,omitempty"`
	Price       decimal.Decimal `json:"price"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	Description string          `json:"description,omitempty"`
	MainImage   string          `json:"main_image_url,omitempty"`
	ExtraImages string          `json:"extra_images,omitempty"`
	Active      bool            `json:"active"`
}

type Branch struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Record is a till/register that invoices are filed under.
type Record struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsMain bool   `json:"is_main"`
}

// Location is either a branch or a warehouse, never both.
type Location struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func BranchLocation(id string) Location {
	return Location{Kind: LocationBranch, ID: id}
}

func WarehouseLocation(id string) Location {
	return Location{Kind: LocationWarehouse, ID: id}
}

func (l Location) Valid() bool {
	if l.ID == "" {
		return false
	}
	return l.Kind == LocationBranch || l.Kind == LocationWarehouse
}

func (l Location) Key() string {
	return l.Kind + ":" + l.ID
}

type InventoryRecord struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Location  Location  `json:"location"`
	Quantity  int       `json:"quantity"`
	MinStock  int       `json:"min_stock"`
	UpdatedAt time.Time `json:"updated_at"`
}

type VariantRecord struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	Location    Location  `json:"location"`
	VariantType string    `json:"variant_type"`
	Name        string    `json:"name"`
	Quantity    int       `json:"quantity"`
	ColorHex    string    `json:"color_hex,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Order struct {
	ID              string           `json:"id"`
	OrderNumber     int64            `json:"order_number"`
	CustomerName    string           `json:"customer_name"`
	CustomerPhone   string           `json:"customer_phone"`
	CustomerAddress string           `json:"customer_address"`
	DeliveryType    string           `json:"delivery_type"`
	Status          string           `json:"status"`
	TotalAmount     decimal.Decimal  `json:"total_amount"`
	SubtotalAmount  *decimal.Decimal `json:"subtotal_amount,omitempty"`
	ShippingAmount  *decimal.Decimal `json:"shipping_amount,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	Items           []OrderItem      `json:"items,omitempty"`
}

// InvoiceableAmount is the subtotal when both subtotal and shipping are
// tracked, the total otherwise.
func (o Order) InvoiceableAmount() decimal.Decimal {
	if o.SubtotalAmount != nil && o.ShippingAmount != nil {
		return *o.SubtotalAmount
	}
	return o.TotalAmount
}

type OrderItem struct {
	ID          string          `json:"id"`
	OrderNumber int64           `json:"order_number"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Notes       string          `json:"notes,omitempty"`
	IsPrepared  bool            `json:"is_prepared"`
	PreparedBy  string          `json:"prepared_by,omitempty"`
	PreparedAt  *time.Time      `json:"prepared_at,omitempty"`
}

// GroupedOrderItem is the display form of all raw rows sharing one product.
type GroupedOrderItem struct {
	Key         string          `json:"key"`
	ProductID   string          `json:"product_id,omitempty"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Notes       string          `json:"notes,omitempty"`
	IsPrepared  bool            `json:"is_prepared"`
	ItemIDs     []string        `json:"item_ids"`
}

type Invoice struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	Kind          string          `json:"kind"`
	InvoiceType   string          `json:"invoice_type"`
	RecordID      string          `json:"record_id"`
	Location      Location        `json:"location"`
	CustomerID    string          `json:"customer_id,omitempty"`
	SupplierID    string          `json:"supplier_id,omitempty"`
	OrderNumber   *int64          `json:"order_number,omitempty"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	ProfitAmount  decimal.Decimal `json:"profit_amount"`
	IsReturn      bool            `json:"is_return"`
	Notes         string          `json:"notes,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Items         []InvoiceItem   `json:"items,omitempty"`
}

type InvoiceItem struct {
	ID          string          `json:"id"`
	InvoiceID   string          `json:"invoice_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	Notes       string          `json:"notes,omitempty"`
}

// OrderInvoiceParams is the input of the transactional create-invoice
// procedure used by the gated order transitions.
type OrderInvoiceParams struct {
	OrderNumber   int64
	FromStatus    string
	InvoiceID     string
	InvoiceNumber string
	PaidAmount    decimal.Decimal
	BranchID      string
	RecordID      string
	CustomerID    string
	Notes         string
	NextStatus    string
	CreatedBy     string
	At            time.Time
}

type OrderInvoiceResult struct {
	Success       bool    `json:"success"`
	Error         string  `json:"error,omitempty"`
	SaleID        string  `json:"sale_id,omitempty"`
	InvoiceNumber string  `json:"invoice_number,omitempty"`
	Invoice       Invoice `json:"-"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	OrderStatusPending          = "pending"
	OrderStatusProcessing       = "processing"
	OrderStatusReadyForPickup   = "ready_for_pickup"
	OrderStatusReadyForShipping = "ready_for_shipping"
	OrderStatusShipped          = "shipped"
	OrderStatusDelivered        = "delivered"
	OrderStatusCancelled        = "cancelled"
	OrderStatusIssue            = "issue"
)

const (
	DeliveryTypePickup   = "pickup"
	DeliveryTypeDelivery = "delivery"
)

const (
	InvoiceKindSale     = "sale"
	InvoiceKindPurchase = "purchase"
)

const (
	InvoiceTypeSale           = "Sale Invoice"
	InvoiceTypeSaleReturn     = "Sale Return"
	InvoiceTypePurchase       = "Purchase Invoice"
	InvoiceTypePurchaseReturn = "Purchase Return"
)

const (
	LocationBranch    = "branch"
	LocationWarehouse = "warehouse"
)

const (
	VariantTypeColor = "color"
	VariantTypeShape = "shape"
)

const (
	// UnspecifiedVariant holds quantity not attributed to a concrete variant.
	UnspecifiedVariant = "غير محدد"
	// TotalUnspecifiedVariant is the synthetic selection sized to all
	// unspecified buckets of a product at one location.
	TotalUnspecifiedVariant = "غير محدد الكلي"
)

// MainRecordSuffix marks the mirrored copy of an invoice filed under the main record.
const MainRecordSuffix = "-MAIN"

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
