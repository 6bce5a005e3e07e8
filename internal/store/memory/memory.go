package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/logger"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	now             func() time.Time
	products        map[string]domain.Product
	branches        map[string]domain.Branch
	records         map[string]domain.Record
	inventory       map[string]domain.InventoryRecord
	variants        []domain.VariantRecord
	invoices        map[string]domain.Invoice
	invoiceOrder    []string
	orders          map[int64]domain.Order
	orderItems      map[int64][]domain.OrderItem
	nextOrderNumber int64
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		now:             func() time.Time { return time.Now().UTC() },
		products:        make(map[string]domain.Product),
		branches:        make(map[string]domain.Branch),
		records:         make(map[string]domain.Record),
		inventory:       make(map[string]domain.InventoryRecord),
		invoices:        make(map[string]domain.Invoice),
		orders:          make(map[int64]domain.Order),
		orderItems:      make(map[int64][]domain.OrderItem),
		nextOrderNumber: 1000,
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev accounts. Passwords come from SEED_ADMIN_PASSWORD
// and SEED_CASHIER_PASSWORD with dev defaults when unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.With("store").Warn("using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.With("store").WithError(err).Fatalf("hash seed password for %s", u.username)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Seed ids shared with config defaults and tests.
const (
	SeedMainRecordID  = "rec-main"
	SeedTillRecordID  = "rec-till-1"
	SeedBranchID      = "branch-downtown"
	SeedWarehouseID   = "wh-central"
	SeedCustomerID    = "cust-walkin"
	SeedMugProductID  = "prod-mug"
	SeedVaseProductID = "prod-vase"
	SeedTrayProductID = "prod-tray"
)

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	for _, p := range []domain.Product{
		{
			ID: SeedMugProductID, Name: "كوب سيراميك", Barcode: "6281000000011",
			Price: decimal.NewFromInt(35), CostPrice: decimal.NewFromInt(20),
			Description: `{"text":"كوب سيراميك 350 مل","colors":["أحمر","أزرق","أبيض"]}`,
			ExtraImages: `["/img/mug-red.jpg","/img/mug-blue.jpg","/img/mug-white.jpg"]`,
			Active:      true,
		},
		{
			ID: SeedVaseProductID, Name: "مزهرية زجاج", Barcode: "6281000000028",
			Price: decimal.NewFromInt(120), CostPrice: decimal.NewFromInt(70),
			Description: "مزهرية زجاج يدوية الصنع",
			Active:      true,
		},
		{
			ID: SeedTrayProductID, Name: "صينية تقديم", Barcode: "6281000000035",
			Price: decimal.NewFromInt(85), CostPrice: decimal.NewFromInt(50),
			Description: `{"colors":[{"name":"ذهبي","hex":"#D4AF37"},{"name":"فضي"}]}`,
			Active:      true,
		},
	} {
		s.products[p.ID] = p
	}

	s.branches[SeedBranchID] = domain.Branch{ID: SeedBranchID, Name: "فرع وسط البلد", Phone: "0100000001"}
	s.branches["branch-north"] = domain.Branch{ID: "branch-north", Name: "فرع الشمال", Phone: "0100000002"}
	s.records[SeedMainRecordID] = domain.Record{ID: SeedMainRecordID, Name: "الخزينة الرئيسية", IsMain: true}
	s.records[SeedTillRecordID] = domain.Record{ID: SeedTillRecordID, Name: "كاشير 1"}

	branch := domain.BranchLocation(SeedBranchID)
	warehouse := domain.WarehouseLocation(SeedWarehouseID)
	now := s.now()
	for _, rec := range []domain.InventoryRecord{
		{ProductID: SeedMugProductID, Location: branch, Quantity: 30, MinStock: 5},
		{ProductID: SeedVaseProductID, Location: branch, Quantity: 8, MinStock: 10},
		{ProductID: SeedTrayProductID, Location: branch, Quantity: 12, MinStock: 3},
		{ProductID: SeedMugProductID, Location: warehouse, Quantity: 200, MinStock: 20},
	} {
		rec.ID = xid.New()
		rec.UpdatedAt = now
		s.inventory[inventoryKey(rec.ProductID, rec.Location)] = rec
	}
	for _, v := range []domain.VariantRecord{
		{ProductID: SeedMugProductID, Location: branch, VariantType: domain.VariantTypeColor, Name: "أحمر", Quantity: 10},
		{ProductID: SeedMugProductID, Location: branch, VariantType: domain.VariantTypeColor, Name: "أخضر", Quantity: 4},
		{ProductID: SeedMugProductID, Location: branch, VariantType: domain.VariantTypeColor, Name: domain.UnspecifiedVariant, Quantity: 6},
	} {
		v.ID = xid.New()
		v.UpdatedAt = now
		s.variants = append(s.variants, v)
	}

	subtotal := decimal.NewFromInt(155)
	shipping := decimal.NewFromInt(25)
	for _, o := range []domain.Order{
		{
			CustomerName: "سارة أحمد", CustomerPhone: "0111111111", CustomerAddress: "شارع النيل 12",
			DeliveryType: domain.DeliveryTypeDelivery, Status: domain.OrderStatusPending,
			TotalAmount: subtotal.Add(shipping), SubtotalAmount: &subtotal, ShippingAmount: &shipping,
			Items: []domain.OrderItem{
				{ProductID: SeedMugProductID, ProductName: "كوب سيراميك", Quantity: 1, UnitPrice: decimal.NewFromInt(35), Notes: "أحمر"},
				{ProductID: SeedVaseProductID, ProductName: "مزهرية زجاج", Quantity: 1, UnitPrice: decimal.NewFromInt(120)},
			},
		},
		{
			CustomerName: "محمد علي", CustomerPhone: "0122222222",
			DeliveryType: domain.DeliveryTypePickup, Status: domain.OrderStatusProcessing,
			TotalAmount: decimal.NewFromInt(170),
			Items: []domain.OrderItem{
				{ProductID: SeedTrayProductID, ProductName: "صينية تقديم", Quantity: 2, UnitPrice: decimal.NewFromInt(85)},
			},
		},
	} {
		o.CreatedAt = now
		o.UpdatedAt = now
		s.insertOrderLocked(o)
	}
	return s
}

// SetClock overrides the store clock used for row timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

// PutProduct inserts or replaces a catalog row.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	s.products[p.ID] = p
	s.mu.Unlock()
}

func (s *Store) GetBranch(_ context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.branches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (s *Store) GetRecord(_ context.Context, id string) (*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *Store) GetInventory(_ context.Context, productID string, loc domain.Location) (*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.inventory[inventoryKey(productID, loc)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) ListInventory(_ context.Context, loc domain.Location) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryRecord, 0, 32)
	for _, rec := range s.inventory {
		if rec.Location != loc {
			continue
		}
		result = append(result, rec)
	}
	slices.SortFunc(result, func(a, b domain.InventoryRecord) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return result, nil
}

func (s *Store) AdjustInventory(_ context.Context, productID string, loc domain.Location, delta int, createIfMissing bool) (*domain.InventoryRecord, error) {
	if productID == "" || !loc.Valid() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := inventoryKey(productID, loc)
	rec, ok := s.inventory[key]
	if !ok {
		if !createIfMissing {
			return nil, store.ErrNotFound
		}
		rec = domain.InventoryRecord{ID: xid.New(), ProductID: productID, Location: loc}
	}
	rec.Quantity = max(rec.Quantity+delta, 0)
	rec.UpdatedAt = s.now()
	s.inventory[key] = rec
	return &rec, nil
}

func (s *Store) SetInventory(_ context.Context, record domain.InventoryRecord) (*domain.InventoryRecord, error) {
	if record.ProductID == "" || !record.Location.Valid() || record.Quantity < 0 || record.MinStock < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := inventoryKey(record.ProductID, record.Location)
	if existing, ok := s.inventory[key]; ok {
		record.ID = existing.ID
	} else if record.ID == "" {
		record.ID = xid.New()
	}
	record.UpdatedAt = s.now()
	s.inventory[key] = record
	return &record, nil
}

func (s *Store) ListVariants(_ context.Context, productID string, loc domain.Location) ([]domain.VariantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.VariantRecord, 0, 8)
	for _, v := range s.variants {
		if v.ProductID == productID && v.Location == loc {
			result = append(result, v)
		}
	}
	return result, nil
}

func (s *Store) UpsertVariant(_ context.Context, variant domain.VariantRecord) (*domain.VariantRecord, error) {
	if variant.ProductID == "" || variant.Name == "" || !variant.Location.Valid() || variant.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for i, v := range s.variants {
		if !sameVariant(v, variant.ProductID, variant.Location, variant.VariantType, variant.Name) {
			continue
		}
		v.Quantity += variant.Quantity
		if variant.ColorHex != "" {
			v.ColorHex = variant.ColorHex
		}
		if variant.ImageURL != "" {
			v.ImageURL = variant.ImageURL
		}
		v.UpdatedAt = now
		s.variants[i] = v
		return &v, nil
	}

	variant.ID = xid.New()
	variant.UpdatedAt = now
	s.variants = append(s.variants, variant)
	return &variant, nil
}

// AppendVariant stores a row without merging it into an existing one, the
// way duplicate unspecified buckets appear in legacy data.
func (s *Store) AppendVariant(v domain.VariantRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = xid.New()
	}
	v.UpdatedAt = s.now()
	s.variants = append(s.variants, v)
}

func (s *Store) AdjustVariant(_ context.Context, productID string, loc domain.Location, variantType string, name string, delta int) (*domain.VariantRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, v := range s.variants {
		if !sameVariant(v, productID, loc, variantType, name) {
			continue
		}
		v.Quantity = max(v.Quantity+delta, 0)
		v.UpdatedAt = s.now()
		s.variants[i] = v
		return &v, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) ReconcileVariantBucket(_ context.Context, productID string, loc domain.Location, variantType string, name string, delta int, allowCreate bool) (*domain.VariantRecord, error) {
	if productID == "" || !loc.Valid() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	first := -1
	total := 0
	kept := s.variants[:0:0]
	for _, v := range s.variants {
		if sameVariant(v, productID, loc, variantType, name) {
			total += v.Quantity
			if first >= 0 {
				continue
			}
			first = len(kept)
		}
		kept = append(kept, v)
	}

	now := s.now()
	if first < 0 {
		if !allowCreate {
			return nil, store.ErrNotFound
		}
		created := domain.VariantRecord{
			ID:          xid.New(),
			ProductID:   productID,
			Location:    loc,
			VariantType: variantType,
			Name:        name,
			Quantity:    max(delta, 0),
			UpdatedAt:   now,
		}
		s.variants = append(s.variants, created)
		return &created, nil
	}

	kept[first].Quantity = max(total+delta, 0)
	kept[first].UpdatedAt = now
	s.variants = kept
	merged := kept[first]
	return &merged, nil
}

func (s *Store) InsertInvoiceHeader(_ context.Context, invoice domain.Invoice) error {
	if invoice.ID == "" || invoice.InvoiceNumber == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[invoice.ID]; exists {
		return store.ErrConflict
	}
	for _, existing := range s.invoices {
		if existing.InvoiceNumber == invoice.InvoiceNumber {
			return store.ErrConflict
		}
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = s.now()
	}
	invoice.Items = nil
	s.invoices[invoice.ID] = invoice
	s.invoiceOrder = append(s.invoiceOrder, invoice.ID)
	return nil
}

func (s *Store) InsertInvoiceItems(_ context.Context, invoiceID string, items []domain.InvoiceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoices[invoiceID]
	if !ok {
		return store.ErrNotFound
	}
	for _, item := range items {
		if item.ID == "" {
			item.ID = xid.New()
		}
		item.InvoiceID = invoiceID
		invoice.Items = append(invoice.Items, item)
	}
	s.invoices[invoiceID] = invoice
	return nil
}

func (s *Store) DeleteInvoice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.invoices, id)
	s.invoiceOrder = slices.DeleteFunc(s.invoiceOrder, func(v string) bool { return v == id })
	return nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, ok := s.invoices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cloned := cloneInvoice(invoice)
	return &cloned, nil
}

func (s *Store) ListInvoices(_ context.Context, filter store.InvoiceFilter) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Invoice, 0, 16)
	for i := len(s.invoiceOrder) - 1; i >= 0; i-- {
		invoice := s.invoices[s.invoiceOrder[i]]
		if filter.RecordID != "" && invoice.RecordID != filter.RecordID {
			continue
		}
		if filter.Kind != "" && invoice.Kind != filter.Kind {
			continue
		}
		result = append(result, cloneInvoice(invoice))
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if strings.TrimSpace(order.CustomerName) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	created := s.insertOrderLocked(order)
	return &created, nil
}

func (s *Store) insertOrderLocked(order domain.Order) domain.Order {
	if order.OrderNumber == 0 {
		s.nextOrderNumber++
		order.OrderNumber = s.nextOrderNumber
	} else if order.OrderNumber > s.nextOrderNumber {
		s.nextOrderNumber = order.OrderNumber
	}
	if order.ID == "" {
		order.ID = xid.New()
	}
	items := make([]domain.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		if item.ID == "" {
			item.ID = xid.New()
		}
		item.OrderNumber = order.OrderNumber
		items = append(items, item)
	}
	order.Items = nil
	s.orders[order.OrderNumber] = order
	s.orderItems[order.OrderNumber] = items

	order.Items = slices.Clone(items)
	return order
}

func (s *Store) GetOrder(_ context.Context, orderNumber int64) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderNumber]
	if !ok {
		return nil, store.ErrNotFound
	}
	order.Items = slices.Clone(s.orderItems[orderNumber])
	return &order, nil
}

func (s *Store) ListOrders(_ context.Context, filter store.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, len(s.orders))
	for number, order := range s.orders {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, order.Status) {
			continue
		}
		order.Items = slices.Clone(s.orderItems[number])
		result = append(result, order)
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		switch {
		case a.OrderNumber > b.OrderNumber:
			return -1
		case a.OrderNumber < b.OrderNumber:
			return 1
		}
		return 0
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, orderNumber int64, from string, to string, at time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderNumber]
	if !ok {
		return nil, store.ErrNotFound
	}
	if order.Status != from {
		return nil, store.ErrConflict
	}
	order.Status = to
	order.UpdatedAt = at
	s.orders[orderNumber] = order

	order.Items = slices.Clone(s.orderItems[orderNumber])
	return &order, nil
}

func (s *Store) SetOrderItemsPrepared(_ context.Context, orderNumber int64, itemIDs []string, prepared bool, by string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, ok := s.orderItems[orderNumber]
	if !ok {
		return store.ErrNotFound
	}
	matched := 0
	for i, item := range items {
		if !slices.Contains(itemIDs, item.ID) {
			continue
		}
		matched++
		item.IsPrepared = prepared
		if prepared {
			preparedAt := at
			item.PreparedBy = by
			item.PreparedAt = &preparedAt
		} else {
			item.PreparedBy = ""
			item.PreparedAt = nil
		}
		items[i] = item
	}
	if matched == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateOrderItems(_ context.Context, update store.OrderItemsUpdate) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[update.OrderNumber]
	if !ok {
		return nil, store.ErrNotFound
	}

	items := slices.DeleteFunc(slices.Clone(s.orderItems[update.OrderNumber]), func(item domain.OrderItem) bool {
		return slices.Contains(update.RemovedIDs, item.ID)
	})
	for _, change := range update.Changes {
		idx := slices.IndexFunc(items, func(item domain.OrderItem) bool { return item.ID == change.ID })
		if idx < 0 {
			return nil, store.ErrNotFound
		}
		items[idx].Quantity = change.Quantity
		items[idx].Notes = change.Notes
	}

	order.TotalAmount = update.Total
	if update.Subtotal != nil {
		subtotal := *update.Subtotal
		order.SubtotalAmount = &subtotal
	}
	order.UpdatedAt = update.At
	s.orders[update.OrderNumber] = order
	s.orderItems[update.OrderNumber] = items

	order.Items = slices.Clone(items)
	return &order, nil
}

func (s *Store) DeleteOrderItems(_ context.Context, orderNumber int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.orderItems, orderNumber)
	return nil
}

func (s *Store) DeleteOrder(_ context.Context, orderNumber int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[orderNumber]; !ok {
		return store.ErrNotFound
	}
	if len(s.orderItems[orderNumber]) > 0 {
		return store.ErrConflict
	}
	delete(s.orders, orderNumber)
	delete(s.orderItems, orderNumber)
	return nil
}

func (s *Store) CreateOrderInvoice(_ context.Context, params domain.OrderInvoiceParams) (domain.OrderInvoiceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[params.OrderNumber]
	if !ok {
		return domain.OrderInvoiceResult{Error: "order not found"}, nil
	}
	if order.Status != params.FromStatus {
		return domain.OrderInvoiceResult{Error: "order status changed to " + order.Status}, nil
	}
	items := s.orderItems[params.OrderNumber]
	if len(items) == 0 {
		return domain.OrderInvoiceResult{Error: "order has no items"}, nil
	}
	if _, exists := s.invoices[params.InvoiceID]; exists {
		return domain.OrderInvoiceResult{}, store.ErrConflict
	}

	costs := make(map[string]decimal.Decimal, len(items))
	for _, item := range items {
		costs[item.ProductID] = s.products[item.ProductID].CostPrice
	}
	invoice := store.BuildOrderInvoice(order, items, costs, params)
	s.invoices[invoice.ID] = invoice
	s.invoiceOrder = append(s.invoiceOrder, invoice.ID)

	order.Status = params.NextStatus
	order.UpdatedAt = params.At
	s.orders[params.OrderNumber] = order

	return domain.OrderInvoiceResult{
		Success:       true,
		SaleID:        invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		Invoice:       cloneInvoice(invoice),
	}, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func inventoryKey(productID string, loc domain.Location) string {
	return productID + "|" + loc.Key()
}

func sameVariant(v domain.VariantRecord, productID string, loc domain.Location, variantType string, name string) bool {
	return v.ProductID == productID && v.Location == loc && v.VariantType == variantType && v.Name == name
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	dst := src
	dst.Items = slices.Clone(src.Items)
	if src.OrderNumber != nil {
		n := *src.OrderNumber
		dst.OrderNumber = &n
	}
	return dst
}
