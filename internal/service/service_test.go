package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
)

var testNow = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	return newServiceWithRepo(repo), repo
}

func newServiceWithRepo(repo store.Repository) *Service {
	svc := New(repo, nil, nil, Options{
		MainRecordID:      memory.SeedMainRecordID,
		DefaultCustomerID: memory.SeedCustomerID,
	})
	svc.SetClock(func() time.Time { return testNow })
	return svc
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "kasir", Role: domain.RoleCashier})
}

func branchQty(t *testing.T, repo store.Repository, productID string) int {
	t.Helper()
	rec, err := repo.GetInventory(context.Background(), productID, domain.BranchLocation(memory.SeedBranchID))
	if err != nil {
		t.Fatalf("get inventory %s: %v", productID, err)
	}
	return rec.Quantity
}

// faultyRepo fails selected store calls on top of the seeded memory store.
type faultyRepo struct {
	store.Repository
	failItems        bool
	failMainMirror   bool
	failInventory    bool
	failOrderInvoice bool
}

func (f *faultyRepo) InsertInvoiceHeader(ctx context.Context, invoice domain.Invoice) error {
	if f.failMainMirror && invoice.RecordID == memory.SeedMainRecordID {
		return errors.New("main ledger unavailable")
	}
	return f.Repository.InsertInvoiceHeader(ctx, invoice)
}

func (f *faultyRepo) InsertInvoiceItems(ctx context.Context, invoiceID string, items []domain.InvoiceItem) error {
	if f.failItems {
		return errors.New("items table locked")
	}
	return f.Repository.InsertInvoiceItems(ctx, invoiceID, items)
}

func (f *faultyRepo) AdjustInventory(ctx context.Context, productID string, loc domain.Location, delta int, createIfMissing bool) (*domain.InventoryRecord, error) {
	if f.failInventory {
		return nil, errors.New("inventory write timeout")
	}
	return f.Repository.AdjustInventory(ctx, productID, loc, delta, createIfMissing)
}

func (f *faultyRepo) CreateOrderInvoice(ctx context.Context, params domain.OrderInvoiceParams) (domain.OrderInvoiceResult, error) {
	if f.failOrderInvoice {
		return domain.OrderInvoiceResult{Error: "invoice procedure rejected the order"}, nil
	}
	return f.Repository.CreateOrderInvoice(ctx, params)
}

func createOrder(t *testing.T, repo store.Repository, order domain.Order) *domain.Order {
	t.Helper()
	if order.CustomerName == "" {
		order.CustomerName = "عميل تجريبي"
	}
	created, err := repo.CreateOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return created
}

func TestGroupItemsMergesRowsOfSameProduct(t *testing.T) {
	groups := GroupItems([]domain.OrderItem{
		{ID: "a", ProductID: "p1", ProductName: "كوب", Quantity: 1, IsPrepared: true, Notes: "أحمر"},
		{ID: "b", ProductID: "p1", ProductName: "كوب", Quantity: 2, IsPrepared: false, Notes: "هدية"},
		{ID: "c", ProductID: "p1", ProductName: "كوب", Quantity: 3, IsPrepared: true, Notes: "أحمر"},
		{ID: "d", ProductName: "تغليف", Quantity: 1},
	})
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	g := groups[0]
	if g.Quantity != 6 || !g.IsPrepared || len(g.ItemIDs) != 3 {
		t.Fatalf("unexpected product group: %+v", g)
	}
	if g.Notes != "أحمر | هدية" {
		t.Fatalf("expected distinct notes joined, got %q", g.Notes)
	}
	if groups[1].Key != "name:تغليف" {
		t.Fatalf("expected name fallback key, got %q", groups[1].Key)
	}
}

func TestPreparationProgressAndCompletion(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	order := createOrder(t, repo, domain.Order{
		Status:       domain.OrderStatusProcessing,
		DeliveryType: "",
		TotalAmount:  decimal.NewFromInt(155),
		Items: []domain.OrderItem{
			{ProductID: memory.SeedMugProductID, ProductName: "كوب سيراميك", Quantity: 1, UnitPrice: decimal.NewFromInt(35)},
			{ProductID: memory.SeedVaseProductID, ProductName: "مزهرية زجاج", Quantity: 1, UnitPrice: decimal.NewFromInt(120)},
		},
	})

	view, err := svc.GetOrder(ctx, order.OrderNumber)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if view.Progress != 0 {
		t.Fatalf("expected 0 progress, got %v", view.Progress)
	}

	view, err = svc.SetItemPrepared(ctx, order.OrderNumber, memory.SeedMugProductID, true)
	if err != nil {
		t.Fatalf("prepare mug: %v", err)
	}
	if view.Progress != 50 {
		t.Fatalf("expected 50 progress, got %v", view.Progress)
	}

	var verr *ValidationError
	if _, err := svc.CompletePreparation(ctx, order.OrderNumber); !errors.As(err, &verr) {
		t.Fatalf("expected completion to fail while an item is unprepared, got %v", err)
	}

	view, err = svc.SetItemPrepared(ctx, order.OrderNumber, memory.SeedVaseProductID, true)
	if err != nil {
		t.Fatalf("prepare vase: %v", err)
	}
	if view.Progress != 100 {
		t.Fatalf("expected 100 progress, got %v", view.Progress)
	}
	for _, item := range view.Items {
		if item.PreparedBy != "kasir" || item.PreparedAt == nil {
			t.Fatalf("expected prepared_by and prepared_at to be set, got %+v", item)
		}
	}

	view, err = svc.CompletePreparation(ctx, order.OrderNumber)
	if err != nil {
		t.Fatalf("complete preparation: %v", err)
	}
	if view.Status != domain.OrderStatusReadyForPickup {
		t.Fatalf("expected unknown delivery type to fall back to pickup, got %s", view.Status)
	}
	if !view.UpdatedAt.Equal(testNow) {
		t.Fatalf("expected updated_at refreshed, got %s", view.UpdatedAt)
	}
}

func TestGatedAdvanceKeepsStatusWhenInvoiceFails(t *testing.T) {
	repo := &faultyRepo{Repository: memory.NewSeeded(), failOrderInvoice: true}
	svc := newServiceWithRepo(repo)
	ctx := cashierCtx()
	order := createOrder(t, repo, domain.Order{
		Status:       domain.OrderStatusReadyForPickup,
		DeliveryType: domain.DeliveryTypePickup,
		TotalAmount:  decimal.NewFromInt(35),
		Items:        []domain.OrderItem{{ProductID: memory.SeedMugProductID, ProductName: "كوب سيراميك", Quantity: 1, UnitPrice: decimal.NewFromInt(35)}},
	})

	_, err := svc.Advance(ctx, order.OrderNumber, GateInput{BranchID: memory.SeedBranchID, RecordID: memory.SeedTillRecordID})
	var cerr *CommitError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected commit error, got %v", err)
	}

	got, err := repo.GetOrder(context.Background(), order.OrderNumber)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != domain.OrderStatusReadyForPickup {
		t.Fatalf("expected status unchanged, got %s", got.Status)
	}
}

func TestGatedAdvanceValidatesBeforeWriting(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	subtotal := decimal.NewFromInt(100)
	shipping := decimal.NewFromInt(20)
	order := createOrder(t, repo, domain.Order{
		Status:         domain.OrderStatusReadyForShipping,
		DeliveryType:   domain.DeliveryTypeDelivery,
		TotalAmount:    decimal.NewFromInt(120),
		SubtotalAmount: &subtotal,
		ShippingAmount: &shipping,
		Items:          []domain.OrderItem{{ProductID: memory.SeedTrayProductID, ProductName: "صينية تقديم", Quantity: 1, UnitPrice: decimal.NewFromInt(100)}},
	})

	var verr *ValidationError
	if _, err := svc.Advance(ctx, order.OrderNumber, GateInput{RecordID: memory.SeedTillRecordID}); !errors.As(err, &verr) {
		t.Fatalf("expected missing branch to be rejected, got %v", err)
	}
	tooMuch := decimal.NewFromInt(110)
	if _, err := svc.Advance(ctx, order.OrderNumber, GateInput{BranchID: memory.SeedBranchID, RecordID: memory.SeedTillRecordID, PaidAmount: &tooMuch}); !errors.As(err, &verr) {
		t.Fatalf("expected paid amount above subtotal to be rejected, got %v", err)
	}

	res, err := svc.Advance(ctx, order.OrderNumber, GateInput{BranchID: memory.SeedBranchID, RecordID: memory.SeedTillRecordID})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Order.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped, got %s", res.Order.Status)
	}
	if res.Invoice == nil || !res.Invoice.Success || res.Invoice.InvoiceNumber == "" {
		t.Fatalf("expected successful invoice result, got %+v", res.Invoice)
	}
	if !res.Invoice.Invoice.PaidAmount.Equal(subtotal) {
		t.Fatalf("expected paid amount to default to subtotal, got %s", res.Invoice.Invoice.PaidAmount)
	}
	if got := branchQty(t, repo, memory.SeedTrayProductID); got != 11 {
		t.Fatalf("expected tray stock 11 after gated sale, got %d", got)
	}

	res, err = svc.Advance(ctx, order.OrderNumber, GateInput{})
	if err != nil {
		t.Fatalf("advance shipped: %v", err)
	}
	if res.Order.Status != domain.OrderStatusDelivered || res.Invoice != nil {
		t.Fatalf("expected direct shipped -> delivered, got %s", res.Order.Status)
	}
}

func TestAdvanceFromPendingIsInvalid(t *testing.T) {
	svc, repo := newTestService(t)
	order := createOrder(t, repo, domain.Order{Status: domain.OrderStatusPending, TotalAmount: decimal.NewFromInt(10)})

	_, err := svc.Advance(cashierCtx(), order.OrderNumber, GateInput{BranchID: memory.SeedBranchID, RecordID: memory.SeedTillRecordID})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestCancelAndIssueOnlyFromActiveStates(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	active := createOrder(t, repo, domain.Order{Status: domain.OrderStatusShipped, TotalAmount: decimal.NewFromInt(10)})
	done := createOrder(t, repo, domain.Order{Status: domain.OrderStatusDelivered, TotalAmount: decimal.NewFromInt(10)})

	view, err := svc.MarkIssue(ctx, active.OrderNumber)
	if err != nil {
		t.Fatalf("mark issue: %v", err)
	}
	if view.Status != domain.OrderStatusIssue {
		t.Fatalf("expected issue, got %s", view.Status)
	}
	if _, err := svc.MarkCancelled(ctx, done.OrderNumber); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected delivered order to stay delivered, got %v", err)
	}
	if _, err := svc.StartPreparation(ctx, done.OrderNumber); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestEditItemsRecomputesTotals(t *testing.T) {
	svc, repo := newTestService(t)
	subtotal := decimal.NewFromInt(155)
	shipping := decimal.NewFromInt(25)
	order := createOrder(t, repo, domain.Order{
		Status:         domain.OrderStatusPending,
		TotalAmount:    decimal.NewFromInt(180),
		SubtotalAmount: &subtotal,
		ShippingAmount: &shipping,
		Items: []domain.OrderItem{
			{ProductID: memory.SeedMugProductID, ProductName: "كوب سيراميك", Quantity: 1, UnitPrice: decimal.NewFromInt(35)},
			{ProductID: memory.SeedVaseProductID, ProductName: "مزهرية زجاج", Quantity: 1, UnitPrice: decimal.NewFromInt(120)},
		},
	})
	mug := order.Items[0]

	view, err := svc.EditItems(cashierCtx(), order.OrderNumber, []OrderItemEdit{{ID: mug.ID, Quantity: 3, Notes: "أزرق"}})
	if err != nil {
		t.Fatalf("edit items: %v", err)
	}
	if len(view.Items) != 1 || view.Items[0].Quantity != 3 || view.Items[0].Notes != "أزرق" {
		t.Fatalf("unexpected items after edit: %+v", view.Items)
	}
	if !view.SubtotalAmount.Equal(decimal.NewFromInt(105)) || !view.TotalAmount.Equal(decimal.NewFromInt(130)) {
		t.Fatalf("expected subtotal 105 and total 130, got %s and %s", view.SubtotalAmount, view.TotalAmount)
	}

	var verr *ValidationError
	if _, err := svc.EditItems(cashierCtx(), order.OrderNumber, []OrderItemEdit{{ID: mug.ID, Quantity: 0}}); !errors.As(err, &verr) {
		t.Fatalf("expected zero quantity to be rejected, got %v", err)
	}
}

func TestSweepExpiresCancelledOrders(t *testing.T) {
	svc, repo := newTestService(t)
	old := createOrder(t, repo, domain.Order{
		Status: domain.OrderStatusCancelled, TotalAmount: decimal.NewFromInt(10),
		UpdatedAt: testNow.Add(-25 * time.Hour),
		Items:     []domain.OrderItem{{ProductName: "x", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
	})
	recent := createOrder(t, repo, domain.Order{
		Status: domain.OrderStatusCancelled, TotalAmount: decimal.NewFromInt(10),
		UpdatedAt: testNow.Add(-23 * time.Hour),
	})

	report, err := svc.Sweep(context.Background(), testNow)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Deleted != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, err := repo.GetOrder(context.Background(), old.OrderNumber); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected old cancelled order deleted, got %v", err)
	}
	if _, err := repo.GetOrder(context.Background(), recent.OrderNumber); err != nil {
		t.Fatalf("expected recent cancelled order kept, got %v", err)
	}
}

func TestSweepAutoDeliversShippedOrders(t *testing.T) {
	svc, repo := newTestService(t)
	overdue := createOrder(t, repo, domain.Order{
		Status: domain.OrderStatusShipped, TotalAmount: decimal.NewFromInt(10),
		UpdatedAt: testNow.Add(-6*24*time.Hour - time.Minute),
	})
	fresh := createOrder(t, repo, domain.Order{
		Status: domain.OrderStatusShipped, TotalAmount: decimal.NewFromInt(10),
		UpdatedAt: testNow.Add(-5 * 24 * time.Hour),
	})

	report, err := svc.Sweep(context.Background(), testNow)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Delivered != 1 {
		t.Fatalf("expected one delivery, got %+v", report)
	}
	got, _ := repo.GetOrder(context.Background(), overdue.OrderNumber)
	if got.Status != domain.OrderStatusDelivered || !got.UpdatedAt.Equal(testNow) {
		t.Fatalf("expected delivered with refreshed updated_at, got %s at %s", got.Status, got.UpdatedAt)
	}
	got, _ = repo.GetOrder(context.Background(), fresh.OrderNumber)
	if got.Status != domain.OrderStatusShipped {
		t.Fatalf("expected fresh shipped order untouched, got %s", got.Status)
	}
}

func TestTimeRemaining(t *testing.T) {
	svc, _ := newTestService(t)
	cancelled := domain.Order{Status: domain.OrderStatusCancelled, UpdatedAt: testNow.Add(-5*time.Hour - 30*time.Minute)}
	if r := svc.TimeRemaining(cancelled, testNow); r == nil || r.Unit != "hours" || r.Value != 19 {
		t.Fatalf("expected 19 hours remaining, got %+v", r)
	}
	shipped := domain.Order{Status: domain.OrderStatusShipped, UpdatedAt: testNow.Add(-7 * 24 * time.Hour)}
	if r := svc.TimeRemaining(shipped, testNow); r == nil || r.Unit != "days" || r.Value != -1 {
		t.Fatalf("expected -1 days remaining, got %+v", r)
	}
	if r := svc.TimeRemaining(domain.Order{Status: domain.OrderStatusPending}, testNow); r != nil {
		t.Fatalf("expected no countdown for pending orders")
	}
}

func TestPurchaseConvergesUnspecifiedBuckets(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	loc := domain.WarehouseLocation(memory.SeedWarehouseID)
	seedDuplicateBuckets(t, repo, memory.SeedVaseProductID, loc, 3, 5)

	_, err := svc.CreatePurchaseInvoice(ctx, PurchaseInvoiceRequest{
		SupplierID: "sup-1",
		Location:   loc,
		RecordID:   memory.SeedTillRecordID,
		Lines:      []InvoiceLine{{ProductID: memory.SeedVaseProductID, Quantity: 10, UnitPrice: decimalPtr(70)}},
	})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}

	rows, _ := repo.ListVariants(ctx, memory.SeedVaseProductID, loc)
	buckets := 0
	for _, row := range rows {
		if row.Name == domain.UnspecifiedVariant {
			buckets++
			if row.Quantity != 18 {
				t.Fatalf("expected converged quantity 18, got %d", row.Quantity)
			}
		}
	}
	if buckets != 1 {
		t.Fatalf("expected exactly one unspecified bucket, got %d", buckets)
	}
}

func seedDuplicateBuckets(t *testing.T, repo *memory.Store, productID string, loc domain.Location, quantities ...int) {
	t.Helper()
	for _, qty := range quantities {
		repo.AppendVariant(domain.VariantRecord{
			ProductID: productID, Location: loc,
			VariantType: domain.VariantTypeColor, Name: domain.UnspecifiedVariant, Quantity: qty,
		})
	}
}

func TestReturnsInvertStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	branch := domain.BranchLocation(memory.SeedBranchID)
	if _, err := repo.SetInventory(ctx, domain.InventoryRecord{ProductID: memory.SeedVaseProductID, Location: branch, Quantity: 5}); err != nil {
		t.Fatalf("set inventory: %v", err)
	}

	if _, err := svc.CreateSalesInvoice(ctx, SalesInvoiceRequest{
		BranchID: memory.SeedBranchID, RecordID: memory.SeedTillRecordID, IsReturn: true,
		Lines: []InvoiceLine{{ProductID: memory.SeedVaseProductID, Quantity: 2}},
	}); err != nil {
		t.Fatalf("sales return: %v", err)
	}
	if got := branchQty(t, repo, memory.SeedVaseProductID); got != 7 {
		t.Fatalf("expected 7 after sales return, got %d", got)
	}

	if _, err := repo.SetInventory(ctx, domain.InventoryRecord{ProductID: memory.SeedVaseProductID, Location: branch, Quantity: 5}); err != nil {
		t.Fatalf("reset inventory: %v", err)
	}
	if _, err := svc.CreatePurchaseInvoice(ctx, PurchaseInvoiceRequest{
		SupplierID: "sup-1", Location: branch, RecordID: memory.SeedTillRecordID, IsReturn: true,
		Lines: []InvoiceLine{{ProductID: memory.SeedVaseProductID, Quantity: 2}},
	}); err != nil {
		t.Fatalf("purchase return: %v", err)
	}
	if got := branchQty(t, repo, memory.SeedVaseProductID); got != 3 {
		t.Fatalf("expected 3 after purchase return, got %d", got)
	}

	if _, err := svc.CreatePurchaseInvoice(ctx, PurchaseInvoiceRequest{
		SupplierID: "sup-1", Location: branch, RecordID: memory.SeedTillRecordID, IsReturn: true,
		Lines: []InvoiceLine{{ProductID: memory.SeedVaseProductID, Quantity: 9}},
	}); err != nil {
		t.Fatalf("purchase return: %v", err)
	}
	if got := branchQty(t, repo, memory.SeedVaseProductID); got != 0 {
		t.Fatalf("expected stock floored at 0, got %d", got)
	}
}

func TestPurchaseReturnDoesNotCreateInventory(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	loc := domain.WarehouseLocation(memory.SeedWarehouseID)

	if _, err := svc.CreatePurchaseInvoice(ctx, PurchaseInvoiceRequest{
		SupplierID: "sup-1", Location: loc, RecordID: memory.SeedTillRecordID, IsReturn: true,
		Lines: []InvoiceLine{{ProductID: memory.SeedTrayProductID, Quantity: 4}},
	}); err != nil {
		t.Fatalf("purchase return: %v", err)
	}
	if _, err := repo.GetInventory(ctx, memory.SeedTrayProductID, loc); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no inventory row, got %v", err)
	}
	rows, _ := repo.ListVariants(ctx, memory.SeedTrayProductID, loc)
	if len(rows) != 0 {
		t.Fatalf("expected no variant rows, got %d", len(rows))
	}
}

func TestCartLinesStayIndependent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	c, err := svc.CreateCart(ctx)
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}
	c, err = svc.AddCartLine(ctx, c.ID, AddCartLineRequest{
		ProductID: memory.SeedMugProductID, BranchID: memory.SeedBranchID,
		SelectedColors: map[string]int{"أحمر": 2},
	})
	if err != nil {
		t.Fatalf("add first line: %v", err)
	}
	c, err = svc.AddCartLine(ctx, c.ID, AddCartLineRequest{
		ProductID: memory.SeedMugProductID, BranchID: memory.SeedBranchID,
		SelectedColors: map[string]int{"أزرق": 1, "أخضر": 1},
	})
	if err != nil {
		t.Fatalf("add second line: %v", err)
	}
	if len(c.Lines) != 2 {
		t.Fatalf("expected two lines, got %d", len(c.Lines))
	}
	if !c.Total().Equal(decimal.NewFromInt(35 * 4)) {
		t.Fatalf("expected total 140, got %s", c.Total())
	}

	price := decimal.NewFromInt(30)
	c, err = svc.UpdateCartLine(ctx, c.ID, c.Lines[0].ID, UpdateCartLineRequest{UnitPrice: &price})
	if err != nil {
		t.Fatalf("update price: %v", err)
	}
	if !c.Lines[1].UnitPrice.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("expected second line price untouched, got %s", c.Lines[1].UnitPrice)
	}
	want := c.Lines[0].Total().Add(c.Lines[1].Total())
	if !c.Total().Equal(want) || !c.Total().Equal(decimal.NewFromInt(130)) {
		t.Fatalf("expected total 130, got %s", c.Total())
	}

	var verr *ValidationError
	if _, err := svc.AddCartLine(ctx, c.ID, AddCartLineRequest{
		ProductID: memory.SeedMugProductID, BranchID: memory.SeedBranchID,
		SelectedColors: map[string]int{"أحمر": 11},
	}); !errors.As(err, &verr) {
		t.Fatalf("expected selection above availability to be rejected, got %v", err)
	}
}

func TestSalesInvoiceMirrorsToMainRecord(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	c, _ := svc.CreateCart(ctx)
	c, err := svc.AddCartLine(ctx, c.ID, AddCartLineRequest{ProductID: memory.SeedVaseProductID, BranchID: memory.SeedBranchID, Quantity: 2})
	if err != nil {
		t.Fatalf("add line: %v", err)
	}
	res, err := svc.CreateSalesInvoice(ctx, SalesInvoiceRequest{
		CartID: c.ID, BranchID: memory.SeedBranchID, RecordID: memory.SeedTillRecordID,
	})
	if err != nil {
		t.Fatalf("sales invoice: %v", err)
	}
	if !strings.HasPrefix(res.InvoiceNumber, "INV-") || !res.TotalAmount.Equal(decimal.NewFromInt(240)) {
		t.Fatalf("unexpected result %+v", res)
	}

	till, _ := repo.ListInvoices(ctx, store.InvoiceFilter{RecordID: memory.SeedTillRecordID})
	main, _ := repo.ListInvoices(ctx, store.InvoiceFilter{RecordID: memory.SeedMainRecordID})
	if len(till) != 1 || len(main) != 1 {
		t.Fatalf("expected one invoice per record, got %d and %d", len(till), len(main))
	}
	if main[0].InvoiceNumber != res.InvoiceNumber+domain.MainRecordSuffix {
		t.Fatalf("expected mirrored number, got %s", main[0].InvoiceNumber)
	}
	primary, _ := repo.GetInvoice(ctx, till[0].ID)
	mirror, _ := repo.GetInvoice(ctx, main[0].ID)
	if len(primary.Items) != 1 || len(mirror.Items) != 1 {
		t.Fatalf("expected one item each, got %d and %d", len(primary.Items), len(mirror.Items))
	}
	if primary.Items[0].ProductID != mirror.Items[0].ProductID || primary.Items[0].Quantity != mirror.Items[0].Quantity || !primary.Items[0].UnitPrice.Equal(mirror.Items[0].UnitPrice) {
		t.Fatalf("expected identical mirrored items")
	}
	if primary.CustomerID != memory.SeedCustomerID {
		t.Fatalf("expected default customer, got %q", primary.CustomerID)
	}
	if got := branchQty(t, repo, memory.SeedVaseProductID); got != 6 {
		t.Fatalf("expected vase stock 6, got %d", got)
	}
	if _, err := svc.GetCart(ctx, c.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected cart discarded after invoice, got %v", err)
	}
}

func TestSalesInvoiceUnderMainRecordIsNotMirrored(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	if _, err := svc.CreateSalesInvoice(ctx, SalesInvoiceRequest{
		BranchID: memory.SeedBranchID, RecordID: memory.SeedMainRecordID,
		Lines: []InvoiceLine{{ProductID: memory.SeedTrayProductID, Quantity: 1}},
	}); err != nil {
		t.Fatalf("sales invoice: %v", err)
	}
	all, _ := repo.ListInvoices(ctx, store.InvoiceFilter{})
	if len(all) != 1 {
		t.Fatalf("expected a single invoice, got %d", len(all))
	}
}

func TestSalesInvoiceVariantDeltas(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	branch := domain.BranchLocation(memory.SeedBranchID)

	if _, err := svc.CreateSalesInvoice(ctx, SalesInvoiceRequest{
		BranchID: memory.SeedBranchID, RecordID: memory.SeedTillRecordID,
		Lines: []InvoiceLine{{
			ProductID:      memory.SeedMugProductID,
			SelectedColors: map[string]int{"أحمر": 3, domain.TotalUnspecifiedVariant: 2},
		}},
	}); err != nil {
		t.Fatalf("sales invoice: %v", err)
	}

	rows, _ := repo.ListVariants(ctx, memory.SeedMugProductID, branch)
	byName := map[string]int{}
	for _, row := range rows {
		byName[row.Name] = row.Quantity
	}
	if byName["أحمر"] != 7 || byName[domain.UnspecifiedVariant] != 4 || byName["أخضر"] != 4 {
		t.Fatalf("unexpected variant quantities %v", byName)
	}
	if got := branchQty(t, repo, memory.SeedMugProductID); got != 25 {
		t.Fatalf("expected mug stock 25, got %d", got)
	}
}

func TestSalesInvoiceItemFailureLeavesNoHeader(t *testing.T) {
	repo := &faultyRepo{Repository: memory.NewSeeded(), failItems: true}
	svc := newServiceWithRepo(repo)
	ctx := cashierCtx()

	_, err := svc.CreateSalesInvoice(ctx, SalesInvoiceRequest{
		BranchID: memory.SeedBranchID, RecordID: memory.SeedTillRecordID,
		Lines: []InvoiceLine{{ProductID: memory.SeedVaseProductID, Quantity: 1}},
	})
	var cerr *CommitError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected commit error, got %v", err)
	}
	all, _ := repo.ListInvoices(ctx, store.InvoiceFilter{})
	if len(all) != 0 {
		t.Fatalf("expected no orphan header, got %d invoices", len(all))
	}
	if got := branchQty(t, repo, memory.SeedVaseProductID); got != 8 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
}

func TestSecondaryWriteFailuresKeepInvoice(t *testing.T) {
	repo := &faultyRepo{Repository: memory.NewSeeded(), failMainMirror: true, failInventory: true}
	svc := newServiceWithRepo(repo)
	ctx := cashierCtx()

	res, err := svc.CreateSalesInvoice(ctx, SalesInvoiceRequest{
		BranchID: memory.SeedBranchID, RecordID: memory.SeedTillRecordID,
		Lines: []InvoiceLine{{ProductID: memory.SeedVaseProductID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("expected invoice to succeed, got %v", err)
	}
	if _, err := repo.GetInvoice(ctx, res.InvoiceID); err != nil {
		t.Fatalf("expected primary invoice stored, got %v", err)
	}
	main, _ := repo.ListInvoices(ctx, store.InvoiceFilter{RecordID: memory.SeedMainRecordID})
	if len(main) != 0 {
		t.Fatalf("expected no mirror, got %d", len(main))
	}
}

func TestSalesValidationHappensFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()
	var verr *ValidationError

	if _, err := svc.CreateSalesInvoice(ctx, SalesInvoiceRequest{RecordID: memory.SeedTillRecordID, Lines: []InvoiceLine{{ProductID: "x", Quantity: 1}}}); !errors.As(err, &verr) || verr.Field != "branch_id" {
		t.Fatalf("expected branch validation error, got %v", err)
	}
	if _, err := svc.CreateSalesInvoice(ctx, SalesInvoiceRequest{BranchID: memory.SeedBranchID, Lines: []InvoiceLine{{ProductID: "x", Quantity: 1}}}); !errors.As(err, &verr) || verr.Field != "record_id" {
		t.Fatalf("expected record validation error, got %v", err)
	}
	if _, err := svc.CreateSalesInvoice(ctx, SalesInvoiceRequest{BranchID: memory.SeedBranchID, RecordID: memory.SeedTillRecordID}); !errors.As(err, &verr) || verr.Field != "lines" {
		t.Fatalf("expected empty cart error, got %v", err)
	}
	if _, err := svc.CreatePurchaseInvoice(ctx, PurchaseInvoiceRequest{
		SupplierID: "sup-1", RecordID: memory.SeedTillRecordID,
		Location: domain.Location{Kind: "shelf", ID: "x"},
		Lines:    []InvoiceLine{{ProductID: "x", Quantity: 1}},
	}); !errors.As(err, &verr) {
		t.Fatalf("expected location validation error, got %v", err)
	}
}

func TestProductVariantsUsesCacheUntilStockChanges(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	options, err := svc.ProductVariants(ctx, memory.SeedMugProductID, memory.SeedBranchID)
	if err != nil {
		t.Fatalf("variants: %v", err)
	}
	if len(options) != 5 {
		t.Fatalf("expected 3 embedded colors, green and the synthetic option, got %+v", options)
	}
	if options[0].Available != 10 {
		t.Fatalf("expected even split of 30 over 3 colors, got %d", options[0].Available)
	}

	if _, err := svc.AdjustInventory(ctx, memory.SeedMugProductID, domain.BranchLocation(memory.SeedBranchID), -6, false); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	options, err = svc.ProductVariants(ctx, memory.SeedMugProductID, memory.SeedBranchID)
	if err != nil {
		t.Fatalf("variants: %v", err)
	}
	if options[0].Available != 8 {
		t.Fatalf("expected refreshed split 8 after stock change, got %d", options[0].Available)
	}
}

func TestAuditLogsRequireAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.ListAuditLogs(cashierCtx(), "", 10); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for cashier, got %v", err)
	}
	admin := WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
	if _, err := svc.ListAuditLogs(admin, "", 10); err != nil {
		t.Fatalf("expected admin to list audit logs: %v", err)
	}
}

func decimalPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestCartPriceEditedToZeroSurvivesInvoice(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	c, _ := svc.CreateCart(ctx)
	c, err := svc.AddCartLine(ctx, c.ID, AddCartLineRequest{ProductID: memory.SeedVaseProductID, BranchID: memory.SeedBranchID, Quantity: 2})
	if err != nil {
		t.Fatalf("add line: %v", err)
	}
	free := decimal.Zero
	c, err = svc.UpdateCartLine(ctx, c.ID, c.Lines[0].ID, UpdateCartLineRequest{UnitPrice: &free})
	if err != nil {
		t.Fatalf("update price: %v", err)
	}
	if !c.Total().IsZero() {
		t.Fatalf("expected cart total 0, got %s", c.Total())
	}

	res, err := svc.CreateSalesInvoice(ctx, SalesInvoiceRequest{
		CartID: c.ID, BranchID: memory.SeedBranchID, RecordID: memory.SeedTillRecordID,
	})
	if err != nil {
		t.Fatalf("sales invoice: %v", err)
	}
	if !res.TotalAmount.IsZero() {
		t.Fatalf("expected invoice total 0, got %s", res.TotalAmount)
	}
	invoice, err := repo.GetInvoice(ctx, res.InvoiceID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if len(invoice.Items) != 1 || !invoice.Items[0].UnitPrice.IsZero() {
		t.Fatalf("expected zero-priced item, got %+v", invoice.Items)
	}
}

func TestInlineLinePricing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	res, err := svc.CreateSalesInvoice(ctx, SalesInvoiceRequest{
		BranchID: memory.SeedBranchID, RecordID: memory.SeedTillRecordID,
		Lines: []InvoiceLine{
			{ProductID: memory.SeedVaseProductID, Quantity: 1},
			{ProductID: memory.SeedTrayProductID, Quantity: 1, UnitPrice: decimalPtr(0)},
		},
	})
	if err != nil {
		t.Fatalf("sales invoice: %v", err)
	}
	if !res.TotalAmount.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("expected catalog price for the omitted line only, got %s", res.TotalAmount)
	}
}

func TestSaleDoesNotCreateInventory(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	north := domain.BranchLocation("branch-north")

	if _, err := svc.CreateSalesInvoice(ctx, SalesInvoiceRequest{
		BranchID: "branch-north", RecordID: memory.SeedTillRecordID,
		Lines: []InvoiceLine{{ProductID: memory.SeedVaseProductID, Quantity: 1}},
	}); err != nil {
		t.Fatalf("sales invoice: %v", err)
	}
	if _, err := repo.GetInventory(ctx, memory.SeedVaseProductID, north); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no inventory row after a sale, got %v", err)
	}

	if _, err := svc.CreateSalesInvoice(ctx, SalesInvoiceRequest{
		BranchID: "branch-north", RecordID: memory.SeedTillRecordID, IsReturn: true,
		Lines: []InvoiceLine{{ProductID: memory.SeedVaseProductID, Quantity: 2}},
	}); err != nil {
		t.Fatalf("sales return: %v", err)
	}
	rec, err := repo.GetInventory(ctx, memory.SeedVaseProductID, north)
	if err != nil {
		t.Fatalf("expected a row after the return, got %v", err)
	}
	if rec.Quantity != 2 {
		t.Fatalf("expected returned stock 2, got %d", rec.Quantity)
	}
}

func TestConcurrentCartAddsKeepEveryLine(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()
	c, err := svc.CreateCart(ctx)
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}

	const adds = 20
	var wg sync.WaitGroup
	errs := make(chan error, adds)
	for i := 0; i < adds; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddCartLine(ctx, c.ID, AddCartLineRequest{ProductID: memory.SeedTrayProductID, BranchID: memory.SeedBranchID, Quantity: 1})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("add line: %v", err)
		}
	}

	got, err := svc.GetCart(ctx, c.ID)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(got.Lines) != adds {
		t.Fatalf("expected %d lines, got %d", adds, len(got.Lines))
	}
	if len(svc.carts.locks) != 0 {
		t.Fatalf("expected cart locks released, got %d", len(svc.carts.locks))
	}
}
