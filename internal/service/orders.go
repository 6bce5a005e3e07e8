package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"retailpos/backend/internal/cart"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/logger"
	"retailpos/backend/internal/realtime"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// gatedTransitions need a committed sales invoice before the status moves.
var gatedTransitions = map[string]string{
	domain.OrderStatusReadyForPickup:   domain.OrderStatusDelivered,
	domain.OrderStatusReadyForShipping: domain.OrderStatusShipped,
}

var interruptible = []string{
	domain.OrderStatusPending,
	domain.OrderStatusProcessing,
	domain.OrderStatusReadyForPickup,
	domain.OrderStatusReadyForShipping,
	domain.OrderStatusShipped,
}

const groupNotesSeparator = " | "

// OrderView is an order with its display-ready derived fields.
type OrderView struct {
	domain.Order
	Groups        []domain.GroupedOrderItem `json:"groups"`
	Progress      float64                   `json:"progress"`
	TimeRemaining *Remaining                `json:"time_remaining,omitempty"`
}

// Remaining counts down to the next time-driven rule. Value may be zero or
// negative when the rule is due on the next sweep.
type Remaining struct {
	Unit  string `json:"unit"`
	Value int    `json:"value"`
}

// GateInput carries the invoice fields collected before a gated transition.
type GateInput struct {
	BranchID   string           `json:"branch_id"`
	RecordID   string           `json:"record_id"`
	CustomerID string           `json:"customer_id,omitempty"`
	PaidAmount *decimal.Decimal `json:"paid_amount,omitempty"`
	Notes      string           `json:"notes,omitempty"`
}

type AdvanceResult struct {
	Order   OrderView                  `json:"order"`
	Invoice *domain.OrderInvoiceResult `json:"invoice,omitempty"`
}

// OrderItemEdit is one line kept by a manual edit. Lines of the original
// order missing from the edit are removed.
type OrderItemEdit struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
	Notes    string `json:"notes"`
}

type SweepReport struct {
	Deleted   int `json:"deleted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// GroupItems merges raw rows of the same product, falling back to the
// product name when there is no product id.
func GroupItems(items []domain.OrderItem) []domain.GroupedOrderItem {
	groups := make([]domain.GroupedOrderItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		key := item.ProductID
		if key == "" {
			key = "name:" + item.ProductName
		}
		idx, ok := index[key]
		if !ok {
			index[key] = len(groups)
			groups = append(groups, domain.GroupedOrderItem{
				Key:         key,
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
				Notes:       strings.TrimSpace(item.Notes),
				IsPrepared:  item.IsPrepared,
				ItemIDs:     []string{item.ID},
			})
			continue
		}

		g := &groups[idx]
		g.Quantity += item.Quantity
		g.IsPrepared = g.IsPrepared || item.IsPrepared
		g.ItemIDs = append(g.ItemIDs, item.ID)
		note := strings.TrimSpace(item.Notes)
		if note != "" && !slices.Contains(strings.Split(g.Notes, groupNotesSeparator), note) {
			if g.Notes == "" {
				g.Notes = note
			} else {
				g.Notes += groupNotesSeparator + note
			}
		}
	}
	return groups
}

// PreparationProgress is the prepared share of grouped items, 0..100.
func PreparationProgress(groups []domain.GroupedOrderItem) float64 {
	if len(groups) == 0 {
		return 0
	}
	prepared := 0
	for _, g := range groups {
		if g.IsPrepared {
			prepared++
		}
	}
	return float64(prepared) / float64(len(groups)) * 100
}

// TimeRemaining reports hours until a cancelled order is deleted or days
// until a shipped order is marked delivered.
func (s *Service) TimeRemaining(order domain.Order, now time.Time) *Remaining {
	elapsed := now.Sub(order.UpdatedAt)
	switch order.Status {
	case domain.OrderStatusCancelled:
		return &Remaining{
			Unit:  "hours",
			Value: int(s.opts.CancelledRetention.Hours()) - int(elapsed.Hours()),
		}
	case domain.OrderStatusShipped:
		return &Remaining{
			Unit:  "days",
			Value: int(s.opts.ShippedAutoDeliver.Hours()/24) - int(elapsed.Hours()/24),
		}
	default:
		return nil
	}
}

func (s *Service) view(order *domain.Order) OrderView {
	groups := GroupItems(order.Items)
	return OrderView{
		Order:         *order,
		Groups:        groups,
		Progress:      PreparationProgress(groups),
		TimeRemaining: s.TimeRemaining(*order, s.now()),
	}
}

func (s *Service) ListOrders(ctx context.Context, statuses []string, limit int) ([]OrderView, error) {
	orders, err := s.repo.ListOrders(ctx, store.OrderFilter{Statuses: statuses, Limit: limit})
	if err != nil {
		return nil, err
	}
	views := make([]OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, s.view(&orders[i]))
	}
	return views, nil
}

func (s *Service) GetOrder(ctx context.Context, orderNumber int64) (OrderView, error) {
	order, err := s.repo.GetOrder(ctx, orderNumber)
	if err != nil {
		return OrderView{}, err
	}
	return s.view(order), nil
}

func (s *Service) StartPreparation(ctx context.Context, orderNumber int64) (OrderView, error) {
	return s.transition(ctx, orderNumber, domain.OrderStatusPending, domain.OrderStatusProcessing)
}

// SetItemPrepared toggles every raw row of one grouped item.
func (s *Service) SetItemPrepared(ctx context.Context, orderNumber int64, groupKey string, prepared bool) (OrderView, error) {
	order, err := s.repo.GetOrder(ctx, orderNumber)
	if err != nil {
		return OrderView{}, err
	}
	if order.Status != domain.OrderStatusProcessing {
		return OrderView{}, fmt.Errorf("%w: items can only be prepared while processing, order is %s", ErrInvalidTransition, order.Status)
	}

	groups := GroupItems(order.Items)
	idx := slices.IndexFunc(groups, func(g domain.GroupedOrderItem) bool { return g.Key == groupKey })
	if idx < 0 {
		return OrderView{}, fmt.Errorf("item group %q: %w", groupKey, store.ErrNotFound)
	}

	by := ""
	if prepared {
		by = actorName(ctx)
	}
	if err := s.repo.SetOrderItemsPrepared(ctx, orderNumber, groups[idx].ItemIDs, prepared, by, s.now()); err != nil {
		return OrderView{}, err
	}

	updated, err := s.repo.GetOrder(ctx, orderNumber)
	if err != nil {
		return OrderView{}, err
	}
	for _, item := range updated.Items {
		if slices.Contains(groups[idx].ItemIDs, item.ID) {
			s.publish(ctx, realtime.TableOrderItems, realtime.EventUpdate, item.ID, item, map[string]string{
				"order_number": fmt.Sprint(orderNumber),
			})
		}
	}
	s.logAudit(ctx, "order_item_prepared", "order", fmt.Sprint(orderNumber), fmt.Sprintf("group=%s,prepared=%t", groupKey, prepared))
	return s.view(updated), nil
}

// CompletePreparation moves a fully prepared order to its ready state.
// Unknown delivery types are treated as pickup.
func (s *Service) CompletePreparation(ctx context.Context, orderNumber int64) (OrderView, error) {
	order, err := s.repo.GetOrder(ctx, orderNumber)
	if err != nil {
		return OrderView{}, err
	}
	next := domain.OrderStatusReadyForPickup
	if order.DeliveryType == domain.DeliveryTypeDelivery {
		next = domain.OrderStatusReadyForShipping
	}
	if order.Status != domain.OrderStatusProcessing {
		return OrderView{}, transitionError(order.Status, next)
	}

	groups := GroupItems(order.Items)
	if len(groups) == 0 {
		return OrderView{}, invalid("items", "order has no items")
	}
	for _, g := range groups {
		if !g.IsPrepared {
			return OrderView{}, invalid("items", fmt.Sprintf("%s is not prepared yet", g.ProductName))
		}
	}
	return s.transition(ctx, orderNumber, domain.OrderStatusProcessing, next)
}

// Advance moves an order one step forward. Leaving a ready state requires a
// sales invoice, which the store commits together with the status change.
func (s *Service) Advance(ctx context.Context, orderNumber int64, gate GateInput) (AdvanceResult, error) {
	order, err := s.repo.GetOrder(ctx, orderNumber)
	if err != nil {
		return AdvanceResult{}, err
	}

	if order.Status == domain.OrderStatusShipped {
		view, err := s.transition(ctx, orderNumber, domain.OrderStatusShipped, domain.OrderStatusDelivered)
		if err != nil {
			return AdvanceResult{}, err
		}
		return AdvanceResult{Order: view}, nil
	}

	next, gated := gatedTransitions[order.Status]
	if !gated {
		return AdvanceResult{}, fmt.Errorf("%w: cannot advance from %s", ErrInvalidTransition, order.Status)
	}

	gate.BranchID = strings.TrimSpace(gate.BranchID)
	gate.RecordID = strings.TrimSpace(gate.RecordID)
	if gate.BranchID == "" {
		return AdvanceResult{}, invalid("branch_id", "branch is required")
	}
	if gate.RecordID == "" {
		return AdvanceResult{}, invalid("record_id", "record is required")
	}
	invoiceable := order.InvoiceableAmount()
	paid := invoiceable
	if gate.PaidAmount != nil {
		paid = *gate.PaidAmount
	}
	if paid.IsNegative() || paid.GreaterThan(invoiceable) {
		return AdvanceResult{}, invalid("paid_amount", fmt.Sprintf("must be between 0 and %s", invoiceable.StringFixed(2)))
	}
	customerID := strings.TrimSpace(gate.CustomerID)
	if customerID == "" {
		customerID = s.opts.DefaultCustomerID
	}

	now := s.now()
	result, err := s.repo.CreateOrderInvoice(ctx, domain.OrderInvoiceParams{
		OrderNumber:   orderNumber,
		FromStatus:    order.Status,
		InvoiceID:     xid.New(),
		InvoiceNumber: xid.InvoiceNumber(salesInvoicePrefix, now),
		PaidAmount:    paid,
		BranchID:      gate.BranchID,
		RecordID:      gate.RecordID,
		CustomerID:    customerID,
		Notes:         strings.TrimSpace(gate.Notes),
		NextStatus:    next,
		CreatedBy:     actorName(ctx),
		At:            now,
	})
	if err != nil {
		return AdvanceResult{}, &CommitError{Message: msgOrderInvoiceFailed, Err: err}
	}
	if !result.Success {
		return AdvanceResult{}, &CommitError{Message: msgOrderInvoiceFailed, Err: errors.New(result.Error)}
	}

	invoice := result.Invoice
	s.mirrorToMainRecord(ctx, invoice, invoice.Items)
	for _, item := range invoice.Items {
		s.applyStockDelta(ctx, invoice.InvoiceNumber, item.ProductID, invoice.Location, -item.Quantity, true)
		s.applyVariantDeltas(ctx, invoice.InvoiceNumber, item.ProductID, invoice.Location, cart.ParseVariantNotes(item.Notes), -1)
	}
	s.publish(ctx, realtime.TableInvoices, realtime.EventInsert, invoice.ID, invoice, map[string]string{
		"record_id": invoice.RecordID,
	})

	updated, err := s.repo.GetOrder(ctx, orderNumber)
	if err != nil {
		return AdvanceResult{}, err
	}
	s.publishOrder(ctx, realtime.EventUpdate, updated)
	s.logAudit(ctx, "order_status", "order", fmt.Sprint(orderNumber), fmt.Sprintf("from=%s,to=%s,invoice=%s", order.Status, next, result.InvoiceNumber))
	return AdvanceResult{Order: s.view(updated), Invoice: &result}, nil
}

func (s *Service) MarkCancelled(ctx context.Context, orderNumber int64) (OrderView, error) {
	return s.interrupt(ctx, orderNumber, domain.OrderStatusCancelled)
}

func (s *Service) MarkIssue(ctx context.Context, orderNumber int64) (OrderView, error) {
	return s.interrupt(ctx, orderNumber, domain.OrderStatusIssue)
}

func (s *Service) interrupt(ctx context.Context, orderNumber int64, to string) (OrderView, error) {
	order, err := s.repo.GetOrder(ctx, orderNumber)
	if err != nil {
		return OrderView{}, err
	}
	if !slices.Contains(interruptible, order.Status) {
		return OrderView{}, transitionError(order.Status, to)
	}
	return s.transition(ctx, orderNumber, order.Status, to)
}

// transition is the conditional status write shared by every ungated move.
func (s *Service) transition(ctx context.Context, orderNumber int64, from string, to string) (OrderView, error) {
	current, err := s.repo.GetOrder(ctx, orderNumber)
	if err != nil {
		return OrderView{}, err
	}
	if current.Status != from {
		return OrderView{}, transitionError(current.Status, to)
	}

	updated, err := s.repo.UpdateOrderStatus(ctx, orderNumber, from, to, s.now())
	if errors.Is(err, store.ErrConflict) {
		return OrderView{}, fmt.Errorf("%w: order %d changed concurrently", ErrInvalidTransition, orderNumber)
	}
	if err != nil {
		return OrderView{}, err
	}

	s.publishOrder(ctx, realtime.EventUpdate, updated)
	s.logAudit(ctx, "order_status", "order", fmt.Sprint(orderNumber), fmt.Sprintf("from=%s,to=%s", from, to))
	return s.view(updated), nil
}

// EditItems replaces the editable lines of a pending or processing order and
// recomputes its totals.
func (s *Service) EditItems(ctx context.Context, orderNumber int64, edits []OrderItemEdit) (OrderView, error) {
	order, err := s.repo.GetOrder(ctx, orderNumber)
	if err != nil {
		return OrderView{}, err
	}
	if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusProcessing {
		return OrderView{}, fmt.Errorf("%w: items can only be edited while pending or processing, order is %s", ErrInvalidTransition, order.Status)
	}
	if len(edits) == 0 {
		return OrderView{}, invalid("items", "order must keep at least one item")
	}

	originals := make(map[string]domain.OrderItem, len(order.Items))
	for _, item := range order.Items {
		originals[item.ID] = item
	}

	kept := make(map[string]struct{}, len(edits))
	changes := make([]store.OrderItemChange, 0, len(edits))
	subtotal := decimal.Zero
	for i, edit := range edits {
		original, ok := originals[edit.ID]
		if !ok {
			return OrderView{}, invalid(fmt.Sprintf("items[%d].id", i), "not part of this order")
		}
		if _, dup := kept[edit.ID]; dup {
			return OrderView{}, invalid(fmt.Sprintf("items[%d].id", i), "listed twice")
		}
		if edit.Quantity < 1 {
			return OrderView{}, invalid(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
		kept[edit.ID] = struct{}{}
		changes = append(changes, store.OrderItemChange{ID: edit.ID, Quantity: edit.Quantity, Notes: strings.TrimSpace(edit.Notes)})
		subtotal = subtotal.Add(original.UnitPrice.Mul(decimal.NewFromInt(int64(edit.Quantity))))
	}

	removed := make([]string, 0)
	for _, item := range order.Items {
		if _, ok := kept[item.ID]; !ok {
			removed = append(removed, item.ID)
		}
	}

	update := store.OrderItemsUpdate{
		OrderNumber: orderNumber,
		Changes:     changes,
		RemovedIDs:  removed,
		Total:       subtotal,
		At:          s.now(),
	}
	if order.SubtotalAmount != nil && order.ShippingAmount != nil {
		update.Subtotal = &subtotal
		update.Total = subtotal.Add(*order.ShippingAmount)
	}

	updated, err := s.repo.UpdateOrderItems(ctx, update)
	if err != nil {
		return OrderView{}, err
	}
	filter := map[string]string{"order_number": fmt.Sprint(orderNumber)}
	for _, id := range removed {
		s.publish(ctx, realtime.TableOrderItems, realtime.EventDelete, id, nil, filter)
	}
	for _, item := range updated.Items {
		s.publish(ctx, realtime.TableOrderItems, realtime.EventUpdate, item.ID, item, filter)
	}
	s.publishOrder(ctx, realtime.EventUpdate, updated)
	s.logAudit(ctx, "order_edit", "order", fmt.Sprint(orderNumber), fmt.Sprintf("kept=%d,removed=%d,total=%s", len(changes), len(removed), updated.TotalAmount.StringFixed(2)))
	return s.view(updated), nil
}

// Sweep applies the time-driven order rules to the current store state.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	orders, err := s.repo.ListOrders(ctx, store.OrderFilter{
		Statuses: []string{domain.OrderStatusCancelled, domain.OrderStatusShipped},
	})
	if err != nil {
		return SweepReport{}, err
	}
	return s.SweepOrders(ctx, orders, now), nil
}

// SweepOrders deletes expired cancelled orders and delivers long-shipped
// ones. Each order is handled on its own; a failure is logged and counted.
func (s *Service) SweepOrders(ctx context.Context, orders []domain.Order, now time.Time) SweepReport {
	var report SweepReport
	for _, order := range orders {
		entry := logger.With("service").WithFields(logrus.Fields{
			"order":  order.OrderNumber,
			"status": order.Status,
		})
		age := now.Sub(order.UpdatedAt)

		switch {
		case order.Status == domain.OrderStatusCancelled && age >= s.opts.CancelledRetention:
			if err := s.deleteExpiredOrder(ctx, order.OrderNumber); err != nil {
				report.Failed++
				entry.WithError(err).Warn("failed to delete expired cancelled order")
				continue
			}
			report.Deleted++

		case order.Status == domain.OrderStatusShipped && age >= s.opts.ShippedAutoDeliver:
			updated, err := s.repo.UpdateOrderStatus(ctx, order.OrderNumber, domain.OrderStatusShipped, domain.OrderStatusDelivered, now)
			if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				report.Failed++
				entry.WithError(err).Warn("failed to auto-deliver shipped order")
				continue
			}
			report.Delivered++
			s.publishOrder(ctx, realtime.EventUpdate, updated)
			s.logAudit(ctx, "order_auto_deliver", "order", fmt.Sprint(order.OrderNumber), fmt.Sprintf("shipped_for=%s", age.Truncate(time.Minute)))
		}
	}
	return report
}

func (s *Service) deleteExpiredOrder(ctx context.Context, orderNumber int64) error {
	if err := s.repo.DeleteOrderItems(ctx, orderNumber); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	if err := s.repo.DeleteOrder(ctx, orderNumber); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete order: %w", err)
	}
	s.publish(ctx, realtime.TableOrders, realtime.EventDelete, fmt.Sprint(orderNumber), nil, nil)
	s.logAudit(ctx, "order_expire", "order", fmt.Sprint(orderNumber), "cancelled order removed")
	return nil
}

// RunSweep is the operator-triggered sweep.
func (s *Service) RunSweep(ctx context.Context) (SweepReport, error) {
	if err := requireAdmin(ctx); err != nil {
		return SweepReport{}, err
	}
	return s.Sweep(ctx, s.now())
}

// Now exposes the service clock to background workers.
func (s *Service) Now() time.Time {
	return s.now()
}
