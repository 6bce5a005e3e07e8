package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/logger"
	"retailpos/backend/internal/realtime"
	"retailpos/backend/internal/store"
)

func validateLocation(loc domain.Location) error {
	if !loc.Valid() {
		return invalid("location", "exactly one branch or warehouse is required")
	}
	return nil
}

func (s *Service) ListInventory(ctx context.Context, loc domain.Location) ([]domain.InventoryRecord, error) {
	if err := validateLocation(loc); err != nil {
		return nil, err
	}
	return s.repo.ListInventory(ctx, loc)
}

// LowStock lists rows at or below their minimum stock.
func (s *Service) LowStock(ctx context.Context, loc domain.Location) ([]domain.InventoryRecord, error) {
	records, err := s.ListInventory(ctx, loc)
	if err != nil {
		return nil, err
	}
	low := make([]domain.InventoryRecord, 0, len(records))
	for _, rec := range records {
		if rec.Quantity <= rec.MinStock {
			low = append(low, rec)
		}
	}
	return low, nil
}

// AdjustInventory applies a signed delta floored at zero.
func (s *Service) AdjustInventory(ctx context.Context, productID string, loc domain.Location, delta int, createIfMissing bool) (*domain.InventoryRecord, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, invalid("product_id", "required")
	}
	if err := validateLocation(loc); err != nil {
		return nil, err
	}
	if delta == 0 {
		return nil, invalid("delta", "must not be zero")
	}

	rec, err := s.repo.AdjustInventory(ctx, productID, loc, delta, createIfMissing)
	if err != nil {
		return nil, err
	}
	s.afterInventoryWrite(ctx, rec)
	s.logAudit(ctx, "inventory_adjust", "inventory", rec.ID, fmt.Sprintf("product=%s,location=%s,delta=%d,quantity=%d", productID, loc.Key(), delta, rec.Quantity))
	return rec, nil
}

// SetInventory writes an absolute quantity, creating the row when needed.
func (s *Service) SetInventory(ctx context.Context, productID string, loc domain.Location, quantity int, minStock int) (*domain.InventoryRecord, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, invalid("product_id", "required")
	}
	if err := validateLocation(loc); err != nil {
		return nil, err
	}
	if quantity < 0 || minStock < 0 {
		return nil, invalid("quantity", "must not be negative")
	}

	rec, err := s.repo.SetInventory(ctx, domain.InventoryRecord{
		ProductID: productID,
		Location:  loc,
		Quantity:  quantity,
		MinStock:  minStock,
		UpdatedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}
	s.afterInventoryWrite(ctx, rec)
	s.logAudit(ctx, "inventory_set", "inventory", rec.ID, fmt.Sprintf("product=%s,location=%s,quantity=%d,min=%d", productID, loc.Key(), quantity, minStock))
	return rec, nil
}

func (s *Service) afterInventoryWrite(ctx context.Context, rec *domain.InventoryRecord) {
	s.publish(ctx, realtime.TableInventory, realtime.EventUpdate, rec.ID, rec, map[string]string{
		"product_id": rec.ProductID,
	})
	s.invalidateVariantOptions(ctx, rec.ProductID, rec.Location)
}

// applyStockDelta is the non-fatal inventory step of an invoice commit.
func (s *Service) applyStockDelta(ctx context.Context, invoiceNumber string, productID string, loc domain.Location, delta int, createIfMissing bool) {
	if delta == 0 {
		return
	}
	rec, err := s.repo.AdjustInventory(ctx, productID, loc, delta, createIfMissing)
	if err != nil {
		entry := logger.With("service").WithFields(logrus.Fields{
			"invoice":  invoiceNumber,
			"product":  productID,
			"location": loc.Key(),
			"delta":    delta,
		})
		if !createIfMissing && errors.Is(err, store.ErrNotFound) {
			entry.Debug("no inventory row to update")
			return
		}
		entry.WithError(err).Warn("inventory update after invoice commit failed")
		return
	}
	s.afterInventoryWrite(ctx, rec)
}
