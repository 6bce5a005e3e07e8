package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"retailpos/backend/internal/cart"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/logger"
	"retailpos/backend/internal/realtime"
	"retailpos/backend/internal/store"
)

func variantOptionsKey(productID string, loc domain.Location) string {
	return "variants:" + productID + ":" + loc.Key()
}

func (s *Service) invalidateVariantOptions(ctx context.Context, productID string, loc domain.Location) {
	if err := s.cache.Delete(ctx, variantOptionsKey(productID, loc)); err != nil {
		logger.With("service").WithError(err).WithField("product", productID).Warn("failed to invalidate variant cache")
	}
}

func validVariantType(variantType string) bool {
	return variantType == domain.VariantTypeColor || variantType == domain.VariantTypeShape
}

func (s *Service) ListVariants(ctx context.Context, productID string, loc domain.Location) ([]domain.VariantRecord, error) {
	if err := validateLocation(loc); err != nil {
		return nil, err
	}
	return s.repo.ListVariants(ctx, strings.TrimSpace(productID), loc)
}

// UpsertVariant adds to an existing (product, location, type, name) row or
// inserts a new one.
func (s *Service) UpsertVariant(ctx context.Context, v domain.VariantRecord) (*domain.VariantRecord, error) {
	v.ProductID = strings.TrimSpace(v.ProductID)
	v.Name = strings.TrimSpace(v.Name)
	if v.VariantType == "" {
		v.VariantType = domain.VariantTypeColor
	}
	if v.ProductID == "" || v.Name == "" {
		return nil, invalid("variant", "product_id and name are required")
	}
	if !validVariantType(v.VariantType) {
		return nil, invalid("variant_type", "must be color or shape")
	}
	if err := validateLocation(v.Location); err != nil {
		return nil, err
	}
	if v.Quantity < 0 {
		return nil, invalid("quantity", "must not be negative")
	}
	if v.ColorHex == "" && v.VariantType == domain.VariantTypeColor {
		v.ColorHex = cart.ColorHex(v.Name)
	}
	v.UpdatedAt = s.now()

	saved, err := s.repo.UpsertVariant(ctx, v)
	if err != nil {
		return nil, err
	}
	s.afterVariantWrite(ctx, saved)
	s.logAudit(ctx, "variant_upsert", "variant", saved.ID, fmt.Sprintf("product=%s,name=%s,quantity=%d", saved.ProductID, saved.Name, saved.Quantity))
	return saved, nil
}

// AdjustVariant applies a signed delta floored at zero to an existing row.
func (s *Service) AdjustVariant(ctx context.Context, productID string, loc domain.Location, variantType string, name string, delta int) (*domain.VariantRecord, error) {
	productID = strings.TrimSpace(productID)
	name = strings.TrimSpace(name)
	if productID == "" || name == "" {
		return nil, invalid("variant", "product_id and name are required")
	}
	if !validVariantType(variantType) {
		return nil, invalid("variant_type", "must be color or shape")
	}
	if err := validateLocation(loc); err != nil {
		return nil, err
	}

	saved, err := s.repo.AdjustVariant(ctx, productID, loc, variantType, name, delta)
	if err != nil {
		return nil, err
	}
	s.afterVariantWrite(ctx, saved)
	s.logAudit(ctx, "variant_adjust", "variant", saved.ID, fmt.Sprintf("product=%s,name=%s,delta=%d", productID, name, delta))
	return saved, nil
}

// ReconcileUnspecified folds every unspecified bucket of the product at loc
// into one row carrying their sum plus delta.
func (s *Service) ReconcileUnspecified(ctx context.Context, productID string, loc domain.Location, delta int, allowCreate bool) (*domain.VariantRecord, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, invalid("product_id", "required")
	}
	if err := validateLocation(loc); err != nil {
		return nil, err
	}
	saved, err := s.repo.ReconcileVariantBucket(ctx, productID, loc, domain.VariantTypeColor, domain.UnspecifiedVariant, delta, allowCreate)
	if err != nil {
		return nil, err
	}
	s.afterVariantWrite(ctx, saved)
	return saved, nil
}

func (s *Service) afterVariantWrite(ctx context.Context, v *domain.VariantRecord) {
	s.publish(ctx, realtime.TableVariants, realtime.EventUpdate, v.ID, v, map[string]string{
		"product_id": v.ProductID,
	})
	s.invalidateVariantOptions(ctx, v.ProductID, v.Location)
}

// applyVariantDeltas is the non-fatal variant step of an invoice commit.
// The synthetic total-unspecified selection moves the unspecified bucket.
func (s *Service) applyVariantDeltas(ctx context.Context, invoiceNumber string, productID string, loc domain.Location, selections map[string]int, sign int) {
	for name, qty := range selections {
		if qty <= 0 {
			continue
		}
		delta := sign * qty
		var (
			saved *domain.VariantRecord
			err   error
		)
		if name == domain.TotalUnspecifiedVariant || name == domain.UnspecifiedVariant {
			saved, err = s.repo.ReconcileVariantBucket(ctx, productID, loc, domain.VariantTypeColor, domain.UnspecifiedVariant, delta, delta > 0)
		} else {
			saved, err = s.repo.AdjustVariant(ctx, productID, loc, domain.VariantTypeColor, name, delta)
		}
		if err != nil {
			entry := logger.With("service").WithFields(logrus.Fields{
				"invoice": invoiceNumber,
				"product": productID,
				"variant": name,
				"delta":   delta,
			})
			if errors.Is(err, store.ErrNotFound) {
				entry.Info("no variant row to adjust")
			} else {
				entry.WithError(err).Warn("variant update after invoice commit failed")
			}
			continue
		}
		s.afterVariantWrite(ctx, saved)
	}
}

// ProductVariants returns the selectable variants of a product at a branch.
// Results are cached briefly and dropped on any stock write.
func (s *Service) ProductVariants(ctx context.Context, productID string, branchID string) ([]cart.VariantOption, error) {
	productID = strings.TrimSpace(productID)
	branchID = strings.TrimSpace(branchID)
	if productID == "" {
		return nil, invalid("product_id", "required")
	}
	if branchID == "" {
		return nil, invalid("branch_id", "required")
	}
	loc := domain.BranchLocation(branchID)
	key := variantOptionsKey(productID, loc)

	var cached []cart.VariantOption
	if ok, err := s.cache.Get(ctx, key, &cached); err != nil {
		logger.With("service").WithError(err).WithField("key", key).Warn("variant cache read failed")
	} else if ok {
		return cached, nil
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	branchQty := 0
	inv, err := s.repo.GetInventory(ctx, productID, loc)
	switch {
	case err == nil:
		branchQty = inv.Quantity
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	rows, err := s.repo.ListVariants(ctx, productID, loc)
	if err != nil {
		return nil, err
	}

	options := cart.DiscoverVariants(*product, branchQty, rows)
	if err := s.cache.Set(ctx, key, options, s.opts.VariantCacheTTL); err != nil {
		logger.With("service").WithError(err).WithField("key", key).Warn("variant cache write failed")
	}
	return options, nil
}
