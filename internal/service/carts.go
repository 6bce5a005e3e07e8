package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/cart"
	"retailpos/backend/internal/store"
)

type AddCartLineRequest struct {
	ProductID      string           `json:"product_id"`
	BranchID       string           `json:"branch_id"`
	Quantity       int              `json:"quantity"`
	SelectedColors map[string]int   `json:"selected_colors,omitempty"`
	UnitPrice      *decimal.Decimal `json:"unit_price,omitempty"`
	Notes          string           `json:"notes,omitempty"`
}

type UpdateCartLineRequest struct {
	Quantity  *int             `json:"quantity,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

func cartKey(id string) string {
	return "cart:" + id
}

func (s *Service) CreateCart(ctx context.Context) (*cart.Cart, error) {
	c := cart.New(s.now())
	if err := s.saveCart(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) GetCart(ctx context.Context, id string) (*cart.Cart, error) {
	return s.loadCart(ctx, id)
}

func (s *Service) DiscardCart(ctx context.Context, id string) error {
	defer s.carts.lock(strings.TrimSpace(id))()
	if _, err := s.loadCart(ctx, id); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cartKey(id))
}

// AddCartLine appends a line priced from the catalog unless a price is
// given. Variant selections are checked against branch availability.
func (s *Service) AddCartLine(ctx context.Context, cartID string, req AddCartLineRequest) (*cart.Cart, error) {
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		return nil, invalid("product_id", "required")
	}
	if req.UnitPrice != nil && req.UnitPrice.IsNegative() {
		return nil, invalid("unit_price", "must not be negative")
	}

	defer s.carts.lock(strings.TrimSpace(cartID))()
	c, err := s.loadCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	product, err := s.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	line := cart.Line{
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    req.Quantity,
		UnitPrice:   product.Price,
		CostPrice:   product.CostPrice,
		Notes:       strings.TrimSpace(req.Notes),
	}
	if req.UnitPrice != nil {
		line.UnitPrice = *req.UnitPrice
	}

	if len(req.SelectedColors) > 0 {
		options, err := s.ProductVariants(ctx, req.ProductID, req.BranchID)
		if err != nil {
			return nil, err
		}
		intended := req.Quantity
		if intended == 0 {
			for _, qty := range req.SelectedColors {
				intended += qty
			}
		}
		if _, err := cart.ValidateSelection(options, req.SelectedColors, intended); err != nil {
			return nil, invalid("selected_colors", err.Error())
		}
		line.SelectedColors = make(map[string]int, len(req.SelectedColors))
		for name, qty := range req.SelectedColors {
			if qty > 0 {
				line.SelectedColors[name] = qty
			}
		}
	}

	if _, err := c.Add(line, s.now()); err != nil {
		return nil, cartError(err)
	}
	if err := s.saveCart(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) UpdateCartLine(ctx context.Context, cartID string, lineID string, req UpdateCartLineRequest) (*cart.Cart, error) {
	if req.Quantity == nil && req.UnitPrice == nil {
		return nil, invalid("line", "nothing to update")
	}
	defer s.carts.lock(strings.TrimSpace(cartID))()
	c, err := s.loadCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if req.UnitPrice != nil {
		if err := c.UpdatePrice(lineID, *req.UnitPrice, now); err != nil {
			return nil, cartError(err)
		}
	}
	if req.Quantity != nil {
		if err := c.UpdateQuantity(lineID, *req.Quantity, now); err != nil {
			return nil, cartError(err)
		}
	}
	if err := s.saveCart(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) RemoveCartLine(ctx context.Context, cartID string, lineID string) (*cart.Cart, error) {
	defer s.carts.lock(strings.TrimSpace(cartID))()
	c, err := s.loadCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if err := c.Remove(lineID, s.now()); err != nil {
		return nil, cartError(err)
	}
	if err := s.saveCart(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) loadCart(ctx context.Context, id string) (*cart.Cart, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalid("cart_id", "required")
	}
	var c cart.Cart
	ok, err := s.cache.Get(ctx, cartKey(id), &c)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("cart %s: %w", id, store.ErrNotFound)
	}
	return &c, nil
}

func (s *Service) saveCart(ctx context.Context, c *cart.Cart) error {
	if err := s.cache.Set(ctx, cartKey(c.ID), c, s.opts.CartTTL); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func cartError(err error) error {
	switch {
	case errors.Is(err, cart.ErrLineNotFound):
		return fmt.Errorf("%v: %w", err, store.ErrNotFound)
	case errors.Is(err, cart.ErrQuantityOutOfRange), errors.Is(err, cart.ErrNegativePrice), errors.Is(err, cart.ErrDerivedQuantity):
		return invalid("line", err.Error())
	default:
		return err
	}
}
