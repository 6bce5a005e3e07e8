package cart

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/xid"
)

const (
	MinManualQuantity = 1
	MaxManualQuantity = 9999
)

var (
	ErrQuantityOutOfRange = errors.New("quantity out of range")
	ErrNegativePrice      = errors.New("price must not be negative")
	ErrLineNotFound       = errors.New("cart line not found")
	ErrDerivedQuantity    = errors.New("quantity is derived from variant selections")
)

// ManualQuantity validates a stepper quantity for products without variants.
func ManualQuantity(q int) error {
	if q < MinManualQuantity || q > MaxManualQuantity {
		return fmt.Errorf("%w: %d not in %d..%d", ErrQuantityOutOfRange, q, MinManualQuantity, MaxManualQuantity)
	}
	return nil
}

type Line struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"product_id"`
	ProductName    string          `json:"product_name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	CostPrice      decimal.Decimal `json:"cost_price"`
	SelectedColors map[string]int  `json:"selected_colors,omitempty"`
	Notes          string          `json:"notes,omitempty"`
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// VariantNotes renders the selection as "name (qty), name (qty)" sorted by name.
func (l Line) VariantNotes() string {
	names := make([]string, 0, len(l.SelectedColors))
	for name, qty := range l.SelectedColors {
		if qty > 0 {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s (%d)", name, l.SelectedColors[name]))
	}
	return strings.Join(parts, ", ")
}

// ItemNotes is the note stored on the invoice line: free text, then the
// variant selection.
func (l Line) ItemNotes() string {
	parts := make([]string, 0, 2)
	if note := strings.TrimSpace(l.Notes); note != "" {
		parts = append(parts, note)
	}
	if variants := l.VariantNotes(); variants != "" {
		parts = append(parts, variants)
	}
	return strings.Join(parts, " | ")
}

var variantNotePattern = regexp.MustCompile(`^(.+) \((\d+)\)$`)

// ParseVariantNotes recovers the selection written by ItemNotes. Segments
// that do not look like "name (qty)" are ignored.
func ParseVariantNotes(notes string) map[string]int {
	selections := make(map[string]int)
	for _, segment := range strings.Split(notes, " | ") {
		for _, part := range strings.Split(segment, ", ") {
			m := variantNotePattern.FindStringSubmatch(strings.TrimSpace(part))
			if m == nil {
				continue
			}
			qty, err := strconv.Atoi(m[2])
			if err != nil || qty <= 0 {
				continue
			}
			selections[strings.TrimSpace(m[1])] += qty
		}
	}
	return selections
}

type Cart struct {
	ID        string    `json:"id"`
	Lines     []Line    `json:"lines"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func New(now time.Time) *Cart {
	return &Cart{ID: xid.New(), Lines: []Line{}, CreatedAt: now, UpdatedAt: now}
}

// Add appends a new line even when the product is already in the cart.
func (c *Cart) Add(line Line, now time.Time) (Line, error) {
	if line.UnitPrice.IsNegative() {
		return Line{}, ErrNegativePrice
	}
	if len(line.SelectedColors) > 0 {
		sum := 0
		for _, qty := range line.SelectedColors {
			sum += qty
		}
		line.Quantity = sum
	}
	if err := ManualQuantity(line.Quantity); err != nil {
		return Line{}, err
	}
	line.ID = xid.New()
	c.Lines = append(c.Lines, line)
	c.UpdatedAt = now
	return line, nil
}

func (c *Cart) indexOf(lineID string) int {
	return slices.IndexFunc(c.Lines, func(l Line) bool { return l.ID == lineID })
}

func (c *Cart) UpdatePrice(lineID string, price decimal.Decimal, now time.Time) error {
	if price.IsNegative() {
		return ErrNegativePrice
	}
	idx := c.indexOf(lineID)
	if idx < 0 {
		return ErrLineNotFound
	}
	c.Lines[idx].UnitPrice = price
	c.UpdatedAt = now
	return nil
}

func (c *Cart) UpdateQuantity(lineID string, qty int, now time.Time) error {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return ErrLineNotFound
	}
	if len(c.Lines[idx].SelectedColors) > 0 {
		return ErrDerivedQuantity
	}
	if err := ManualQuantity(qty); err != nil {
		return err
	}
	c.Lines[idx].Quantity = qty
	c.UpdatedAt = now
	return nil
}

func (c *Cart) Remove(lineID string, now time.Time) error {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return ErrLineNotFound
	}
	c.Lines = slices.Delete(c.Lines, idx, idx+1)
	c.UpdatedAt = now
	return nil
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.Lines {
		total = total.Add(line.Total())
	}
	return total
}

func (c *Cart) Empty() bool {
	return len(c.Lines) == 0
}
