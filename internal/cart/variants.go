package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"retailpos/backend/internal/domain"
)

var (
	ErrUnknownVariant    = errors.New("unknown variant")
	ErrOverAvailable     = errors.New("selected quantity exceeds available stock")
	ErrSelectionMismatch = errors.New("variant quantities do not add up to the line quantity")
)

// VariantOption is one selectable variant of a product at a branch.
type VariantOption struct {
	Name      string `json:"name"`
	ColorHex  string `json:"color_hex,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	Available int    `json:"available"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

var colorHexByName = map[string]string{
	"أحمر":    "#FF0000",
	"أزرق":    "#0000FF",
	"أخضر":    "#008000",
	"أصفر":    "#FFFF00",
	"أسود":    "#000000",
	"أبيض":    "#FFFFFF",
	"رمادي":   "#808080",
	"بني":     "#8B4513",
	"برتقالي": "#FFA500",
	"بنفسجي":  "#800080",
	"وردي":    "#FFC0CB",
	"ذهبي":    "#FFD700",
	"فضي":     "#C0C0C0",
	"بيج":     "#F5F5DC",
	"كحلي":    "#000080",
	"سماوي":   "#87CEEB",
	"فيروزي":  "#40E0D0",
	"زيتي":    "#808000",
	"نبيتي":   "#800000",
}

// ColorHex resolves a color name through the fixed lookup table.
func ColorHex(name string) string {
	return colorHexByName[strings.TrimSpace(name)]
}

type embeddedColor struct {
	Name string
	Hex  string
}

// parseEmbeddedColors reads the colors array some products carry inside
// their description. Anything unparseable is plain text with no colors.
func parseEmbeddedColors(description string) []embeddedColor {
	description = strings.TrimSpace(description)
	if description == "" || (description[0] != '{' && description[0] != '[') {
		return nil
	}

	var raw []json.RawMessage
	var wrapper struct {
		Colors []json.RawMessage `json:"colors"`
	}
	if err := json.Unmarshal([]byte(description), &wrapper); err == nil {
		raw = wrapper.Colors
	} else if err := json.Unmarshal([]byte(description), &raw); err != nil {
		return nil
	}

	colors := make([]embeddedColor, 0, len(raw))
	for _, item := range raw {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			if name = strings.TrimSpace(name); name != "" {
				colors = append(colors, embeddedColor{Name: name})
			}
			continue
		}
		var obj struct {
			Name string `json:"name"`
			Hex  string `json:"hex"`
		}
		if err := json.Unmarshal(item, &obj); err == nil && strings.TrimSpace(obj.Name) != "" {
			colors = append(colors, embeddedColor{Name: strings.TrimSpace(obj.Name), Hex: obj.Hex})
		}
	}
	return colors
}

func parseEmbeddedImages(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw[0] != '[' {
		return nil
	}
	var images []string
	if err := json.Unmarshal([]byte(raw), &images); err != nil {
		return nil
	}
	return images
}

// DiscoverVariants merges the colors embedded in the product with the
// explicit variant rows of one branch. Embedded colors split branchQty
// evenly. When at least one color exists a synthetic option sized to the
// unspecified buckets is appended.
func DiscoverVariants(product domain.Product, branchQty int, rows []domain.VariantRecord) []VariantOption {
	options := make([]VariantOption, 0, 8)
	seen := make(map[string]struct{})

	embedded := parseEmbeddedColors(product.Description)
	if len(embedded) > 0 {
		images := parseEmbeddedImages(product.ExtraImages)
		perColor := max(branchQty, 0) / len(embedded)
		for i, c := range embedded {
			if _, dup := seen[c.Name]; dup {
				continue
			}
			seen[c.Name] = struct{}{}
			opt := VariantOption{Name: c.Name, ColorHex: c.Hex, Available: perColor}
			if opt.ColorHex == "" {
				opt.ColorHex = ColorHex(c.Name)
			}
			if i < len(images) {
				opt.ImageURL = images[i]
			}
			options = append(options, opt)
		}
	}

	unspecified := 0
	for _, row := range rows {
		if row.Name == domain.UnspecifiedVariant {
			unspecified += row.Quantity
			continue
		}
		if row.VariantType != domain.VariantTypeColor {
			continue
		}
		if _, dup := seen[row.Name]; dup {
			continue
		}
		seen[row.Name] = struct{}{}
		hex := row.ColorHex
		if hex == "" {
			hex = ColorHex(row.Name)
		}
		options = append(options, VariantOption{
			Name:      row.Name,
			ColorHex:  hex,
			ImageURL:  row.ImageURL,
			Available: row.Quantity,
		})
	}

	if len(options) > 0 {
		options = append(options, VariantOption{
			Name:      domain.TotalUnspecifiedVariant,
			Available: unspecified,
			Synthetic: true,
		})
	}
	return options
}

// ValidateSelection checks per-variant caps and that the selections add up
// to intendedTotal. It returns the selected sum.
func ValidateSelection(options []VariantOption, selections map[string]int, intendedTotal int) (int, error) {
	available := make(map[string]int, len(options))
	for _, opt := range options {
		available[opt.Name] = opt.Available
	}

	sum := 0
	for name, qty := range selections {
		if qty < 0 {
			return 0, fmt.Errorf("%s: %w", name, ErrQuantityOutOfRange)
		}
		if qty == 0 {
			continue
		}
		avail, ok := available[name]
		if !ok {
			return 0, fmt.Errorf("%s: %w", name, ErrUnknownVariant)
		}
		if qty > avail {
			return 0, fmt.Errorf("%s: %w (%d > %d)", name, ErrOverAvailable, qty, avail)
		}
		sum += qty
	}
	if sum < MinManualQuantity || sum != intendedTotal {
		return 0, fmt.Errorf("%w: selected %d, expected %d", ErrSelectionMismatch, sum, intendedTotal)
	}
	return sum, nil
}
