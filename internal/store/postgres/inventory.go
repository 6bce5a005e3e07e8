package postgres

import (
	"context"
	"database/sql"
	"errors"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

const inventoryColumns = `id, product_id, branch_id, warehouse_id, quantity, min_stock, updated_at`

func scanInventory(row interface{ Scan(...any) error }) (*domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	var branchID, warehouseID sql.NullString
	if err := row.Scan(&rec.ID, &rec.ProductID, &branchID, &warehouseID, &rec.Quantity, &rec.MinStock, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Location = scanLocation(branchID, warehouseID)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func (s *Store) GetInventory(ctx context.Context, productID string, loc domain.Location) (*domain.InventoryRecord, error) {
	branchID, warehouseID := locationArgs(loc)
	rec, err := scanInventory(s.db.QueryRowContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory
		WHERE product_id = $1 AND branch_id IS NOT DISTINCT FROM $2 AND warehouse_id IS NOT DISTINCT FROM $3
	`, productID, branchID, warehouseID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *Store) ListInventory(ctx context.Context, loc domain.Location) ([]domain.InventoryRecord, error) {
	branchID, warehouseID := locationArgs(loc)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory
		WHERE branch_id IS NOT DISTINCT FROM $1 AND warehouse_id IS NOT DISTINCT FROM $2
		ORDER BY product_id
	`, branchID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.InventoryRecord, 0, 64)
	for rows.Next() {
		rec, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) AdjustInventory(ctx context.Context, productID string, loc domain.Location, delta int, createIfMissing bool) (*domain.InventoryRecord, error) {
	if productID == "" || !loc.Valid() {
		return nil, store.ErrInvalidInput
	}
	branchID, warehouseID := locationArgs(loc)

	if createIfMissing {
		return scanInventory(s.db.QueryRowContext(ctx, `
			INSERT INTO inventory (id, product_id, branch_id, warehouse_id, quantity, min_stock, updated_at)
			VALUES ($1,$2,$3,$4,GREATEST($5::int, 0),0,now())
			ON CONFLICT (product_id, (COALESCE(branch_id, '')), (COALESCE(warehouse_id, '')))
			DO UPDATE SET quantity = GREATEST(inventory.quantity + $5::int, 0), updated_at = now()
			RETURNING `+inventoryColumns+`
		`, xid.New(), productID, branchID, warehouseID, delta))
	}

	rec, err := scanInventory(s.db.QueryRowContext(ctx, `
		UPDATE inventory
		SET quantity = GREATEST(quantity + $4::int, 0), updated_at = now()
		WHERE product_id = $1 AND branch_id IS NOT DISTINCT FROM $2 AND warehouse_id IS NOT DISTINCT FROM $3
		RETURNING `+inventoryColumns+`
	`, productID, branchID, warehouseID, delta))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *Store) SetInventory(ctx context.Context, record domain.InventoryRecord) (*domain.InventoryRecord, error) {
	if record.ProductID == "" || !record.Location.Valid() || record.Quantity < 0 || record.MinStock < 0 {
		return nil, store.ErrInvalidInput
	}
	if record.ID == "" {
		record.ID = xid.New()
	}
	branchID, warehouseID := locationArgs(record.Location)

	return scanInventory(s.db.QueryRowContext(ctx, `
		INSERT INTO inventory (id, product_id, branch_id, warehouse_id, quantity, min_stock, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (product_id, (COALESCE(branch_id, '')), (COALESCE(warehouse_id, '')))
		DO UPDATE SET quantity = EXCLUDED.quantity, min_stock = EXCLUDED.min_stock, updated_at = now()
		RETURNING `+inventoryColumns+`
	`, record.ID, record.ProductID, branchID, warehouseID, record.Quantity, record.MinStock))
}

const variantColumns = `id, product_id, branch_id, warehouse_id, variant_type, name, quantity, color_hex, image_url, updated_at`

// variantKeyFilter matches $1 product, $2 branch, $3 warehouse, $4 type, $5 name.
const variantKeyFilter = `product_id = $1 AND branch_id IS NOT DISTINCT FROM $2 AND warehouse_id IS NOT DISTINCT FROM $3 AND variant_type = $4 AND name = $5`

func scanVariant(row interface{ Scan(...any) error }) (*domain.VariantRecord, error) {
	var v domain.VariantRecord
	var branchID, warehouseID sql.NullString
	if err := row.Scan(&v.ID, &v.ProductID, &branchID, &warehouseID, &v.VariantType, &v.Name, &v.Quantity, &v.ColorHex, &v.ImageURL, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.Location = scanLocation(branchID, warehouseID)
	v.UpdatedAt = v.UpdatedAt.UTC()
	return &v, nil
}

func (s *Store) ListVariants(ctx context.Context, productID string, loc domain.Location) ([]domain.VariantRecord, error) {
	branchID, warehouseID := locationArgs(loc)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+variantColumns+`
		FROM product_variants
		WHERE product_id = $1 AND branch_id IS NOT DISTINCT FROM $2 AND warehouse_id IS NOT DISTINCT FROM $3
		ORDER BY created_at, id
	`, productID, branchID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.VariantRecord, 0, 8)
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpsertVariant(ctx context.Context, variant domain.VariantRecord) (*domain.VariantRecord, error) {
	if variant.ProductID == "" || variant.Name == "" || !variant.Location.Valid() || variant.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}
	branchID, warehouseID := locationArgs(variant.Location)

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var existingID string
	err = pgTx.QueryRowContext(ctx, `
		SELECT id
		FROM product_variants
		WHERE `+variantKeyFilter+`
		ORDER BY created_at, id
		LIMIT 1
		FOR UPDATE
	`, variant.ProductID, branchID, warehouseID, variant.VariantType, variant.Name).Scan(&existingID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var saved *domain.VariantRecord
	if existingID != "" {
		saved, err = scanVariant(pgTx.QueryRowContext(ctx, `
			UPDATE product_variants
			SET quantity = quantity + $2,
			    color_hex = COALESCE(NULLIF($3, ''), color_hex),
			    image_url = COALESCE(NULLIF($4, ''), image_url),
			    updated_at = now()
			WHERE id = $1
			RETURNING `+variantColumns+`
		`, existingID, variant.Quantity, variant.ColorHex, variant.ImageURL))
	} else {
		saved, err = scanVariant(pgTx.QueryRowContext(ctx, `
			INSERT INTO product_variants (id, product_id, branch_id, warehouse_id, variant_type, name, quantity, color_hex, image_url, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now())
			RETURNING `+variantColumns+`
		`, xid.New(), variant.ProductID, branchID, warehouseID, variant.VariantType, variant.Name, variant.Quantity, variant.ColorHex, variant.ImageURL))
	}
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Store) AdjustVariant(ctx context.Context, productID string, loc domain.Location, variantType string, name string, delta int) (*domain.VariantRecord, error) {
	branchID, warehouseID := locationArgs(loc)
	v, err := scanVariant(s.db.QueryRowContext(ctx, `
		UPDATE product_variants
		SET quantity = GREATEST(quantity + $6::int, 0), updated_at = now()
		WHERE id = (
			SELECT id FROM product_variants
			WHERE `+variantKeyFilter+`
			ORDER BY created_at, id
			LIMIT 1
		)
		RETURNING `+variantColumns+`
	`, productID, branchID, warehouseID, variantType, name, delta))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (s *Store) ReconcileVariantBucket(ctx context.Context, productID string, loc domain.Location, variantType string, name string, delta int, allowCreate bool) (*domain.VariantRecord, error) {
	if productID == "" || !loc.Valid() {
		return nil, store.ErrInvalidInput
	}
	branchID, warehouseID := locationArgs(loc)

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	rows, err := pgTx.QueryContext(ctx, `
		SELECT id, quantity
		FROM product_variants
		WHERE `+variantKeyFilter+`
		ORDER BY created_at, id
		FOR UPDATE
	`, productID, branchID, warehouseID, variantType, name)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, 2)
	total := 0
	for rows.Next() {
		var id string
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
		total += qty
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	var merged *domain.VariantRecord
	if len(ids) == 0 {
		if !allowCreate {
			return nil, store.ErrNotFound
		}
		merged, err = scanVariant(pgTx.QueryRowContext(ctx, `
			INSERT INTO product_variants (id, product_id, branch_id, warehouse_id, variant_type, name, quantity, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,GREATEST($7::int, 0),now(),now())
			RETURNING `+variantColumns+`
		`, xid.New(), productID, branchID, warehouseID, variantType, name, delta))
		if err != nil {
			return nil, err
		}
	} else {
		merged, err = scanVariant(pgTx.QueryRowContext(ctx, `
			UPDATE product_variants
			SET quantity = $2, updated_at = now()
			WHERE id = $1
			RETURNING `+variantColumns+`
		`, ids[0], max(total+delta, 0)))
		if err != nil {
			return nil, err
		}
		if len(ids) > 1 {
			if _, err := pgTx.ExecContext(ctx, `DELETE FROM product_variants WHERE id = ANY($1)`, ids[1:]); err != nil {
				return nil, err
			}
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return merged, nil
}
