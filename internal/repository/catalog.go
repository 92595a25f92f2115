package repository

import (
	"context"
	"fmt"
	"time"

	"stockledger/internal/domain"

	"github.com/jackc/pgx/v5"
)

const productColumns = `
	id,
	customer_id,
	sku,
	barcode,
	text1,
	text2,
	text3,
	unit,
	product_group,
	supplier_id,
	supplier_name,
	cost_price,
	sales_price,
	use_batch,
	is_barred
`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID,
		&p.CustomerID,
		&p.SKU,
		&p.Barcode,
		&p.Text1,
		&p.Text2,
		&p.Text3,
		&p.Unit,
		&p.Group,
		&p.SupplierID,
		&p.SupplierName,
		&p.CostPrice,
		&p.SalesPrice,
		&p.UseBatch,
		&p.IsBarred,
	)
	return p, err
}

func (r *Repository) Product(ctx context.Context, id int64) (domain.Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if isNoRows(err) {
		return domain.Product{}, fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("load product %d: %w", id, err)
	}
	return p, nil
}

func (r *Repository) ProductBySKU(ctx context.Context, locationID, sku string) (domain.Product, error) {
	loc, err := r.Location(ctx, locationID)
	if err != nil {
		return domain.Product{}, err
	}
	p, err := scanProduct(r.pool.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE customer_id = $1 AND sku = $2
	`, loc.CustomerID, sku))
	if isNoRows(err) {
		return domain.Product{}, fmt.Errorf("product %q: %w", sku, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("load product %q: %w", sku, err)
	}
	return p, nil
}

func (r *Repository) ProductsBySupplier(ctx context.Context, locationID string, supplierID int64) ([]domain.Product, error) {
	loc, err := r.Location(ctx, locationID)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE customer_id = $1 AND supplier_id = $2
		ORDER BY id ASC
	`, loc.CustomerID, supplierID)
	if err != nil {
		return nil, fmt.Errorf("list supplier products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (r *Repository) Location(ctx context.Context, id string) (domain.Location, error) {
	var loc domain.Location
	err := r.pool.QueryRow(ctx, `
		SELECT id, customer_id, name FROM locations WHERE id = $1
	`, id).Scan(&loc.ID, &loc.CustomerID, &loc.Name)
	if isNoRows(err) {
		return domain.Location{}, fmt.Errorf("location %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Location{}, fmt.Errorf("load location %s: %w", id, err)
	}
	return loc, nil
}

func (r *Repository) Placement(ctx context.Context, id int64) (domain.Placement, error) {
	var p domain.Placement
	err := r.pool.QueryRow(ctx, `
		SELECT id, location_id, name, is_barred FROM placements WHERE id = $1
	`, id).Scan(&p.ID, &p.LocationID, &p.Name, &p.IsBarred)
	if isNoRows(err) {
		return domain.Placement{}, fmt.Errorf("placement %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Placement{}, fmt.Errorf("load placement %d: %w", id, err)
	}
	return p, nil
}

func (r *Repository) Batch(ctx context.Context, id int64) (domain.Batch, error) {
	var b domain.Batch
	err := r.pool.QueryRow(ctx, `
		SELECT id, location_id, name, expiry, is_barred FROM batches WHERE id = $1
	`, id).Scan(&b.ID, &b.LocationID, &b.Name, &b.Expiry, &b.IsBarred)
	if isNoRows(err) {
		return domain.Batch{}, fmt.Errorf("batch %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Batch{}, fmt.Errorf("load batch %d: %w", id, err)
	}
	return b, nil
}

// EnsurePlacement returns the named placement, creating it when missing. The
// no-op update makes RETURNING yield the existing row on conflict.
func (r *Repository) EnsurePlacement(ctx context.Context, locationID, name string) (domain.Placement, error) {
	var p domain.Placement
	err := r.pool.QueryRow(ctx, `
		INSERT INTO placements (location_id, name)
		SELECT $1, $2
		WHERE EXISTS (SELECT 1 FROM locations WHERE id = $1)
		ON CONFLICT ON CONSTRAINT uq_placements_location_name
		DO UPDATE SET name = EXCLUDED.name
		RETURNING id, location_id, name, is_barred
	`, locationID, name).Scan(&p.ID, &p.LocationID, &p.Name, &p.IsBarred)
	if isNoRows(err) {
		return domain.Placement{}, fmt.Errorf("location %s: %w", locationID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Placement{}, fmt.Errorf("ensure placement %q: %w", name, err)
	}
	return p, nil
}

func (r *Repository) EnsureBatch(ctx context.Context, locationID, name string, expiry *time.Time) (domain.Batch, error) {
	var b domain.Batch
	err := r.pool.QueryRow(ctx, `
		INSERT INTO batches (location_id, name, expiry)
		SELECT $1, $2, $3
		WHERE EXISTS (SELECT 1 FROM locations WHERE id = $1)
		ON CONFLICT ON CONSTRAINT uq_batches_location_name
		DO UPDATE SET name = EXCLUDED.name
		RETURNING id, location_id, name, expiry, is_barred
	`, locationID, name, expiry).Scan(&b.ID, &b.LocationID, &b.Name, &b.Expiry, &b.IsBarred)
	if isNoRows(err) {
		return domain.Batch{}, fmt.Errorf("location %s: %w", locationID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Batch{}, fmt.Errorf("ensure batch %q: %w", name, err)
	}
	return b, nil
}

func (r *Repository) Settings(ctx context.Context, locationID string) (domain.Settings, error) {
	var (
		usePlacement *bool
		useReference []string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT s.use_placement, COALESCE(s.use_reference, '{}')
		FROM locations l
		LEFT JOIN customer_settings s ON s.customer_id = l.customer_id
		WHERE l.id = $1
	`, locationID).Scan(&usePlacement, &useReference)
	if isNoRows(err) {
		return domain.Settings{}, fmt.Errorf("location %s: %w", locationID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings for %s: %w", locationID, err)
	}

	settings := domain.Settings{UsePlacement: usePlacement == nil || *usePlacement}
	if len(useReference) > 0 {
		settings.UseReference = make(map[domain.MovementType]bool, len(useReference))
		for _, t := range useReference {
			settings.UseReference[domain.MovementType(t)] = true
		}
	}
	return settings, nil
}

// The Save methods keep the local copy of the external catalog in sync.

func (r *Repository) SaveLocation(ctx context.Context, loc domain.Location) (domain.Location, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO locations (id, customer_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET customer_id = EXCLUDED.customer_id, name = EXCLUDED.name
	`, loc.ID, loc.CustomerID, loc.Name)
	if err != nil {
		return domain.Location{}, fmt.Errorf("save location %s: %w", loc.ID, err)
	}
	return loc, nil
}

func (r *Repository) SaveSettings(ctx context.Context, customerID int64, settings domain.Settings) error {
	useReference := make([]string, 0, len(settings.UseReference))
	for t, on := range settings.UseReference {
		if on {
			useReference = append(useReference, string(t))
		}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO customer_settings (customer_id, use_placement, use_reference, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (customer_id) DO UPDATE
		SET use_placement = EXCLUDED.use_placement,
			use_reference = EXCLUDED.use_reference,
			updated_at = NOW()
	`, customerID, settings.UsePlacement, useReference)
	if err != nil {
		return fmt.Errorf("save settings for customer %d: %w", customerID, err)
	}
	return nil
}

// SaveProduct inserts p, or updates it when p.ID is set.
func (r *Repository) SaveProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	args := []any{
		p.CustomerID, p.SKU, p.Barcode, p.Text1, p.Text2, p.Text3, p.Unit, p.Group,
		p.SupplierID, p.SupplierName, p.CostPrice, p.SalesPrice, p.UseBatch, p.IsBarred,
	}
	var query string
	if p.ID == 0 {
		query = `
			INSERT INTO products (
				customer_id, sku, barcode, text1, text2, text3, unit, product_group,
				supplier_id, supplier_name, cost_price, sales_price, use_batch, is_barred
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING ` + productColumns
	} else {
		query = `
			UPDATE products
			SET customer_id = $1, sku = $2, barcode = $3, text1 = $4, text2 = $5, text3 = $6,
				unit = $7, product_group = $8, supplier_id = $9, supplier_name = $10,
				cost_price = $11, sales_price = $12, use_batch = $13, is_barred = $14,
				updated_at = NOW()
			WHERE id = $15
			RETURNING ` + productColumns
		args = append(args, p.ID)
	}

	saved, err := scanProduct(r.pool.QueryRow(ctx, query, args...))
	if isNoRows(err) {
		return domain.Product{}, fmt.Errorf("product %d: %w", p.ID, domain.ErrNotFound)
	}
	if isUniqueViolation(err) {
		return domain.Product{}, domain.Invalid("sku", "is already used by another product")
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("save product %q: %w", p.SKU, err)
	}
	return saved, nil
}

func (r *Repository) SavePlacement(ctx context.Context, p domain.Placement) (domain.Placement, error) {
	saved, err := r.EnsurePlacement(ctx, p.LocationID, p.Name)
	if err != nil {
		return domain.Placement{}, err
	}
	if saved.IsBarred == p.IsBarred {
		return saved, nil
	}
	if _, err := r.pool.Exec(ctx, `UPDATE placements SET is_barred = $2 WHERE id = $1`, saved.ID, p.IsBarred); err != nil {
		return domain.Placement{}, fmt.Errorf("save placement %q: %w", p.Name, err)
	}
	saved.IsBarred = p.IsBarred
	return saved, nil
}
