package repository

import (
	"context"
	"fmt"
	"time"

	"stockledger/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const ruleColumns = `
	location_id,
	product_id,
	minimum,
	buffer,
	order_amount,
	max_order_amount,
	ordered,
	created_at,
	updated_at
`

type ruleRow struct {
	LocationID     string          `db:"location_id"`
	ProductID      int64           `db:"product_id"`
	Minimum        decimal.Decimal `db:"minimum"`
	Buffer         decimal.Decimal `db:"buffer"`
	OrderAmount    decimal.Decimal `db:"order_amount"`
	MaxOrderAmount decimal.Decimal `db:"max_order_amount"`
	Ordered        decimal.Decimal `db:"ordered"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func scanRule(row pgx.Row) (domain.ReorderRule, error) {
	var r domain.ReorderRule
	err := row.Scan(
		&r.LocationID,
		&r.ProductID,
		&r.Minimum,
		&r.Buffer,
		&r.OrderAmount,
		&r.MaxOrderAmount,
		&r.Ordered,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	return r, err
}

func ruleNotFound(locationID string, productID int64) error {
	return fmt.Errorf("reorder rule %s/%d: %w", locationID, productID, domain.ErrNotFound)
}

func (r *Repository) Rule(ctx context.Context, locationID string, productID int64) (domain.ReorderRule, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx, `
		SELECT `+ruleColumns+` FROM reorder_rules WHERE location_id = $1 AND product_id = $2
	`, locationID, productID))
	if isNoRows(err) {
		return domain.ReorderRule{}, ruleNotFound(locationID, productID)
	}
	if err != nil {
		return domain.ReorderRule{}, fmt.Errorf("load reorder rule: %w", err)
	}
	return rule, nil
}

func (r *Repository) ListRules(ctx context.Context, locationID string) ([]domain.ReorderRule, error) {
	var rows []ruleRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT `+ruleColumns+`
		FROM reorder_rules
		WHERE location_id = $1
		ORDER BY product_id ASC
	`, locationID); err != nil {
		return nil, fmt.Errorf("list reorder rules: %w", err)
	}
	rules := make([]domain.ReorderRule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, domain.ReorderRule(row))
	}
	return rules, nil
}

func (r *Repository) CreateRule(ctx context.Context, rule domain.ReorderRule) (domain.ReorderRule, error) {
	created, err := scanRule(r.pool.QueryRow(ctx, `
		INSERT INTO reorder_rules (location_id, product_id, minimum, buffer, order_amount, max_order_amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+ruleColumns,
		rule.LocationID, rule.ProductID, rule.Minimum, rule.Buffer, rule.OrderAmount, rule.MaxOrderAmount,
	))
	if isUniqueViolation(err) {
		return domain.ReorderRule{}, domain.Invalid("product_id", "reorder rule already exists")
	}
	if err != nil {
		return domain.ReorderRule{}, fmt.Errorf("create reorder rule: %w", err)
	}
	return created, nil
}

func (r *Repository) UpdateRule(ctx context.Context, rule domain.ReorderRule) (domain.ReorderRule, error) {
	updated, err := scanRule(r.pool.QueryRow(ctx, `
		UPDATE reorder_rules
		SET minimum = $3, buffer = $4, order_amount = $5, max_order_amount = $6, updated_at = NOW()
		WHERE location_id = $1 AND product_id = $2
		RETURNING `+ruleColumns,
		rule.LocationID, rule.ProductID, rule.Minimum, rule.Buffer, rule.OrderAmount, rule.MaxOrderAmount,
	))
	if isNoRows(err) {
		return domain.ReorderRule{}, ruleNotFound(rule.LocationID, rule.ProductID)
	}
	if err != nil {
		return domain.ReorderRule{}, fmt.Errorf("update reorder rule: %w", err)
	}
	return updated, nil
}

func (r *Repository) DeleteRule(ctx context.Context, locationID string, productID int64) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM reorder_rules WHERE location_id = $1 AND product_id = $2
	`, locationID, productID)
	if err != nil {
		return fmt.Errorf("delete reorder rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ruleNotFound(locationID, productID)
	}
	return nil
}

func (r *Repository) ResetOrdered(ctx context.Context, locationID string, productID int64) (domain.ReorderRule, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx, `
		UPDATE reorder_rules
		SET ordered = 0, updated_at = NOW()
		WHERE location_id = $1 AND product_id = $2
		RETURNING `+ruleColumns,
		locationID, productID,
	))
	if isNoRows(err) {
		return domain.ReorderRule{}, ruleNotFound(locationID, productID)
	}
	if err != nil {
		return domain.ReorderRule{}, fmt.Errorf("reset ordered amount: %w", err)
	}
	return rule, nil
}

// PlaceOrder numbers the order while holding a transaction-scoped advisory
// lock on the customer, so concurrent orders never share a sequence.
func (r *Repository) PlaceOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin order tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, order.CustomerID); err != nil {
		return domain.Order{}, fmt.Errorf("lock customer %d: %w", order.CustomerID, err)
	}

	for _, line := range order.Lines {
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT TRUE FROM reorder_rules WHERE location_id = $1 AND product_id = $2 FOR UPDATE
		`, order.LocationID, line.ProductID).Scan(&exists)
		if isNoRows(err) {
			return domain.Order{}, ruleNotFound(order.LocationID, line.ProductID)
		}
		if err != nil {
			return domain.Order{}, fmt.Errorf("lock reorder rule: %w", err)
		}
	}

	prefix := domain.FormatOrderID(order.CustomerID, order.CreatedAt, 0)
	prefix = prefix[:len(prefix)-4]
	var count int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders WHERE customer_id = $1 AND id LIKE $2 || '%'
	`, order.CustomerID, prefix).Scan(&count); err != nil {
		return domain.Order{}, fmt.Errorf("count orders: %w", err)
	}
	order.ID = domain.FormatOrderID(order.CustomerID, order.CreatedAt, count+1)

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders (id, customer_id, location_id, user_id, user_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, order.ID, order.CustomerID, order.LocationID, order.UserID, order.UserName, order.CreatedAt); err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i, line := range order.Lines {
		batch.Queue(`
			INSERT INTO order_lines (
				order_id, line_no, product_id, sku, barcode, text1, text2, unit,
				supplier_name, cost_price, quantity, line_sum
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, order.ID, i+1, line.ProductID, line.SKU, line.Barcode, line.Text1, line.Text2, line.Unit,
			line.SupplierName, line.CostPrice, line.Quantity, line.Sum)
		batch.Queue(`
			UPDATE reorder_rules
			SET ordered = ordered + $3, updated_at = NOW()
			WHERE location_id = $1 AND product_id = $2
		`, order.LocationID, line.ProductID, line.Quantity)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return domain.Order{}, fmt.Errorf("insert order lines: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("commit order tx: %w", err)
	}
	return order, nil
}

type orderRow struct {
	ID         string    `db:"id"`
	CustomerID int64     `db:"customer_id"`
	LocationID string    `db:"location_id"`
	UserID     int64     `db:"user_id"`
	UserName   string    `db:"user_name"`
	CreatedAt  time.Time `db:"created_at"`
}

type orderLineRow struct {
	OrderID      string          `db:"order_id"`
	ProductID    int64           `db:"product_id"`
	SKU          string          `db:"sku"`
	Barcode      string          `db:"barcode"`
	Text1        string          `db:"text1"`
	Text2        string          `db:"text2"`
	Unit         string          `db:"unit"`
	SupplierName string          `db:"supplier_name"`
	CostPrice    decimal.Decimal `db:"cost_price"`
	Quantity     decimal.Decimal `db:"quantity"`
	Sum          decimal.Decimal `db:"line_sum"`
}

const orderColumns = `id, customer_id, location_id, user_id, user_name, created_at`

func (r *Repository) Order(ctx context.Context, id string) (domain.Order, error) {
	var rows []orderRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id); err != nil {
		return domain.Order{}, fmt.Errorf("load order %s: %w", id, err)
	}
	if len(rows) == 0 {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	orders, err := r.attachLines(ctx, rows)
	if err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

func (r *Repository) ListOrders(ctx context.Context, locationID string, limit, offset int) ([]domain.Order, error) {
	var rows []orderRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE location_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, locationID, normalizeLimit(limit), normalizeOffset(offset)); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return r.attachLines(ctx, rows)
}

func (r *Repository) attachLines(ctx context.Context, rows []orderRow) ([]domain.Order, error) {
	orders := make([]domain.Order, 0, len(rows))
	if len(rows) == 0 {
		return orders, nil
	}
	ids := make([]string, 0, len(rows))
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		ids = append(ids, row.ID)
		index[row.ID] = i
		orders = append(orders, domain.Order{
			ID:         row.ID,
			CustomerID: row.CustomerID,
			LocationID: row.LocationID,
			UserID:     row.UserID,
			UserName:   row.UserName,
			CreatedAt:  row.CreatedAt.UTC(),
			Lines:      []domain.OrderLine{},
		})
	}

	query, args, err := sqlx.In(`
		SELECT order_id, product_id, sku, barcode, text1, text2, unit, supplier_name, cost_price, quantity, line_sum
		FROM order_lines
		WHERE order_id IN (?)
		ORDER BY order_id, line_no
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("build order lines query: %w", err)
	}
	var lines []orderLineRow
	if err := r.db.SelectContext(ctx, &lines, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list order lines: %w", err)
	}
	for _, line := range lines {
		i := index[line.OrderID]
		orders[i].Lines = append(orders[i].Lines, domain.OrderLine{
			ProductID:    line.ProductID,
			SKU:          line.SKU,
			Barcode:      line.Barcode,
			Text1:        line.Text1,
			Text2:        line.Text2,
			Unit:         line.Unit,
			SupplierName: line.SupplierName,
			CostPrice:    line.CostPrice,
			Quantity:     line.Quantity,
			Sum:          line.Sum,
		})
	}
	return orders, nil
}
