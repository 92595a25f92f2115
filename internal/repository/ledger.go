package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stockledger/internal/domain"
	"stockledger/internal/ledger"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func (r *Repository) Quantity(ctx context.Context, key ledger.Key) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT quantity
		FROM inventory_records
		WHERE location_id = $1 AND product_id = $2 AND placement_id = $3 AND batch_id = $4
	`, key.LocationID, key.ProductID, key.PlacementID, key.BatchID).Scan(&qty)
	if isNoRows(err) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("load quantity %s: %w", key, err)
	}
	return qty, nil
}

type recordRow struct {
	LocationID  string          `db:"location_id"`
	ProductID   int64           `db:"product_id"`
	PlacementID int64           `db:"placement_id"`
	BatchID     int64           `db:"batch_id"`
	Quantity    decimal.Decimal `db:"quantity"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func (r *Repository) ListRecords(ctx context.Context, filter ledger.RecordFilter) ([]domain.InventoryRecord, error) {
	query := `
		SELECT location_id, product_id, placement_id, batch_id, quantity, updated_at
		FROM inventory_records
		WHERE location_id = $1
	`
	args := []any{filter.LocationID}
	if filter.ProductID != 0 {
		args = append(args, filter.ProductID)
		query += fmt.Sprintf(" AND product_id = $%d", len(args))
	}
	if filter.PlacementID != 0 {
		args = append(args, filter.PlacementID)
		query += fmt.Sprintf(" AND placement_id = $%d", len(args))
	}
	if filter.AvailableOnly {
		query += " AND quantity > 0"
	}
	query += " ORDER BY product_id, placement_id, batch_id"

	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list inventory records: %w", err)
	}
	records := make([]domain.InventoryRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, domain.InventoryRecord(row))
	}
	return records, nil
}

func (r *Repository) DefaultPlacement(ctx context.Context, productID int64, locationID string) (int64, bool, error) {
	return loadDefaultPlacement(ctx, r.pool, productID, locationID, "")
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadDefaultPlacement(ctx context.Context, q querier, productID int64, locationID, suffix string) (int64, bool, error) {
	var id int64
	err := q.QueryRow(ctx, `
		SELECT placement_id
		FROM default_placements
		WHERE product_id = $1 AND location_id = $2
	`+suffix, productID, locationID).Scan(&id)
	if isNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load default placement: %w", err)
	}
	return id, true, nil
}

type movementRow struct {
	ID            string          `db:"id"`
	Type          string          `db:"movement_type"`
	LocationID    string          `db:"location_id"`
	ProductID     int64           `db:"product_id"`
	PlacementID   int64           `db:"placement_id"`
	BatchID       int64           `db:"batch_id"`
	Delta         decimal.Decimal `db:"delta"`
	QuantityAfter decimal.Decimal `db:"quantity_after"`
	Reference     string          `db:"reference"`
	UserID        int64           `db:"user_id"`
	UserName      string          `db:"user_name"`
	Platform      string          `db:"platform"`
	CorrelationID string          `db:"correlation_id"`
	Imported      bool            `db:"imported"`
	CreatedAt     time.Time       `db:"created_at"`
}

func (m movementRow) toDomain() domain.Movement {
	return domain.Movement{
		ID:            m.ID,
		Type:          domain.MovementType(m.Type),
		LocationID:    m.LocationID,
		ProductID:     m.ProductID,
		PlacementID:   m.PlacementID,
		BatchID:       m.BatchID,
		Delta:         m.Delta,
		QuantityAfter: m.QuantityAfter,
		Reference:     m.Reference,
		Actor:         domain.Actor{UserID: m.UserID, Name: m.UserName, Platform: domain.Platform(m.Platform)},
		CorrelationID: m.CorrelationID,
		Imported:      m.Imported,
		CreatedAt:     m.CreatedAt.UTC(),
	}
}

func (r *Repository) ListHistory(ctx context.Context, filter ledger.HistoryFilter) ([]domain.Movement, error) {
	conditions := []string{"location_id = $1"}
	args := []any{filter.LocationID}
	if filter.ProductID != 0 {
		args = append(args, filter.ProductID)
		conditions = append(conditions, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		conditions = append(conditions, fmt.Sprintf("movement_type = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}
	args = append(args, normalizeLimit(filter.Limit), normalizeOffset(filter.Offset))

	query := fmt.Sprintf(`
		SELECT
			id::text AS id,
			movement_type,
			location_id,
			product_id,
			placement_id,
			batch_id,
			delta,
			quantity_after,
			reference,
			user_id,
			user_name,
			platform,
			correlation_id,
			imported,
			created_at
		FROM movements
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(conditions, " AND "), len(args)-1, len(args))

	var rows []movementRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	movements := make([]domain.Movement, 0, len(rows))
	for _, row := range rows {
		movements = append(movements, row.toDomain())
	}
	return movements, nil
}

const insertMovement = `
	INSERT INTO movements (
		id, movement_type, location_id, product_id, placement_id, batch_id,
		delta, quantity_after, reference, user_id, user_name, platform,
		correlation_id, imported, created_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`

func movementArgs(m *domain.Movement) []any {
	return []any{
		m.ID, string(m.Type), m.LocationID, m.ProductID, m.PlacementID, m.BatchID,
		m.Delta, m.QuantityAfter, m.Reference, m.Actor.UserID, m.Actor.Name, string(m.Actor.Platform),
		m.CorrelationID, m.Imported, m.CreatedAt,
	}
}

// AppendImported writes a chunk of historical entries in one transaction.
func (r *Repository) AppendImported(ctx context.Context, movements []domain.Movement) error {
	if len(movements) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin import tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for i := range movements {
		if !movements[i].Imported {
			return fmt.Errorf("append imported movement %s: not flagged as imported", movements[i].ID)
		}
		batch.Queue(insertMovement, movementArgs(&movements[i])...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert imported movements: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import tx: %w", err)
	}
	return nil
}

// Update locks every key row in key order, creating missing rows first, and
// runs fn inside the same transaction. Rows created only to be locked are
// removed again when fn leaves them untouched.
func (r *Repository) Update(ctx context.Context, keys []ledger.Key, fn func(ledger.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ptx := &pgTx{
		tx:      tx,
		locked:  make(map[ledger.Key]decimal.Decimal, len(keys)),
		created: make(map[ledger.Key]bool),
		written: make(map[ledger.Key]bool),
	}
	for _, key := range ledger.SortKeys(keys) {
		if err := ptx.lock(ctx, key); err != nil {
			return err
		}
	}

	if err := fn(ptx); err != nil {
		return err
	}

	for key := range ptx.created {
		if ptx.written[key] {
			continue
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM inventory_records
			WHERE location_id = $1 AND product_id = $2 AND placement_id = $3 AND batch_id = $4
		`, key.LocationID, key.ProductID, key.PlacementID, key.BatchID); err != nil {
			return fmt.Errorf("drop unused record %s: %w", key, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx      pgx.Tx
	locked  map[ledger.Key]decimal.Decimal
	created map[ledger.Key]bool
	written map[ledger.Key]bool
}

func (t *pgTx) lock(ctx context.Context, key ledger.Key) error {
	var created bool
	err := t.tx.QueryRow(ctx, `
		INSERT INTO inventory_records (location_id, product_id, placement_id, batch_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
		RETURNING TRUE
	`, key.LocationID, key.ProductID, key.PlacementID, key.BatchID).Scan(&created)
	if err != nil && !isNoRows(err) {
		return fmt.Errorf("create record %s: %w", key, err)
	}
	if created {
		t.created[key] = true
	}

	var qty decimal.Decimal
	if err := t.tx.QueryRow(ctx, `
		SELECT quantity
		FROM inventory_records
		WHERE location_id = $1 AND product_id = $2 AND placement_id = $3 AND batch_id = $4
		FOR UPDATE
	`, key.LocationID, key.ProductID, key.PlacementID, key.BatchID).Scan(&qty); err != nil {
		return fmt.Errorf("lock record %s: %w", key, err)
	}
	t.locked[key] = qty
	return nil
}

func (t *pgTx) Quantity(_ context.Context, key ledger.Key) (decimal.Decimal, error) {
	qty, ok := t.locked[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", key, ledger.ErrKeyNotLocked)
	}
	return qty, nil
}

func (t *pgTx) ApplyDelta(ctx context.Context, key ledger.Key, delta decimal.Decimal) (decimal.Decimal, error) {
	if _, ok := t.locked[key]; !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", key, ledger.ErrKeyNotLocked)
	}
	var next decimal.Decimal
	if err := t.tx.QueryRow(ctx, `
		UPDATE inventory_records
		SET quantity = quantity + $5, updated_at = NOW()
		WHERE location_id = $1 AND product_id = $2 AND placement_id = $3 AND batch_id = $4
		RETURNING quantity
	`, key.LocationID, key.ProductID, key.PlacementID, key.BatchID, delta).Scan(&next); err != nil {
		return decimal.Zero, fmt.Errorf("apply delta %s: %w", key, err)
	}
	t.locked[key] = next
	t.written[key] = true
	return next, nil
}

func (t *pgTx) AppendMovement(ctx context.Context, m *domain.Movement) error {
	if m == nil {
		return fmt.Errorf("append movement: nil movement")
	}
	if _, err := t.tx.Exec(ctx, insertMovement, movementArgs(m)...); err != nil {
		return fmt.Errorf("append movement %s: %w", m.ID, err)
	}
	return nil
}

func (t *pgTx) DefaultPlacement(ctx context.Context, productID int64, locationID string) (int64, bool, error) {
	return loadDefaultPlacement(ctx, t.tx, productID, locationID, " FOR UPDATE")
}

func (t *pgTx) SetDefaultPlacement(ctx context.Context, a domain.DefaultPlacement) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO default_placements (product_id, location_id, placement_id, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (product_id, location_id)
		DO UPDATE SET placement_id = EXCLUDED.placement_id, updated_at = NOW()
	`, a.ProductID, a.LocationID, a.PlacementID); err != nil {
		return fmt.Errorf("set default placement: %w", err)
	}
	return nil
}

func (t *pgTx) ClearDefaultPlacement(ctx context.Context, productID int64, locationID string) error {
	if _, err := t.tx.Exec(ctx, `
		DELETE FROM default_placements WHERE product_id = $1 AND location_id = $2
	`, productID, locationID); err != nil {
		return fmt.Errorf("clear default placement: %w", err)
	}
	return nil
}
