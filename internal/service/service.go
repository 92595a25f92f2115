// Package service composes the ledger components behind one facade for the
// HTTP and CLI transports.
package service

import (
	"context"
	"fmt"
	"strings"

	"stockledger/internal/domain"
	"stockledger/internal/guard"
	"stockledger/internal/importer"
	"stockledger/internal/ledger"
	"stockledger/internal/movement"
	"stockledger/internal/placement"
	"stockledger/internal/reorder"
	"stockledger/internal/transfer"

	"go.uber.org/zap"
)

// CatalogWriter keeps the local copy of the external catalog current.
type CatalogWriter interface {
	SaveLocation(ctx context.Context, loc domain.Location) (domain.Location, error)
	SaveSettings(ctx context.Context, customerID int64, settings domain.Settings) error
	SaveProduct(ctx context.Context, p domain.Product) (domain.Product, error)
	SavePlacement(ctx context.Context, p domain.Placement) (domain.Placement, error)
}

// Store is satisfied by both the memory store and the Postgres repository.
type Store interface {
	ledger.Store
	ledger.Catalog
	reorder.Store
	CatalogWriter
}

type Options struct {
	ImportChunkSize int
	ImportRetries   int
}

type Service struct {
	store      Store
	movements  *movement.Processor
	transfers  *transfer.Validator
	reorders   *reorder.Engine
	placements *placement.Migrator
	importer   *importer.Importer
	logger     *zap.Logger
}

func New(store Store, g guard.Guard, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	proc := movement.NewProcessor(store, store, logger.Named("movement"))
	return &Service{
		store:      store,
		movements:  proc,
		transfers:  transfer.NewValidator(store, store, proc, g, logger.Named("transfer")),
		reorders:   reorder.NewEngine(store, store, store, g, logger.Named("reorder")),
		placements: placement.NewMigrator(store, store, proc, logger.Named("placement")),
		importer: importer.New(store, store, importer.Options{
			ChunkSize: opts.ImportChunkSize,
			Retries:   opts.ImportRetries,
		}, logger.Named("import")),
		logger: logger,
	}
}

func (s *Service) ApplyMovement(ctx context.Context, req movement.Request) (movement.Result, error) {
	return s.movements.Apply(ctx, req)
}

func (s *Service) TransferWithinLocation(ctx context.Context, req movement.Transfer) (movement.Result, error) {
	return s.movements.Transfer(ctx, req)
}

func (s *Service) Records(ctx context.Context, filter ledger.RecordFilter) ([]domain.InventoryRecord, error) {
	if err := s.requireLocation(ctx, filter.LocationID); err != nil {
		return nil, err
	}
	return s.store.ListRecords(ctx, filter)
}

func (s *Service) History(ctx context.Context, filter ledger.HistoryFilter) ([]domain.Movement, error) {
	if err := s.requireLocation(ctx, filter.LocationID); err != nil {
		return nil, err
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, domain.Invalid("type", "unknown movement type")
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, domain.Invalid("to", "must be after from")
	}
	return s.store.ListHistory(ctx, filter)
}

func (s *Service) ValidateTransfer(ctx context.Context, req transfer.Request) (transfer.Result, error) {
	return s.transfers.Validate(ctx, req)
}

func (s *Service) ApplyTransfer(ctx context.Context, req transfer.Request) (transfer.Result, error) {
	return s.transfers.ValidateAndApply(ctx, req)
}

func (s *Service) ReorderOverview(ctx context.Context, locationID string) ([]reorder.Recommendation, error) {
	return s.reorders.Overview(ctx, locationID)
}

func (s *Service) Recommendation(ctx context.Context, locationID string, productID int64) (reorder.Recommendation, error) {
	return s.reorders.Recommendation(ctx, locationID, productID)
}

func (s *Service) CreateRule(ctx context.Context, in reorder.RuleInput) (domain.ReorderRule, error) {
	return s.reorders.CreateRule(ctx, in)
}

func (s *Service) UpdateRule(ctx context.Context, in reorder.RuleInput) (domain.ReorderRule, error) {
	return s.reorders.UpdateRule(ctx, in)
}

func (s *Service) DeleteRule(ctx context.Context, locationID string, productID int64) error {
	return s.reorders.DeleteRule(ctx, locationID, productID)
}

func (s *Service) ResetOrdered(ctx context.Context, locationID string, productID int64) (domain.ReorderRule, error) {
	return s.reorders.ResetOrdered(ctx, locationID, productID)
}

func (s *Service) SubmitReorder(ctx context.Context, sub reorder.Submission) (domain.Order, error) {
	return s.reorders.SubmitSingle(ctx, sub)
}

func (s *Service) SubmitBulkReorder(ctx context.Context, req reorder.BulkRequest) (reorder.BulkResult, error) {
	return s.reorders.SubmitBulk(ctx, req)
}

func (s *Service) ExpandSupplier(ctx context.Context, locationID string, supplierID int64, staged []int64) ([]reorder.Line, error) {
	return s.reorders.ExpandSupplier(ctx, locationID, supplierID, staged)
}

func (s *Service) Order(ctx context.Context, id string) (domain.Order, error) {
	return s.reorders.Order(ctx, id)
}

func (s *Service) Orders(ctx context.Context, locationID string, limit, offset int) ([]domain.Order, error) {
	return s.reorders.Orders(ctx, locationID, limit, offset)
}

func (s *Service) DefaultPlacement(ctx context.Context, productID int64, locationID string) (domain.DefaultPlacement, error) {
	return s.placements.Current(ctx, productID, locationID)
}

func (s *Service) PreviewDefaultPlacement(ctx context.Context, productID int64, locationID string, placementID int64) (placement.Plan, error) {
	return s.placements.Preview(ctx, productID, locationID, placementID)
}

func (s *Service) AssignDefaultPlacement(ctx context.Context, a placement.Assignment) (placement.Result, error) {
	return s.placements.Assign(ctx, a)
}

func (s *Service) RemoveDefaultPlacement(ctx context.Context, productID int64, locationID string) (placement.Result, error) {
	return s.placements.Remove(ctx, productID, locationID)
}

func (s *Service) ImportHistory(ctx context.Context, locationID string, rows []importer.Row) (importer.Report, error) {
	if len(rows) == 0 {
		return importer.Report{}, fmt.Errorf("import file has no data rows")
	}
	return s.importer.Run(ctx, locationID, rows)
}

func (s *Service) SaveLocation(ctx context.Context, loc domain.Location) (domain.Location, error) {
	loc.ID = strings.TrimSpace(loc.ID)
	if loc.ID == "" {
		return domain.Location{}, domain.Invalid("id", "is required")
	}
	if loc.CustomerID <= 0 {
		return domain.Location{}, domain.Invalid("customer_id", "is required")
	}
	return s.store.SaveLocation(ctx, loc)
}

func (s *Service) SaveSettings(ctx context.Context, customerID int64, settings domain.Settings) error {
	if customerID <= 0 {
		return domain.Invalid("customer_id", "is required")
	}
	for t := range settings.UseReference {
		if !t.Valid() {
			return domain.Invalid("use_reference", fmt.Sprintf("unknown movement type %q", t))
		}
	}
	return s.store.SaveSettings(ctx, customerID, settings)
}

func (s *Service) SaveProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	p.SKU = strings.TrimSpace(p.SKU)
	if p.SKU == "" {
		return domain.Product{}, domain.Invalid("sku", "is required")
	}
	if p.CustomerID <= 0 {
		return domain.Product{}, domain.Invalid("customer_id", "is required")
	}
	if p.CostPrice.IsNegative() || p.SalesPrice.IsNegative() {
		return domain.Product{}, domain.Invalid("cost_price", "prices must not be negative")
	}
	return s.store.SaveProduct(ctx, p)
}

func (s *Service) SavePlacement(ctx context.Context, p domain.Placement) (domain.Placement, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return domain.Placement{}, domain.Invalid("name", "is required")
	}
	if err := s.requireLocation(ctx, p.LocationID); err != nil {
		return domain.Placement{}, err
	}
	return s.store.SavePlacement(ctx, p)
}

func (s *Service) requireLocation(ctx context.Context, locationID string) error {
	if strings.TrimSpace(locationID) == "" {
		return domain.Invalid("location_id", "is required")
	}
	if _, err := s.store.Location(ctx, locationID); err != nil {
		return fmt.Errorf("load location: %w", err)
	}
	return nil
}
