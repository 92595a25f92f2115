// Package importer loads historical movements in fixed-size chunks. Imported
// entries are history only; they never change ledger quantities.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"stockledger/internal/domain"
	"stockledger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultChunkSize = 50
	DefaultRetries   = 3
)

type Row struct {
	Line      int
	Inserted  time.Time
	SKU       string
	Type      domain.MovementType
	Quantity  decimal.Decimal
	Placement string
	Batch     string
	User      string
	Reference string
	Platform  domain.Platform
}

type Sink interface {
	AppendImported(ctx context.Context, movements []domain.Movement) error
}

type ChunkReport struct {
	Index    int      `json:"index"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Imported int      `json:"imported"`
	Attempts int      `json:"attempts"`
	Skipped  []string `json:"skipped,omitempty"`
	Error    string   `json:"error,omitempty"`
	Err      error    `json:"-"`
}

type Report struct {
	Rows     int           `json:"rows"`
	Imported int           `json:"imported"`
	Skipped  []string      `json:"skipped"`
	Chunks   []ChunkReport `json:"chunks"`
}

func (r Report) Failed() []ChunkReport {
	var out []ChunkReport
	for _, c := range r.Chunks {
		if c.Err != nil {
			out = append(out, c)
		}
	}
	return out
}

type Options struct {
	ChunkSize int
	Retries   int
	Backoff   time.Duration
}

type Importer struct {
	catalog ledger.Catalog
	sink    Sink
	opts    Options
	logger  *zap.Logger
	newID   func() string
}

func New(catalog ledger.Catalog, sink Sink, opts Options, logger *zap.Logger) *Importer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Retries <= 0 {
		opts.Retries = DefaultRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{catalog: catalog, sink: sink, opts: opts, logger: logger, newID: uuid.NewString}
}

// Run imports rows into locationID. A chunk that still fails after its
// retries, or holds an invalid row, is reported and the run moves on to the
// next chunk.
func (im *Importer) Run(ctx context.Context, locationID string, rows []Row) (Report, error) {
	loc, err := im.catalog.Location(ctx, locationID)
	if err != nil {
		return Report{}, fmt.Errorf("load location: %w", err)
	}

	report := Report{Rows: len(rows), Skipped: []string{}}
	skipped := make(map[string]struct{})
	for start, index := 0, 0; start < len(rows); start, index = start+im.opts.ChunkSize, index+1 {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		end := start + im.opts.ChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := ChunkReport{Index: index, Start: start, End: end}

		for attempt := 1; attempt <= im.opts.Retries; attempt++ {
			chunk.Attempts = attempt
			var movements []domain.Movement
			movements, chunk.Skipped, chunk.Err = im.build(ctx, loc, rows[start:end])
			if chunk.Err == nil {
				chunk.Err = im.sink.AppendImported(ctx, movements)
			}
			if chunk.Err == nil {
				chunk.Imported = len(movements)
				break
			}
			// Bad rows fail the same way on every attempt.
			if errors.Is(chunk.Err, domain.ErrValidation) {
				break
			}
			if attempt < im.opts.Retries && im.opts.Backoff > 0 {
				select {
				case <-ctx.Done():
					return report, ctx.Err()
				case <-time.After(time.Duration(attempt) * im.opts.Backoff):
				}
			}
		}

		if chunk.Err != nil {
			chunk.Error = chunk.Err.Error()
			im.logger.Warn("import chunk failed",
				zap.String("location_id", loc.ID),
				zap.Int("chunk", index),
				zap.Int("start", start),
				zap.Int("end", end),
				zap.Int("attempts", chunk.Attempts),
				zap.Error(chunk.Err),
			)
		} else {
			report.Imported += chunk.Imported
			for _, sku := range chunk.Skipped {
				skipped[sku] = struct{}{}
			}
		}
		report.Chunks = append(report.Chunks, chunk)
	}

	for sku := range skipped {
		report.Skipped = append(report.Skipped, sku)
	}
	sort.Strings(report.Skipped)
	im.logger.Info("history import finished",
		zap.String("location_id", loc.ID),
		zap.Int("rows", report.Rows),
		zap.Int("imported", report.Imported),
		zap.Int("skipped_skus", len(report.Skipped)),
		zap.Int("failed_chunks", len(report.Failed())),
	)
	return report, nil
}

func (im *Importer) build(ctx context.Context, loc domain.Location, rows []Row) ([]domain.Movement, []string, error) {
	movements := make([]domain.Movement, 0, len(rows))
	var skipped []string
	placements := make(map[string]int64)
	batches := make(map[string]int64)

	for _, row := range rows {
		sku := strings.TrimSpace(row.SKU)
		product, err := im.catalog.ProductBySKU(ctx, loc.ID, sku)
		if errors.Is(err, domain.ErrNotFound) {
			skipped = append(skipped, sku)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: load product: %w", row.Line, err)
		}
		if !row.Type.Valid() {
			return nil, nil, fmt.Errorf("row %d: unknown movement type %q: %w", row.Line, row.Type, domain.ErrValidation)
		}

		placementID, err := im.resolve(placements, row.Placement, func(name string) (int64, error) {
			p, err := im.catalog.EnsurePlacement(ctx, loc.ID, name)
			return p.ID, err
		})
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: ensure placement: %w", row.Line, err)
		}
		batchName := row.Batch
		if !product.UseBatch {
			batchName = ""
		}
		batchID, err := im.resolve(batches, batchName, func(name string) (int64, error) {
			b, err := im.catalog.EnsureBatch(ctx, loc.ID, name, nil)
			return b.ID, err
		})
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: ensure batch: %w", row.Line, err)
		}

		platform := row.Platform
		if platform == "" {
			platform = domain.PlatformImport
		}
		movements = append(movements, domain.Movement{
			ID:          im.newID(),
			Type:        row.Type,
			LocationID:  loc.ID,
			ProductID:   product.ID,
			PlacementID: placementID,
			BatchID:     batchID,
			Delta:       row.Quantity,
			Reference:   strings.TrimSpace(row.Reference),
			Actor:       domain.Actor{Name: strings.TrimSpace(row.User), Platform: platform},
			Imported:    true,
			CreatedAt:   row.Inserted.UTC(),
		})
	}
	return movements, skipped, nil
}

func (im *Importer) resolve(cache map[string]int64, name string, ensure func(string) (int64, error)) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = domain.SentinelName
	}
	if id, ok := cache[name]; ok {
		return id, nil
	}
	id, err := ensure(name)
	if err != nil {
		return 0, err
	}
	cache[name] = id
	return id, nil
}
