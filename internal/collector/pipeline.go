// Package collector implements the ingest pipeline (C6) and task supervisor
// (C8): the layer that drives an exchange connector and the partition
// store through one complete ingest job, and the bounded worker pool that
// runs many such jobs concurrently.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnayoung/go-ohlcv-collector/internal/contracts"
	"github.com/johnayoung/go-ohlcv-collector/internal/models"
	"github.com/johnayoung/go-ohlcv-collector/internal/storage"
)

// defaultFetchLimit mirrors the exchange connector's typical page size
// (SPEC_FULL §4.5: "limit defaults to exchange maximum, typ. 1000").
const defaultFetchLimit = 1000

// IngestParams describes one ingest job, the parameters enqueue(kind,
// identity, type, params) carries through to the pipeline.
type IngestParams struct {
	Identity    models.Identity
	DataType    models.DataType
	Period      string // candle period; empty for funding
	Start       int64  // required unless FullHistory
	FullHistory bool
	FetchLimit  int
}

// ProgressFunc receives a progress update after each batch write, letting
// the supervisor mirror it onto the task registry.
type ProgressFunc func(cursor int64, recordsCollected int, message string)

// Pipeline is C6: resolves a start cursor, pages an exchange connector,
// writes each page through the partition store, and tracks continuity.
type Pipeline struct {
	adapter  contracts.ExchangeAdapter
	store    storage.PartitionStore
	manifest storage.Manifest
	logger   *slog.Logger
}

// NewPipeline constructs a Pipeline over one resolved exchange adapter and
// the shared partition store/manifest.
func NewPipeline(adapter contracts.ExchangeAdapter, store storage.PartitionStore, manifest storage.Manifest, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{adapter: adapter, store: store, manifest: manifest, logger: logger}
}

// Run executes one ingest job to completion or cancellation, per
// SPEC_FULL §4.6. onProgress may be nil.
func (p *Pipeline) Run(ctx context.Context, params IngestParams, onProgress ProgressFunc) error {
	id := params.Identity.Normalize()
	limit := params.FetchLimit
	if limit <= 0 {
		limit = defaultFetchLimit
	}

	tCursor, err := p.resolveStart(ctx, id, params)
	if err != nil {
		return err
	}
	tEnd := time.Now().UTC().UnixMilli()

	var stepMs int64
	if params.Period != "" {
		stepMs, err = models.PeriodMs(params.Period)
		if err != nil {
			return fmt.Errorf("collector: %w", err)
		}
	}

	var prevLastTs int64
	havePrev := false
	var totalRows int

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := p.fetch(ctx, id, params.DataType, params.Period, tCursor, limit)
		if err != nil {
			return fmt.Errorf("collector: fetch failed: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		maxTs := batch[0].Ts
		minTs := batch[0].Ts
		for _, r := range batch[1:] {
			if r.Ts > maxTs {
				maxTs = r.Ts
			}
			if r.Ts < minTs {
				minTs = r.Ts
			}
		}
		if maxTs <= tCursor {
			// Connector returned nothing newer than the cursor; stop rather
			// than loop forever re-fetching the same page.
			break
		}

		if havePrev && stepMs > 0 {
			key := models.TaskKey(id.Exchange, id.Market, id.Symbol, string(params.DataType))
			if finding, ok := models.DetectGap(key, prevLastTs, minTs, stepMs); ok {
				p.logger.Warn("continuity finding", "finding", finding.String())
			}
		}

		if _, err := p.store.Write(ctx, id, string(params.DataType), params.Period, batch); err != nil {
			return fmt.Errorf("collector: write failed: %w", err)
		}

		totalRows += len(batch)
		prevLastTs = maxTs
		havePrev = true
		tCursor = maxTs + 1

		if onProgress != nil {
			onProgress(tCursor, totalRows, fmt.Sprintf("fetched %d rows; cursor=%s", totalRows, time.UnixMilli(tCursor).UTC().Format(time.RFC3339)))
		}

		if tCursor >= tEnd {
			break
		}
	}

	return nil
}

// resolveStart implements SPEC_FULL §4.6 step 1.
func (p *Pipeline) resolveStart(ctx context.Context, id models.Identity, params IngestParams) (int64, error) {
	if params.FullHistory {
		return p.adapter.ProbeListingDate(ctx, id, params.Period)
	}

	entries, err := p.manifest.Find(ctx, storage.ManifestFilter{
		Exchange: id.Exchange, Market: id.Market, Symbol: id.Symbol,
		Type: string(params.DataType), Period: params.Period,
	})
	if err != nil {
		return 0, err
	}
	if len(entries) > 0 {
		var maxTimeTo int64
		for _, e := range entries {
			if e.TimeTo > maxTimeTo {
				maxTimeTo = e.TimeTo
			}
		}
		return maxTimeTo + 1, nil
	}

	if params.Start == 0 {
		return 0, fmt.Errorf("collector: MissingStart: start time required for a new identity without full_history")
	}
	return params.Start, nil
}

func (p *Pipeline) fetch(ctx context.Context, id models.Identity, dataType models.DataType, period string, sinceMs int64, limit int) (models.Batch, error) {
	switch dataType {
	case models.DataTypeOHLCV:
		candles, err := p.adapter.FetchOHLCV(ctx, id, period, sinceMs, limit)
		if err != nil {
			return nil, err
		}
		batch := make(models.Batch, len(candles))
		for i := range candles {
			batch[i] = candles[i].ToRecord()
		}
		return batch, nil
	case models.DataTypeFunding:
		rates, err := p.adapter.FetchFunding(ctx, id, sinceMs, limit)
		if err != nil {
			return nil, err
		}
		batch := make(models.Batch, len(rates))
		for i := range rates {
			batch[i] = rates[i].ToRecord()
		}
		return batch, nil
	default:
		return nil, fmt.Errorf("collector: unsupported data type %q", dataType)
	}
}
