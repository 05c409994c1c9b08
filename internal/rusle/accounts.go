package rusle

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/logging"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/metrics"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/raster"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/tables"
)

// AccountsResult is the outcome of a two-period accounts run.
type AccountsResult struct {
	RunID  string
	Output string

	LossA *raster.Grid
	LossB *raster.Grid
	// Diff is LossB - LossA with unchanged cells as no-data.
	Diff *raster.Grid

	// Keys maps output names to storage keys.
	Keys map[string]string

	// Table is the exported per-cell comparison, when requested.
	Table *tables.ParquetOutput
}

// RunAccounts runs the soil loss pipeline for two periods with the local K
// and C factor datasets and differences the results.
//
// The lifecycle is:
//  1. Validate both periods' parameters
//  2. Run period A into <output>/periodA
//  3. Run period B into <output>/periodB
//  4. Difference the two soil loss grids
//  5. Publish soillossA, soillossB and soillossDiff (and the table export)
//
// Nothing is published unless both periods succeed. A publish failure
// removes whatever was already written.
func (p *Pipeline) RunAccounts(ctx context.Context, params AccountsParams) (*AccountsResult, error) {
	if err := params.validate(); err != nil {
		p.deps.Metrics.IncRunsFailed(metrics.Labels{RunKind: KindAccounts, Reason: failureReason(err)})
		p.log.Error("invalid accounts parameters", "output", params.Output, "error", err)
		return nil, err
	}

	info := newRunInfo(ctx, KindAccounts, params.Output)
	ctx = logging.WithCorrelationID(ctx, info.correlation)
	info.log.Info("starting accounts run",
		"ls_option", params.LSOption,
		"period_a", params.PeriodA.Preprocessed,
		"period_b", params.PeriodB.Preprocessed,
	)
	if err := p.begin(ctx, &info, params); err != nil {
		return nil, p.fail(ctx, info, err)
	}

	resA, err := p.RunRUSLE(ctx, params.periodParams(periodA, params.PeriodA))
	if err != nil {
		return nil, p.fail(ctx, info, fmt.Errorf("%s: %w", periodA, err))
	}
	resB, err := p.RunRUSLE(ctx, params.periodParams(periodB, params.PeriodB))
	if err != nil {
		return nil, p.fail(ctx, info, fmt.Errorf("%s: %w", periodB, err))
	}

	lossB, err := onReference(resB.SoilLoss, resA.SoilLoss.Definition())
	if err != nil {
		return nil, p.fail(ctx, info, fmt.Errorf("align %s soil loss: %w", periodB, err))
	}
	diff, err := Difference(resA.SoilLoss, lossB)
	if err != nil {
		return nil, p.fail(ctx, info, err)
	}

	res := &AccountsResult{
		RunID:  info.id,
		Output: params.Output,
		LossA:  resA.SoilLoss,
		LossB:  lossB,
		Diff:   diff,
		Keys:   make(map[string]string),
	}
	if err := p.publishAccounts(ctx, info, params, res); err != nil {
		return nil, p.fail(ctx, info, err)
	}
	if err := p.succeed(ctx, info); err != nil {
		return nil, err
	}

	info.log.Info("accounts run complete",
		"diff_cells", diff.ValidCount(),
		"duration", time.Since(info.started).String(),
	)
	return res, nil
}

// publishAccounts writes the three accounts grids, the optional table and
// the manifest, removing partial output on failure.
func (p *Pipeline) publishAccounts(ctx context.Context, info runInfo, params AccountsParams, res *AccountsResult) (err error) {
	var written []string
	defer func() {
		if err == nil {
			return
		}
		cleanup := context.WithoutCancel(ctx)
		for _, key := range written {
			if delErr := p.deps.Store.DeleteGrid(cleanup, key); delErr != nil {
				info.log.Warn("failed to remove partial accounts output", "key", key, "error", delErr)
			}
		}
	}()

	outputs := []struct {
		name string
		grid *raster.Grid
	}{
		{OutSoilLossA, res.LossA},
		{OutSoilLossB, res.LossB},
		{OutSoilLossDiff, res.Diff},
	}
	grids := make(map[string]publishedGrid, len(outputs))
	for _, o := range outputs {
		key := joinKey(params.Output, o.name)
		if err := p.writeGrid(ctx, key, o.grid); err != nil {
			return err
		}
		written = append(written, key)
		res.Keys[o.name] = key
		grids[o.name] = publishedGrid{key: key, grid: o.grid}
	}

	if params.ExportTable {
		out, err := tables.WriteAccounts(accountsRows(res.LossA, res.LossB, res.Diff))
		if err != nil {
			return fmt.Errorf("encode accounts table: %w", err)
		}
		key := joinKey(params.Output, OutAccountsPQ)
		if err := p.deps.Store.WriteObject(ctx, key, out.Bytes); err != nil {
			p.deps.Metrics.IncStorageErrors(metrics.Labels{Operation: "write"})
			return fmt.Errorf("write %s: %w", OutAccountsPQ, err)
		}
		res.Keys[OutAccountsPQ] = key
		res.Table = out
		info.log.Info("wrote accounts table", "rows", out.RowCount, "checksum", out.Checksum)
	}

	return p.writeManifest(ctx, info, grids)
}

// accountsRows lists every cell valid in either period.
func accountsRows(lossA, lossB, diff *raster.Grid) []tables.AccountsRow {
	def := lossA.Definition()
	var rows []tables.AccountsRow
	for row := 0; row < def.Rows; row++ {
		for col := 0; col < def.Cols; col++ {
			a, b := lossA.At(row, col), lossB.At(row, col)
			if math.IsNaN(a) && math.IsNaN(b) {
				continue
			}
			x, y := def.CellCenter(row, col)
			rows = append(rows, tables.AccountsRow{
				Row:   int32(row),
				Col:   int32(col),
				X:     x,
				Y:     y,
				LossA: optional(a),
				LossB: optional(b),
				Diff:  optional(diff.At(row, col)),
			})
		}
	}
	return rows
}

func optional(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
