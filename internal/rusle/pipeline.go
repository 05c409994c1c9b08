// Package rusle computes RUSLE soil loss grids and two-period soil loss
// accounts as resumable, checkpointed pipelines.
package rusle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/audit"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/logging"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/metadata"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/metrics"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/raster"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// Run kinds recorded in logs, metrics and the catalog.
const (
	KindRUSLE    = "rusle"
	KindAccounts = "accounts"
)

// DefaultTablesPrefix is where lookup tables are read from when no table
// source is given.
const DefaultTablesPrefix = "tables"

// Deps are the collaborators of a pipeline. Ledgers, Catalog, Audit and
// Tables have defaults; Metrics may be nil.
type Deps struct {
	Store   Store
	Inputs  Inputs
	Tables  TableSource
	Ledgers checkpoint.Manager
	Catalog metadata.Writer
	Audit   audit.Emitter
	Metrics *metrics.Metrics
}

// Settings tune pipeline behaviour.
type Settings struct {
	// ParallelFactors computes the factor stages concurrently.
	ParallelFactors bool
	// ParallelLimit bounds concurrent factor stages; 0 means unbounded.
	ParallelLimit int
	// StrictLookup fails a join when category codes are missing from the
	// lookup table instead of writing no-data.
	StrictLookup bool
	// StrictCatalog fails the run when the catalog cannot be written.
	StrictCatalog bool
	Producer      metadata.ProducerInfo
}

// Pipeline runs soil loss and accounts computations.
type Pipeline struct {
	deps     Deps
	settings Settings
	log      *slog.Logger
}

// New creates a pipeline.
func New(deps Deps, settings Settings) *Pipeline {
	if deps.Ledgers == nil {
		deps.Ledgers = checkpoint.NewMemoryManager()
	}
	if deps.Catalog == nil {
		deps.Catalog = metadata.NewNoopWriter()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NoopEmitter{}
	}
	if deps.Tables == nil && deps.Store != nil {
		deps.Tables = NewStoreTables(deps.Store, DefaultTablesPrefix)
	}
	if settings.Producer.Name == "" {
		settings.Producer = metadata.ProducerInfo{Name: "soil-loss", Version: Version, GitSHA: GitSHA}
	}
	return &Pipeline{
		deps:     deps,
		settings: settings,
		log:      logging.Component("rusle"),
	}
}

// Result is the outcome of a soil loss run.
type Result struct {
	RunID    string
	Output   string
	SoilLoss *raster.Grid
	Key      string
	URI      string
	// Factors maps factor output names to their keys. It is empty unless
	// factor grids were saved.
	Factors map[string]string
	// Skipped lists stages already done in the ledger on resume.
	Skipped []string
}

// runInfo identifies one run for logging, metrics and the catalog.
type runInfo struct {
	id          string
	correlation string
	kind        string
	output      string
	params      string
	started     time.Time
	log         *slog.Logger
}

// newRunInfo starts a run. Runs inherit the correlation ID of the context,
// so the sub-runs of an accounts run log under their parent's ID.
func newRunInfo(ctx context.Context, kind, output string) runInfo {
	id := uuid.NewString()
	correlation := logging.CorrelationID(ctx)
	if correlation == "" {
		correlation = id
	}
	return runInfo{
		id:          id,
		correlation: correlation,
		kind:        kind,
		output:      output,
		started:     time.Now(),
		log:         logging.RunLogger(correlation, kind, output).With("run_id", id),
	}
}

// run is the context threaded through every stage of one soil loss run.
type run struct {
	runInfo

	params RunParams
	opts   options
	resume bool
	layout layout
	ledger checkpoint.Ledger
	inputs []namedInput

	// Reference grid definition taken from the preprocessed DEM, and the
	// study area mask on that grid.
	ref  raster.Definition
	mask *raster.Grid

	mu      sync.Mutex
	skipped []string
}

func (r *run) hasInput(name string) bool {
	for _, in := range r.inputs {
		if in.name == name {
			return true
		}
	}
	return false
}

func (r *run) markSkipped(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, stage)
}

// RunRUSLE computes a soil loss grid.
//
// The lifecycle is:
//  1. Validate options and required inputs (no I/O before this passes)
//  2. Persist the run parameters and record the run in the catalog
//  3. Initialise the checkpoint ledger with the declared stages
//  4. Load the reference grid and study area mask
//  5. Run input-check and the prepare-* stages in order
//  6. Run the factor stages, sequentially or as a fan-out
//  7. Run soil-loss, the fan-in barrier
//  8. Write the manifest and record the outcome
//
// A failed stage leaves the ledger as of the last completed stage, so a
// later run with Resume set continues from there.
func (p *Pipeline) RunRUSLE(ctx context.Context, params RunParams) (*Result, error) {
	opts, err := params.validate()
	if err != nil {
		p.deps.Metrics.IncRunsFailed(metrics.Labels{RunKind: KindRUSLE, Reason: failureReason(err)})
		p.log.Error("invalid run parameters", "output", params.Output, "error", err)
		return nil, err
	}

	r := &run{
		runInfo: newRunInfo(ctx, KindRUSLE, params.Output),
		params:  params,
		opts:    opts,
		resume:  params.Resume,
		layout: layout{
			output:       params.Output,
			preprocessed: params.Preprocessed,
			saveFactors:  params.SaveFactors,
		},
		ledger: p.deps.Ledgers.Open(params.Output),
		inputs: suppliedInputs(params, opts),
	}
	if !params.Soil.IsZero() && opts.k != LocalSoil {
		r.log.Warn("soil input ignored", "k_option", opts.k)
	}
	if !params.LandCover.IsZero() && opts.c != LocalCfactor {
		r.log.Warn("land cover input ignored", "c_option", opts.c)
	}

	r.log.Info("starting soil loss run",
		"ls_option", opts.ls,
		"k_option", opts.k,
		"c_option", opts.c,
		"cutoff_angle", opts.cutoff,
		"support", r.hasInput(inputSupport),
		"resume", params.Resume,
	)

	p.checkResumable(ctx, r)
	if err := p.begin(ctx, &r.runInfo, params); err != nil {
		return nil, p.fail(ctx, r.runInfo, err)
	}

	res, err := p.runStages(ctx, r)
	if err != nil {
		return nil, p.fail(ctx, r.runInfo, err)
	}
	if err := p.succeed(ctx, r.runInfo); err != nil {
		return nil, err
	}
	return res, nil
}

// checkResumable turns a resume into a fresh run when the parameters
// differ from those persisted by the previous attempt.
func (p *Pipeline) checkResumable(ctx context.Context, r *run) {
	if !r.resume {
		return
	}
	data, err := p.deps.Store.ReadObject(ctx, r.layout.out(ParamsFileName))
	if err != nil {
		// Nothing persisted yet; the ledger decides what is done.
		return
	}
	prev, err := LoadRunParams(data)
	if err != nil {
		r.log.Warn("previous run parameters unreadable, starting fresh", "error", err)
		r.resume = false
		return
	}
	if !sameComputation(prev, r.params) {
		r.log.Info("run parameters changed since last attempt, starting fresh")
		r.resume = false
	}
}

func (p *Pipeline) runStages(ctx context.Context, r *run) (*Result, error) {
	pl := p.plan(r)
	if err := r.ledger.Init(ctx, pl.names(), r.resume); err != nil {
		return nil, fmt.Errorf("init checkpoint: %w", err)
	}
	if err := p.loadReference(ctx, r); err != nil {
		return nil, err
	}

	for _, s := range pl.setup {
		if err := p.execute(ctx, r, s); err != nil {
			return nil, err
		}
	}
	if err := p.executeFactors(ctx, r, pl.factors); err != nil {
		return nil, err
	}
	if err := p.execute(ctx, r, pl.combine); err != nil {
		return nil, err
	}

	key := r.layout.out(OutSoilLoss)
	loss, err := p.deps.Store.ReadGrid(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read soil loss: %w", err)
	}

	res := &Result{
		RunID:    r.id,
		Output:   r.params.Output,
		SoilLoss: loss,
		Key:      key,
		URI:      p.deps.Store.URI(key),
		Factors:  make(map[string]string),
		Skipped:  r.skipped,
	}
	grids := map[string]publishedGrid{OutSoilLoss: {key: key, grid: loss}}
	if r.params.SaveFactors {
		for _, f := range r.factorKeys() {
			g, err := p.deps.Store.ReadGrid(ctx, f.key)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", f.name, err)
			}
			res.Factors[f.name] = f.key
			grids[f.name] = publishedGrid{key: f.key, grid: g}
		}
	}
	if err := p.writeManifest(ctx, r.runInfo, grids); err != nil {
		return nil, err
	}

	r.log.Info("soil loss run complete",
		"key", key,
		"valid_cells", loss.ValidCount(),
		"skipped_stages", len(res.Skipped),
		"duration", time.Since(r.started).String(),
	)
	return res, nil
}

// loadReference reads the DEM definition and the study area mask.
func (p *Pipeline) loadReference(ctx context.Context, r *run) error {
	dem, err := p.deps.Store.ReadGrid(ctx, r.layout.pre(preDEM))
	if err != nil {
		return fmt.Errorf("read reference DEM: %w", err)
	}
	r.ref = dem.Definition()

	mask, err := p.deps.Store.ReadGrid(ctx, r.layout.pre(preStudyMask))
	if err != nil {
		return fmt.Errorf("read study area mask: %w", err)
	}
	r.mask, err = onReference(mask, r.ref)
	if err != nil {
		return fmt.Errorf("align study area mask: %w", err)
	}
	return nil
}

// execute runs one stage unless the ledger already has it done. Consumed
// intermediates are deleted only after the stage is marked done.
func (p *Pipeline) execute(ctx context.Context, r *run, s stage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log := logging.StageLogger(r.log, s.name)
	labels := metrics.Labels{RunKind: r.kind, Stage: s.name}

	if r.ledger.StageDone(s.name) {
		log.Info("stage already done, skipping")
		r.markSkipped(s.name)
		p.deps.Metrics.IncStagesSkipped(labels)
		return p.recordStage(ctx, r.runInfo, metadata.StageRecord{Stage: s.name, Status: metadata.StageSkipped})
	}

	log.Debug("stage running")
	p.deps.Metrics.AddInFlightStages(1)
	start := time.Now()
	res, err := s.fn(ctx, r)
	elapsed := time.Since(start)
	p.deps.Metrics.AddInFlightStages(-1)

	if err != nil {
		p.deps.Metrics.IncStagesFailed(labels)
		log.Error("stage failed", "error", err, "duration", elapsed.String())
		if recErr := p.recordStage(ctx, r.runInfo, metadata.StageRecord{
			Stage:    s.name,
			Status:   metadata.StageFailed,
			Duration: elapsed,
			Error:    err.Error(),
		}); recErr != nil {
			log.Warn("failed to record stage failure", "error", recErr)
		}
		return &StageError{Stage: s.name, Err: err}
	}

	if err := r.ledger.MarkDone(ctx, s.name); err != nil {
		return &StageError{Stage: s.name, Err: fmt.Errorf("mark done: %w", err)}
	}

	for _, key := range res.consumed {
		if err := p.deps.Store.DeleteGrid(ctx, key); err != nil {
			p.deps.Metrics.IncStorageErrors(metrics.Labels{Operation: "delete"})
			log.Warn("failed to delete intermediate grid", "key", key, "error", err)
		}
	}

	var cells int
	if res.written != nil {
		cells = res.written.ValidCount()
		p.deps.Metrics.ObserveGridCells(labels, float64(cells))
	}
	p.deps.Metrics.IncStagesCompleted(labels)
	p.deps.Metrics.ObserveStageDuration(labels, elapsed.Seconds())
	log.Info("stage completed", "duration", elapsed.String(), "valid_cells", cells)

	return p.recordStage(ctx, r.runInfo, metadata.StageRecord{
		Stage:      s.name,
		Status:     metadata.StageCompleted,
		Duration:   elapsed,
		ValidCells: int64(cells),
	})
}

// executeFactors runs the factor stages. They share no data, so in parallel
// mode they fan out and soil-loss waits for all of them.
func (p *Pipeline) executeFactors(ctx context.Context, r *run, stages []stage) error {
	if !p.settings.ParallelFactors || len(stages) < 2 {
		for _, s := range stages {
			if err := p.execute(ctx, r, s); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if p.settings.ParallelLimit > 0 {
		g.SetLimit(p.settings.ParallelLimit)
	}
	for _, s := range stages {
		s := s
		g.Go(func() error {
			return p.execute(gctx, r, s)
		})
	}
	return g.Wait()
}

// begin persists the run parameters and records the run start.
func (p *Pipeline) begin(ctx context.Context, info *runInfo, params any) error {
	doc, err := marshalParams(params)
	if err != nil {
		return err
	}
	info.params = doc

	if err := p.deps.Store.WriteObject(ctx, joinKey(info.output, ParamsFileName), []byte(doc)); err != nil {
		p.deps.Metrics.IncStorageErrors(metrics.Labels{Operation: "write"})
		return fmt.Errorf("write %s: %w", ParamsFileName, err)
	}

	p.deps.Metrics.IncRunsStarted(metrics.Labels{RunKind: info.kind})
	return p.recordRun(ctx, *info, metadata.RunRunning, nil)
}

func (p *Pipeline) succeed(ctx context.Context, info runInfo) error {
	labels := metrics.Labels{RunKind: info.kind}
	p.deps.Metrics.IncRunsCompleted(labels)
	p.deps.Metrics.ObserveRunDuration(labels, time.Since(info.started).Seconds())
	return p.recordRun(ctx, info, metadata.RunSucceeded, nil)
}

// fail records a failed run and returns err.
func (p *Pipeline) fail(ctx context.Context, info runInfo, err error) error {
	reason := failureReason(err)
	labels := metrics.Labels{RunKind: info.kind, Reason: reason}
	p.deps.Metrics.IncRunsFailed(labels)
	p.deps.Metrics.ObserveRunDuration(labels, time.Since(info.started).Seconds())
	info.log.Error("run failed", "reason", reason, "error", err)

	if recErr := p.recordRun(context.WithoutCancel(ctx), info, metadata.RunFailed, err); recErr != nil {
		info.log.Warn("failed to record run failure", "error", recErr)
	}
	return err
}

func (p *Pipeline) recordRun(ctx context.Context, info runInfo, status string, runErr error) error {
	rec := metadata.RunRecord{
		RunID:     info.id,
		Kind:      info.kind,
		Output:    info.output,
		Params:    info.params,
		Status:    status,
		StartedAt: info.started.UTC(),
	}
	if status != metadata.RunRunning {
		now := time.Now().UTC()
		rec.FinishedAt = &now
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return p.catalogResult(info, "record_run", p.deps.Catalog.RecordRun(ctx, rec))
}

func (p *Pipeline) recordStage(ctx context.Context, info runInfo, rec metadata.StageRecord) error {
	rec.RunID = info.id
	rec.RecordedAt = time.Now().UTC()
	return p.catalogResult(info, "record_stage", p.deps.Catalog.RecordStage(ctx, rec))
}

// catalogResult logs catalog failures, returning them only in strict mode.
func (p *Pipeline) catalogResult(info runInfo, op string, err error) error {
	if err == nil {
		return nil
	}
	p.deps.Metrics.IncMetadataErrors(metrics.Labels{Operation: op})
	if p.settings.StrictCatalog {
		return fmt.Errorf("catalog %s: %w", op, err)
	}
	info.log.Warn("catalog write failed", "operation", op, "error", err)
	return nil
}

type publishedGrid struct {
	key  string
	grid *raster.Grid
}

// writeManifest writes the manifest listing the published grids.
func (p *Pipeline) writeManifest(ctx context.Context, info runInfo, grids map[string]publishedGrid) error {
	m := metadata.NewManifest(info.id, info.kind, info.output, p.settings.Producer)
	for name, g := range grids {
		m.Add(name, gridSummary(g.key, p.deps.Store.URI(g.key), g.grid))
	}
	data, err := m.JSON()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := p.deps.Store.WriteObject(ctx, joinKey(info.output, metadata.ManifestName), data); err != nil {
		p.deps.Metrics.IncStorageErrors(metrics.Labels{Operation: "write"})
		return fmt.Errorf("write manifest: %w", err)
	}
	p.emitAudit(ctx, info, grids)
	return nil
}

// emitAudit records the published grids in the audit chain of the output.
// Audit failures are logged and do not fail the run.
func (p *Pipeline) emitAudit(ctx context.Context, info runInfo, grids map[string]publishedGrid) {
	evt := &audit.Event{
		Run: audit.RunInfo{
			RunID:         info.id,
			CorrelationID: info.correlation,
			Kind:          info.kind,
			Output:        info.output,
			ParamsHash:    audit.HashParams(info.params),
		},
		Grids:    make(map[string]audit.GridInfo, len(grids)),
		Producer: p.settings.Producer,
	}
	for name, g := range grids {
		evt.Grids[name] = audit.GridInfo{
			Key:        g.key,
			Checksum:   g.grid.Checksum(),
			ValidCells: g.grid.ValidCount(),
		}
	}
	if err := p.deps.Audit.Emit(ctx, evt); err != nil {
		p.deps.Metrics.IncMetadataErrors(metrics.Labels{Operation: "audit_emit"})
		info.log.Warn("failed to emit audit event", "error", err)
		return
	}
	info.log.Debug("emitted audit event", "event_id", evt.EventID, "event_hash", evt.Chain.EventHash)
}

func gridSummary(key, uri string, g *raster.Grid) metadata.GridSummary {
	s := raster.Summarize(g)
	gs := metadata.GridSummary{Key: key, URI: uri, ValidCells: s.Valid}
	// JSON has no NaN; an empty grid reports zeros.
	if s.Valid > 0 && !math.IsNaN(s.Mean) {
		gs.Min, gs.Max, gs.Mean = s.Min, s.Max, s.Mean
	}
	return gs
}

// failureReason classifies an error for metrics.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrGeographicCRS):
		return "geographic_crs"
	case errors.Is(err, ErrCoverage):
		return "coverage"
	case errors.Is(err, ErrInvalidOption):
		return "invalid_option"
	case errors.Is(err, ErrUnreconditionedDEM):
		return "unreconditioned_dem"
	case errors.Is(err, ErrMissingInput):
		return "missing_input"
	case errors.Is(err, ErrLookupMiss):
		return "lookup_miss"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "engine"
	}
}
