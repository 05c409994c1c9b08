package rusle

import (
	"context"
	"fmt"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/metrics"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/raster"
)

// Stage names, in declaration order.
const (
	stageInputCheck    = "input-check"
	prepareStagePrefix = "prepare-"
	stageRFactor       = "r-factor"
	stageLSFactor      = "ls-factor"
	stageKFactor       = "k-factor"
	stageCFactor       = "c-factor"
	stagePFactor       = "p-factor"
	stageSoilLoss      = "soil-loss"
)

// Roles of user-supplied inputs.
const (
	inputRainfall  = "rainfall"
	inputSoil      = "soil"
	inputLandCover = "landcover"
	inputSupport   = "support"
)

// stageResult reports what a stage produced. Consumed keys are deleted once
// the stage is marked done.
type stageResult struct {
	written  *raster.Grid
	consumed []string
}

type stage struct {
	name string
	fn   func(ctx context.Context, r *run) (stageResult, error)
}

// plan is the declared stage list of one run.
type plan struct {
	setup   []stage
	factors []stage
	combine stage
}

func (pl plan) names() []string {
	names := make([]string, 0, len(pl.setup)+len(pl.factors)+1)
	for _, s := range pl.setup {
		names = append(names, s.name)
	}
	for _, s := range pl.factors {
		names = append(names, s.name)
	}
	return append(names, pl.combine.name)
}

// suppliedInputs lists the user inputs the chosen options read. Soil and
// land cover are only read by the local K and C options.
func suppliedInputs(params RunParams, opts options) []namedInput {
	inputs := []namedInput{{name: inputRainfall, ref: params.Rainfall}}
	if opts.k == LocalSoil {
		inputs = append(inputs, namedInput{name: inputSoil, ref: params.Soil})
	}
	if opts.c == LocalCfactor {
		inputs = append(inputs, namedInput{name: inputLandCover, ref: params.LandCover})
	}
	if !params.Support.IsZero() {
		inputs = append(inputs, namedInput{name: inputSupport, ref: params.Support})
	}
	return inputs
}

func (p *Pipeline) plan(r *run) plan {
	var pl plan
	pl.setup = append(pl.setup, stage{name: stageInputCheck, fn: p.checkInputs})
	for _, in := range r.inputs {
		in := in
		pl.setup = append(pl.setup, stage{
			name: prepareStagePrefix + in.name,
			fn: func(ctx context.Context, r *run) (stageResult, error) {
				return p.prepareInput(ctx, r, in)
			},
		})
	}

	pl.factors = []stage{
		{name: stageRFactor, fn: p.rFactor},
		{name: stageLSFactor, fn: p.lsFactor},
		{name: stageKFactor, fn: p.kFactor},
		{name: stageCFactor, fn: p.cFactor},
	}
	if r.hasInput(inputSupport) {
		pl.factors = append(pl.factors, stage{name: stagePFactor, fn: p.pFactor})
	}

	pl.combine = stage{name: stageSoilLoss, fn: p.soilLoss}
	return pl
}

type factorKey struct {
	name string
	key  string
}

// factorKeys lists the factor grids soil-loss multiplies, in R, LS, K, C, P
// order.
func (r *run) factorKeys() []factorKey {
	keys := []factorKey{
		{OutRFactor, r.layout.factor(OutRFactor)},
		{OutLSFactor, r.layout.factor(OutLSFactor)},
		{OutKFactor, r.layout.factor(OutKFactor)},
		{OutCFactor, r.layout.factor(OutCFactor)},
	}
	if r.hasInput(inputSupport) {
		keys = append(keys, factorKey{OutPFactor, r.layout.factor(OutPFactor)})
	}
	return keys
}

func (p *Pipeline) checkInputs(ctx context.Context, r *run) (stageResult, error) {
	result, err := validateInputs(ctx, p.deps.Inputs, r.inputs, r.mask)
	if err != nil {
		return stageResult{}, err
	}
	for _, w := range result.Warnings {
		r.log.Warn(w)
	}
	return stageResult{}, result.Err()
}

// prepareInput brings an input onto the reference grid and clips it to the
// study area.
func (p *Pipeline) prepareInput(ctx context.Context, r *run, in namedInput) (stageResult, error) {
	g, err := p.deps.Inputs.Load(ctx, in.ref, r.ref)
	if err != nil {
		return stageResult{}, fmt.Errorf("load %s input: %w", in.name, err)
	}
	g, err = raster.ClipToMask(g, r.mask)
	if err != nil {
		return stageResult{}, fmt.Errorf("clip %s input: %w", in.name, err)
	}
	if err := p.writeGrid(ctx, r.layout.prepared(in.name), g); err != nil {
		return stageResult{}, err
	}
	return stageResult{written: g}, nil
}

func (p *Pipeline) rFactor(ctx context.Context, r *run) (stageResult, error) {
	return p.passThrough(ctx, r, inputRainfall, OutRFactor)
}

func (p *Pipeline) lsFactor(ctx context.Context, r *run) (stageResult, error) {
	var ls *raster.Grid
	switch r.opts.ls {
	case SlopeLength:
		slope, err := p.readPreprocessed(ctx, r, preSlopePct)
		if err != nil {
			return stageResult{}, err
		}
		ls = SlopeLengthLS(slope, r.ref.CellSize, r.opts.cutoff)

	case UpslopeArea:
		info, found, err := readPreprocessInfo(ctx, p.deps.Store, r.layout)
		if err != nil {
			return stageResult{}, err
		}
		if !info.ReconditionDEM {
			if !found {
				r.log.Warn("preprocess descriptor missing, DEM treated as not reconditioned")
			}
			return stageResult{}, &UnreconditionedDEMError{Preprocessed: r.params.Preprocessed}
		}
		slope, err := p.readPreprocessed(ctx, r, preSlopeDeg)
		if err != nil {
			return stageResult{}, err
		}
		flowAcc, err := p.readPreprocessed(ctx, r, preFlowAcc)
		if err != nil {
			return stageResult{}, err
		}
		if ls, err = UpslopeAreaLS(slope, flowAcc, r.ref.CellSize, r.opts.cutoff); err != nil {
			return stageResult{}, err
		}

	default:
		return stageResult{}, &InvalidOptionError{Factor: "LS", Value: string(r.opts.ls), Allowed: []string{string(SlopeLength), string(UpslopeArea)}}
	}

	return p.writeFactor(ctx, r, OutLSFactor, ls)
}

func (p *Pipeline) kFactor(ctx context.Context, r *run) (stageResult, error) {
	switch r.opts.k {
	case PreprocessSoil:
		return p.joinedFactor(ctx, r, preSoil, TableHWSD, OutKFactor)
	case LocalSoil:
		return p.passThrough(ctx, r, inputSoil, OutKFactor)
	default:
		return stageResult{}, &InvalidOptionError{Factor: "K", Value: string(r.opts.k), Allowed: []string{string(PreprocessSoil), string(LocalSoil)}}
	}
}

func (p *Pipeline) cFactor(ctx context.Context, r *run) (stageResult, error) {
	switch r.opts.c {
	case PreprocessLC:
		return p.joinedFactor(ctx, r, preLandCover, TableESACCI, OutCFactor)
	case LocalCfactor:
		return p.passThrough(ctx, r, inputLandCover, OutCFactor)
	default:
		return stageResult{}, &InvalidOptionError{Factor: "C", Value: string(r.opts.c), Allowed: []string{string(PreprocessLC), string(LocalCfactor)}}
	}
}

func (p *Pipeline) pFactor(ctx context.Context, r *run) (stageResult, error) {
	return p.passThrough(ctx, r, inputSupport, OutPFactor)
}

func (p *Pipeline) soilLoss(ctx context.Context, r *run) (stageResult, error) {
	keys := r.factorKeys()
	grids := make([]*raster.Grid, len(keys))
	for i, f := range keys {
		g, err := p.deps.Store.ReadGrid(ctx, f.key)
		if err != nil {
			return stageResult{}, fmt.Errorf("read %s: %w", f.name, err)
		}
		grids[i] = g
	}
	factors := Factors{R: grids[0], LS: grids[1], K: grids[2], C: grids[3]}
	if len(grids) > 4 {
		factors.P = grids[4]
	}

	var streams *raster.Grid
	if r.opts.ls == UpslopeArea {
		var err error
		if streams, err = p.readPreprocessed(ctx, r, preStreams); err != nil {
			return stageResult{}, err
		}
	}

	loss, err := Combine(factors, r.opts.ls, streams)
	if err != nil {
		return stageResult{}, err
	}
	if err := p.writeGrid(ctx, r.layout.out(OutSoilLoss), loss); err != nil {
		return stageResult{}, err
	}

	res := stageResult{written: loss}
	if !r.params.SaveFactors {
		for _, f := range keys {
			res.consumed = append(res.consumed, f.key)
		}
	}
	return res, nil
}

// passThrough publishes a prepared input unchanged as a factor.
func (p *Pipeline) passThrough(ctx context.Context, r *run, input, factor string) (stageResult, error) {
	key := r.layout.prepared(input)
	g, err := p.deps.Store.ReadGrid(ctx, key)
	if err != nil {
		return stageResult{}, fmt.Errorf("read prepared %s: %w", input, err)
	}
	if err := p.writeGrid(ctx, r.layout.factor(factor), g); err != nil {
		return stageResult{}, err
	}
	return stageResult{written: g, consumed: []string{key}}, nil
}

// joinedFactor derives a factor from a preprocessed categorical grid and a
// lookup table.
func (p *Pipeline) joinedFactor(ctx context.Context, r *run, codesName, table, factor string) (stageResult, error) {
	codes, err := p.readPreprocessed(ctx, r, codesName)
	if err != nil {
		return stageResult{}, err
	}
	tbl, err := p.deps.Tables.Table(ctx, table)
	if err != nil {
		return stageResult{}, err
	}

	g, report := raster.Join(codes, tbl)
	if len(report.Missing) > 0 {
		cells := 0
		for _, n := range report.Missing {
			cells += n
		}
		p.deps.Metrics.AddLookupMisses(metrics.Labels{Table: table}, float64(cells))
		if p.settings.StrictLookup {
			return stageResult{}, &LookupMissError{Table: table, Codes: report.MissingCodes(), Cells: cells}
		}
		r.log.Warn("category codes missing from lookup table, cells set to no-data",
			"table", table,
			"codes", report.MissingCodes(),
			"cells", cells,
		)
	}
	return p.writeFactor(ctx, r, factor, g)
}

// writeFactor clips a computed factor to the study area and writes it.
func (p *Pipeline) writeFactor(ctx context.Context, r *run, factor string, g *raster.Grid) (stageResult, error) {
	g, err := raster.ClipToMask(g, r.mask)
	if err != nil {
		return stageResult{}, fmt.Errorf("clip %s: %w", factor, err)
	}
	if err := p.writeGrid(ctx, r.layout.factor(factor), g); err != nil {
		return stageResult{}, err
	}
	return stageResult{written: g}, nil
}

// readPreprocessed reads a preprocessed grid aligned to the reference grid.
func (p *Pipeline) readPreprocessed(ctx context.Context, r *run, name string) (*raster.Grid, error) {
	g, err := p.deps.Store.ReadGrid(ctx, r.layout.pre(name))
	if err != nil {
		p.deps.Metrics.IncStorageErrors(metrics.Labels{Operation: "read"})
		return nil, fmt.Errorf("read preprocessed %s: %w", name, err)
	}
	g, err = onReference(g, r.ref)
	if err != nil {
		return nil, fmt.Errorf("align %s: %w", name, err)
	}
	return g, nil
}

func (p *Pipeline) writeGrid(ctx context.Context, key string, g *raster.Grid) error {
	if err := p.deps.Store.WriteGrid(ctx, key, g); err != nil {
		p.deps.Metrics.IncStorageErrors(metrics.Labels{Operation: "write"})
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// onReference resamples g onto ref unless it already shares its layout.
func onReference(g *raster.Grid, ref raster.Definition) (*raster.Grid, error) {
	if g.Definition().SameLayout(ref) {
		return g, nil
	}
	return raster.Resample(g, ref)
}
