package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/audit"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/config"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/logging"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/metadata"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/metrics"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/rusle"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/source"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/storage"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "soil-loss",
		Short: "Estimate soil erosion with RUSLE and compare it between periods",
		Long: `soil-loss computes RUSLE soil loss grids (R x LS x K x C x P) from
preprocessed terrain data and user inputs, and soil loss accounts comparing
two periods.

Service settings (storage backend, checkpoints, catalog, metrics, logging)
come from environment variables; run parameters come from flags or a YAML
file given with --params. Flags override values from the file.

  soil-loss run --params run.yaml
  soil-loss run --output runs/2020 --preprocessed pre/2020 \
      --ls-option SlopeLength --rainfall inputs/rain \
      --k-option PreprocessSoil --c-option PreprocessLC
  soil-loss accounts --params accounts.yaml --export-table
  soil-loss history <run-id>`,
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newAccountsCmd(), newHistoryCmd())
	return root
}

// env holds the collaborators built from service configuration.
type env struct {
	cfg      config.Config
	store    *storage.GridStore
	catalog  metadata.Writer
	audit    audit.Emitter
	pipeline *rusle.Pipeline
}

func setup(ctx context.Context) (*env, error) {
	cfg := config.MustLoad()
	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.Init(cfg.Metrics.Namespace)
		go func() {
			log.Printf("[metrics] serving on %s", cfg.Metrics.Address)
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Printf("[metrics] server stopped: %v", err)
			}
		}()
	}

	store, err := storage.Open(ctx, storage.StorageConfig{
		Backend:        cfg.Storage.Backend,
		LocalDir:       cfg.Storage.LocalDir,
		Bucket:         cfg.Storage.Bucket,
		S3Endpoint:     cfg.Storage.S3Endpoint,
		S3Region:       cfg.Storage.S3Region,
		MinIOEndpoint:  cfg.Storage.MinIOEndpoint,
		MinIOAccessKey: cfg.Storage.MinIOAccessKey,
		MinIOSecretKey: cfg.Storage.MinIOSecretKey,
		MinIOUseSSL:    cfg.Storage.MinIOUseSSL,
		Prefix:         cfg.Storage.Prefix,
		Compression:    cfg.Storage.Compression,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage: %w", err)
	}

	ledgers, err := checkpoint.NewManager(checkpoint.Config{
		Enabled: cfg.Checkpoint.Enabled,
		Dir:     cfg.Checkpoint.Dir,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create checkpoint manager: %w", err)
	}

	catalog, err := metadata.NewWriter(ctx, metadata.CatalogConfig(cfg.Catalog))
	if err != nil {
		if cfg.Catalog.Strict {
			store.Close()
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		log.Printf("[main] catalog unavailable, continuing without it: %v", err)
		catalog = metadata.NewNoopWriter()
	}

	emitter := audit.NewEmitter(audit.Config(cfg.Audit), store)

	p := rusle.New(rusle.Deps{
		Store:   store,
		Inputs:  source.NewResolver(store),
		Tables:  rusle.NewStoreTables(store, cfg.Tables.Prefix),
		Ledgers: ledgers,
		Catalog: catalog,
		Audit:   emitter,
		Metrics: m,
	}, rusle.Settings{
		ParallelFactors: cfg.Perf.ParallelFactors,
		ParallelLimit:   cfg.Perf.ParallelFactorsLimit,
		StrictLookup:    cfg.Tables.Strict,
		StrictCatalog:   cfg.Catalog.Strict,
	})

	return &env{cfg: cfg, store: store, catalog: catalog, audit: emitter, pipeline: p}, nil
}

func (e *env) Close() {
	if err := e.audit.Close(); err != nil {
		log.Printf("[main] close audit emitter: %v", err)
	}
	if err := e.catalog.Close(); err != nil {
		log.Printf("[main] close catalog: %v", err)
	}
	if err := e.store.Close(); err != nil {
		log.Printf("[main] close storage: %v", err)
	}
}

func readParamsFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read params file: %w", err)
	}
	return data, nil
}

// refFlags binds a dataset path flag and its code field flag.
func refFlags(fs *pflag.FlagSet, ref *source.Ref, name, codeName, usage string) {
	fs.StringVar(&ref.Path, name, "", usage)
	if codeName != "" {
		fs.StringVar(&ref.CodeField, codeName, "", "attribute holding the code of a vector "+name+" input (default VALUE)")
	}
}

// overlay copies flags the user set onto params loaded from a file.
func overlay(fs *pflag.FlagSet, apply map[string]func()) {
	fs.Visit(func(f *pflag.Flag) {
		if fn, ok := apply[f.Name]; ok {
			fn()
		}
	})
}

// runFlags are the flags of the run command.
type runFlags struct {
	paramsFile string
	params     rusle.RunParams
	cutoff     float64
}

func (f *runFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.paramsFile, "params", "", "YAML run parameter file")
	fs.StringVar(&f.params.Output, "output", "", "output location")
	fs.StringVar(&f.params.Preprocessed, "preprocessed", "", "preprocessed data location")
	fs.StringVar(&f.params.LSOption, "ls-option", string(rusle.SlopeLength), "LS factor method: SlopeLength or UpslopeArea")
	fs.Float64Var(&f.cutoff, "cutoff-angle", rusle.DefaultCutoffAngle, "slope cutoff angle in degrees")
	refFlags(fs, &f.params.Rainfall, "rainfall", "", "rainfall erosivity grid")
	fs.StringVar(&f.params.KOption, "k-option", string(rusle.PreprocessSoil), "K factor source: PreprocessSoil or LocalSoil")
	refFlags(fs, &f.params.Soil, "soil", "soil-code", "local K factor dataset")
	fs.StringVar(&f.params.COption, "c-option", string(rusle.PreprocessLC), "C factor source: PreprocessLC or LocalCfactor")
	refFlags(fs, &f.params.LandCover, "land-cover", "land-cover-code", "local C factor dataset")
	refFlags(fs, &f.params.Support, "support", "", "support practice (P factor) grid")
	fs.BoolVar(&f.params.SaveFactors, "save-factors", false, "keep the factor grids as outputs")
	fs.BoolVar(&f.params.Resume, "resume", false, "skip stages completed by a previous attempt")
}

// resolve returns the run parameters: the --params file when given, with
// the flags the user set laid over it, otherwise the flags alone.
func (f *runFlags) resolve(fs *pflag.FlagSet) (rusle.RunParams, error) {
	params := f.params
	if f.paramsFile != "" {
		data, err := readParamsFile(f.paramsFile)
		if err != nil {
			return rusle.RunParams{}, err
		}
		if params, err = rusle.LoadRunParams(data); err != nil {
			return rusle.RunParams{}, err
		}
		overlay(fs, map[string]func(){
			"output":          func() { params.Output = f.params.Output },
			"preprocessed":    func() { params.Preprocessed = f.params.Preprocessed },
			"ls-option":       func() { params.LSOption = f.params.LSOption },
			"rainfall":        func() { params.Rainfall.Path = f.params.Rainfall.Path },
			"k-option":        func() { params.KOption = f.params.KOption },
			"soil":            func() { params.Soil.Path = f.params.Soil.Path },
			"soil-code":       func() { params.Soil.CodeField = f.params.Soil.CodeField },
			"c-option":        func() { params.COption = f.params.COption },
			"land-cover":      func() { params.LandCover.Path = f.params.LandCover.Path },
			"land-cover-code": func() { params.LandCover.CodeField = f.params.LandCover.CodeField },
			"support":         func() { params.Support.Path = f.params.Support.Path },
			"save-factors":    func() { params.SaveFactors = f.params.SaveFactors },
			"resume":          func() { params.Resume = f.params.Resume },
		})
	}
	if fs.Changed("cutoff-angle") {
		cutoff := f.cutoff
		params.CutoffAngle = &cutoff
	}
	return params, nil
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compute a RUSLE soil loss grid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := flags.resolve(cmd.Flags())
			if err != nil {
				return err
			}

			e, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.pipeline.RunRUSLE(cmd.Context(), params)
			if err != nil {
				return err
			}
			cmd.Printf("soil loss written to %s (run %s, %d valid cells)\n", res.URI, res.RunID, res.SoilLoss.ValidCount())
			return nil
		},
	}
	flags.bind(cmd.Flags())
	return cmd
}

// accountsFlags are the flags of the accounts command.
type accountsFlags struct {
	paramsFile string
	params     rusle.AccountsParams
	cutoff     float64
}

func (f *accountsFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.paramsFile, "params", "", "YAML accounts parameter file")
	fs.StringVar(&f.params.Output, "output", "", "output location")
	fs.StringVar(&f.params.LSOption, "ls-option", string(rusle.SlopeLength), "LS factor method: SlopeLength or UpslopeArea")
	fs.Float64Var(&f.cutoff, "cutoff-angle", rusle.DefaultCutoffAngle, "slope cutoff angle in degrees")
	refFlags(fs, &f.params.Rainfall, "rainfall", "", "rainfall erosivity grid")
	refFlags(fs, &f.params.Soil, "soil", "soil-code", "local K factor dataset")
	fs.StringVar(&f.params.PeriodA.Preprocessed, "period-a", "", "preprocessed data location of period A")
	refFlags(fs, &f.params.PeriodA.LandCover, "period-a-lc", "period-a-lc-code", "period A C factor dataset")
	refFlags(fs, &f.params.PeriodA.Support, "period-a-support", "", "period A support practice grid")
	fs.StringVar(&f.params.PeriodB.Preprocessed, "period-b", "", "preprocessed data location of period B")
	refFlags(fs, &f.params.PeriodB.LandCover, "period-b-lc", "period-b-lc-code", "period B C factor dataset")
	refFlags(fs, &f.params.PeriodB.Support, "period-b-support", "", "period B support practice grid")
	fs.BoolVar(&f.params.SaveFactors, "save-factors", false, "keep the factor grids of both periods")
	fs.BoolVar(&f.params.Resume, "resume", false, "skip stages completed by a previous attempt")
	fs.BoolVar(&f.params.ExportTable, "export-table", false, "also write the per-cell comparison as parquet")
}

func (f *accountsFlags) resolve(fs *pflag.FlagSet) (rusle.AccountsParams, error) {
	params := f.params
	if f.paramsFile != "" {
		data, err := readParamsFile(f.paramsFile)
		if err != nil {
			return rusle.AccountsParams{}, err
		}
		if params, err = rusle.LoadAccountsParams(data); err != nil {
			return rusle.AccountsParams{}, err
		}
		overlay(fs, map[string]func(){
			"output":           func() { params.Output = f.params.Output },
			"ls-option":        func() { params.LSOption = f.params.LSOption },
			"rainfall":         func() { params.Rainfall.Path = f.params.Rainfall.Path },
			"soil":             func() { params.Soil.Path = f.params.Soil.Path },
			"soil-code":        func() { params.Soil.CodeField = f.params.Soil.CodeField },
			"period-a":         func() { params.PeriodA.Preprocessed = f.params.PeriodA.Preprocessed },
			"period-a-lc":      func() { params.PeriodA.LandCover.Path = f.params.PeriodA.LandCover.Path },
			"period-a-lc-code": func() { params.PeriodA.LandCover.CodeField = f.params.PeriodA.LandCover.CodeField },
			"period-a-support": func() { params.PeriodA.Support.Path = f.params.PeriodA.Support.Path },
			"period-b":         func() { params.PeriodB.Preprocessed = f.params.PeriodB.Preprocessed },
			"period-b-lc":      func() { params.PeriodB.LandCover.Path = f.params.PeriodB.LandCover.Path },
			"period-b-lc-code": func() { params.PeriodB.LandCover.CodeField = f.params.PeriodB.LandCover.CodeField },
			"period-b-support": func() { params.PeriodB.Support.Path = f.params.PeriodB.Support.Path },
			"save-factors":     func() { params.SaveFactors = f.params.SaveFactors },
			"resume":           func() { params.Resume = f.params.Resume },
			"export-table":     func() { params.ExportTable = f.params.ExportTable },
		})
	}
	if fs.Changed("cutoff-angle") {
		cutoff := f.cutoff
		params.CutoffAngle = &cutoff
	}
	return params, nil
}

func newAccountsCmd() *cobra.Command {
	var flags accountsFlags
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Compare soil loss between two periods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := flags.resolve(cmd.Flags())
			if err != nil {
				return err
			}

			e, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.pipeline.RunAccounts(cmd.Context(), params)
			if err != nil {
				return err
			}
			for _, name := range []string{rusle.OutSoilLossA, rusle.OutSoilLossB, rusle.OutSoilLossDiff, rusle.OutAccountsPQ} {
				if key, ok := res.Keys[name]; ok {
					cmd.Printf("%-26s %s\n", name, e.store.URI(key))
				}
			}
			cmd.Printf("run %s: %d cells changed\n", res.RunID, res.Diff.ValidCount())
			return nil
		},
	}
	flags.bind(cmd.Flags())
	return cmd
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <run-id>",
		Short: "Show the recorded stage outcomes of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.MustLoad()
			catalog, err := metadata.NewWriter(cmd.Context(), metadata.CatalogConfig(cfg.Catalog))
			if err != nil {
				return fmt.Errorf("open catalog: %w", err)
			}
			defer catalog.Close()

			stages, err := catalog.StageHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(stages) == 0 {
				cmd.Printf("no stages recorded for run %s\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tSTATUS\tDURATION\tVALID CELLS\tERROR")
			for _, s := range stages {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.Stage, s.Status, s.Duration, s.ValidCells, s.Error)
			}
			return w.Flush()
		},
	}
}
