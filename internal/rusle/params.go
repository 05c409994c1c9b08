package rusle

import (
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/source"
)

// ParamsFileName is the audit file written into every run's output location.
const ParamsFileName = "rusle_params.yaml"

// RunParams are the inputs of a single soil-loss run.
type RunParams struct {
	// Output is the storage location receiving outputs. It also identifies
	// the run for checkpointing.
	Output string `yaml:"output"`
	// Preprocessed is the location written by the preprocessing step.
	Preprocessed string `yaml:"preprocessed"`

	LSOption string `yaml:"ls_option"`
	// CutoffAngle is the slope cutoff in degrees; nil means
	// DefaultCutoffAngle.
	CutoffAngle *float64 `yaml:"cutoff_angle,omitempty"`

	Rainfall source.Ref `yaml:"rainfall"`

	KOption string     `yaml:"k_option"`
	Soil    source.Ref `yaml:"soil,omitempty"`

	COption   string     `yaml:"c_option"`
	LandCover source.Ref `yaml:"land_cover,omitempty"`

	Support source.Ref `yaml:"support,omitempty"`

	SaveFactors bool `yaml:"save_factors"`
	Resume      bool `yaml:"resume"`
}

// options are the parsed, validated choices of a run.
type options struct {
	ls     LSOption
	k      KOption
	c      COption
	cutoff float64
}

// validate parses the options first so an invalid choice is reported before
// anything else is looked at.
func (p RunParams) validate() (options, error) {
	var opts options
	var err error
	if opts.ls, err = ParseLSOption(p.LSOption); err != nil {
		return options{}, err
	}
	if opts.k, err = ParseKOption(p.KOption); err != nil {
		return options{}, err
	}
	if opts.c, err = ParseCOption(p.COption); err != nil {
		return options{}, err
	}
	if opts.cutoff, err = cutoffAngle(p.CutoffAngle); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(p.Output) == "" {
		return options{}, fmt.Errorf("output location required")
	}
	if strings.TrimSpace(p.Preprocessed) == "" {
		return options{}, fmt.Errorf("preprocessed location required")
	}
	if p.Rainfall.IsZero() {
		return options{}, &MissingInputError{Input: "rainfall", Option: "R factor"}
	}
	if opts.k == LocalSoil && p.Soil.IsZero() {
		return options{}, &MissingInputError{Input: "soil", Option: string(LocalSoil)}
	}
	if opts.c == LocalCfactor && p.LandCover.IsZero() {
		return options{}, &MissingInputError{Input: "land cover", Option: string(LocalCfactor)}
	}
	return opts, nil
}

func cutoffAngle(v *float64) (float64, error) {
	if v == nil {
		return DefaultCutoffAngle, nil
	}
	if math.IsNaN(*v) || *v <= 0 || *v >= 90 {
		return 0, &InvalidOptionError{Factor: "LS cutoff angle", Value: fmt.Sprint(*v), Allowed: []string{"(0, 90) degrees"}}
	}
	return *v, nil
}

// sameComputation reports whether two parameter sets describe the same
// run, ignoring Resume. An unset cutoff equals an explicit default one.
func sameComputation(a, b RunParams) bool {
	ca, _ := cutoffAngle(a.CutoffAngle)
	cb, _ := cutoffAngle(b.CutoffAngle)
	a.Resume, b.Resume = false, false
	a.CutoffAngle, b.CutoffAngle = nil, nil
	return a == b && ca == cb
}

// Period is one side of an accounts comparison.
type Period struct {
	Preprocessed string     `yaml:"preprocessed"`
	LandCover    source.Ref `yaml:"land_cover"`
	Support      source.Ref `yaml:"support,omitempty"`
}

// AccountsParams are the inputs of a two-period accounts run. Soil and
// rainfall are shared; land cover and support practice vary per period.
type AccountsParams struct {
	Output      string     `yaml:"output"`
	LSOption    string     `yaml:"ls_option"`
	CutoffAngle *float64   `yaml:"cutoff_angle,omitempty"`
	Rainfall    source.Ref `yaml:"rainfall"`
	Soil        source.Ref `yaml:"soil"`
	PeriodA     Period     `yaml:"period_a"`
	PeriodB     Period     `yaml:"period_b"`
	SaveFactors bool       `yaml:"save_factors"`
	Resume      bool       `yaml:"resume"`
	// ExportTable also writes the per-cell comparison as parquet.
	ExportTable bool `yaml:"export_table"`
}

// periodParams derives the single-run parameters for one period. Accounts
// always use the local K and C factor datasets.
func (a AccountsParams) periodParams(label string, p Period) RunParams {
	return RunParams{
		Output:       joinKey(a.Output, label),
		Preprocessed: p.Preprocessed,
		LSOption:     a.LSOption,
		CutoffAngle:  a.CutoffAngle,
		Rainfall:     a.Rainfall,
		KOption:      string(LocalSoil),
		Soil:         a.Soil,
		COption:      string(LocalCfactor),
		LandCover:    p.LandCover,
		Support:      p.Support,
		SaveFactors:  a.SaveFactors,
		Resume:       a.Resume,
	}
}

func (a AccountsParams) validate() error {
	if _, err := ParseLSOption(a.LSOption); err != nil {
		return err
	}
	if strings.TrimSpace(a.Output) == "" {
		return fmt.Errorf("output location required")
	}
	if _, err := a.periodParams(periodA, a.PeriodA).validate(); err != nil {
		return fmt.Errorf("%s: %w", periodA, err)
	}
	if _, err := a.periodParams(periodB, a.PeriodB).validate(); err != nil {
		return fmt.Errorf("%s: %w", periodB, err)
	}
	return nil
}

// LoadRunParams parses a YAML run file.
func LoadRunParams(data []byte) (RunParams, error) {
	var p RunParams
	if err := yaml.Unmarshal(data, &p); err != nil {
		return RunParams{}, fmt.Errorf("parse run params: %w", err)
	}
	return p, nil
}

// LoadAccountsParams parses a YAML accounts file.
func LoadAccountsParams(data []byte) (AccountsParams, error) {
	var p AccountsParams
	if err := yaml.Unmarshal(data, &p); err != nil {
		return AccountsParams{}, fmt.Errorf("parse accounts params: %w", err)
	}
	return p, nil
}

func marshalParams(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return string(data), nil
}
