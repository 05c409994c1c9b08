package rusle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/source"
)

func TestParseOptions(t *testing.T) {
	ls, err := ParseLSOption("Include upslope contributing area")
	require.NoError(t, err)
	assert.Equal(t, UpslopeArea, ls)

	ls, err = ParseLSOption(" slopelength ")
	require.NoError(t, err)
	assert.Equal(t, SlopeLength, ls)

	k, err := ParseKOption("Use local K-factor dataset")
	require.NoError(t, err)
	assert.Equal(t, LocalSoil, k)

	c, err := ParseCOption("PreprocessLC")
	require.NoError(t, err)
	assert.Equal(t, PreprocessLC, c)
}

func TestParseOptionsRejectUnknown(t *testing.T) {
	_, err := ParseKOption("Bogus")
	require.ErrorIs(t, err, ErrInvalidOption)

	var opt *InvalidOptionError
	require.True(t, errors.As(err, &opt))
	assert.Equal(t, "K", opt.Factor)
	assert.Equal(t, "Bogus", opt.Value)

	_, err = ParseLSOption("")
	assert.ErrorIs(t, err, ErrInvalidOption)
	_, err = ParseCOption("LocalSoil")
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func validParams() RunParams {
	return RunParams{
		Output:       "out",
		Preprocessed: "pre",
		LSOption:     string(SlopeLength),
		Rainfall:     source.Ref{Path: "inputs/rain"},
		KOption:      string(PreprocessSoil),
		COption:      string(PreprocessLC),
	}
}

func TestValidate(t *testing.T) {
	opts, err := validParams().validate()
	require.NoError(t, err)
	assert.Equal(t, DefaultCutoffAngle, opts.cutoff)

	tests := []struct {
		name   string
		modify func(*RunParams)
		want   error
	}{
		{"option checked before locations", func(p *RunParams) { p.KOption = "Bogus"; p.Output = "" }, ErrInvalidOption},
		{"cutoff out of range", func(p *RunParams) { p.CutoffAngle = ptr(95.0) }, ErrInvalidOption},
		{"explicit zero cutoff", func(p *RunParams) { p.CutoffAngle = ptr(0.0) }, ErrInvalidOption},
		{"rainfall required", func(p *RunParams) { p.Rainfall = source.Ref{} }, ErrMissingInput},
		{"local soil needs soil", func(p *RunParams) { p.KOption = string(LocalSoil) }, ErrMissingInput},
		{"local cover needs land cover", func(p *RunParams) { p.COption = string(LocalCfactor) }, ErrMissingInput},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.modify(&p)
			_, err := p.validate()
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func ptr(v float64) *float64 { return &v }

func TestLoadRunParamsZeroCutoffRejected(t *testing.T) {
	p, err := LoadRunParams([]byte("output: out\npreprocessed: pre\nls_option: SlopeLength\ncutoff_angle: 0\nrainfall:\n  path: rain\nk_option: PreprocessSoil\nc_option: PreprocessLC\n"))
	require.NoError(t, err)
	require.NotNil(t, p.CutoffAngle)

	_, err = p.validate()
	assert.ErrorIs(t, err, ErrInvalidOption)

	p.CutoffAngle = nil
	opts, err := p.validate()
	require.NoError(t, err)
	assert.Equal(t, DefaultCutoffAngle, opts.cutoff)
}

func TestPeriodParamsForceLocalFactors(t *testing.T) {
	a := AccountsParams{
		Output:   "acc",
		LSOption: string(SlopeLength),
		Rainfall: source.Ref{Path: "rain"},
		Soil:     source.Ref{Path: "k"},
		PeriodA:  Period{Preprocessed: "preA", LandCover: source.Ref{Path: "cA"}},
		PeriodB:  Period{Preprocessed: "preB", LandCover: source.Ref{Path: "cB"}},
	}
	require.NoError(t, a.validate())

	p := a.periodParams(periodB, a.PeriodB)
	assert.Equal(t, "acc/periodB", p.Output)
	assert.Equal(t, string(LocalSoil), p.KOption)
	assert.Equal(t, string(LocalCfactor), p.COption)
	assert.Equal(t, "cB", p.LandCover.Path)

	a.PeriodB.LandCover = source.Ref{}
	err := a.validate()
	assert.ErrorIs(t, err, ErrMissingInput)
	assert.Contains(t, err.Error(), periodB)
}

func TestLoadRunParams(t *testing.T) {
	p, err := LoadRunParams([]byte(`
output: runs/2020
preprocessed: pre/2020
ls_option: Include upslope contributing area
cutoff_angle: 30
rainfall:
  path: inputs/rain
k_option: LocalSoil
soil:
  path: inputs/soils.shp
  code_field: KVAL
c_option: PreprocessLC
save_factors: true
`))
	require.NoError(t, err)
	assert.Equal(t, "inputs/soils.shp", p.Soil.Path)
	assert.Equal(t, "KVAL", p.Soil.CodeField)

	opts, err := p.validate()
	require.NoError(t, err)
	assert.Equal(t, UpslopeArea, opts.ls)
	assert.Equal(t, 30.0, opts.cutoff)
}
