package raster

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lccCRS = "+proj=lcc +lat_1=33 +lat_2=45 +lat_0=40 +lon_0=-97 +x_0=0 +y_0=0 +a=6370997 +b=6370997 +units=m +no_defs"

var nan = math.NaN()

func def(rows, cols int, cell float64) Definition {
	return Definition{Rows: rows, Cols: cols, CellSize: cell, XMin: 0, YMax: float64(rows) * cell, CRS: lccCRS}
}

func mustGrid(t *testing.T, d Definition, vals ...float64) *Grid {
	t.Helper()
	g, err := FromValues(d, vals)
	require.NoError(t, err)
	return g
}

var nanEqual = cmpopts.EquateNaNs()

func TestDefinitionCellAddressing(t *testing.T) {
	d := def(2, 3, 10)

	x, y := d.CellCenter(1, 2)
	assert.Equal(t, 25.0, x)
	assert.Equal(t, 5.0, y)

	row, col, ok := d.CellAt(25, 5)
	require.True(t, ok)
	assert.Equal(t, 1, row)
	assert.Equal(t, 2, col)

	_, _, ok = d.CellAt(31, 5)
	assert.False(t, ok)
	_, _, ok = d.CellAt(5, -1)
	assert.False(t, ok)
}

func TestFromValuesRejectsWrongLength(t *testing.T) {
	_, err := FromValues(def(2, 2, 1), []float64{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = New(Definition{Rows: 0, Cols: 3, CellSize: 1})
	require.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestMapPreservesNoData(t *testing.T) {
	g := mustGrid(t, def(1, 3, 1), 1, nan, 3)
	out := Map(g, func(v float64) float64 { return v * 2 })

	assert.True(t, cmp.Equal([]float64{2, nan, 6}, out.Values(), nanEqual))
	// Input untouched.
	assert.True(t, cmp.Equal([]float64{1, nan, 3}, g.Values(), nanEqual))
}

func TestProductPropagatesNoData(t *testing.T) {
	d := def(1, 3, 1)
	a := mustGrid(t, d, 2, 3, nan)
	b := mustGrid(t, d, 4, nan, 1)

	out, err := Product(a, b)
	require.NoError(t, err)
	assert.True(t, cmp.Equal([]float64{8, nan, nan}, out.Values(), nanEqual))
}

func TestZipRejectsMismatchedLayouts(t *testing.T) {
	a := mustGrid(t, def(1, 2, 1), 1, 2)
	b := mustGrid(t, def(2, 1, 1), 1, 2)

	_, err := Product(a, b)
	require.ErrorIs(t, err, ErrDefinitionMismatch)
}

func TestClipAboveAndSetNull(t *testing.T) {
	g := mustGrid(t, def(1, 4, 1), 10, 60, 0, nan)

	clipped := ClipAbove(g, 50)
	assert.True(t, cmp.Equal([]float64{10, 50, 0, nan}, clipped.Values(), nanEqual))

	nulled := SetNull(g, func(v float64) bool { return v == 0 })
	assert.True(t, cmp.Equal([]float64{10, 60, nan, nan}, nulled.Values(), nanEqual))
}

func TestMaskWhere(t *testing.T) {
	d := def(1, 4, 1)
	g := mustGrid(t, d, 1, 2, 3, 4)
	streams := mustGrid(t, d, 1, 0, nan, 1)

	out, err := MaskWhere(g, streams, func(m float64) bool { return m != 0 })
	require.NoError(t, err)
	assert.True(t, cmp.Equal([]float64{1, nan, nan, 4}, out.Values(), nanEqual))

	clipped, err := ClipToMask(g, streams)
	require.NoError(t, err)
	assert.True(t, cmp.Equal([]float64{1, 2, nan, 4}, clipped.Values(), nanEqual))
}

func TestResampleNearestNeighbour(t *testing.T) {
	src := mustGrid(t, def(2, 2, 2),
		1, 2,
		3, 4,
	)
	out, err := Resample(src, def(4, 4, 1))
	require.NoError(t, err)

	want := []float64{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}
	assert.Equal(t, want, out.Values())
	assert.Equal(t, def(4, 4, 1), out.Definition())
}

func TestResampleOutsideSourceIsNoData(t *testing.T) {
	src := mustGrid(t, def(1, 1, 1), 7)
	out, err := Resample(src, def(1, 2, 1))
	require.NoError(t, err)
	assert.True(t, cmp.Equal([]float64{7, nan}, out.Values(), nanEqual))
}

func TestUncovered(t *testing.T) {
	mask := mustGrid(t, def(2, 2, 1),
		1, 1,
		1, nan,
	)

	tests := []struct {
		name      string
		candidate *Grid
		missing   int
	}{
		{"exact", mustGrid(t, def(2, 2, 1), 5, 5, 5, nan), 0},
		{"superset", mustGrid(t, def(2, 2, 1), 5, 5, 5, 5), 0},
		{"strict subset", mustGrid(t, def(2, 2, 1), 5, nan, 5, 5), 1},
		{"smaller extent", mustGrid(t, Definition{Rows: 1, Cols: 1, CellSize: 1, XMin: 0, YMax: 2, CRS: lccCRS}, 5), 2},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.missing, Uncovered(tc.candidate, mask))
		})
	}
}

func TestJoinReportsMissingCodes(t *testing.T) {
	codes := mustGrid(t, def(1, 4, 1), 10, 20, 99, nan)
	table := &LookupTable{Name: "rusle_esacci", Values: map[int]float64{10: 0.1, 20: 0.2}}

	out, report := Join(codes, table)
	assert.True(t, cmp.Equal([]float64{0.1, 0.2, nan, nan}, out.Values(), nanEqual))
	assert.Equal(t, 2, report.Joined)
	assert.Equal(t, []int{99}, report.MissingCodes())
}

func TestReadLookupCSV(t *testing.T) {
	in := "MU_GLOBAL,K_Stewart,NOTE\n1001,0.03,a\n1002, 0.045,b\n1003,,c\n"
	table, err := ReadLookupCSV(strings.NewReader(in), "rusle_hwsd", "MU_GLOBAL", "K_Stewart")
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{1001: 0.03, 1002: 0.045}, table.Values)

	_, err = ReadLookupCSV(strings.NewReader("A,B\n1,2\n"), "rusle_hwsd", "MU_GLOBAL", "K_Stewart")
	require.Error(t, err)
}

func TestCodecRoundTripIsDeterministic(t *testing.T) {
	for _, compression := range []string{CompressionNone, CompressionZstd} {
		compression := compression
		t.Run(compression, func(t *testing.T) {
			codec, err := NewCodec(compression)
			require.NoError(t, err)
			defer codec.Close()

			g := mustGrid(t, def(2, 2, 30), 1.5, nan, -2.25, 0)
			h1, p1, err := codec.Encode(g)
			require.NoError(t, err)
			h2, p2, err := codec.Encode(g)
			require.NoError(t, err)
			assert.Equal(t, h1, h2)
			assert.Equal(t, p1, p2)

			back, err := codec.Decode(h1, p1)
			require.NoError(t, err)
			assert.True(t, Equal(g, back))
		})
	}
}

func TestCodecDetectsCorruption(t *testing.T) {
	codec, err := NewCodec(CompressionNone)
	require.NoError(t, err)
	defer codec.Close()

	h, p, err := codec.Encode(mustGrid(t, def(1, 2, 1), 1, 2))
	require.NoError(t, err)
	p[0] ^= 0xff

	_, err = codec.Decode(h, p)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestCodecKeepsValidSentinelValues(t *testing.T) {
	codec, err := NewCodec(CompressionZstd)
	require.NoError(t, err)
	defer codec.Close()

	g := mustGrid(t, def(1, 3, 1), NoDataValue, 1, nan)
	h, p, err := codec.Encode(g)
	require.NoError(t, err)

	back, err := codec.Decode(h, p)
	require.NoError(t, err)
	assert.Equal(t, 2, back.ValidCount())
	assert.Equal(t, NoDataValue, back.At(0, 0))
	assert.False(t, back.Valid(0, 2))
}

func TestCodecDecodesSentinelOnlyPayload(t *testing.T) {
	codec, err := NewCodec(CompressionNone)
	require.NoError(t, err)
	defer codec.Close()

	raw := make([]byte, 16)
	binary.LittleEndian.PutUint64(raw, math.Float64bits(NoDataValue))
	binary.LittleEndian.PutUint64(raw[8:], math.Float64bits(4))
	header, err := json.Marshal(Header{
		Definition:  def(1, 2, 1),
		Layout:      "BIL",
		NBits:       64,
		NoData:      NoDataValue,
		Compression: CompressionNone,
		Checksum:    Checksum(raw),
	})
	require.NoError(t, err)

	g, err := codec.Decode(header, raw)
	require.NoError(t, err)
	assert.False(t, g.Valid(0, 0))
	assert.Equal(t, 4.0, g.At(0, 1))
}

func TestGridChecksum(t *testing.T) {
	a := mustGrid(t, def(1, 3, 1), 1, 2, nan)
	b := mustGrid(t, def(1, 3, 1), 1, 2, math.Float64frombits(0x7ff8000000000001))
	assert.Equal(t, a.Checksum(), b.Checksum(), "no-data hashes alike")
	assert.True(t, strings.HasPrefix(a.Checksum(), "sha256:"))

	c := mustGrid(t, def(1, 3, 1), 2, 1, nan)
	assert.NotEqual(t, a.Checksum(), c.Checksum())
}

func TestIsProjected(t *testing.T) {
	projected, err := IsProjected(lccCRS)
	require.NoError(t, err)
	assert.True(t, projected)

	for i := 0; i < 2; i++ {
		projected, err = IsProjected("+proj=longlat +datum=WGS84 +no_defs")
		require.NoError(t, err)
		assert.False(t, projected)
	}

	_, err = IsProjected("")
	require.ErrorIs(t, err, ErrUnknownCRS)
}

func TestSummarize(t *testing.T) {
	s := Summarize(mustGrid(t, def(1, 4, 1), 1, nan, 3, 8))
	assert.Equal(t, Summary{Valid: 3, Min: 1, Max: 8, Sum: 12, Mean: 4}, s)

	empty := Summarize(mustGrid(t, def(1, 1, 1), nan))
	assert.Equal(t, 0, empty.Valid)
	assert.True(t, math.IsNaN(empty.Mean))
}
