// Package raster is the in-process grid engine: an immutable cell grid model,
// cellwise algebra, resampling, masking, lookup joins and an on-disk codec.
package raster

import (
	"errors"
	"fmt"
	"math"
)

// NoDataValue is the sentinel written to disk for cells without data.
// In memory, no-data cells are NaN.
const NoDataValue = -9999.0

var (
	// ErrDefinitionMismatch is returned when cellwise operations receive grids
	// that do not share the same cell layout.
	ErrDefinitionMismatch = errors.New("grid definitions do not match")

	// ErrInvalidDefinition is returned for grids with non-positive dimensions.
	ErrInvalidDefinition = errors.New("invalid grid definition")
)

// Definition describes the cell layout of a grid. Cells are square and
// addressed from the upper-left corner at (XMin, YMax).
type Definition struct {
	Rows     int     `json:"rows"`
	Cols     int     `json:"cols"`
	CellSize float64 `json:"cell_size"`
	XMin     float64 `json:"x_min"`
	YMax     float64 `json:"y_max"`
	CRS      string  `json:"crs"`
}

// Validate checks that the definition describes at least one cell.
func (d Definition) Validate() error {
	if d.Rows <= 0 || d.Cols <= 0 {
		return fmt.Errorf("%w: %dx%d cells", ErrInvalidDefinition, d.Rows, d.Cols)
	}
	if d.CellSize <= 0 || math.IsNaN(d.CellSize) {
		return fmt.Errorf("%w: cell size %v", ErrInvalidDefinition, d.CellSize)
	}
	return nil
}

// Cells returns the number of cells in the grid.
func (d Definition) Cells() int { return d.Rows * d.Cols }

// XMax returns the right edge of the grid.
func (d Definition) XMax() float64 { return d.XMin + float64(d.Cols)*d.CellSize }

// YMin returns the bottom edge of the grid.
func (d Definition) YMin() float64 { return d.YMax - float64(d.Rows)*d.CellSize }

// CellCenter returns the coordinates of the centre of cell (row, col).
func (d Definition) CellCenter(row, col int) (x, y float64) {
	x = d.XMin + (float64(col)+0.5)*d.CellSize
	y = d.YMax - (float64(row)+0.5)*d.CellSize
	return x, y
}

// CellAt returns the cell containing (x, y). ok is false outside the grid.
func (d Definition) CellAt(x, y float64) (row, col int, ok bool) {
	if x < d.XMin || x >= d.XMax() || y <= d.YMin() || y > d.YMax {
		return 0, 0, false
	}
	col = int(math.Floor((x - d.XMin) / d.CellSize))
	row = int(math.Floor((d.YMax - y) / d.CellSize))
	if row < 0 || row >= d.Rows || col < 0 || col >= d.Cols {
		return 0, 0, false
	}
	return row, col, true
}

// SameLayout reports whether two definitions address identical cells.
func (d Definition) SameLayout(o Definition) bool {
	const tol = 1e-9
	return d.Rows == o.Rows && d.Cols == o.Cols &&
		math.Abs(d.CellSize-o.CellSize) <= tol*math.Max(1, d.CellSize) &&
		math.Abs(d.XMin-o.XMin) <= tol*math.Max(1, math.Abs(d.XMin)) &&
		math.Abs(d.YMax-o.YMax) <= tol*math.Max(1, math.Abs(d.YMax)) &&
		d.CRS == o.CRS
}

// Grid is an immutable 2-D array of float64 cells. Operations never mutate
// their inputs; they return new grids.
type Grid struct {
	def    Definition
	values []float64
}

// New returns a grid with every cell set to no-data.
func New(def Definition) (*Grid, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	values := make([]float64, def.Cells())
	for i := range values {
		values[i] = math.NaN()
	}
	return &Grid{def: def, values: values}, nil
}

// FromValues builds a grid from row-major values. NaN marks no-data. The
// slice is copied.
func FromValues(def Definition, values []float64) (*Grid, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if len(values) != def.Cells() {
		return nil, fmt.Errorf("%w: have %d values for %d cells", ErrInvalidDefinition, len(values), def.Cells())
	}
	cp := make([]float64, len(values))
	copy(cp, values)
	return &Grid{def: def, values: cp}, nil
}

// Definition returns the grid's cell layout.
func (g *Grid) Definition() Definition { return g.def }

// At returns the value at (row, col); NaN for no-data.
func (g *Grid) At(row, col int) float64 { return g.values[row*g.def.Cols+col] }

// Valid reports whether (row, col) holds data.
func (g *Grid) Valid(row, col int) bool { return !math.IsNaN(g.At(row, col)) }

// Sample returns the value of the cell containing (x, y).
func (g *Grid) Sample(x, y float64) (float64, bool) {
	row, col, ok := g.def.CellAt(x, y)
	if !ok {
		return math.NaN(), false
	}
	v := g.At(row, col)
	return v, !math.IsNaN(v)
}

// ValidAt implements Footprint.
func (g *Grid) ValidAt(x, y float64) bool {
	_, ok := g.Sample(x, y)
	return ok
}

// Values returns a copy of the row-major cell values.
func (g *Grid) Values() []float64 {
	cp := make([]float64, len(g.values))
	copy(cp, g.values)
	return cp
}

// ValidCount returns the number of cells holding data.
func (g *Grid) ValidCount() int {
	n := 0
	for _, v := range g.values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Equal reports whether two grids share a layout and hold identical values,
// treating no-data cells as equal to each other.
func Equal(a, b *Grid) bool {
	if !a.def.SameLayout(b.def) {
		return false
	}
	for i := range a.values {
		av, bv := a.values[i], b.values[i]
		if math.IsNaN(av) && math.IsNaN(bv) {
			continue
		}
		if av != bv {
			return false
		}
	}
	return true
}
