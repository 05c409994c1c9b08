package raster

import (
	"fmt"
	"math"
)

// Resample returns src resampled onto ref with nearest-neighbour sampling.
// When the two reference systems differ, ref cell centres are transformed
// into src coordinates before sampling. Cells outside src become no-data.
func Resample(src *Grid, ref Definition) (*Grid, error) {
	if src.def.SameLayout(ref) {
		return &Grid{def: ref, values: src.Values()}, nil
	}
	out, err := New(ref)
	if err != nil {
		return nil, err
	}

	trans, err := transformBetween(ref.CRS, src.def.CRS)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}

	for row := 0; row < ref.Rows; row++ {
		for col := 0; col < ref.Cols; col++ {
			x, y := ref.CellCenter(row, col)
			if trans != nil {
				x, y, err = trans(x, y)
				if err != nil {
					return nil, fmt.Errorf("resample: transform cell (%d,%d): %w", row, col, err)
				}
			}
			if v, ok := src.Sample(x, y); ok {
				out.values[row*ref.Cols+col] = v
			}
		}
	}
	return out, nil
}

// Footprint reports where a dataset holds valid data. Grids implement it,
// as do rasterized and vector inputs.
type Footprint interface {
	ValidAt(x, y float64) bool
}

// Uncovered counts valid mask cells whose centre is not a valid location in
// the candidate footprint. Zero means the candidate covers the mask.
func Uncovered(candidate Footprint, mask *Grid) int {
	missing := 0
	def := mask.def
	for row := 0; row < def.Rows; row++ {
		for col := 0; col < def.Cols; col++ {
			if math.IsNaN(mask.values[row*def.Cols+col]) {
				continue
			}
			x, y := def.CellCenter(row, col)
			if !candidate.ValidAt(x, y) {
				missing++
			}
		}
	}
	return missing
}

// TransformedFootprint evaluates a footprint expressed in another CRS.
type TransformedFootprint struct {
	inner Footprint
	trans func(x, y float64) (float64, float64, error)
}

// Reproject wraps fp, which lives in crs fromCRS, so it can be queried with
// coordinates in toCRS. It returns fp unchanged when no transform is needed.
func Reproject(fp Footprint, fromCRS, toCRS string) (Footprint, error) {
	trans, err := transformBetween(toCRS, fromCRS)
	if err != nil {
		return nil, err
	}
	if trans == nil {
		return fp, nil
	}
	return &TransformedFootprint{inner: fp, trans: trans}, nil
}

// ValidAt implements Footprint.
func (t *TransformedFootprint) ValidAt(x, y float64) bool {
	tx, ty, err := t.trans(x, y)
	if err != nil {
		return false
	}
	return t.inner.ValidAt(tx, ty)
}
