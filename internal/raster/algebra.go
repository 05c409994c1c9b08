package raster

import (
	"fmt"
	"math"
)

// Map applies f to every valid cell. No-data cells stay no-data; f may
// return NaN to mark a cell as no-data.
func Map(g *Grid, f func(v float64) float64) *Grid {
	out := &Grid{def: g.def, values: make([]float64, len(g.values))}
	for i, v := range g.values {
		if math.IsNaN(v) {
			out.values[i] = v
			continue
		}
		out.values[i] = f(v)
	}
	return out
}

// Zip combines grids cellwise. A cell is no-data in the result if it is
// no-data in any input. All grids must share the same layout.
func Zip(f func(vals []float64) float64, grids ...*Grid) (*Grid, error) {
	if len(grids) == 0 {
		return nil, fmt.Errorf("zip: no grids")
	}
	def := grids[0].def
	for i, g := range grids[1:] {
		if !def.SameLayout(g.def) {
			return nil, fmt.Errorf("zip operand %d: %w", i+1, ErrDefinitionMismatch)
		}
	}

	out := &Grid{def: def, values: make([]float64, def.Cells())}
	vals := make([]float64, len(grids))
	for i := range out.values {
		valid := true
		for j, g := range grids {
			vals[j] = g.values[i]
			if math.IsNaN(vals[j]) {
				valid = false
				break
			}
		}
		if !valid {
			out.values[i] = math.NaN()
			continue
		}
		out.values[i] = f(vals)
	}
	return out, nil
}

// Product multiplies grids cellwise.
func Product(grids ...*Grid) (*Grid, error) {
	return Zip(func(vals []float64) float64 {
		p := 1.0
		for _, v := range vals {
			p *= v
		}
		return p
	}, grids...)
}

// ClipAbove caps every valid cell at limit.
func ClipAbove(g *Grid, limit float64) *Grid {
	return Map(g, func(v float64) float64 {
		if v > limit {
			return limit
		}
		return v
	})
}

// SetNull marks cells as no-data where pred returns true.
func SetNull(g *Grid, pred func(v float64) bool) *Grid {
	return Map(g, func(v float64) float64 {
		if pred(v) {
			return math.NaN()
		}
		return v
	})
}

// MaskWhere keeps g's value only where the mask cell is valid and keep
// returns true for it. Used for study area clipping and stream exclusion.
func MaskWhere(g, mask *Grid, keep func(m float64) bool) (*Grid, error) {
	if !g.def.SameLayout(mask.def) {
		return nil, fmt.Errorf("mask: %w", ErrDefinitionMismatch)
	}
	out := &Grid{def: g.def, values: make([]float64, len(g.values))}
	for i, v := range g.values {
		m := mask.values[i]
		if math.IsNaN(m) || (keep != nil && !keep(m)) {
			out.values[i] = math.NaN()
			continue
		}
		out.values[i] = v
	}
	return out, nil
}

// ClipToMask sets cells to no-data wherever the mask has no data.
func ClipToMask(g, mask *Grid) (*Grid, error) {
	return MaskWhere(g, mask, nil)
}
