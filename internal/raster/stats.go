package raster

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Summary describes the valid cells of a grid.
type Summary struct {
	Valid int
	Min   float64
	Max   float64
	Sum   float64
	Mean  float64
}

// Summarize computes summary statistics over valid cells.
func Summarize(g *Grid) Summary {
	vals := make([]float64, 0, len(g.values))
	for _, v := range g.values {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return Summary{Min: math.NaN(), Max: math.NaN(), Mean: math.NaN()}
	}
	sum := floats.Sum(vals)
	return Summary{
		Valid: len(vals),
		Min:   floats.Min(vals),
		Max:   floats.Max(vals),
		Sum:   sum,
		Mean:  sum / float64(len(vals)),
	}
}
