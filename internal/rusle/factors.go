package rusle

import (
	"fmt"
	"math"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/raster"
)

// Upslope-area LS exponents and reference constants (Moore & Burch form).
const (
	lsAreaM          = 0.5
	lsAreaN          = 1.2
	lsUnitLength     = 22.1
	lsUnitSlopeSine  = 0.09
	degreesToRadians = 0.01745
)

// CutoffPercent converts a cutoff angle in degrees to percent slope.
func CutoffPercent(angleDeg float64) float64 {
	return math.Tan(angleDeg*math.Pi/180) * 100
}

// SlopeLengthLS computes LS from percent slope alone:
//
//	LS = sqrt(cellSize/22) * (0.065 + 0.045*s + 0.0065*s^2)
//
// with s the percent slope capped at the cutoff angle.
func SlopeLengthLS(slopePct *raster.Grid, cellSize, cutoffDeg float64) *raster.Grid {
	cutoff := CutoffPercent(cutoffDeg)
	lengthTerm := math.Sqrt(cellSize / 22)
	return raster.Map(raster.ClipAbove(slopePct, cutoff), func(s float64) float64 {
		return lengthTerm * (0.065 + 0.045*s + 0.0065*s*s)
	})
}

// UpslopeAreaLS computes LS from degree slope and flow accumulation:
//
//	LS = (m+1) * (A/22.1)^m * (sin(rad)/0.09)^n,  m = 0.5, n = 1.2
//
// with A = flowAcc*cellSize and rad the capped slope in radians.
func UpslopeAreaLS(slopeDeg, flowAcc *raster.Grid, cellSize, cutoffDeg float64) (*raster.Grid, error) {
	rad := raster.Map(raster.ClipAbove(slopeDeg, cutoffDeg), func(d float64) float64 {
		return d * degreesToRadians
	})
	ls, err := raster.Zip(func(v []float64) float64 {
		r, acc := v[0], v[1]
		area := acc * cellSize
		return (lsAreaM + 1) * math.Pow(area/lsUnitLength, lsAreaM) * math.Pow(math.Sin(r)/lsUnitSlopeSine, lsAreaN)
	}, rad, flowAcc)
	if err != nil {
		return nil, fmt.Errorf("upslope area LS: %w", err)
	}
	return ls, nil
}

// Factors are the grids multiplied into soil loss. P is optional.
type Factors struct {
	R, LS, K, C, P *raster.Grid
}

// Combine multiplies the factors cellwise. In upslope-area mode, cells where
// the stream exclusion grid is no-data or zero become no-data.
func Combine(f Factors, mode LSOption, streams *raster.Grid) (*raster.Grid, error) {
	grids := []*raster.Grid{f.R, f.LS, f.K, f.C}
	if f.P != nil {
		grids = append(grids, f.P)
	}
	for i, g := range grids {
		if g == nil {
			return nil, fmt.Errorf("combine: factor %d missing", i)
		}
	}

	loss, err := raster.Product(grids...)
	if err != nil {
		return nil, fmt.Errorf("combine factors: %w", err)
	}

	if mode != UpslopeArea {
		return loss, nil
	}
	if streams == nil {
		return nil, fmt.Errorf("combine: stream exclusion grid required for %s", UpslopeArea)
	}
	loss, err = raster.MaskWhere(loss, streams, func(m float64) bool { return m != 0 })
	if err != nil {
		return nil, fmt.Errorf("exclude streams: %w", err)
	}
	return loss, nil
}

// Difference returns lossB - lossA with exact zeros set to no-data, so that
// unchanged cells read as "no change" rather than a measured zero.
func Difference(lossA, lossB *raster.Grid) (*raster.Grid, error) {
	diff, err := raster.Zip(func(v []float64) float64 { return v[1] - v[0] }, lossA, lossB)
	if err != nil {
		return nil, fmt.Errorf("difference: %w", err)
	}
	return raster.SetNull(diff, func(v float64) bool { return v == 0 }), nil
}
