package source

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/raster"
)

// feature is one polygon with the value it burns into the grid.
type feature struct {
	geom.Polygonal
	index int
	value float64
}

// VectorLayer is a polygon shapefile indexed for point queries.
type VectorLayer struct {
	path     string
	sr       *proj.SR
	tree     *rtree.Rtree
	features int
}

// OpenVector reads every polygon of a shapefile and its codeField value.
func OpenVector(path, codeField string) (*VectorLayer, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile %s: %w", path, err)
	}
	defer dec.Close()

	sr, err := dec.SR()
	if err != nil {
		return nil, fmt.Errorf("shapefile %s: %w: %v", path, raster.ErrUnknownCRS, err)
	}

	layer := &VectorLayer{path: path, sr: sr, tree: rtree.NewTree(25, 50)}
	for {
		g, fields, more := dec.DecodeRowFields(codeField)
		if !more {
			break
		}
		raw, ok := fields[codeField]
		if !ok {
			return nil, fmt.Errorf("shapefile %s: missing attribute column %s", path, codeField)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("shapefile %s: feature %d: %s=%q: %w", path, layer.features, codeField, raw, err)
		}
		poly, ok := g.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("shapefile %s: feature %d is not a polygon", path, layer.features)
		}
		layer.tree.Insert(&feature{Polygonal: poly, index: layer.features, value: v})
		layer.features++
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("decode shapefile %s: %w", path, err)
	}
	return layer, nil
}

// SR returns the layer's spatial reference.
func (v *VectorLayer) SR() *proj.SR { return v.sr }

// Features returns the number of polygons read.
func (v *VectorLayer) Features() int { return v.features }

// valueAt returns the value of the first feature, in file order, containing
// the point.
func (v *VectorLayer) valueAt(x, y float64) (float64, bool) {
	p := geom.Point{X: x, Y: y}
	best := -1
	val := math.NaN()
	for _, item := range v.tree.SearchIntersect(&geom.Bounds{Min: p, Max: p}) {
		f := item.(*feature)
		if best >= 0 && f.index > best {
			continue
		}
		if p.Within(f.Polygonal) == geom.Outside {
			continue
		}
		best = f.index
		val = f.value
	}
	return val, best >= 0
}

// transformFrom builds the transform from crs coordinates into the layer's.
func (v *VectorLayer) transformFrom(crs string) (proj.Transformer, error) {
	target, err := raster.ParseCRS(crs)
	if err != nil {
		return nil, err
	}
	trans, err := target.NewTransform(v.sr)
	if err != nil {
		return nil, fmt.Errorf("shapefile %s: build transform: %w", v.path, err)
	}
	return trans, nil
}

// Rasterize burns feature values into cells of target whose centre lies
// inside a polygon. Cells outside every polygon are no-data.
func (v *VectorLayer) Rasterize(target raster.Definition) (*raster.Grid, error) {
	trans, err := v.transformFrom(target.CRS)
	if err != nil {
		return nil, err
	}

	values := make([]float64, target.Cells())
	for row := 0; row < target.Rows; row++ {
		for col := 0; col < target.Cols; col++ {
			x, y := target.CellCenter(row, col)
			sx, sy, err := trans(x, y)
			if err != nil {
				return nil, fmt.Errorf("rasterize %s: transform cell (%d,%d): %w", v.path, row, col, err)
			}
			val, _ := v.valueAt(sx, sy)
			values[row*target.Cols+col] = val
		}
	}
	return raster.FromValues(target, values)
}

// Footprint returns the layer's polygon coverage queried in crs coordinates.
func (v *VectorLayer) Footprint(crs string) (raster.Footprint, error) {
	trans, err := v.transformFrom(crs)
	if err != nil {
		return nil, err
	}
	return vectorFootprint{layer: v, trans: trans}, nil
}

type vectorFootprint struct {
	layer *VectorLayer
	trans proj.Transformer
}

func (f vectorFootprint) ValidAt(x, y float64) bool {
	sx, sy, err := f.trans(x, y)
	if err != nil {
		return false
	}
	_, ok := f.layer.valueAt(sx, sy)
	return ok
}
