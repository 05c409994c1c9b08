// Package source resolves user-supplied analysis inputs. An input is either a
// raster held in the grid store or a polygon shapefile on the local
// filesystem that is rasterized on demand.
package source

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/raster"
)

// Kind distinguishes raster from vector inputs.
type Kind string

const (
	KindRaster Kind = "raster"
	KindVector Kind = "vector"
)

// DefaultCodeField is the attribute read from vector inputs when none is
// given.
const DefaultCodeField = "VALUE"

// ErrEmptyRef is returned for an input reference without a path.
var ErrEmptyRef = errors.New("empty input reference")

// Ref identifies an input dataset.
type Ref struct {
	// Path is a grid store key for rasters or a filesystem path ending in
	// .shp for vectors.
	Path string `yaml:"path" json:"path"`
	// CodeField names the vector attribute that carries cell values.
	CodeField string `yaml:"code_field,omitempty" json:"code_field,omitempty"`
}

// IsZero reports whether the reference is unset.
func (r Ref) IsZero() bool { return strings.TrimSpace(r.Path) == "" }

// Kind returns the input kind implied by the path.
func (r Ref) Kind() Kind {
	if strings.EqualFold(filepath.Ext(r.Path), ".shp") {
		return KindVector
	}
	return KindRaster
}

func (r Ref) codeField() string {
	if r.CodeField == "" {
		return DefaultCodeField
	}
	return r.CodeField
}

func (r Ref) String() string { return r.Path }

// Info describes an input without loading it onto the analysis grid.
type Info struct {
	Ref       Ref
	Kind      Kind
	Projected bool
}

// GridReader reads grids from the store.
type GridReader interface {
	ReadGrid(ctx context.Context, key string) (*raster.Grid, error)
}

// Resolver describes, measures and loads inputs.
type Resolver struct {
	grids GridReader
}

// NewResolver creates a resolver reading raster inputs from grids.
func NewResolver(grids GridReader) *Resolver {
	return &Resolver{grids: grids}
}

// Describe reports the kind and coordinate system class of an input.
func (r *Resolver) Describe(ctx context.Context, ref Ref) (Info, error) {
	if ref.IsZero() {
		return Info{}, ErrEmptyRef
	}
	info := Info{Ref: ref, Kind: ref.Kind()}

	switch info.Kind {
	case KindVector:
		layer, err := OpenVector(ref.Path, ref.codeField())
		if err != nil {
			return Info{}, err
		}
		info.Projected = raster.SRIsProjected(layer.SR())
	default:
		g, err := r.grids.ReadGrid(ctx, ref.Path)
		if err != nil {
			return Info{}, fmt.Errorf("read input %s: %w", ref, err)
		}
		projected, err := raster.IsProjected(g.Definition().CRS)
		if err != nil {
			return Info{}, fmt.Errorf("input %s: %w", ref, err)
		}
		info.Projected = projected
	}
	return info, nil
}

// Footprint returns where the input holds valid data, queried with
// coordinates in the given CRS.
func (r *Resolver) Footprint(ctx context.Context, ref Ref, crs string) (raster.Footprint, error) {
	if ref.IsZero() {
		return nil, ErrEmptyRef
	}
	if ref.Kind() == KindVector {
		layer, err := OpenVector(ref.Path, ref.codeField())
		if err != nil {
			return nil, err
		}
		return layer.Footprint(crs)
	}

	g, err := r.grids.ReadGrid(ctx, ref.Path)
	if err != nil {
		return nil, fmt.Errorf("read input %s: %w", ref, err)
	}
	return raster.Reproject(g, g.Definition().CRS, crs)
}

// Load returns the input on the target grid: vectors are rasterized by cell
// centre, rasters are resampled with nearest-neighbour sampling.
func (r *Resolver) Load(ctx context.Context, ref Ref, target raster.Definition) (*raster.Grid, error) {
	if ref.IsZero() {
		return nil, ErrEmptyRef
	}
	if ref.Kind() == KindVector {
		layer, err := OpenVector(ref.Path, ref.codeField())
		if err != nil {
			return nil, err
		}
		if layer.Features() == 0 {
			return nil, fmt.Errorf("input %s has no polygons", ref)
		}
		return layer.Rasterize(target)
	}

	g, err := r.grids.ReadGrid(ctx, ref.Path)
	if err != nil {
		return nil, fmt.Errorf("read input %s: %w", ref, err)
	}
	out, err := raster.Resample(g, target)
	if err != nil {
		return nil, fmt.Errorf("resample input %s: %w", ref, err)
	}
	return out, nil
}
