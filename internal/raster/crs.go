package raster

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ctessum/geom/proj"
)

// ErrUnknownCRS is returned when a dataset carries no coordinate system.
var ErrUnknownCRS = errors.New("unknown coordinate reference system")

// ParseCRS parses a PROJ.4 or WKT coordinate reference string.
func ParseCRS(crs string) (*proj.SR, error) {
	if strings.TrimSpace(crs) == "" {
		return nil, ErrUnknownCRS
	}
	sr, err := proj.Parse(crs)
	if err != nil {
		return nil, fmt.Errorf("parse crs %q: %w", crs, err)
	}
	return sr, nil
}

// IsProjected reports whether the reference system is a projected one, as
// opposed to geographic longitude/latitude.
func IsProjected(crs string) (bool, error) {
	sr, err := ParseCRS(crs)
	if err != nil {
		return false, err
	}
	return SRIsProjected(sr), nil
}

// SRIsProjected is IsProjected for an already parsed reference system.
func SRIsProjected(sr *proj.SR) bool {
	return sr.Name != "longlat"
}

// transformBetween returns a coordinate transform from one CRS to another,
// or nil when the two strings are identical or either is unset.
func transformBetween(from, to string) (proj.Transformer, error) {
	if from == to || strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return nil, nil
	}
	fromSR, err := ParseCRS(from)
	if err != nil {
		return nil, err
	}
	toSR, err := ParseCRS(to)
	if err != nil {
		return nil, err
	}
	trans, err := fromSR.NewTransform(toSR)
	if err != nil {
		return nil, fmt.Errorf("build transform: %w", err)
	}
	return trans, nil
}
