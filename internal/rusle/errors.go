package rusle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrGeographicCRS is returned when an input uses a geographic
	// coordinate system instead of a projected one.
	ErrGeographicCRS = errors.New("input is not in a projected coordinate system")

	// ErrCoverage is returned when an input does not cover the study area.
	ErrCoverage = errors.New("input does not cover the study area")

	// ErrInvalidOption is returned for unrecognised factor options.
	ErrInvalidOption = errors.New("invalid factor option")

	// ErrUnreconditionedDEM is returned when the upslope-area LS method is
	// requested on preprocessed data built without DEM reconditioning.
	ErrUnreconditionedDEM = errors.New("DEM was not reconditioned during preprocessing")

	// ErrMissingInput is returned when an option requires an input that was
	// not supplied.
	ErrMissingInput = errors.New("required input missing")

	// ErrLookupMiss is returned in strict mode when category codes have no
	// lookup table entry.
	ErrLookupMiss = errors.New("category codes missing from lookup table")
)

// GeographicCRSError names the input with a geographic coordinate system.
type GeographicCRSError struct {
	Input string
	Ref   string
}

func (e *GeographicCRSError) Error() string {
	return fmt.Sprintf("%s dataset %s: %v", e.Input, e.Ref, ErrGeographicCRS)
}

func (e *GeographicCRSError) Unwrap() error { return ErrGeographicCRS }

// CoverageError names the input that fails to cover the study area.
type CoverageError struct {
	Input        string
	Ref          string
	MissingCells int
	MaskCells    int
}

func (e *CoverageError) Error() string {
	return fmt.Sprintf("%s dataset %s: %v (%d of %d study area cells uncovered)",
		e.Input, e.Ref, ErrCoverage, e.MissingCells, e.MaskCells)
}

func (e *CoverageError) Unwrap() error { return ErrCoverage }

// InvalidOptionError reports an unrecognised factor option.
type InvalidOptionError struct {
	Factor  string
	Value   string
	Allowed []string
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("%v for %s factor: %q (allowed: %s)", ErrInvalidOption, e.Factor, e.Value, strings.Join(e.Allowed, ", "))
}

func (e *InvalidOptionError) Unwrap() error { return ErrInvalidOption }

// UnreconditionedDEMError names the preprocessed location lacking a
// reconditioned DEM.
type UnreconditionedDEMError struct {
	Preprocessed string
}

func (e *UnreconditionedDEMError) Error() string {
	return fmt.Sprintf("%v: %s; rerun preprocessing with DEM reconditioning to use %s", ErrUnreconditionedDEM, e.Preprocessed, UpslopeArea)
}

func (e *UnreconditionedDEMError) Unwrap() error { return ErrUnreconditionedDEM }

// MissingInputError names an input an option requires.
type MissingInputError struct {
	Input  string
	Option string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("%v: %s is required by %s", ErrMissingInput, e.Input, e.Option)
}

func (e *MissingInputError) Unwrap() error { return ErrMissingInput }

// LookupMissError lists codes absent from a lookup table.
type LookupMissError struct {
	Table string
	Codes []int
	Cells int
}

func (e *LookupMissError) Error() string {
	return fmt.Sprintf("%v %s: codes %v (%d cells)", ErrLookupMiss, e.Table, e.Codes, e.Cells)
}

func (e *LookupMissError) Unwrap() error { return ErrLookupMiss }

// StageError attributes a failure to a pipeline stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
