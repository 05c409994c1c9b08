package rusle

import (
	"context"
	"errors"
	"fmt"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/raster"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/source"
)

// namedInput pairs an input dataset with the role it plays in the run.
type namedInput struct {
	name string
	ref  source.Ref
}

// ValidationResult contains the outcome of input validation.
type ValidationResult struct {
	Passed   bool
	Errors   []error
	Warnings []string
}

// Err returns the validation errors joined, or nil when validation passed.
func (v ValidationResult) Err() error {
	if v.Passed {
		return nil
	}
	return errors.Join(v.Errors...)
}

// CheckProjected fails when the named input's coordinate system is
// geographic. Re-checking the same input yields the same verdict.
func CheckProjected(name string, info source.Info) error {
	if !info.Projected {
		return &GeographicCRSError{Input: name, Ref: info.Ref.String()}
	}
	return nil
}

// CheckCoverage fails when a valid study area cell centre is not a valid
// location of the candidate. Equal or larger footprints pass.
func CheckCoverage(name string, candidate raster.Footprint, mask *raster.Grid) error {
	missing := raster.Uncovered(candidate, mask)
	if missing == 0 {
		return nil
	}
	return &CoverageError{
		Input:        name,
		MissingCells: missing,
		MaskCells:    mask.ValidCount(),
	}
}

// validateInputs checks every supplied input before anything is computed.
// This validates:
// - every input is in a projected coordinate system
// - every input covers the study area mask
//
// Coordinate systems are checked for all inputs before any coverage check.
// Engine failures are returned as the error; failed checks are reported in
// the result.
func validateInputs(ctx context.Context, src Inputs, inputs []namedInput, mask *raster.Grid) (ValidationResult, error) {
	result := ValidationResult{Passed: true}

	// Check 1: projected coordinate systems
	for _, in := range inputs {
		info, err := src.Describe(ctx, in.ref)
		if err != nil {
			return result, fmt.Errorf("describe %s input: %w", in.name, err)
		}
		if err := CheckProjected(in.name, info); err != nil {
			result.Errors = append(result.Errors, err)
			result.Passed = false
			return result, nil
		}
	}

	if mask.ValidCount() == 0 {
		result.Warnings = append(result.Warnings, "study area mask has no valid cells")
	}

	// Check 2: coverage of the study area
	crs := mask.Definition().CRS
	for _, in := range inputs {
		fp, err := src.Footprint(ctx, in.ref, crs)
		if err != nil {
			return result, fmt.Errorf("footprint of %s input: %w", in.name, err)
		}
		if err := CheckCoverage(in.name, fp, mask); err != nil {
			var cov *CoverageError
			if errors.As(err, &cov) {
				cov.Ref = in.ref.String()
			}
			result.Errors = append(result.Errors, err)
			result.Passed = false
		}
	}
	return result, nil
}
