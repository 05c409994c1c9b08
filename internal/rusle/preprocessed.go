package rusle

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/storage"
)

// PreprocessInfo is the run descriptor the preprocessing step leaves next to
// its grids.
type PreprocessInfo struct {
	ReconditionDEM bool   `yaml:"recondition_dem"`
	DEM            string `yaml:"dem,omitempty"`
	StudyArea      string `yaml:"study_area,omitempty"`
}

// readPreprocessInfo loads the descriptor. A missing descriptor is treated
// as preprocessing without DEM reconditioning.
func readPreprocessInfo(ctx context.Context, store Store, l layout) (PreprocessInfo, bool, error) {
	data, err := store.ReadObject(ctx, l.pre(preprocessDoc))
	if errors.Is(err, storage.ErrNotFound) {
		return PreprocessInfo{}, false, nil
	}
	if err != nil {
		return PreprocessInfo{}, false, fmt.Errorf("read %s: %w", preprocessDoc, err)
	}
	var info PreprocessInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return PreprocessInfo{}, false, fmt.Errorf("parse %s: %w", preprocessDoc, err)
	}
	return info, true, nil
}
