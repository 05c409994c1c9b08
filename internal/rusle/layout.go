package rusle

import (
	"path"
	"strings"
)

// Grids written by the preprocessing step.
const (
	preStudyMask = "studyareamask"
	preDEM       = "rawDEM"
	preSlopePct  = "slopeRawPer"
	preSlopeDeg  = "slopeHydDeg"
	preFlowAcc   = "hydFAC"
	preStreams   = "streamInvRas"
	preSoil      = "soil_ras"
	preLandCover = "lc_ras"

	preprocessDoc = "preprocess.yaml"
)

// Output grid names.
const (
	OutRFactor  = "rFactor"
	OutLSFactor = "lsFactor"
	OutKFactor  = "kFactor"
	OutCFactor  = "cFactor"
	OutPFactor  = "pFactor"
	OutSoilLoss = "soilloss"

	OutSoilLossA    = "soillossA"
	OutSoilLossB    = "soillossB"
	OutSoilLossDiff = "soillossDiff"
	OutAccountsPQ   = "soillossAccounts.parquet"
)

const (
	scratchDir = "_scratch"
	periodA    = "periodA"
	periodB    = "periodB"
)

func joinKey(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return path.Join(cleaned...)
}

// layout resolves storage keys for one run.
type layout struct {
	output       string
	preprocessed string
	saveFactors  bool
}

func (l layout) pre(name string) string { return joinKey(l.preprocessed, name) }

func (l layout) scratch(name string) string { return joinKey(l.output, scratchDir, name) }

func (l layout) out(name string) string { return joinKey(l.output, name) }

// factor returns where a factor grid is written: a named output when factors
// are saved, scratch space otherwise.
func (l layout) factor(name string) string {
	if l.saveFactors {
		return l.out(name)
	}
	return l.scratch(name)
}

// prepared returns the scratch key of a prepared input.
func (l layout) prepared(input string) string {
	return l.scratch("prepared_" + input)
}
