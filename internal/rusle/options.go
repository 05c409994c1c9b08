package rusle

import "strings"

// LSOption selects how the slope-length factor is computed.
type LSOption string

const (
	SlopeLength LSOption = "SlopeLength"
	UpslopeArea LSOption = "UpslopeArea"
)

// KOption selects the source of the soil erodibility factor.
type KOption string

const (
	PreprocessSoil KOption = "PreprocessSoil"
	LocalSoil      KOption = "LocalSoil"
)

// COption selects the source of the cover management factor.
type COption string

const (
	PreprocessLC COption = "PreprocessLC"
	LocalCfactor COption = "LocalCfactor"
)

// DefaultCutoffAngle is the slope cutoff in degrees used when none is given.
const DefaultCutoffAngle = 26.6

// Labels shown for each option in the desktop tool's parameter dialog.
// Parsing accepts them so saved parameter files from that tool still load.
var (
	lsLabels = map[string]LSOption{
		"calculate based on slope and length only": SlopeLength,
		"include upslope contributing area":        UpslopeArea,
	}
	kLabels = map[string]KOption{
		"use preprocessed soil data": PreprocessSoil,
		"use local k-factor dataset": LocalSoil,
	}
	cLabels = map[string]COption{
		"use preprocessed land cover data": PreprocessLC,
		"use local c-factor dataset":       LocalCfactor,
	}
)

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ParseLSOption accepts an option name or dialog label, case-insensitively.
func ParseLSOption(s string) (LSOption, error) {
	n := normalize(s)
	for _, o := range []LSOption{SlopeLength, UpslopeArea} {
		if n == strings.ToLower(string(o)) {
			return o, nil
		}
	}
	if o, ok := lsLabels[n]; ok {
		return o, nil
	}
	return "", &InvalidOptionError{Factor: "LS", Value: s, Allowed: []string{string(SlopeLength), string(UpslopeArea)}}
}

// ParseKOption accepts an option name or dialog label, case-insensitively.
func ParseKOption(s string) (KOption, error) {
	n := normalize(s)
	for _, o := range []KOption{PreprocessSoil, LocalSoil} {
		if n == strings.ToLower(string(o)) {
			return o, nil
		}
	}
	if o, ok := kLabels[n]; ok {
		return o, nil
	}
	return "", &InvalidOptionError{Factor: "K", Value: s, Allowed: []string{string(PreprocessSoil), string(LocalSoil)}}
}

// ParseCOption accepts an option name or dialog label, case-insensitively.
func ParseCOption(s string) (COption, error) {
	n := normalize(s)
	for _, o := range []COption{PreprocessLC, LocalCfactor} {
		if n == strings.ToLower(string(o)) {
			return o, nil
		}
	}
	if o, ok := cLabels[n]; ok {
		return o, nil
	}
	return "", &InvalidOptionError{Factor: "C", Value: s, Allowed: []string{string(PreprocessLC), string(LocalCfactor)}}
}
