// Package liveness provides passive anti-spoofing for still face captures.
//
// A capture is reduced to eight pixel statistics (Features) which are scored
// against a set of thresholds (Config) into a Verdict. Nothing here keeps
// state between calls, so a single Config value can be shared by any number
// of goroutines.
package liveness

import (
	"errors"
	"fmt"
	"math"
)

// ErrDecode is returned when an image buffer cannot be read as a raster
var ErrDecode = errors.New("failed to decode image")

// ErrDegenerate is returned when a feature cannot be computed to a finite value
var ErrDegenerate = errors.New("degenerate image statistics")

// Features holds the eight statistics extracted from one capture
type Features struct {
	TextureVariance      float64 `json:"texture_variance"`
	ColorStd             float64 `json:"color_std"`
	EdgeDensity          float64 `json:"edge_density"`
	HighFreqEnergy       float64 `json:"high_freq_energy"`
	HistEntropy          float64 `json:"hist_entropy"`
	SaturationMean       float64 `json:"saturation_mean"`
	SaturationStd        float64 `json:"saturation_std"`
	IlluminationGradient float64 `json:"illumination_gradient"`
}

// Validate reports ErrDegenerate if any statistic is NaN or infinite
func (f Features) Validate() error {
	values := []struct {
		name  string
		value float64
	}{
		{"texture_variance", f.TextureVariance},
		{"color_std", f.ColorStd},
		{"edge_density", f.EdgeDensity},
		{"high_freq_energy", f.HighFreqEnergy},
		{"hist_entropy", f.HistEntropy},
		{"saturation_mean", f.SaturationMean},
		{"saturation_std", f.SaturationStd},
		{"illumination_gradient", f.IlluminationGradient},
	}
	for _, v := range values {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrDegenerate, v.name)
		}
	}
	return nil
}

// Verdict is the outcome of scoring one capture.
// Features is nil when extraction failed.
type Verdict struct {
	Score    float64   `json:"score"`
	IsLive   bool      `json:"is_live"`
	Reasons  []string  `json:"reasons"`
	Features *Features `json:"features,omitempty"`
}

// Reason returns the first reason, or an empty string for a clean live verdict
func (v *Verdict) Reason() string {
	if v == nil || len(v.Reasons) == 0 {
		return ""
	}
	return v.Reasons[0]
}
