package liveness

import (
	"fmt"
	"math"
)

// entropyEpsilon keeps log2 finite for empty histogram bins
const entropyEpsilon = 1e-7

// ExtractFeatures computes the eight liveness statistics of a raster.
// The raster is only read; the result is deterministic for a given raster.
func ExtractFeatures(r *Raster) (*Features, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil raster", ErrDecode)
	}
	if r.Width < minDimension || r.Height < minDimension {
		return nil, fmt.Errorf("%w: image too small (%dx%d)", ErrDegenerate, r.Width, r.Height)
	}

	satMean, satStd := saturationStats(r)

	f := &Features{
		TextureVariance:      textureVariance(r.Gray, r.Width, r.Height),
		ColorStd:             colorStd(r),
		EdgeDensity:          edgeDensity(r.Gray, r.Width, r.Height),
		HighFreqEnergy:       highFreqEnergy(r.Gray, r.Width, r.Height),
		HistEntropy:          histEntropy(r.Gray),
		SaturationMean:       satMean,
		SaturationStd:        satStd,
		IlluminationGradient: illuminationGradient(r),
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	return f, nil
}

// histEntropy is the base-2 Shannon entropy of the normalised 256-bin
// gray histogram
func histEntropy(gray []uint8) float64 {
	if len(gray) == 0 {
		return math.NaN()
	}

	var hist [256]int
	for _, v := range gray {
		hist[v]++
	}

	total := float64(len(gray))
	var entropy float64
	for _, count := range hist {
		p := float64(count) / total
		entropy -= p * math.Log2(p+entropyEpsilon)
	}

	return entropy
}
