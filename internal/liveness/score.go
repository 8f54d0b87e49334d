package liveness

// Rule weights. They sum to 1.0 so a capture passing every rule scores 1.0.
const (
	WeightTexture      = 0.15
	WeightColor        = 0.15
	WeightEdges        = 0.10
	WeightFrequency    = 0.10
	WeightEntropy      = 0.10
	WeightSaturation   = 0.15
	WeightIllumination = 0.15
	WeightConsistency  = 0.10
)

// Reasons attached to a spoof verdict, in rule order
const (
	ReasonLowTexture        = "Low texture variance (possible photo)"
	ReasonLowColor          = "Low color variation (possible photo or screen)"
	ReasonExcessEdges       = "Excessive edge density (possible screen or print pattern)"
	ReasonLowFrequency      = "Low high-frequency energy (possible photo)"
	ReasonLowEntropy        = "Low histogram entropy (possible photo)"
	ReasonAbnormalSat       = "Abnormal color saturation (possible photo or screen)"
	ReasonFlatLighting      = "Too uniform illumination (possible photo)"
	ReasonVolatileLighting  = "Unnatural illumination variation (possible screen)"
	ReasonOverallCharacters = "Overall characteristics suggest non-live face"
)

// Config holds the liveness decision thresholds. It is passed by value and
// never modified by this package. Inverted ranges are accepted; the affected
// rule then simply never passes.
type Config struct {
	LivenessThreshold        float64 `mapstructure:"liveness_threshold" yaml:"liveness_threshold" json:"liveness_threshold" validate:"gte=0,lte=1"`
	TextureVarianceThreshold float64 `mapstructure:"texture_variance_threshold" yaml:"texture_variance_threshold" json:"texture_variance_threshold" validate:"gte=0"`
	ColorStdThreshold        float64 `mapstructure:"color_std_threshold" yaml:"color_std_threshold" json:"color_std_threshold" validate:"gte=0"`
	EdgeDensityMin           float64 `mapstructure:"edge_density_min" yaml:"edge_density_min" json:"edge_density_min" validate:"gte=0,lte=1"`
	EdgeDensityMax           float64 `mapstructure:"edge_density_max" yaml:"edge_density_max" json:"edge_density_max" validate:"gte=0,lte=1"`
	HighFreqEnergyThreshold  float64 `mapstructure:"high_freq_energy_threshold" yaml:"high_freq_energy_threshold" json:"high_freq_energy_threshold" validate:"gte=0"`
	HistEntropyThreshold     float64 `mapstructure:"hist_entropy_threshold" yaml:"hist_entropy_threshold" json:"hist_entropy_threshold" validate:"gte=0,lte=8"`
	SaturationMeanMin        float64 `mapstructure:"saturation_mean_min" yaml:"saturation_mean_min" json:"saturation_mean_min" validate:"gte=0,lte=255"`
	SaturationMeanMax        float64 `mapstructure:"saturation_mean_max" yaml:"saturation_mean_max" json:"saturation_mean_max" validate:"gte=0,lte=255"`
	SaturationStdThreshold   float64 `mapstructure:"saturation_std_threshold" yaml:"saturation_std_threshold" json:"saturation_std_threshold" validate:"gte=0"`
	IlluminationGradientMin  float64 `mapstructure:"illumination_gradient_min" yaml:"illumination_gradient_min" json:"illumination_gradient_min" validate:"gte=0"`
	IlluminationGradientMax  float64 `mapstructure:"illumination_gradient_max" yaml:"illumination_gradient_max" json:"illumination_gradient_max" validate:"gte=0"`
}

// DefaultConfig returns thresholds tuned for 640x480 webcam captures
func DefaultConfig() Config {
	return Config{
		LivenessThreshold:        0.6,
		TextureVarianceThreshold: 10.0,
		ColorStdThreshold:        30.0,
		EdgeDensityMin:           0.01,
		EdgeDensityMax:           0.15,
		HighFreqEnergyThreshold:  7.5,
		HistEntropyThreshold:     6.5,
		SaturationMeanMin:        20.0,
		SaturationMeanMax:        150.0,
		SaturationStdThreshold:   15.0,
		IlluminationGradientMin:  0.8,
		IlluminationGradientMax:  8.0,
	}
}

// Score applies the rule set to a feature set.
//
// Each rule adds its weight when the feature is inside its live range and
// adds a reason when the feature is clearly in its spoof range. The two
// ranges leave a gap where a rule neither scores nor complains.
func Score(f Features, cfg Config) *Verdict {
	var score float64
	reasons := []string{}

	// 1. Micro-texture
	if f.TextureVariance > cfg.TextureVarianceThreshold {
		score += WeightTexture
	}
	if f.TextureVariance < cfg.TextureVarianceThreshold*0.5 {
		reasons = append(reasons, ReasonLowTexture)
	}

	// 2. Colour richness
	if f.ColorStd > cfg.ColorStdThreshold {
		score += WeightColor
	}
	if f.ColorStd < cfg.ColorStdThreshold*0.5 {
		reasons = append(reasons, ReasonLowColor)
	}

	// 3. Edges
	if f.EdgeDensity > cfg.EdgeDensityMin && f.EdgeDensity < cfg.EdgeDensityMax {
		score += WeightEdges
	}
	if f.EdgeDensity > cfg.EdgeDensityMax*1.2 {
		reasons = append(reasons, ReasonExcessEdges)
	}

	// 4. Spectrum
	if f.HighFreqEnergy > cfg.HighFreqEnergyThreshold {
		score += WeightFrequency
	}
	if f.HighFreqEnergy < cfg.HighFreqEnergyThreshold*0.8 {
		reasons = append(reasons, ReasonLowFrequency)
	}

	// 5. Histogram spread
	if f.HistEntropy > cfg.HistEntropyThreshold {
		score += WeightEntropy
	}
	if f.HistEntropy < cfg.HistEntropyThreshold*0.9 {
		reasons = append(reasons, ReasonLowEntropy)
	}

	// 6. Saturation
	if f.SaturationMean > cfg.SaturationMeanMin && f.SaturationMean < cfg.SaturationMeanMax &&
		f.SaturationStd > cfg.SaturationStdThreshold {
		score += WeightSaturation
	}
	if f.SaturationMean < cfg.SaturationMeanMin*0.8 || f.SaturationStd < cfg.SaturationStdThreshold*0.7 {
		reasons = append(reasons, ReasonAbnormalSat)
	}

	// 7. Illumination
	if f.IlluminationGradient > cfg.IlluminationGradientMin && f.IlluminationGradient < cfg.IlluminationGradientMax {
		score += WeightIllumination
	}
	if f.IlluminationGradient < cfg.IlluminationGradientMin*0.8 {
		reasons = append(reasons, ReasonFlatLighting)
	} else if f.IlluminationGradient > cfg.IlluminationGradientMax {
		reasons = append(reasons, ReasonVolatileLighting)
	}

	// 8. Combined texture, colour and saturation bonus
	if f.TextureVariance > cfg.TextureVarianceThreshold*0.8 &&
		f.ColorStd > cfg.ColorStdThreshold*0.75 &&
		f.SaturationStd > cfg.SaturationStdThreshold*0.75 {
		score += WeightConsistency
	}

	score = clampFloat(score, 0, 1)
	isLive := score >= cfg.LivenessThreshold
	if !isLive && len(reasons) == 0 {
		reasons = append(reasons, ReasonOverallCharacters)
	}

	features := f
	return &Verdict{
		Score:    score,
		IsLive:   isLive,
		Reasons:  reasons,
		Features: &features,
	}
}

// Failed builds the verdict for a capture whose features could not be
// extracted. The error text is the only reason.
func Failed(err error) *Verdict {
	reason := "liveness check failed"
	if err != nil {
		reason = err.Error()
	}
	return &Verdict{
		Score:   0,
		IsLive:  false,
		Reasons: []string{reason},
	}
}

// Check extracts features from a raster and scores them
func Check(r *Raster, cfg Config) *Verdict {
	f, err := ExtractFeatures(r)
	if err != nil {
		return Failed(err)
	}
	return Score(*f, cfg)
}

// CheckBytes decodes an encoded image and scores it. Decode and extraction
// failures are reported as a failed verdict rather than an error.
func CheckBytes(data []byte, cfg Config) *Verdict {
	r, err := Decode(data)
	if err != nil {
		return Failed(err)
	}
	return Check(r, cfg)
}
