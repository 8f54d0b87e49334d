package liveness

import (
	"errors"
	"image/color"
	"math"
	"reflect"
	"strings"
	"testing"
)

// liveFeatures sits inside every live range of DefaultConfig
func liveFeatures() Features {
	return Features{
		TextureVariance:      40,
		ColorStd:             50,
		EdgeDensity:          0.05,
		HighFreqEnergy:       9,
		HistEntropy:          7.5,
		SaturationMean:       80,
		SaturationStd:        30,
		IlluminationGradient: 3,
	}
}

func TestWeightsSumToOne(t *testing.T) {
	sum := WeightTexture + WeightColor + WeightEdges + WeightFrequency +
		WeightEntropy + WeightSaturation + WeightIllumination + WeightConsistency
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("Expected weights to sum to 1, got %f", sum)
	}
}

func TestScoreAllRulesPass(t *testing.T) {
	v := Score(liveFeatures(), DefaultConfig())

	if math.Abs(v.Score-1) > 1e-9 {
		t.Errorf("Expected score 1.0, got %f", v.Score)
	}
	if !v.IsLive {
		t.Error("Expected live verdict")
	}
	if v.Reasons == nil || len(v.Reasons) != 0 {
		t.Errorf("Expected empty reasons, got %v", v.Reasons)
	}
	if v.Features == nil || *v.Features != liveFeatures() {
		t.Errorf("Expected features to be attached, got %+v", v.Features)
	}
}

func TestScoreRules(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name       string
		mutate     func(f *Features)
		wantScore  float64
		wantReason string
	}{
		{
			name:       "LowTexture",
			mutate:     func(f *Features) { f.TextureVariance = 2 },
			wantScore:  1 - WeightTexture - WeightConsistency,
			wantReason: ReasonLowTexture,
		},
		{
			name:       "LowColor",
			mutate:     func(f *Features) { f.ColorStd = 10 },
			wantScore:  1 - WeightColor - WeightConsistency,
			wantReason: ReasonLowColor,
		},
		{
			name:       "ExcessEdges",
			mutate:     func(f *Features) { f.EdgeDensity = 0.4 },
			wantScore:  1 - WeightEdges,
			wantReason: ReasonExcessEdges,
		},
		{
			name:       "LowFrequency",
			mutate:     func(f *Features) { f.HighFreqEnergy = 3 },
			wantScore:  1 - WeightFrequency,
			wantReason: ReasonLowFrequency,
		},
		{
			name:       "LowEntropy",
			mutate:     func(f *Features) { f.HistEntropy = 4 },
			wantScore:  1 - WeightEntropy,
			wantReason: ReasonLowEntropy,
		},
		{
			name:       "LowSaturationMean",
			mutate:     func(f *Features) { f.SaturationMean = 5 },
			wantScore:  1 - WeightSaturation,
			wantReason: ReasonAbnormalSat,
		},
		{
			name:       "LowSaturationStd",
			mutate:     func(f *Features) { f.SaturationStd = 5 },
			wantScore:  1 - WeightSaturation - WeightConsistency,
			wantReason: ReasonAbnormalSat,
		},
		{
			name:       "FlatIllumination",
			mutate:     func(f *Features) { f.IlluminationGradient = 0.1 },
			wantScore:  1 - WeightIllumination,
			wantReason: ReasonFlatLighting,
		},
		{
			name:       "VolatileIllumination",
			mutate:     func(f *Features) { f.IlluminationGradient = 20 },
			wantScore:  1 - WeightIllumination,
			wantReason: ReasonVolatileLighting,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := liveFeatures()
			tt.mutate(&f)
			v := Score(f, cfg)

			if math.Abs(v.Score-tt.wantScore) > 1e-9 {
				t.Errorf("Expected score %f, got %f", tt.wantScore, v.Score)
			}
			if len(v.Reasons) != 1 || v.Reasons[0] != tt.wantReason {
				t.Errorf("Expected reasons [%s], got %v", tt.wantReason, v.Reasons)
			}
		})
	}
}

func TestScoreDeadZones(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name      string
		mutate    func(f *Features)
		wantScore float64
	}{
		{"Texture", func(f *Features) { f.TextureVariance = cfg.TextureVarianceThreshold * 0.9 }, 1 - WeightTexture},
		{"Color", func(f *Features) { f.ColorStd = cfg.ColorStdThreshold * 0.6 }, 1 - WeightColor - WeightConsistency},
		{"EdgesAboveMax", func(f *Features) { f.EdgeDensity = cfg.EdgeDensityMax * 1.1 }, 1 - WeightEdges},
		{"EdgesBelowMin", func(f *Features) { f.EdgeDensity = cfg.EdgeDensityMin / 2 }, 1 - WeightEdges},
		{"Frequency", func(f *Features) { f.HighFreqEnergy = cfg.HighFreqEnergyThreshold * 0.9 }, 1 - WeightFrequency},
		{"Entropy", func(f *Features) { f.HistEntropy = cfg.HistEntropyThreshold * 0.95 }, 1 - WeightEntropy},
		{"SaturationMeanHigh", func(f *Features) { f.SaturationMean = cfg.SaturationMeanMax + 10 }, 1 - WeightSaturation},
		{"Illumination", func(f *Features) { f.IlluminationGradient = cfg.IlluminationGradientMin * 0.9 }, 1 - WeightIllumination},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := liveFeatures()
			tt.mutate(&f)
			v := Score(f, cfg)

			if math.Abs(v.Score-tt.wantScore) > 1e-9 {
				t.Errorf("Expected score %f, got %f", tt.wantScore, v.Score)
			}
			if len(v.Reasons) != 0 {
				t.Errorf("Expected no reasons in the dead zone, got %v", v.Reasons)
			}
		})
	}
}

func TestScoreReasonOrder(t *testing.T) {
	f := Features{
		TextureVariance:      0,
		ColorStd:             0,
		EdgeDensity:          0.9,
		HighFreqEnergy:       0,
		HistEntropy:          0,
		SaturationMean:       0,
		SaturationStd:        0,
		IlluminationGradient: 0,
	}
	v := Score(f, DefaultConfig())

	want := []string{
		ReasonLowTexture,
		ReasonLowColor,
		ReasonExcessEdges,
		ReasonLowFrequency,
		ReasonLowEntropy,
		ReasonAbnormalSat,
		ReasonFlatLighting,
	}
	if !reflect.DeepEqual(v.Reasons, want) {
		t.Errorf("Expected reasons %v, got %v", want, v.Reasons)
	}
	if v.Score != 0 || v.IsLive {
		t.Errorf("Expected score 0 and not live, got %f/%v", v.Score, v.IsLive)
	}
}

func TestScoreFallbackReason(t *testing.T) {
	cfg := DefaultConfig()

	// Every feature in its dead zone
	f := Features{
		TextureVariance:      cfg.TextureVarianceThreshold * 0.6,
		ColorStd:             cfg.ColorStdThreshold * 0.6,
		EdgeDensity:          cfg.EdgeDensityMax * 1.1,
		HighFreqEnergy:       cfg.HighFreqEnergyThreshold * 0.9,
		HistEntropy:          cfg.HistEntropyThreshold * 0.95,
		SaturationMean:       cfg.SaturationMeanMin * 0.9,
		SaturationStd:        cfg.SaturationStdThreshold * 0.9,
		IlluminationGradient: cfg.IlluminationGradientMin * 0.9,
	}
	v := Score(f, cfg)

	if v.IsLive {
		t.Fatalf("Expected not live, got score %f", v.Score)
	}
	if len(v.Reasons) != 1 || v.Reasons[0] != ReasonOverallCharacters {
		t.Errorf("Expected fallback reason, got %v", v.Reasons)
	}
}

func TestScoreThresholdOnlyChangesVerdict(t *testing.T) {
	f := liveFeatures()
	f.TextureVariance = 2
	f.HighFreqEnergy = 3

	cfg := DefaultConfig()
	var scores []float64
	for th := 0.4; th <= 0.9+1e-9; th += 0.1 {
		cfg.LivenessThreshold = th
		v := Score(f, cfg)
		scores = append(scores, v.Score)

		if v.IsLive != (v.Score >= th) {
			t.Errorf("threshold %.1f: is_live %v inconsistent with score %f", th, v.IsLive, v.Score)
		}
		if !v.IsLive && len(v.Reasons) == 0 {
			t.Errorf("threshold %.1f: expected reasons for a spoof verdict", th)
		}
	}

	for i := 1; i < len(scores); i++ {
		if scores[i] != scores[0] {
			t.Errorf("Expected constant score, got %v", scores)
			break
		}
	}
}

func TestScoreIdempotent(t *testing.T) {
	f := liveFeatures()
	f.ColorStd = 5
	cfg := DefaultConfig()

	a := Score(f, cfg)
	b := Score(f, cfg)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Expected identical verdicts, got %+v and %+v", a, b)
	}
}

func TestScoreInvertedRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EdgeDensityMin, cfg.EdgeDensityMax = cfg.EdgeDensityMax, cfg.EdgeDensityMin

	v := Score(liveFeatures(), cfg)
	if math.Abs(v.Score-(1-WeightEdges)) > 1e-9 {
		t.Errorf("Expected edge rule to never pass, got score %f", v.Score)
	}
}

func TestScoreBounds(t *testing.T) {
	cfg := DefaultConfig()
	inputs := []Features{
		{},
		liveFeatures(),
		{TextureVariance: 1e9, ColorStd: 1e9, EdgeDensity: 1, HighFreqEnergy: 1e9, HistEntropy: 8, SaturationMean: 255, SaturationStd: 1e9, IlluminationGradient: 1e9},
		{TextureVariance: -1, ColorStd: -1, EdgeDensity: -1, HighFreqEnergy: -1, HistEntropy: -1, SaturationMean: -1, SaturationStd: -1, IlluminationGradient: -1},
	}

	for i, f := range inputs {
		v := Score(f, cfg)
		if v.Score < 0 || v.Score > 1 {
			t.Errorf("input %d: score %f out of range", i, v.Score)
		}
		if !v.IsLive && len(v.Reasons) == 0 {
			t.Errorf("input %d: expected reasons for a spoof verdict", i)
		}
	}
}

func TestFailed(t *testing.T) {
	err := errors.New("camera frame truncated")
	v := Failed(err)

	if v.Score != 0 || v.IsLive {
		t.Errorf("Expected score 0 and not live, got %f/%v", v.Score, v.IsLive)
	}
	if len(v.Reasons) != 1 || v.Reasons[0] != err.Error() {
		t.Errorf("Expected reason %q, got %v", err.Error(), v.Reasons)
	}
	if v.Features != nil {
		t.Error("Expected no features on a failed verdict")
	}
}

func TestCheckBytes(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("Corrupt", func(t *testing.T) {
		v := CheckBytes([]byte{0x89, 'P', 'N', 'G', 0, 1, 2}, cfg)
		if v.Score != 0 || v.IsLive {
			t.Errorf("Expected score 0 and not live, got %f/%v", v.Score, v.IsLive)
		}
		if !strings.Contains(v.Reason(), "decode") {
			t.Errorf("Expected a decode reason, got %q", v.Reason())
		}
	})

	t.Run("FlatImage", func(t *testing.T) {
		data := encodePNG(t, flatImage(64, 48, color.NRGBA{R: 180, G: 170, B: 160, A: 255}))
		v := CheckBytes(data, cfg)

		if v.Score >= cfg.LivenessThreshold || v.IsLive {
			t.Errorf("Expected flat image to fail, got score %f", v.Score)
		}
		found := false
		for _, r := range v.Reasons {
			if strings.Contains(r, "possible photo") {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected a possible photo reason, got %v", v.Reasons)
		}
	})

	t.Run("NoiseOutscoresFlat", func(t *testing.T) {
		flat := CheckBytes(encodePNG(t, flatImage(64, 64, color.NRGBA{R: 128, G: 128, B: 128, A: 255})), cfg)
		noisy := CheckBytes(encodePNG(t, noiseImage(64, 64, 1)), cfg)

		if noisy.Score <= flat.Score {
			t.Errorf("Expected noise score %f > flat score %f", noisy.Score, flat.Score)
		}
	})
}
