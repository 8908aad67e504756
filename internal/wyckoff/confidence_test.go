package wyckoff

import "testing"

func TestScoreWeighting(t *testing.T) {
	// 0.95*0.40 + 0.90*0.30 + 1.0*0.30 = 0.95 -> 95.00
	got := Score(0.95, 0.90, 1.0)
	if got != 95.0 {
		t.Errorf("Score(0.95, 0.90, 1.0) = %.2f, want 95.00", got)
	}
	if Grade(got) != "A+" {
		t.Errorf("grade for 95.00 = %s, want A+", Grade(got))
	}
}

func TestScoreIdempotent(t *testing.T) {
	a := Score(0.8, 0.65, 0.6)
	b := Score(0.8, 0.65, 0.6)
	if a != b {
		t.Errorf("identical inputs scored differently: %.4f vs %.4f", a, b)
	}
}

func TestGradeBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{90, "A+"}, {89.99, "A"}, {80, "A"}, {79.99, "B"},
		{70, "B"}, {69.99, "C"}, {60, "C"}, {59.99, "F"}, {0, "F"},
	}
	for _, tc := range cases {
		if got := Grade(tc.score); got != tc.want {
			t.Errorf("Grade(%.2f) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestEvaluateInclusiveThreshold(t *testing.T) {
	cc := NewConfidenceCalculator(70)

	// IDEAL spring in Phase C at the lowest volume band:
	// 1.0*0.40 + 0.90*0.30 + 1.0*0.30 = 0.97 -> 97.00
	p := &Pattern{Type: Spring, Quality: QualityIdeal, VolumeRatio: 0.35}
	result := cc.Evaluate(p, PhaseC)
	if !result.Accepted {
		t.Errorf("score %.2f at threshold 70 should be accepted: %s", result.Score, result.Reason)
	}
	if result.Score != 97.0 {
		t.Errorf("score = %.2f, want 97.00", result.Score)
	}

	// POOR spring in Phase A on weak volume scores well below threshold.
	weak := &Pattern{Type: Spring, Quality: QualityPoor, VolumeRatio: 0.9}
	result = cc.Evaluate(weak, PhaseA)
	if result.Accepted {
		t.Errorf("score %.2f should be rejected at threshold 70", result.Score)
	}
	if result.Reason == "" {
		t.Error("rejected pattern must carry a reason")
	}
}

func TestEvaluateExactlyAtThreshold(t *testing.T) {
	// ACCEPTABLE spring, Phase C, ratio 0.70:
	// 0.6*0.40 + 0.90*0.30 + 0.6*0.30 = 0.69 -> 69.00
	// Against a threshold of exactly 69.00 this must be accepted (inclusive).
	cc := NewConfidenceCalculator(69)
	p := &Pattern{Type: Spring, Quality: QualityAcceptable, VolumeRatio: 0.70}
	result := cc.Evaluate(p, PhaseC)
	if result.Score != 69.0 {
		t.Fatalf("score = %.2f, want 69.00", result.Score)
	}
	if !result.Accepted {
		t.Error("score equal to the minimum must be accepted")
	}
}

func TestVolumeScoreDirectionAware(t *testing.T) {
	// Spring wants exhaustion: lower ratio scores higher.
	springCases := []struct {
		ratio float64
		want  float64
	}{
		{0.30, 1.0}, {0.40, 1.0}, {0.50, 0.8}, {0.65, 0.6}, {0.90, 0.3}, {1.5, 0},
	}
	for _, tc := range springCases {
		if got := VolumeScore(Spring, tc.ratio); got != tc.want {
			t.Errorf("VolumeScore(Spring, %.2f) = %.2f, want %.2f", tc.ratio, got, tc.want)
		}
	}

	// SOS wants participation: higher ratio scores higher.
	sosCases := []struct {
		ratio float64
		want  float64
	}{
		{3.0, 1.0}, {2.5, 1.0}, {2.2, 0.85}, {1.7, 0.7}, {1.3, 0.4}, {1.0, 0},
	}
	for _, tc := range sosCases {
		if got := VolumeScore(SOSBreakout, tc.ratio); got != tc.want {
			t.Errorf("VolumeScore(SOS, %.2f) = %.2f, want %.2f", tc.ratio, got, tc.want)
		}
	}

	// LPS follows the spring curve, UTAD the SOS curve.
	if VolumeScore(LPS, 0.40) != 1.0 {
		t.Error("LPS at 0.40 should score 1.0")
	}
	if VolumeScore(UTAD, 2.5) != 1.0 {
		t.Error("UTAD at 2.5 should score 1.0")
	}
}

func TestVolumeScoreHardFloor(t *testing.T) {
	if got := VolumeScore(Spring, 1.01); got != 0 {
		t.Errorf("spring above-average volume must zero the component, got %.2f", got)
	}
	if got := VolumeScore(SOSBreakout, 1.19); got != 0 {
		t.Errorf("SOS below minimum participation must zero the component, got %.2f", got)
	}
}
