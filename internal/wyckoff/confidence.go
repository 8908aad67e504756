package wyckoff

import (
	"fmt"
	"math"
)

// Confidence weighting: pattern quality dominates, phase context and
// volume character split the remainder.
const (
	qualityWeight = 0.40
	phaseWeight   = 0.30
	volumeWeight  = 0.30
)

// ConfidenceResult is the scored verdict on a pattern candidate.
type ConfidenceResult struct {
	Score    float64 `json:"score"` // 0-100, two decimals
	Grade    string  `json:"grade"` // A+/A/B/C/F
	Accepted bool    `json:"accepted"`
	Reason   string  `json:"reason,omitempty"` // Set when rejected
}

// ConfidenceCalculator combines pattern quality, phase strength and a
// direction-aware volume score into a single 0-100 confidence value.
type ConfidenceCalculator struct {
	minScore float64
}

// NewConfidenceCalculator creates a calculator with the given acceptance
// threshold (inclusive). Zero or negative uses the default of 70.
func NewConfidenceCalculator(minScore float64) *ConfidenceCalculator {
	if minScore <= 0 {
		minScore = 70
	}
	return &ConfidenceCalculator{minScore: minScore}
}

// MinScore returns the acceptance threshold.
func (cc *ConfidenceCalculator) MinScore() float64 {
	return cc.minScore
}

// Score combines the three components into a 0-100 value rounded to two
// decimals. Components are each 0-1.
func Score(quality, phaseStrength, volumeScore float64) float64 {
	raw := (quality*qualityWeight + phaseStrength*phaseWeight + volumeScore*volumeWeight) * 100
	return math.Round(raw*100) / 100
}

// Grade maps a 0-100 score to its letter grade.
func Grade(score float64) string {
	switch {
	case score >= 90:
		return "A+"
	case score >= 80:
		return "A"
	case score >= 70:
		return "B"
	case score >= 60:
		return "C"
	}
	return "F"
}

// Evaluate scores a pattern in the context of its range phase. Candidates
// at or above the minimum are accepted; below it they carry a rejection
// reason. Rejection is a filter, not an error.
func (cc *ConfidenceCalculator) Evaluate(p *Pattern, phase Phase) ConfidenceResult {
	volumeScore := VolumeScore(p.Type, p.VolumeRatio)
	score := Score(p.Quality.Weight(), phase.Strength(), volumeScore)

	result := ConfidenceResult{
		Score: score,
		Grade: Grade(score),
	}
	if score >= cc.minScore {
		result.Accepted = true
		return result
	}
	result.Reason = fmt.Sprintf("confidence %.2f below minimum %.2f (%s quality %s, phase %s, volume ratio %.2f)",
		score, cc.minScore, p.Type, p.Quality, phase, p.VolumeRatio)
	return result
}

// VolumeScore converts a volume ratio into a 0-1 component. The step
// function is direction-aware: Spring and LPS want supply exhaustion, so
// lower ratios score higher; SOS and UTAD want participation, so higher
// ratios score higher. Crossing the hard floor scores zero.
func VolumeScore(pt PatternType, ratio float64) float64 {
	switch pt {
	case Spring, LPS:
		switch {
		case ratio <= 0.40:
			return 1.0
		case ratio <= 0.55:
			return 0.8
		case ratio <= 0.70:
			return 0.6
		case ratio <= 1.0:
			return 0.3
		}
		return 0 // Penetration on above-average volume violates the premise
	case SOSBreakout, UTAD:
		switch {
		case ratio >= 2.5:
			return 1.0
		case ratio >= 2.0:
			return 0.85
		case ratio >= 1.5:
			return 0.7
		case ratio >= 1.2:
			return 0.4
		}
		return 0 // A breakout nobody participated in
	}
	return 0
}
