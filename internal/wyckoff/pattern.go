package wyckoff

import (
	"time"

	"wyckoff-scanner/internal/market"
)

// PatternType enumerates the Wyckoff structural events this engine detects.
// The set is closed: every consumer switches exhaustively over these four
// values, so adding a variant is a compile-surface change, not a runtime one.
type PatternType string

const (
	Spring      PatternType = "spring"
	SOSBreakout PatternType = "sos_breakout"
	LPS         PatternType = "lps"
	UTAD        PatternType = "utad"
)

// Direction is the trade bias a pattern implies.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Direction returns the directional bias of the pattern type. Spring, SOS
// and LPS are accumulation events; UTAD is the distribution analog.
func (pt PatternType) Direction() Direction {
	switch pt {
	case Spring, SOSBreakout, LPS:
		return Long
	case UTAD:
		return Short
	}
	return Long
}

// QualityTier grades how close a candidate sits to the ideal band.
type QualityTier string

const (
	QualityIdeal      QualityTier = "IDEAL"
	QualityGood       QualityTier = "GOOD"
	QualityAcceptable QualityTier = "ACCEPTABLE"
	QualityPoor       QualityTier = "POOR"
)

// Weight maps a quality tier to its numeric contribution to confidence and
// campaign strength.
func (q QualityTier) Weight() float64 {
	switch q {
	case QualityIdeal:
		return 1.0
	case QualityGood:
		return 0.8
	case QualityAcceptable:
		return 0.6
	case QualityPoor:
		return 0.3
	}
	return 0
}

// degrade steps a tier down one level, bottoming out at POOR.
func (q QualityTier) degrade() QualityTier {
	switch q {
	case QualityIdeal:
		return QualityGood
	case QualityGood:
		return QualityAcceptable
	default:
		return QualityPoor
	}
}

// worse returns the lower of two tiers.
func worse(a, b QualityTier) QualityTier {
	if a.Weight() <= b.Weight() {
		return a
	}
	return b
}

// Pattern is a detected Wyckoff event. One value covers all four variants;
// Type discriminates.
type Pattern struct {
	Type       PatternType `json:"type"`
	Symbol     string      `json:"symbol"`
	Timeframe  string      `json:"timeframe"`
	DetectedAt time.Time   `json:"detected_at"`

	// Bar is the reference bar: the penetration bar for Spring/UTAD, the
	// breakout bar for SOS, the pullback bar for LPS.
	Bar market.Bar `json:"bar"`

	// MagnitudePct is the penetration (Spring/UTAD) or breakout (SOS/LPS
	// proximity) distance as a percentage of the reference level.
	MagnitudePct float64 `json:"magnitude_pct"`

	VolumeRatio  float64     `json:"volume_ratio"`
	RecoveryBars int         `json:"recovery_bars"`
	Quality      QualityTier `json:"quality"`
	Direction    Direction   `json:"direction"`
}

// ReferenceLevel returns the price level this pattern contributes to its
// campaign: the low for Springs (support evidence), the close for SOS and
// LPS (resistance evidence), the high for UTAD.
func (p *Pattern) ReferenceLevel() float64 {
	switch p.Type {
	case Spring:
		return p.Bar.Low
	case SOSBreakout, LPS:
		return p.Bar.Close
	case UTAD:
		return p.Bar.High
	}
	return p.Bar.Close
}
