package campaign

import (
	"time"

	"wyckoff-scanner/internal/wyckoff"
)

// State is the campaign lifecycle state. COMPLETED and FAILED are terminal;
// a terminal campaign accepts no further patterns.
type State string

const (
	StateForming   State = "FORMING"
	StateActive    State = "ACTIVE"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// Terminal reports whether the state accepts no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// VolumeTrend describes how volume ratios evolve across a campaign's
// constituent patterns.
type VolumeTrend string

const (
	TrendDeclining VolumeTrend = "DECLINING"
	TrendRising    VolumeTrend = "RISING"
	TrendMixed     VolumeTrend = "MIXED"
)

// RiskLevel is the qualitative risk read derived from the volume trend.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Campaign groups patterns into a coherent structural hypothesis over time.
// The pattern list is append-only and strictly ordered by detection time.
// A campaign references its trading range but does not own it.
type Campaign struct {
	ID        string            `json:"id"`
	Symbol    string            `json:"symbol"`
	Timeframe string            `json:"timeframe"`
	State     State             `json:"state"`
	Direction wyckoff.Direction `json:"direction"`
	Phase     wyckoff.Phase     `json:"phase"`

	Patterns []wyckoff.Pattern `json:"patterns"`

	SupportLevel    float64     `json:"support_level"`
	ResistanceLevel float64     `json:"resistance_level"`
	StrengthScore   float64     `json:"strength_score"` // Mean quality weight, 0-1
	RiskPerShare    float64     `json:"risk_per_share"`
	RangeWidthPct   float64     `json:"range_width_pct"`
	VolumeTrend     VolumeTrend `json:"volume_trend"`
	RiskLevel       RiskLevel   `json:"risk_level"`

	CreatedAt     time.Time `json:"created_at"`
	LastPatternAt time.Time `json:"last_pattern_at"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// EntryPrice is the close of the most recent constituent pattern's bar.
func (c *Campaign) EntryPrice() float64 {
	if len(c.Patterns) == 0 {
		return 0
	}
	return c.Patterns[len(c.Patterns)-1].Bar.Close
}

// recompute refreshes every derived field after a pattern is appended.
func (c *Campaign) recompute() {
	springLow := 0.0
	resistance := 0.0
	strengthSum := 0.0
	anyLow := 0.0

	for i := range c.Patterns {
		p := &c.Patterns[i]
		strengthSum += p.Quality.Weight()
		if anyLow == 0 || p.Bar.Low < anyLow {
			anyLow = p.Bar.Low
		}
		switch p.Type {
		case wyckoff.Spring:
			if springLow == 0 || p.Bar.Low < springLow {
				springLow = p.Bar.Low
			}
		case wyckoff.SOSBreakout, wyckoff.LPS:
			if ref := p.ReferenceLevel(); ref > resistance {
				resistance = ref
			}
		case wyckoff.UTAD:
			if ref := p.ReferenceLevel(); ref > resistance {
				resistance = ref
			}
		}
	}

	// Support is the minimum Spring low; campaigns without a Spring fall
	// back to the lowest constituent low.
	c.SupportLevel = springLow
	if c.SupportLevel == 0 {
		c.SupportLevel = anyLow
	}
	c.ResistanceLevel = resistance
	c.StrengthScore = strengthSum / float64(len(c.Patterns))

	entry := c.EntryPrice()
	c.RiskPerShare = entry - c.SupportLevel
	if c.RiskPerShare < 0 {
		c.RiskPerShare = -c.RiskPerShare
	}

	c.RangeWidthPct = 0
	if c.SupportLevel > 0 && c.ResistanceLevel > c.SupportLevel {
		c.RangeWidthPct = (c.ResistanceLevel - c.SupportLevel) / c.SupportLevel * 100
	}

	c.VolumeTrend = volumeTrend(c.Patterns)
	c.RiskLevel = riskLevel(c.Direction, c.VolumeTrend)
}

// volumeTrend classifies the sequence of constituent volume ratios.
// Strictly falling ratios mean supply is drying up across tests.
func volumeTrend(patterns []wyckoff.Pattern) VolumeTrend {
	if len(patterns) < 2 {
		return TrendMixed
	}
	declining := true
	rising := true
	for i := 1; i < len(patterns); i++ {
		if patterns[i].VolumeRatio >= patterns[i-1].VolumeRatio {
			declining = false
		}
		if patterns[i].VolumeRatio <= patterns[i-1].VolumeRatio {
			rising = false
		}
	}
	switch {
	case declining:
		return TrendDeclining
	case rising:
		return TrendRising
	}
	return TrendMixed
}

// riskLevel reads the volume trend in the campaign's direction. For long
// accumulation, declining test volume is healthy; for a distribution
// short, rising supply volume is the confirming read.
func riskLevel(dir wyckoff.Direction, trend VolumeTrend) RiskLevel {
	if dir == wyckoff.Short {
		switch trend {
		case TrendRising:
			return RiskLow
		case TrendDeclining:
			return RiskHigh
		}
		return RiskMedium
	}
	switch trend {
	case TrendDeclining:
		return RiskLow
	case TrendRising:
		return RiskHigh
	}
	return RiskMedium
}
