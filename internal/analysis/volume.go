package analysis

import (
	"time"

	"wyckoff-scanner/internal/market"
)

// VolumeAnalyzer scores a bar's volume against a reference average.
// Non-intraday timeframes use a trailing N-bar simple average; intraday
// timeframes use a session-relative reference (mean volume at the same
// position within prior sessions), because absolute volume at the open is
// not comparable to volume at midday. Identical bar history always yields
// an identical ratio.
type VolumeAnalyzer struct {
	avgPeriod int
}

// VolumeProfile represents volume analysis results for the latest bar.
type VolumeProfile struct {
	CurrentVolume   float64
	ReferenceVolume float64
	VolumeRatio     float64 // Current / Reference
	SessionRelative bool    // Reference came from prior-session slots
	IsHighVolume    bool    // Ratio > 2x
	IsClimaxVolume  bool    // Ratio > 3x
}

// NewVolumeAnalyzer creates a new volume analyzer.
func NewVolumeAnalyzer(avgPeriod int) *VolumeAnalyzer {
	if avgPeriod <= 0 {
		avgPeriod = 20 // Default 20-bar average
	}
	return &VolumeAnalyzer{avgPeriod: avgPeriod}
}

// Analyze scores the most recent bar in the window.
func (va *VolumeAnalyzer) Analyze(bars []market.Bar, tf market.Timeframe) *VolumeProfile {
	if len(bars) == 0 {
		return nil
	}

	current := bars[len(bars)-1]
	currentVolume := float64(current.Volume)

	reference := 0.0
	sessionRelative := false
	if tf.IsIntraday() {
		reference = va.sessionReference(bars, tf)
		sessionRelative = reference > 0
	}
	if reference == 0 {
		reference = va.TrailingAverage(bars)
	}

	ratio := 0.0
	if reference > 0 {
		ratio = currentVolume / reference
	}

	return &VolumeProfile{
		CurrentVolume:   currentVolume,
		ReferenceVolume: reference,
		VolumeRatio:     ratio,
		SessionRelative: sessionRelative,
		IsHighVolume:    ratio > 2.0,
		IsClimaxVolume:  ratio > 3.0,
	}
}

// Ratio returns just the volume ratio for the latest bar.
func (va *VolumeAnalyzer) Ratio(bars []market.Bar, tf market.Timeframe) float64 {
	profile := va.Analyze(bars, tf)
	if profile == nil {
		return 0
	}
	return profile.VolumeRatio
}

// RatioAt scores the bar at index i against the history before it.
func (va *VolumeAnalyzer) RatioAt(bars []market.Bar, tf market.Timeframe, i int) float64 {
	if i < 0 || i >= len(bars) {
		return 0
	}
	return va.Ratio(bars[:i+1], tf)
}

// TrailingAverage computes the simple average volume over the trailing
// period, excluding the latest bar so a spike does not dilute its own
// reference.
func (va *VolumeAnalyzer) TrailingAverage(bars []market.Bar) float64 {
	if len(bars) < 2 {
		if len(bars) == 1 {
			return float64(bars[0].Volume)
		}
		return 0
	}

	history := bars[:len(bars)-1]
	period := va.avgPeriod
	if len(history) < period {
		period = len(history)
	}

	sum := 0.0
	for i := len(history) - period; i < len(history); i++ {
		sum += float64(history[i].Volume)
	}
	return sum / float64(period)
}

// sessionReference averages the volume observed at the current bar's
// session slot across prior sessions. The session is the UTC day; the slot
// is the bar's offset from 00:00 divided by the bar duration. Returns 0
// when no prior session has a bar at this slot.
func (va *VolumeAnalyzer) sessionReference(bars []market.Bar, tf market.Timeframe) float64 {
	current := bars[len(bars)-1]
	currentSlot := sessionSlot(current.Timestamp, tf)
	currentDay := current.Timestamp.UTC().Truncate(24 * time.Hour)

	sum := 0.0
	count := 0
	for i := 0; i < len(bars)-1; i++ {
		b := bars[i]
		if b.Timestamp.UTC().Truncate(24 * time.Hour).Equal(currentDay) {
			continue // Same session
		}
		if sessionSlot(b.Timestamp, tf) == currentSlot {
			sum += float64(b.Volume)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func sessionSlot(ts time.Time, tf market.Timeframe) int {
	utc := ts.UTC()
	dayStart := utc.Truncate(24 * time.Hour)
	return int(utc.Sub(dayStart) / tf.Duration())
}

// IsVolumeDryUp reports whether volume is contracting across the recent
// period, the signature of a quiet consolidation.
func (va *VolumeAnalyzer) IsVolumeDryUp(bars []market.Bar, period int) bool {
	if len(bars) < period || period < 2 {
		return false
	}

	recent := bars[len(bars)-period:]
	mid := period / 2

	firstHalf := 0.0
	for i := 0; i < mid; i++ {
		firstHalf += float64(recent[i].Volume)
	}
	secondHalf := 0.0
	for i := mid; i < period; i++ {
		secondHalf += float64(recent[i].Volume)
	}

	firstHalf /= float64(mid)
	secondHalf /= float64(period - mid)

	return secondHalf < firstHalf*0.7
}
