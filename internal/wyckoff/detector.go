package wyckoff

import (
	"wyckoff-scanner/internal/analysis"
	"wyckoff-scanner/internal/market"
)

// DetectorConfig holds per-pattern thresholds. Percentage values are for
// daily bars; shorter timeframes scale them down through
// Timeframe.ToleranceScale. Volume-ratio bounds are timeframe-invariant.
type DetectorConfig struct {
	// Spring: low-volume shakeout below support
	SpringMaxVolumeRatio    float64 // Upper bound; above it supply is not exhausted
	SpringIdealVolumeRatio  float64
	SpringGoodVolumeRatio   float64
	SpringMaxPenetrationPct float64 // Deeper penetration breaks the structure
	SpringIdealPenetrationPct float64
	SpringGoodPenetrationPct  float64
	SpringRecoveryWindowBars  int

	// SOS: high-volume breakout above resistance
	SOSMinVolumeRatio    float64 // Lower bound; below it demand is unconfirmed
	SOSGoodVolumeRatio   float64
	SOSIdealVolumeRatio  float64
	SOSMinBreakoutPct    float64
	SOSIdealBreakoutPct  float64

	// LPS: declining-volume pullback after a breakout
	LPSMaxProximityPct   float64 // How far above Creek the pullback low may sit
	LPSIdealVolumeShare  float64 // Ratio vs the preceding breakout's ratio
	LPSGoodVolumeShare   float64

	// UTAD: failed upside penetration on supply volume
	UTADMinVolumeRatio      float64
	UTADGoodVolumeRatio     float64
	UTADIdealVolumeRatio    float64
	UTADMaxPenetrationPct   float64
	UTADIdealPenetrationPct float64
	UTADGoodPenetrationPct  float64
	UTADRecoveryWindowBars  int

	// Recovery faster than this keeps a candidate's tier; slower degrades it.
	FastRecoveryBars int
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	def := func(v *float64, d float64) {
		if *v <= 0 {
			*v = d
		}
	}
	def(&c.SpringMaxVolumeRatio, 0.70)
	def(&c.SpringIdealVolumeRatio, 0.40)
	def(&c.SpringGoodVolumeRatio, 0.55)
	def(&c.SpringMaxPenetrationPct, 3.0)
	def(&c.SpringIdealPenetrationPct, 1.0)
	def(&c.SpringGoodPenetrationPct, 2.0)
	def(&c.SOSMinVolumeRatio, 1.5)
	def(&c.SOSGoodVolumeRatio, 2.0)
	def(&c.SOSIdealVolumeRatio, 2.5)
	def(&c.SOSMinBreakoutPct, 0.3)
	def(&c.SOSIdealBreakoutPct, 1.0)
	def(&c.LPSMaxProximityPct, 3.0)
	def(&c.LPSIdealVolumeShare, 0.5)
	def(&c.LPSGoodVolumeShare, 0.75)
	def(&c.UTADMinVolumeRatio, 1.2)
	def(&c.UTADGoodVolumeRatio, 1.8)
	def(&c.UTADIdealVolumeRatio, 2.4)
	def(&c.UTADMaxPenetrationPct, 3.0)
	def(&c.UTADIdealPenetrationPct, 1.0)
	def(&c.UTADGoodPenetrationPct, 2.0)
	if c.SpringRecoveryWindowBars <= 0 {
		c.SpringRecoveryWindowBars = 4
	}
	if c.UTADRecoveryWindowBars <= 0 {
		c.UTADRecoveryWindowBars = 4
	}
	if c.FastRecoveryBars <= 0 {
		c.FastRecoveryBars = 2
	}
	return c
}

// Detector evaluates the four Wyckoff patterns against a confirmed trading
// range. Each Detect method is a pure function of the window, the range and
// the volume analyzer, and emits at most one candidate per bar.
type Detector struct {
	cfg    DetectorConfig
	volume *analysis.VolumeAnalyzer
}

// NewDetector creates a detector, filling unset thresholds with defaults.
func NewDetector(cfg DetectorConfig, volume *analysis.VolumeAnalyzer) *Detector {
	return &Detector{cfg: cfg.withDefaults(), volume: volume}
}

// DetectSpring looks for a low-volume penetration below Creek (at most the
// bounded maximum, i.e. around Ice) that recovers back above Creek within
// the recovery window. The candidate is emitted on the recovery bar, which
// may be the penetration bar itself when the close regains Creek within
// the bar.
func (d *Detector) DetectSpring(bars []market.Bar, tr *TradingRange, tf market.Timeframe) *Pattern {
	if tr == nil || len(bars) < 2 {
		return nil
	}
	n := len(bars)
	current := bars[n-1]

	// The current bar must be the recovery: a close back above Creek. The
	// penetration may be this bar's own low or an earlier bar's.
	if current.Close <= tr.Creek {
		return nil
	}
	if current.Low >= tr.Creek && bars[n-2].Close > tr.Creek && bars[n-2].Low >= tr.Creek {
		return nil // No penetration pending recovery
	}

	scale := tf.ToleranceScale()
	maxPen := d.cfg.SpringMaxPenetrationPct * scale

	// Find the deepest qualifying penetration inside the recovery window.
	penIdx := -1
	penPct := 0.0
	start := n - 1 - d.cfg.SpringRecoveryWindowBars
	if start < 0 {
		start = 0
	}
	for i := n - 1; i >= start; i-- {
		if i < n-1 && bars[i].Close > tr.Creek {
			break // An earlier recovery already closed this sequence
		}
		if bars[i].Low < tr.Creek {
			pct := (tr.Creek - bars[i].Low) / tr.Creek * 100
			if pct > penPct {
				penPct = pct
				penIdx = i
			}
		}
	}
	if penIdx < 0 || penPct > maxPen {
		return nil
	}

	ratio := d.volume.RatioAt(bars, tf, penIdx)
	if ratio <= 0 || ratio > d.cfg.SpringMaxVolumeRatio {
		return nil // Penetration on real volume is supply, not exhaustion
	}

	recoveryBars := n - 1 - penIdx
	quality := d.springQuality(ratio, penPct, scale, recoveryBars)

	return &Pattern{
		Type:         Spring,
		Symbol:       current.Symbol,
		Timeframe:    current.Timeframe,
		DetectedAt:   current.Timestamp,
		Bar:          bars[penIdx],
		MagnitudePct: penPct,
		VolumeRatio:  ratio,
		RecoveryBars: recoveryBars,
		Quality:      quality,
		Direction:    Spring.Direction(),
	}
}

func (d *Detector) springQuality(ratio, penPct, scale float64, recoveryBars int) QualityTier {
	ratioTier := QualityAcceptable
	if ratio <= d.cfg.SpringIdealVolumeRatio {
		ratioTier = QualityIdeal
	} else if ratio <= d.cfg.SpringGoodVolumeRatio {
		ratioTier = QualityGood
	}

	penTier := QualityAcceptable
	if penPct <= d.cfg.SpringIdealPenetrationPct*scale {
		penTier = QualityIdeal
	} else if penPct <= d.cfg.SpringGoodPenetrationPct*scale {
		penTier = QualityGood
	}

	tier := worse(ratioTier, penTier)
	if recoveryBars > d.cfg.FastRecoveryBars {
		tier = tier.degrade()
	}
	return tier
}

// DetectSOS looks for a close breaking above range resistance on expanded
// volume. Only the crossing bar qualifies; bars already above resistance
// do not re-emit.
func (d *Detector) DetectSOS(bars []market.Bar, tr *TradingRange, tf market.Timeframe) *Pattern {
	if tr == nil || len(bars) < 2 {
		return nil
	}
	n := len(bars)
	current := bars[n-1]

	if current.Close <= tr.Resistance {
		return nil
	}
	if bars[n-2].Close > tr.Resistance {
		return nil // Already broken out
	}

	ratio := d.volume.Ratio(bars, tf)
	if ratio < d.cfg.SOSMinVolumeRatio {
		return nil // Breakout without demand
	}

	scale := tf.ToleranceScale()
	breakoutPct := (current.Close - tr.Resistance) / tr.Resistance * 100
	if breakoutPct < d.cfg.SOSMinBreakoutPct*scale {
		return nil
	}

	ratioTier := QualityAcceptable
	if ratio >= d.cfg.SOSIdealVolumeRatio {
		ratioTier = QualityIdeal
	} else if ratio >= d.cfg.SOSGoodVolumeRatio {
		ratioTier = QualityGood
	}
	magTier := QualityGood
	if breakoutPct >= d.cfg.SOSIdealBreakoutPct*scale {
		magTier = QualityIdeal
	}

	return &Pattern{
		Type:         SOSBreakout,
		Symbol:       current.Symbol,
		Timeframe:    current.Timeframe,
		DetectedAt:   current.Timestamp,
		Bar:          current,
		MagnitudePct: breakoutPct,
		VolumeRatio:  ratio,
		Quality:      worse(ratioTier, magTier),
		Direction:    SOSBreakout.Direction(),
	}
}

// DetectLPS looks for a shallow pullback toward Ice after a prior Spring
// or SOS, holding on volume below the preceding breakout's ratio. prior is
// the most recent accepted Spring/SOS for the symbol.
func (d *Detector) DetectLPS(bars []market.Bar, tr *TradingRange, tf market.Timeframe, prior *Pattern) *Pattern {
	if tr == nil || len(bars) < 2 || prior == nil {
		return nil
	}
	if prior.Type != Spring && prior.Type != SOSBreakout {
		return nil
	}
	n := len(bars)
	current := bars[n-1]

	scale := tf.ToleranceScale()
	proximityCeiling := tr.Creek * (1 + d.cfg.LPSMaxProximityPct*scale/100)

	// Pullback low must come back into the support zone without breaking it.
	if current.Low > proximityCeiling || current.Low < tr.Ice {
		return nil
	}
	if current.ClosePosition() < 0.5 {
		return nil // Not holding; sellers still in control of the bar
	}

	ratio := d.volume.Ratio(bars, tf)
	if prior.VolumeRatio <= 0 || ratio >= prior.VolumeRatio {
		return nil // Pullback volume must decline vs the breakout
	}

	share := ratio / prior.VolumeRatio
	tier := QualityAcceptable
	if share <= d.cfg.LPSIdealVolumeShare {
		tier = QualityIdeal
	} else if share <= d.cfg.LPSGoodVolumeShare {
		tier = QualityGood
	}

	proximityPct := (current.Low - tr.Creek) / tr.Creek * 100
	if proximityPct < 0 {
		proximityPct = 0
	}

	return &Pattern{
		Type:         LPS,
		Symbol:       current.Symbol,
		Timeframe:    current.Timeframe,
		DetectedAt:   current.Timestamp,
		Bar:          current,
		MagnitudePct: proximityPct,
		VolumeRatio:  ratio,
		Quality:      tier,
		Direction:    LPS.Direction(),
	}
}

// DetectUTAD is the distribution mirror of the Spring: a push above range
// resistance that fails to hold and closes back inside within the recovery
// window, with the penetration carried on supply volume.
func (d *Detector) DetectUTAD(bars []market.Bar, tr *TradingRange, tf market.Timeframe) *Pattern {
	if tr == nil || len(bars) < 2 {
		return nil
	}
	n := len(bars)
	current := bars[n-1]

	// Current bar must be the failure: first close back below resistance.
	if current.Close >= tr.Resistance {
		return nil
	}

	scale := tf.ToleranceScale()
	maxPen := d.cfg.UTADMaxPenetrationPct * scale

	penIdx := -1
	penPct := 0.0
	start := n - 1 - d.cfg.UTADRecoveryWindowBars
	if start < 0 {
		start = 0
	}
	for i := n - 1; i >= start; i-- {
		if i < n-1 && bars[i].Close < tr.Resistance {
			break // An earlier failure already closed this sequence
		}
		if bars[i].High > tr.Resistance {
			pct := (bars[i].High - tr.Resistance) / tr.Resistance * 100
			if pct > penPct {
				penPct = pct
				penIdx = i
			}
		}
	}
	if penIdx < 0 || penPct > maxPen {
		return nil
	}

	ratio := d.volume.RatioAt(bars, tf, penIdx)
	if ratio < d.cfg.UTADMinVolumeRatio {
		return nil // An upthrust without supply volume is just a test
	}

	recoveryBars := n - 1 - penIdx
	ratioTier := QualityAcceptable
	if ratio >= d.cfg.UTADIdealVolumeRatio {
		ratioTier = QualityIdeal
	} else if ratio >= d.cfg.UTADGoodVolumeRatio {
		ratioTier = QualityGood
	}
	penTier := QualityAcceptable
	if penPct <= d.cfg.UTADIdealPenetrationPct*scale {
		penTier = QualityIdeal
	} else if penPct <= d.cfg.UTADGoodPenetrationPct*scale {
		penTier = QualityGood
	}

	tier := worse(ratioTier, penTier)
	if recoveryBars > d.cfg.FastRecoveryBars {
		tier = tier.degrade()
	}

	return &Pattern{
		Type:         UTAD,
		Symbol:       current.Symbol,
		Timeframe:    current.Timeframe,
		DetectedAt:   current.Timestamp,
		Bar:          bars[penIdx],
		MagnitudePct: penPct,
		VolumeRatio:  ratio,
		RecoveryBars: recoveryBars,
		Quality:      tier,
		Direction:    UTAD.Direction(),
	}
}
