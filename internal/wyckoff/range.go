package wyckoff

import (
	"time"

	"wyckoff-scanner/internal/analysis"
	"wyckoff-scanner/internal/market"
)

// Phase represents the Wyckoff structural stage of a trading range.
type Phase string

const (
	PhaseA Phase = "A" // Stopping action: climax + automatic rally
	PhaseB Phase = "B" // Cause building inside the range
	PhaseC Phase = "C" // Testing: spring / shakeout
	PhaseD Phase = "D" // Sign of strength, backing up action
	PhaseE Phase = "E" // Markup out of the range
)

// Strength maps a phase to its contribution to confidence scoring. Phase C
// scores highest: a tested range is the strongest structural context.
func (p Phase) Strength() float64 {
	switch p {
	case PhaseA:
		return 0.55
	case PhaseB:
		return 0.65
	case PhaseC:
		return 0.90
	case PhaseD:
		return 0.85
	case PhaseE:
		return 0.70
	}
	return 0
}

// TradingRange is a confirmed consolidation structure. Creek is support,
// Ice the deeper invalidation level below it, Jump the projected
// measured-move target, Resistance the automatic-rally high. Levels may be
// refined while the range develops but are frozen once a campaign forms
// against it.
type TradingRange struct {
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	StartedAt  time.Time `json:"started_at"`
	Creek      float64   `json:"creek"`
	Ice        float64   `json:"ice"`
	Jump       float64   `json:"jump"`
	Resistance float64   `json:"resistance"`
	Phase      Phase     `json:"phase"`

	locked   bool
	barsSeen int
}

// Lock freezes the range levels. Called when a campaign forms against it;
// from then on levels are never retroactively rewritten.
func (tr *TradingRange) Lock() {
	tr.locked = true
}

// Locked reports whether the range levels are frozen.
func (tr *TradingRange) Locked() bool {
	return tr.locked
}

// RangeConfig holds climax and automatic-rally detection thresholds.
type RangeConfig struct {
	ClimaxVolumeRatio   float64 // Min volume ratio for a climactic bar
	ClimaxSpreadRatio   float64 // Min spread vs trailing average spread
	ClimaxClosePosition float64 // Close must sit within this fraction of the low
	RallyWindowBars     int     // Bars allowed between climax and automatic rally
	RallyMinRetracement float64 // Min fraction of the decline the rally must retrace
	RallyMaxVolumeRatio float64 // Rally must come on reduced volume
	IceBufferPct        float64 // Ice sits this % below Creek (scaled per timeframe)
	PhaseBMinBars       int     // Bars inside the range before Phase B
	SpreadLookback      int     // Bars for the trailing average spread
}

func (c RangeConfig) withDefaults() RangeConfig {
	if c.ClimaxVolumeRatio <= 0 {
		c.ClimaxVolumeRatio = 2.0
	}
	if c.ClimaxSpreadRatio <= 0 {
		c.ClimaxSpreadRatio = 1.5
	}
	if c.ClimaxClosePosition <= 0 {
		c.ClimaxClosePosition = 0.35
	}
	if c.RallyWindowBars <= 0 {
		c.RallyWindowBars = 10
	}
	if c.RallyMinRetracement <= 0 {
		c.RallyMinRetracement = 0.33
	}
	if c.RallyMaxVolumeRatio <= 0 {
		c.RallyMaxVolumeRatio = 1.0
	}
	if c.IceBufferPct <= 0 {
		c.IceBufferPct = 2.0
	}
	if c.PhaseBMinBars <= 0 {
		c.PhaseBMinBars = 5
	}
	if c.SpreadLookback <= 0 {
		c.SpreadLookback = 20
	}
	return c
}

// RangeIdentifier detects consolidation ranges for one symbol/timeframe.
// It watches for a climactic bar, requires the automatic rally that
// confirms Phase A, and then maintains the range's reference levels as the
// structure develops. Not safe for concurrent use; the engine runs one
// identifier per symbol worker.
type RangeIdentifier struct {
	cfg    RangeConfig
	volume *analysis.VolumeAnalyzer

	active *TradingRange

	// Climax candidate awaiting its automatic rally
	climaxBar   *market.Bar
	climaxRatio float64
	climaxHigh  float64 // Pre-climax swing high, retracement reference
	barsSinceSC int
}

// NewRangeIdentifier creates an identifier with the given thresholds.
func NewRangeIdentifier(cfg RangeConfig, volume *analysis.VolumeAnalyzer) *RangeIdentifier {
	return &RangeIdentifier{
		cfg:    cfg.withDefaults(),
		volume: volume,
	}
}

// Active returns the confirmed range, or nil while none exists.
func (ri *RangeIdentifier) Active() *TradingRange {
	return ri.active
}

// Update processes the latest bar in the window and returns the active
// range after any state change. A close below Ice discards the range: the
// accumulation hypothesis is invalidated.
func (ri *RangeIdentifier) Update(bars []market.Bar, tf market.Timeframe) *TradingRange {
	if len(bars) == 0 {
		return ri.active
	}
	bar := bars[len(bars)-1]

	if ri.active != nil {
		ri.refine(bar)
		return ri.active
	}

	if ri.climaxBar != nil {
		ri.barsSinceSC++
		if ri.barsSinceSC > ri.cfg.RallyWindowBars {
			// No automatic rally arrived: the climax candidate is
			// invalidated and no range opens. The current bar may still
			// start a fresh candidate below.
			ri.clearCandidate()
		} else {
			if ri.rallyConfirmed(bars, tf, bar) {
				ri.openRange(bar, tf)
				return ri.active
			}
			// A lower low resets the candidate to the deeper climax.
			if bar.Low < ri.climaxBar.Low && ri.isClimactic(bars, tf, bar) {
				ri.setCandidate(bars, bar, tf)
			}
			return nil
		}
	}

	if ri.isClimactic(bars, tf, bar) {
		ri.setCandidate(bars, bar, tf)
	}
	return nil
}

// ObservePattern advances the range phase from confirmed pattern events:
// a Spring is the Phase C test, SOS opens Phase D, an LPS after strength
// marks the backup into Phase E markup.
func (ri *RangeIdentifier) ObservePattern(pt PatternType) {
	if ri.active == nil {
		return
	}
	switch pt {
	case Spring:
		ri.active.Phase = PhaseC
	case SOSBreakout:
		ri.active.Phase = PhaseD
	case LPS:
		if ri.active.Phase == PhaseD {
			ri.active.Phase = PhaseE
		}
	case UTAD:
		// Distribution evidence keeps the range in its testing phase.
		ri.active.Phase = PhaseC
	}
}

// isClimactic checks for a downside climactic bar: wide spread, volume at
// a multiple of the rolling average, close near the low.
func (ri *RangeIdentifier) isClimactic(bars []market.Bar, tf market.Timeframe, bar market.Bar) bool {
	avgSpread := ri.averageSpread(bars)
	if avgSpread <= 0 {
		return false
	}
	if bar.Spread() < avgSpread*ri.cfg.ClimaxSpreadRatio {
		return false
	}
	if bar.ClosePosition() > ri.cfg.ClimaxClosePosition {
		return false
	}
	ratio := ri.volume.Ratio(bars, tf)
	return ratio >= ri.cfg.ClimaxVolumeRatio
}

func (ri *RangeIdentifier) setCandidate(bars []market.Bar, bar market.Bar, tf market.Timeframe) {
	b := bar
	ri.climaxBar = &b
	ri.climaxRatio = ri.volume.Ratio(bars, tf)
	ri.climaxHigh = preClimaxHigh(bars)
	ri.barsSinceSC = 0
}

func (ri *RangeIdentifier) clearCandidate() {
	ri.climaxBar = nil
	ri.climaxRatio = 0
	ri.climaxHigh = 0
	ri.barsSinceSC = 0
}

// rallyConfirmed checks the automatic-rally requirement: a rebound that
// retraces a meaningful depth of the decline into the climax, on volume
// clearly below the climactic level.
func (ri *RangeIdentifier) rallyConfirmed(bars []market.Bar, tf market.Timeframe, bar market.Bar) bool {
	decline := ri.climaxHigh - ri.climaxBar.Low
	if decline <= 0 {
		decline = ri.climaxBar.Spread()
	}
	target := ri.climaxBar.Low + decline*ri.cfg.RallyMinRetracement
	if bar.High < target {
		return false
	}
	ratio := ri.volume.Ratio(bars, tf)
	return ratio <= ri.cfg.RallyMaxVolumeRatio && ratio < ri.climaxRatio
}

func (ri *RangeIdentifier) openRange(rallyBar market.Bar, tf market.Timeframe) {
	creek := ri.climaxBar.Low
	buffer := ri.cfg.IceBufferPct * tf.ToleranceScale() / 100
	resistance := rallyBar.High

	ri.active = &TradingRange{
		Symbol:     rallyBar.Symbol,
		Timeframe:  rallyBar.Timeframe,
		StartedAt:  ri.climaxBar.Timestamp,
		Creek:      creek,
		Ice:        creek * (1 - buffer),
		Jump:       resistance + (resistance - creek), // Measured move
		Resistance: resistance,
		Phase:      PhaseA,
	}
	ri.clearCandidate()
}

// refine adjusts range boundaries as new bars arrive. Creek may only move
// down toward Ice, Resistance and Jump only up: refinement never violates
// a level in the adverse direction. Boundaries settle during Phase A only;
// from Phase B on, an excursion past a level is pattern material for the
// detectors, not a new boundary. Locked ranges are left untouched.
func (ri *RangeIdentifier) refine(bar market.Bar) {
	tr := ri.active
	tr.barsSeen++

	if bar.Close < tr.Ice {
		ri.active = nil // Structure broken below invalidation
		return
	}

	if tr.Phase == PhaseA && !tr.locked {
		if bar.Low < tr.Creek && bar.Low >= tr.Ice {
			tr.Creek = bar.Low
		}
		if bar.High > tr.Resistance {
			tr.Resistance = bar.High
			if projected := tr.Resistance + (tr.Resistance - tr.Creek); projected > tr.Jump {
				tr.Jump = projected
			}
		}
	}

	if tr.Phase == PhaseA && tr.barsSeen >= ri.cfg.PhaseBMinBars {
		tr.Phase = PhaseB
	}
}

func (ri *RangeIdentifier) averageSpread(bars []market.Bar) float64 {
	if len(bars) < 2 {
		return 0
	}
	history := bars[:len(bars)-1]
	period := ri.cfg.SpreadLookback
	if len(history) < period {
		period = len(history)
	}
	sum := 0.0
	for i := len(history) - period; i < len(history); i++ {
		sum += history[i].Spread()
	}
	return sum / float64(period)
}

// preClimaxHigh finds the swing high of the bars leading into the climax,
// the reference for retracement depth.
func preClimaxHigh(bars []market.Bar) float64 {
	lookback := 10
	end := len(bars) - 1 // Exclude the climax bar itself
	start := end - lookback
	if start < 0 {
		start = 0
	}
	high := 0.0
	for i := start; i < end; i++ {
		if bars[i].High > high {
			high = bars[i].High
		}
	}
	if high == 0 && end >= 0 && end < len(bars) {
		high = bars[end].High
	}
	return high
}
