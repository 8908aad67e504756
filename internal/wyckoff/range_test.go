package wyckoff

import (
	"testing"

	"wyckoff-scanner/internal/analysis"
	"wyckoff-scanner/internal/market"
)

func newTestIdentifier() *RangeIdentifier {
	return NewRangeIdentifier(RangeConfig{}, analysis.NewVolumeAnalyzer(20))
}

// feedBars runs Update over each prefix of the slice, simulating live
// ingestion, and returns the final range.
func feedBars(ri *RangeIdentifier, bars []market.Bar) *TradingRange {
	var tr *TradingRange
	for i := range bars {
		tr = ri.Update(bars[:i+1], market.Timeframe1d)
	}
	return tr
}

// climaxSequence is ten quiet bars, a selling climax, and its automatic
// rally.
func climaxSequence() []market.Bar {
	bars := make([]market.Bar, 0, 12)
	for i := 0; i < 10; i++ {
		bars = append(bars, bar(i, 103, 105, 100, 103, 1000))
	}
	// Wide spread, heavy volume, close near the low
	bars = append(bars, bar(10, 103, 104, 90, 92, 2500))
	// Rebound on reduced volume retracing past a third of the decline
	bars = append(bars, bar(11, 92, 97, 93, 96, 800))
	return bars
}

func TestRangeOpensAfterClimaxAndRally(t *testing.T) {
	ri := newTestIdentifier()
	tr := feedBars(ri, climaxSequence())

	if tr == nil {
		t.Fatal("climax plus automatic rally should open a range")
	}
	if tr.Phase != PhaseA {
		t.Errorf("new range phase = %s, want A", tr.Phase)
	}
	if tr.Creek != 90 {
		t.Errorf("Creek = %.2f, want the climax low 90", tr.Creek)
	}
	// Ice: 2% below Creek at daily scale
	if tr.Ice != 90*0.98 {
		t.Errorf("Ice = %.4f, want %.4f", tr.Ice, 90*0.98)
	}
	if tr.Resistance != 97 {
		t.Errorf("Resistance = %.2f, want the rally high 97", tr.Resistance)
	}
	// Measured move: resistance + range height
	if tr.Jump != 97+(97-90) {
		t.Errorf("Jump = %.2f, want %.2f", tr.Jump, 97.0+7)
	}
}

func TestNoRangeWithoutRally(t *testing.T) {
	ri := newTestIdentifier()

	bars := make([]market.Bar, 0, 24)
	for i := 0; i < 10; i++ {
		bars = append(bars, bar(i, 103, 105, 100, 103, 1000))
	}
	bars = append(bars, bar(10, 103, 104, 90, 92, 2500))
	// Drift sideways below the retracement target for the whole window.
	for i := 11; i < 23; i++ {
		bars = append(bars, bar(i, 92, 93, 91, 92, 900))
	}

	if tr := feedBars(ri, bars); tr != nil {
		t.Error("a climax whose rally never arrives must not open a range")
	}
}

func TestRangeAdvancesToPhaseB(t *testing.T) {
	ri := newTestIdentifier()
	bars := climaxSequence()
	feedBars(ri, bars)

	// Five quiet bars inside the range reach the Phase B minimum.
	n := len(bars)
	for i := 0; i < 5; i++ {
		bars = append(bars, bar(n+i, 94, 96, 92, 95, 900))
		ri.Update(bars, market.Timeframe1d)
	}

	tr := ri.Active()
	if tr == nil {
		t.Fatal("range should survive quiet consolidation")
	}
	if tr.Phase != PhaseB {
		t.Errorf("phase = %s, want B", tr.Phase)
	}
}

func TestCloseBelowIceDiscardsRange(t *testing.T) {
	ri := newTestIdentifier()
	bars := climaxSequence()
	feedBars(ri, bars)

	bars = append(bars, bar(len(bars), 92, 92, 87, 87.5, 1500))
	if tr := ri.Update(bars, market.Timeframe1d); tr != nil {
		t.Error("a close below Ice invalidates the range")
	}
	if ri.Active() != nil {
		t.Error("discarded range must not remain active")
	}
}

func TestRefineMovesLevelsOneWay(t *testing.T) {
	ri := newTestIdentifier()
	bars := climaxSequence()
	feedBars(ri, bars)
	tr := ri.Active()

	// A dip toward Ice lowers Creek; a push above the rally high lifts
	// Resistance and the projected Jump.
	bars = append(bars, bar(len(bars), 92, 98, 89, 95, 900))
	ri.Update(bars, market.Timeframe1d)

	if tr.Creek != 89 {
		t.Errorf("Creek = %.2f, want refined to 89", tr.Creek)
	}
	if tr.Resistance != 98 {
		t.Errorf("Resistance = %.2f, want refined to 98", tr.Resistance)
	}
	if tr.Jump != 98+(98-89) {
		t.Errorf("Jump = %.2f, want reprojected to %.2f", tr.Jump, 98.0+9)
	}
}

func TestRefinementStopsAfterPhaseA(t *testing.T) {
	ri := newTestIdentifier()
	bars := climaxSequence()
	feedBars(ri, bars)
	tr := ri.Active()

	// Ride out Phase A with quiet bars.
	n := len(bars)
	for i := 0; i < 5; i++ {
		bars = append(bars, bar(n+i, 94, 96, 92, 95, 900))
		ri.Update(bars, market.Timeframe1d)
	}
	if tr.Phase != PhaseB {
		t.Fatalf("phase = %s, want B", tr.Phase)
	}

	// From Phase B on, a dip below Creek is spring material, not a new
	// boundary.
	creek := tr.Creek
	bars = append(bars, bar(len(bars), 92, 93, 89, 92, 500))
	ri.Update(bars, market.Timeframe1d)
	if tr.Creek != creek {
		t.Errorf("Creek = %.2f, refinement must stop after Phase A", tr.Creek)
	}
}

func TestLockedRangeIsFrozen(t *testing.T) {
	ri := newTestIdentifier()
	bars := climaxSequence()
	feedBars(ri, bars)
	tr := ri.Active()
	tr.Lock()

	creek, resistance := tr.Creek, tr.Resistance
	bars = append(bars, bar(len(bars), 92, 99, 89, 95, 900))
	ri.Update(bars, market.Timeframe1d)

	if tr.Creek != creek || tr.Resistance != resistance {
		t.Error("locked range levels must never move")
	}
}

func TestObservePatternAdvancesPhase(t *testing.T) {
	ri := newTestIdentifier()
	feedBars(ri, climaxSequence())
	tr := ri.Active()

	ri.ObservePattern(Spring)
	if tr.Phase != PhaseC {
		t.Errorf("spring should move the range to Phase C, got %s", tr.Phase)
	}
	ri.ObservePattern(SOSBreakout)
	if tr.Phase != PhaseD {
		t.Errorf("SOS should move the range to Phase D, got %s", tr.Phase)
	}
	ri.ObservePattern(LPS)
	if tr.Phase != PhaseE {
		t.Errorf("LPS after strength should move the range to Phase E, got %s", tr.Phase)
	}
}
