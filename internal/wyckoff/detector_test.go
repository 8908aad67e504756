package wyckoff

import (
	"testing"
	"time"

	"wyckoff-scanner/internal/analysis"
	"wyckoff-scanner/internal/market"
)

var t0 = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func bar(i int, open, high, low, close float64, volume int64) market.Bar {
	return market.Bar{
		Symbol:    "BTCUSDT",
		Timeframe: "1d",
		Timestamp: t0.Add(time.Duration(i) * 24 * time.Hour),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}
}

// rangeBars returns n quiet bars trading inside the test range.
func rangeBars(n int, volume int64) []market.Bar {
	bars := make([]market.Bar, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, bar(i, 104, 106, 103, 105, volume))
	}
	return bars
}

func testRange() *TradingRange {
	return &TradingRange{
		Symbol:     "BTCUSDT",
		Timeframe:  "1d",
		Creek:      100,
		Ice:        95,
		Jump:       120,
		Resistance: 110,
		Phase:      PhaseB,
	}
}

func newTestDetector() *Detector {
	return NewDetector(DetectorConfig{}, analysis.NewVolumeAnalyzer(20))
}

func TestDetectSpringIdeal(t *testing.T) {
	d := newTestDetector()
	tr := testRange()

	bars := rangeBars(10, 1000)
	// Penetration 1% below Creek on 0.4x volume, recovered next bar.
	bars = append(bars, bar(10, 101, 101, 99, 99.5, 400))
	bars = append(bars, bar(11, 99.5, 102, 100, 101, 1000))

	p := d.DetectSpring(bars, tr, market.Timeframe1d)
	if p == nil {
		t.Fatal("expected a spring")
	}
	if p.Type != Spring || p.Direction != Long {
		t.Errorf("type=%s direction=%s, want spring/long", p.Type, p.Direction)
	}
	if p.Quality != QualityIdeal {
		t.Errorf("quality = %s, want IDEAL", p.Quality)
	}
	if p.Bar.Low != 99 {
		t.Errorf("reference bar low = %.2f, want the penetration bar", p.Bar.Low)
	}
	if p.RecoveryBars != 1 {
		t.Errorf("recovery bars = %d, want 1", p.RecoveryBars)
	}
}

func TestDetectSpringNotEmittedBeforeRecovery(t *testing.T) {
	d := newTestDetector()
	tr := testRange()

	bars := rangeBars(10, 1000)
	bars = append(bars, bar(10, 101, 101, 99, 99.5, 400))

	if p := d.DetectSpring(bars, tr, market.Timeframe1d); p != nil {
		t.Error("spring must not emit until the close recovers above Creek")
	}
}

func TestDetectSpringSameBarRecovery(t *testing.T) {
	d := newTestDetector()
	tr := testRange()

	// Penetration and recovery within a single bar: low 1% under Creek,
	// close back above it, on 0.4x volume.
	bars := rangeBars(10, 1000)
	bars = append(bars, bar(10, 101, 102, 99, 101, 400))

	p := d.DetectSpring(bars, tr, market.Timeframe1d)
	if p == nil {
		t.Fatal("a shakeout that regains Creek within the bar is a spring")
	}
	if p.RecoveryBars != 0 {
		t.Errorf("recovery bars = %d, want 0", p.RecoveryBars)
	}
	if p.Bar.Low != 99 {
		t.Errorf("reference bar low = %.2f, want 99", p.Bar.Low)
	}
	if p.Quality != QualityIdeal {
		t.Errorf("quality = %s, want IDEAL", p.Quality)
	}

	// The next bar does not re-emit it.
	bars = append(bars, bar(11, 101, 103, 100.5, 102, 1000))
	if p := d.DetectSpring(bars, tr, market.Timeframe1d); p != nil {
		t.Error("a same-bar spring emits only on its own bar")
	}
}

func TestDetectSpringQualityMonotoneInVolume(t *testing.T) {
	d := newTestDetector()
	tr := testRange()

	// Same penetration and recovery; only the penetration bar's volume
	// rises. The tier must never improve as volume increases.
	volumes := []int64{300, 400, 500, 650, 690}
	prevWeight := 2.0
	for _, vol := range volumes {
		bars := rangeBars(10, 1000)
		bars = append(bars, bar(10, 101, 101, 99, 99.5, vol))
		bars = append(bars, bar(11, 99.5, 102, 100, 101, 1000))

		p := d.DetectSpring(bars, tr, market.Timeframe1d)
		if p == nil {
			t.Fatalf("volume %d: expected a spring", vol)
		}
		w := p.Quality.Weight()
		if w > prevWeight {
			t.Errorf("volume %d: tier %s improved over lower-volume candidate", vol, p.Quality)
		}
		prevWeight = w
	}

	// Above the hard bound no spring exists at all.
	bars := rangeBars(10, 1000)
	bars = append(bars, bar(10, 101, 101, 99, 99.5, 800))
	bars = append(bars, bar(11, 99.5, 102, 100, 101, 1000))
	if p := d.DetectSpring(bars, tr, market.Timeframe1d); p != nil {
		t.Errorf("ratio above the bound must not qualify, got %s", p.Quality)
	}
}

func TestDetectSpringSlowRecoveryDegrades(t *testing.T) {
	d := newTestDetector()
	tr := testRange()

	bars := rangeBars(10, 1000)
	bars = append(bars, bar(10, 101, 101, 99, 99.5, 400))
	// Two bars lingering below Creek before the recovery.
	bars = append(bars, bar(11, 99.5, 100, 99.2, 99.8, 500))
	bars = append(bars, bar(12, 99.8, 100, 99.5, 99.9, 500))
	bars = append(bars, bar(13, 99.9, 102, 100, 101, 1000))

	p := d.DetectSpring(bars, tr, market.Timeframe1d)
	if p == nil {
		t.Fatal("expected a spring")
	}
	if p.RecoveryBars != 3 {
		t.Fatalf("recovery bars = %d, want 3", p.RecoveryBars)
	}
	if p.Quality != QualityGood {
		t.Errorf("slow recovery should degrade IDEAL to GOOD, got %s", p.Quality)
	}
}

func TestDetectSpringDeepPenetrationRejected(t *testing.T) {
	d := newTestDetector()
	tr := testRange()

	// 4% penetration exceeds the daily 3% bound.
	bars := rangeBars(10, 1000)
	bars = append(bars, bar(10, 101, 101, 96, 97, 400))
	bars = append(bars, bar(11, 97, 102, 100, 101, 1000))

	if p := d.DetectSpring(bars, tr, market.Timeframe1d); p != nil {
		t.Error("penetration beyond the bound must not qualify")
	}
}

func TestDetectSOS(t *testing.T) {
	d := newTestDetector()
	tr := testRange()

	bars := rangeBars(10, 1000)
	bars = append(bars, bar(10, 106, 112, 105, 111.2, 2500))

	p := d.DetectSOS(bars, tr, market.Timeframe1d)
	if p == nil {
		t.Fatal("expected an SOS breakout")
	}
	if p.Quality != QualityIdeal {
		t.Errorf("quality = %s, want IDEAL", p.Quality)
	}
	if p.Direction != Long {
		t.Errorf("direction = %s, want long", p.Direction)
	}

	// The bar after the breakout does not re-emit.
	bars = append(bars, bar(11, 111.2, 113, 111, 112, 2500))
	if p := d.DetectSOS(bars, tr, market.Timeframe1d); p != nil {
		t.Error("only the crossing bar emits an SOS")
	}
}

func TestDetectSOSLowVolumeRejected(t *testing.T) {
	d := newTestDetector()
	tr := testRange()

	bars := rangeBars(10, 1000)
	bars = append(bars, bar(10, 106, 112, 105, 111.2, 1200))

	if p := d.DetectSOS(bars, tr, market.Timeframe1d); p != nil {
		t.Error("breakout below the volume minimum must not qualify")
	}
}

func TestDetectLPS(t *testing.T) {
	d := newTestDetector()
	tr := testRange()
	prior := &Pattern{Type: SOSBreakout, VolumeRatio: 2.5}

	bars := rangeBars(10, 1000)
	// Pullback low near Creek, closing strong, on a fraction of the
	// breakout's volume.
	bars = append(bars, bar(10, 105, 105, 101, 104, 500))

	p := d.DetectLPS(bars, tr, market.Timeframe1d, prior)
	if p == nil {
		t.Fatal("expected an LPS")
	}
	if p.Quality != QualityIdeal {
		t.Errorf("quality = %s, want IDEAL", p.Quality)
	}
}

func TestDetectLPSRequiresPriorStrength(t *testing.T) {
	d := newTestDetector()
	tr := testRange()

	bars := rangeBars(10, 1000)
	bars = append(bars, bar(10, 105, 105, 101, 104, 500))

	if p := d.DetectLPS(bars, tr, market.Timeframe1d, nil); p != nil {
		t.Error("LPS without a prior spring/SOS must not qualify")
	}
	utad := &Pattern{Type: UTAD, VolumeRatio: 2.5}
	if p := d.DetectLPS(bars, tr, market.Timeframe1d, utad); p != nil {
		t.Error("a UTAD is not valid LPS context")
	}
}

func TestDetectLPSWeakCloseRejected(t *testing.T) {
	d := newTestDetector()
	tr := testRange()
	prior := &Pattern{Type: SOSBreakout, VolumeRatio: 2.5}

	// Close in the lower half of the bar: sellers still in control.
	bars := rangeBars(10, 1000)
	bars = append(bars, bar(10, 105, 105, 101, 102, 500))

	if p := d.DetectLPS(bars, tr, market.Timeframe1d, prior); p != nil {
		t.Error("weak-close pullback must not qualify")
	}
}

func TestDetectUTAD(t *testing.T) {
	d := newTestDetector()
	tr := testRange()

	bars := rangeBars(10, 1000)
	// Push 1% above Resistance on heavy volume, failing back inside on
	// the next bar.
	bars = append(bars, bar(10, 106, 111.1, 105, 110.5, 2500))
	bars = append(bars, bar(11, 110, 110, 107, 108, 1000))

	p := d.DetectUTAD(bars, tr, market.Timeframe1d)
	if p == nil {
		t.Fatal("expected a UTAD")
	}
	if p.Direction != Short {
		t.Errorf("direction = %s, want short", p.Direction)
	}
	if p.Quality != QualityIdeal {
		t.Errorf("quality = %s, want IDEAL", p.Quality)
	}
	if p.Bar.High != 111.1 {
		t.Errorf("reference bar high = %.2f, want the penetration bar", p.Bar.High)
	}
}

func TestDetectUTADSameBarFailure(t *testing.T) {
	d := newTestDetector()
	tr := testRange()

	// Push above Resistance rejected within the same bar.
	bars := rangeBars(10, 1000)
	bars = append(bars, bar(10, 106, 111.1, 105, 108, 2500))

	p := d.DetectUTAD(bars, tr, market.Timeframe1d)
	if p == nil {
		t.Fatal("an upthrust rejected within the bar is a UTAD")
	}
	if p.RecoveryBars != 0 {
		t.Errorf("recovery bars = %d, want 0", p.RecoveryBars)
	}

	// The next bar does not re-emit it.
	bars = append(bars, bar(11, 108, 109, 106, 107, 1000))
	if p := d.DetectUTAD(bars, tr, market.Timeframe1d); p != nil {
		t.Error("a same-bar UTAD emits only on its own bar")
	}
}

func TestDetectUTADLowVolumeIsJustATest(t *testing.T) {
	d := newTestDetector()
	tr := testRange()

	bars := rangeBars(10, 1000)
	bars = append(bars, bar(10, 106, 111.1, 105, 110.5, 1000))
	bars = append(bars, bar(11, 110, 110, 107, 108, 1000))

	if p := d.DetectUTAD(bars, tr, market.Timeframe1d); p != nil {
		t.Error("upthrust without supply volume must not qualify")
	}
}

func TestDetectorsNilRange(t *testing.T) {
	d := newTestDetector()
	bars := rangeBars(10, 1000)

	if d.DetectSpring(bars, nil, market.Timeframe1d) != nil ||
		d.DetectSOS(bars, nil, market.Timeframe1d) != nil ||
		d.DetectLPS(bars, nil, market.Timeframe1d, &Pattern{Type: Spring, VolumeRatio: 0.5}) != nil ||
		d.DetectUTAD(bars, nil, market.Timeframe1d) != nil {
		t.Error("no pattern can exist without a confirmed range")
	}
}
