package market

import (
	"errors"
	"testing"
	"time"
)

var baseTime = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func testBar(ts time.Time, close float64, volume int64) Bar {
	return Bar{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Timestamp: ts,
		Open:      close - 1,
		High:      close + 2,
		Low:       close - 2,
		Close:     close,
		Volume:    volume,
	}
}

func TestBarValidate(t *testing.T) {
	good := testBar(baseTime, 100, 1000)
	if err := good.Validate(); err != nil {
		t.Errorf("valid bar rejected: %v", err)
	}

	bad := good
	bad.High = 90
	bad.Low = 110
	if err := bad.Validate(); !errors.Is(err, ErrHighBelowLow) {
		t.Errorf("expected ErrHighBelowLow, got %v", err)
	}

	bad = good
	bad.Volume = -5
	if err := bad.Validate(); !errors.Is(err, ErrNegativeVolume) {
		t.Errorf("expected ErrNegativeVolume, got %v", err)
	}

	bad = good
	bad.Timestamp = time.Time{}
	if err := bad.Validate(); !errors.Is(err, ErrZeroTimestamp) {
		t.Errorf("expected ErrZeroTimestamp, got %v", err)
	}
}

func TestClosePosition(t *testing.T) {
	bar := Bar{High: 110, Low: 100, Close: 100}
	if got := bar.ClosePosition(); got != 0 {
		t.Errorf("close at low should be 0, got %.2f", got)
	}
	bar.Close = 110
	if got := bar.ClosePosition(); got != 1 {
		t.Errorf("close at high should be 1, got %.2f", got)
	}
	flat := Bar{High: 100, Low: 100, Close: 100}
	if got := flat.ClosePosition(); got != 0.5 {
		t.Errorf("zero-spread bar should be 0.5, got %.2f", got)
	}
}

func TestWindowOrdering(t *testing.T) {
	w := NewWindow(10)

	if err := w.Append(testBar(baseTime, 100, 1000)); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := w.Append(testBar(baseTime.Add(time.Hour), 101, 1100)); err != nil {
		t.Fatalf("in-order append failed: %v", err)
	}

	// Duplicate timestamp
	if err := w.Append(testBar(baseTime.Add(time.Hour), 102, 900)); !errors.Is(err, ErrDuplicateBar) {
		t.Errorf("expected ErrDuplicateBar, got %v", err)
	}
	// Older timestamp
	if err := w.Append(testBar(baseTime, 99, 800)); !errors.Is(err, ErrOutOfOrderBar) {
		t.Errorf("expected ErrOutOfOrderBar, got %v", err)
	}
	if w.Len() != 2 {
		t.Errorf("rejected bars must not be stored, len=%d", w.Len())
	}
}

func TestWindowEviction(t *testing.T) {
	w := NewWindow(3)
	for i := 0; i < 5; i++ {
		bar := testBar(baseTime.Add(time.Duration(i)*time.Hour), 100+float64(i), 1000)
		if err := w.Append(bar); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	bars := w.Bars()
	if len(bars) != 3 {
		t.Fatalf("expected 3 bars after eviction, got %d", len(bars))
	}
	if bars[0].Close != 102 {
		t.Errorf("oldest surviving bar should close at 102, got %.2f", bars[0].Close)
	}
	if bars[2].Close != 104 {
		t.Errorf("newest bar should close at 104, got %.2f", bars[2].Close)
	}
}

func TestWindowManagerRouting(t *testing.T) {
	m := NewWindowManager(10)

	if err := m.Append(testBar(baseTime, 100, 1000)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	eth := testBar(baseTime, 200, 500)
	eth.Symbol = "ETHUSDT"
	if err := m.Append(eth); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if got := len(m.Bars("BTCUSDT", Timeframe1h)); got != 1 {
		t.Errorf("BTCUSDT window should hold 1 bar, got %d", got)
	}
	if got := len(m.Bars("ETHUSDT", Timeframe1h)); got != 1 {
		t.Errorf("ETHUSDT window should hold 1 bar, got %d", got)
	}

	last, ok := m.LastBarTime("BTCUSDT", Timeframe1h)
	if !ok || !last.Equal(baseTime) {
		t.Errorf("LastBarTime = %v, %v; want %v, true", last, ok, baseTime)
	}
	if _, ok := m.LastBarTime("XRPUSDT", Timeframe1h); ok {
		t.Error("unknown symbol should report no bars")
	}

	unknown := testBar(baseTime, 100, 1000)
	unknown.Timeframe = "7m"
	if err := m.Append(unknown); err == nil {
		t.Error("unknown timeframe should be rejected")
	}
}
