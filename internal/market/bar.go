package market

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors for incoming bars
var (
	ErrHighBelowLow   = errors.New("bar high is below low")
	ErrNegativeVolume = errors.New("bar volume is negative")
	ErrZeroTimestamp  = errors.New("bar timestamp is zero")
	ErrOutOfOrderBar  = errors.New("bar timestamp is older than last bar")
	ErrDuplicateBar   = errors.New("bar timestamp duplicates last bar")
)

// Bar represents a single OHLCV bar for a symbol/timeframe.
// Bars are immutable once ingested.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"` // UTC open time
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Validate checks a bar for malformed input before ingestion.
func (b Bar) Validate() error {
	if b.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	if b.High < b.Low {
		return fmt.Errorf("%w: high=%.8f low=%.8f", ErrHighBelowLow, b.High, b.Low)
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: volume=%d", ErrNegativeVolume, b.Volume)
	}
	return nil
}

// Spread returns the high-low range of the bar.
func (b Bar) Spread() float64 {
	return b.High - b.Low
}

// Body returns the absolute open-close distance.
func (b Bar) Body() float64 {
	if b.Close >= b.Open {
		return b.Close - b.Open
	}
	return b.Open - b.Close
}

// IsBullish reports whether the bar closed above its open.
func (b Bar) IsBullish() bool {
	return b.Close > b.Open
}

// ClosePosition returns where the close sits within the bar range,
// 0.0 at the low and 1.0 at the high. A zero-spread bar returns 0.5.
func (b Bar) ClosePosition() float64 {
	spread := b.Spread()
	if spread == 0 {
		return 0.5
	}
	return (b.Close - b.Low) / spread
}
