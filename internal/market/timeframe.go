package market

import (
	"fmt"
	"time"
)

// Timeframe represents a supported bar interval
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// AllTimeframes lists every supported timeframe
var AllTimeframes = []Timeframe{
	Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d,
}

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe1d:  24 * time.Hour,
}

// Percentage-tolerance scale per timeframe. Shorter bars move less per bar,
// so penetration/breakout thresholds shrink with the interval; daily bars
// use the full configured tolerance.
var timeframeToleranceScale = map[Timeframe]float64{
	Timeframe1m:  0.20,
	Timeframe5m:  0.35,
	Timeframe15m: 0.50,
	Timeframe1h:  0.65,
	Timeframe4h:  0.85,
	Timeframe1d:  1.00,
}

// ParseTimeframe converts a string interval to a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unsupported timeframe %q", s)
	}
	return tf, nil
}

// Duration returns the bar interval length.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// IsIntraday reports whether the timeframe is shorter than a full session.
// Intraday bars use session-relative volume references because absolute
// volume is not comparable across session phases.
func (tf Timeframe) IsIntraday() bool {
	d, ok := timeframeDurations[tf]
	return ok && d < 24*time.Hour
}

// ToleranceScale returns the multiplier applied to percentage thresholds
// for this timeframe.
func (tf Timeframe) ToleranceScale() float64 {
	if scale, ok := timeframeToleranceScale[tf]; ok {
		return scale
	}
	return 1.0
}
