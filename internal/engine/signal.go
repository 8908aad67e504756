package engine

import (
	"time"

	"wyckoff-scanner/internal/wyckoff"
)

// Signal is an actionable trade recommendation emitted when a campaign
// activates and passes the portfolio risk check. The stop is the range's
// invalidation level and the target its measured-move projection.
type Signal struct {
	ID         string            `json:"id"`
	CampaignID string            `json:"campaign_id"`
	Symbol     string            `json:"symbol"`
	Timeframe  string            `json:"timeframe"`
	Direction  wyckoff.Direction `json:"direction"`

	EntryPrice   float64 `json:"entry_price"`
	StopPrice    float64 `json:"stop_price"`
	TargetPrice  float64 `json:"target_price"`
	PositionSize int64   `json:"position_size"`
	RiskDollars  float64 `json:"risk_dollars"`
	RMultiple    float64 `json:"r_multiple"`

	Confidence float64 `json:"confidence"`
	Grade      string  `json:"grade"`

	GeneratedAt time.Time `json:"generated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
