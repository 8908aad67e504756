package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Planning errors
var (
	ErrInvalidEntry = errors.New("entry price must be positive")
	ErrInvalidStop  = errors.New("stop must differ from entry")
)

// Config holds portfolio risk limits.
type Config struct {
	AccountEquity    float64 // Account size in quote currency
	MaxRiskPerTrade  float64 // Dollar risk budget per campaign
	MaxPortfolioHeat float64 // Max aggregate open risk, % of equity
}

func (c Config) withDefaults() Config {
	if c.MaxPortfolioHeat <= 0 {
		c.MaxPortfolioHeat = 6.0
	}
	return c
}

// TradePlan is the derived risk metadata for one entry: structural stop,
// share size and reward expressed as an R-multiple.
type TradePlan struct {
	Entry           float64 `json:"entry"`
	Stop            float64 `json:"stop"`
	Target          float64 `json:"target"`
	RiskPerShare    float64 `json:"risk_per_share"` // R
	PositionSize    int64   `json:"position_size"`  // Whole shares
	RiskDollars     float64 `json:"risk_dollars"`
	TargetRMultiple float64 `json:"target_r_multiple"`
}

// PositionRisk tracks the open risk a campaign contributes to the
// portfolio heat aggregate.
type PositionRisk struct {
	CampaignID   string    `json:"campaign_id"`
	Symbol       string    `json:"symbol"`
	RiskPerShare float64   `json:"risk_per_share"`
	PositionSize int64     `json:"position_size"`
	RiskDollars  float64   `json:"risk_dollars"`
	OpenedAt     time.Time `json:"opened_at"`
}

// PortfolioRiskSnapshot is the point-in-time risk picture, queryable on
// demand.
type PortfolioRiskSnapshot struct {
	Timestamp        time.Time      `json:"timestamp"`
	AccountEquity    float64        `json:"account_equity"`
	TotalRiskDollars float64        `json:"total_risk_dollars"`
	HeatPct          float64        `json:"heat_pct"`
	MaxHeatPct       float64        `json:"max_heat_pct"`
	OpenPositions    []PositionRisk `json:"open_positions"`
}

// Calculator derives stop/target/size metadata for campaigns and keeps
// the portfolio heat aggregate. It is the single serialization point for
// cross-symbol risk state: every campaign open, completion and failure
// passes through it.
type Calculator struct {
	mu     sync.RWMutex
	cfg    Config
	equity float64
	open   map[string]PositionRisk // By campaign ID
}

// NewCalculator creates a risk calculator.
func NewCalculator(cfg Config) *Calculator {
	cfg = cfg.withDefaults()
	return &Calculator{
		cfg:    cfg,
		equity: cfg.AccountEquity,
		open:   make(map[string]PositionRisk),
	}
}

// UpdateEquity refreshes the account equity used for heat math.
func (rc *Calculator) UpdateEquity(equity float64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.equity = equity
}

// PlanTrade derives the risk metadata for an entry. The stop is
// structural (the range's invalidation level), never arbitrary:
// R = |entry - stop|, size = floor(budget / R), target R-multiple =
// |target - entry| / R.
func (rc *Calculator) PlanTrade(entry, stop, target float64) (*TradePlan, error) {
	if entry <= 0 {
		return nil, ErrInvalidEntry
	}
	r := math.Abs(entry - stop)
	if r == 0 {
		return nil, ErrInvalidStop
	}

	rc.mu.RLock()
	budget := rc.cfg.MaxRiskPerTrade
	rc.mu.RUnlock()

	size := int64(math.Floor(budget / r))
	if size < 0 {
		size = 0
	}

	return &TradePlan{
		Entry:           entry,
		Stop:            stop,
		Target:          target,
		RiskPerShare:    r,
		PositionSize:    size,
		RiskDollars:     float64(size) * r,
		TargetRMultiple: math.Abs(target-entry) / r,
	}, nil
}

// CanAllocate checks whether adding riskDollars of open risk keeps the
// portfolio at or under the heat limit. Returns a human-readable reason
// when it does not.
func (rc *Calculator) CanAllocate(riskDollars float64) (bool, string) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	if rc.equity <= 0 {
		return false, "account equity is not set"
	}
	projected := (rc.totalRiskLocked() + riskDollars) / rc.equity * 100
	if projected > rc.cfg.MaxPortfolioHeat {
		return false, fmt.Sprintf("portfolio heat %.2f%% would exceed limit %.2f%%",
			projected, rc.cfg.MaxPortfolioHeat)
	}
	return true, ""
}

// TryAllocate atomically checks the heat limit and, when it admits the
// plan, registers the campaign's open risk. Check and reservation share
// one critical section so concurrent campaign openings cannot jointly
// push the portfolio past the limit.
func (rc *Calculator) TryAllocate(campaignID, symbol string, plan *TradePlan) (bool, string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.equity <= 0 {
		return false, "account equity is not set"
	}
	projected := (rc.totalRiskLocked() + plan.RiskDollars) / rc.equity * 100
	if projected > rc.cfg.MaxPortfolioHeat {
		return false, fmt.Sprintf("portfolio heat %.2f%% would exceed limit %.2f%%",
			projected, rc.cfg.MaxPortfolioHeat)
	}
	rc.registerLocked(campaignID, symbol, plan)
	return true, ""
}

// Register adds a campaign's open risk to the heat aggregate without a
// limit check. Callers gating on the limit use TryAllocate instead.
func (rc *Calculator) Register(campaignID, symbol string, plan *TradePlan) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.registerLocked(campaignID, symbol, plan)
}

func (rc *Calculator) registerLocked(campaignID, symbol string, plan *TradePlan) {
	rc.open[campaignID] = PositionRisk{
		CampaignID:   campaignID,
		Symbol:       symbol,
		RiskPerShare: plan.RiskPerShare,
		PositionSize: plan.PositionSize,
		RiskDollars:  plan.RiskDollars,
		OpenedAt:     time.Now().UTC(),
	}
}

// Release removes a campaign from the heat aggregate when it reaches a
// terminal state.
func (rc *Calculator) Release(campaignID string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.open, campaignID)
}

// Heat returns aggregate open risk as a percentage of equity.
func (rc *Calculator) Heat() float64 {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	if rc.equity <= 0 {
		return 0
	}
	return rc.totalRiskLocked() / rc.equity * 100
}

// Snapshot returns the point-in-time portfolio risk breakdown.
func (rc *Calculator) Snapshot() *PortfolioRiskSnapshot {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	positions := make([]PositionRisk, 0, len(rc.open))
	total := 0.0
	for _, p := range rc.open {
		positions = append(positions, p)
		total += p.RiskDollars
	}

	heat := 0.0
	if rc.equity > 0 {
		heat = total / rc.equity * 100
	}

	return &PortfolioRiskSnapshot{
		Timestamp:        time.Now().UTC(),
		AccountEquity:    rc.equity,
		TotalRiskDollars: total,
		HeatPct:          heat,
		MaxHeatPct:       rc.cfg.MaxPortfolioHeat,
		OpenPositions:    positions,
	}
}

func (rc *Calculator) totalRiskLocked() float64 {
	total := 0.0
	for _, p := range rc.open {
		total += p.RiskDollars
	}
	return total
}
