package campaign

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wyckoff-scanner/internal/wyckoff"
)

// Rejection explains why a qualifying pattern was not admitted. It is a
// filtered outcome surfaced for audit, never an error.
type Rejection struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Rejection codes
const (
	RejectPortfolioLimit = "portfolio_limit"
	RejectOutOfOrder     = "out_of_order"
)

// validSuccessors is the fixed pattern-sequence transition table. A pattern
// may extend a campaign only when its type succeeds the latest pattern's
// type here. The table applies uniformly in FORMING and ACTIVE.
var validSuccessors = map[wyckoff.PatternType][]wyckoff.PatternType{
	wyckoff.Spring:      {wyckoff.Spring, wyckoff.SOSBreakout},
	wyckoff.SOSBreakout: {wyckoff.SOSBreakout, wyckoff.LPS},
	wyckoff.LPS:         {wyckoff.LPS},
	wyckoff.UTAD:        {wyckoff.UTAD},
}

func isValidSuccessor(prev, next wyckoff.PatternType) bool {
	for _, t := range validSuccessors[prev] {
		if t == next {
			return true
		}
	}
	return false
}

// Config holds campaign grouping and lifecycle thresholds.
type Config struct {
	WindowHours     int // Max hours between consecutive patterns (default 48)
	ExpirationHours int // Max hours without progress before FAILED (default 72)
	MaxConcurrent   int // Max non-terminal campaigns per portfolio (default 5)
}

func (c Config) withDefaults() Config {
	if c.WindowHours <= 0 {
		c.WindowHours = 48
	}
	if c.ExpirationHours <= 0 {
		c.ExpirationHours = 72
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	return c
}

// Manager is the per-portfolio campaign registry and state machine. All
// campaign creation, extension and termination passes through it; it is
// the single serialization point for the open-campaign count.
type Manager struct {
	mu        sync.Mutex
	cfg       Config
	campaigns map[string]*Campaign // By ID
	logger    zerolog.Logger
}

// NewManager creates a campaign manager for one portfolio.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg.withDefaults(),
		campaigns: make(map[string]*Campaign),
		logger:    logger.With().Str("component", "CampaignManager").Logger(),
	}
}

// Submit routes an accepted pattern into the portfolio. It either extends
// an open campaign for the symbol, opens a new one, or rejects the pattern
// with a reason. The bool reports whether a new campaign was created.
func (m *Manager) Submit(p wyckoff.Pattern, phase wyckoff.Phase) (*Campaign, bool, *Rejection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := time.Duration(m.cfg.WindowHours) * time.Hour

	// Try open campaigns for this symbol, most recent first.
	for _, c := range m.openBySymbolLocked(p.Symbol) {
		if p.DetectedAt.Before(c.LastPatternAt) {
			return nil, false, &Rejection{
				Code: RejectOutOfOrder,
				Reason: fmt.Sprintf("pattern at %s predates campaign %s latest pattern at %s",
					p.DetectedAt.Format(time.RFC3339), c.ID, c.LastPatternAt.Format(time.RFC3339)),
			}
		}
		if p.DetectedAt.Sub(c.LastPatternAt) > window {
			continue // Too old to extend; may still seed a new campaign
		}
		last := c.Patterns[len(c.Patterns)-1]
		if !isValidSuccessor(last.Type, p.Type) {
			continue
		}

		c.Patterns = append(c.Patterns, p)
		c.LastPatternAt = p.DetectedAt
		c.Phase = phase
		c.recompute()
		if c.State == StateForming && len(c.Patterns) >= 2 {
			c.State = StateActive
			m.logger.Info().Str("campaign_id", c.ID).Str("symbol", c.Symbol).
				Msg("Campaign activated")
		}
		m.logger.Debug().Str("campaign_id", c.ID).Str("pattern", string(p.Type)).
			Float64("strength", c.StrengthScore).Msg("Campaign extended")
		return c, false, nil
	}

	// No extendable campaign: open a new one, subject to the portfolio cap.
	if open := m.openCountLocked(); open >= m.cfg.MaxConcurrent {
		return nil, false, &Rejection{
			Code: RejectPortfolioLimit,
			Reason: fmt.Sprintf("portfolio limit: %d non-terminal campaigns (max %d)",
				open, m.cfg.MaxConcurrent),
		}
	}

	c := &Campaign{
		ID:            uuid.New().String(),
		Symbol:        p.Symbol,
		Timeframe:     p.Timeframe,
		State:         StateForming,
		Direction:     p.Direction,
		Phase:         phase,
		Patterns:      []wyckoff.Pattern{p},
		CreatedAt:     p.DetectedAt,
		LastPatternAt: p.DetectedAt,
	}
	c.recompute()
	m.campaigns[c.ID] = c

	m.logger.Info().Str("campaign_id", c.ID).Str("symbol", c.Symbol).
		Str("pattern", string(p.Type)).Msg("Campaign opened")
	return c, true, nil
}

// Complete transitions a campaign to COMPLETED. Terminal campaigns are
// left untouched.
func (m *Manager) Complete(id, reason string) *Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.campaigns[id]
	if !ok || c.State.Terminal() {
		return nil
	}
	c.State = StateCompleted
	c.FailureReason = ""
	m.logger.Info().Str("campaign_id", id).Str("reason", reason).Msg("Campaign completed")
	return c
}

// Fail transitions a campaign to FAILED with a reason.
func (m *Manager) Fail(id, reason string) *Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failLocked(id, reason)
}

func (m *Manager) failLocked(id, reason string) *Campaign {
	c, ok := m.campaigns[id]
	if !ok || c.State.Terminal() {
		return nil
	}
	c.State = StateFailed
	c.FailureReason = reason
	m.logger.Info().Str("campaign_id", id).Str("reason", reason).Msg("Campaign failed")
	return c
}

// ExpireStale fails campaigns that have not progressed within the
// expiration window: FORMING campaigns measured from creation, ACTIVE
// campaigns from their last pattern. This is a scheduled transition, not
// an error. Returns the campaigns that transitioned.
func (m *Manager) ExpireStale(now time.Time) []*Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiration := time.Duration(m.cfg.ExpirationHours) * time.Hour
	var expired []*Campaign
	for id, c := range m.campaigns {
		if c.State.Terminal() {
			continue
		}
		var age time.Duration
		switch c.State {
		case StateForming:
			age = now.Sub(c.CreatedAt)
		case StateActive:
			age = now.Sub(c.LastPatternAt)
		}
		if age > expiration {
			reason := fmt.Sprintf("expired: no progress in %.0fh (limit %dh)",
				age.Hours(), m.cfg.ExpirationHours)
			if fc := m.failLocked(id, reason); fc != nil {
				expired = append(expired, fc)
			}
		}
	}
	return expired
}

// Get returns a campaign by ID.
func (m *Manager) Get(id string) (*Campaign, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	return c, ok
}

// Open returns every non-terminal campaign, most recently touched first.
func (m *Manager) Open() []*Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()

	var open []*Campaign
	for _, c := range m.campaigns {
		if !c.State.Terminal() {
			open = append(open, c)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].LastPatternAt.After(open[j].LastPatternAt)
	})
	return open
}

// All returns every campaign, including terminal ones.
func (m *Manager) All() []*Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*Campaign, 0, len(m.campaigns))
	for _, c := range m.campaigns {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all
}

// OpenCount returns the number of non-terminal campaigns.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCountLocked()
}

// Reset clears the registry. Bound to a session or test fixture, never
// called from the pipeline.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns = make(map[string]*Campaign)
}

func (m *Manager) openCountLocked() int {
	n := 0
	for _, c := range m.campaigns {
		if !c.State.Terminal() {
			n++
		}
	}
	return n
}

func (m *Manager) openBySymbolLocked(symbol string) []*Campaign {
	var open []*Campaign
	for _, c := range m.campaigns {
		if c.Symbol == symbol && !c.State.Terminal() {
			open = append(open, c)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].LastPatternAt.After(open[j].LastPatternAt)
	})
	return open
}
