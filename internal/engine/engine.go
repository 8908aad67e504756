// Package engine wires the analysis pipeline together: bar ingestion,
// range identification, pattern detection, confidence scoring, campaign
// grouping and risk sizing. Each symbol/timeframe is processed by its own
// worker so symbols never block each other while every symbol's bars stay
// strictly sequential.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wyckoff-scanner/internal/analysis"
	"wyckoff-scanner/internal/campaign"
	"wyckoff-scanner/internal/events"
	"wyckoff-scanner/internal/market"
	"wyckoff-scanner/internal/risk"
	"wyckoff-scanner/internal/wyckoff"
)

// Rejection codes published by the engine.
const (
	RejectLowConfidence = "low_confidence"
	RejectPortfolioHeat = "portfolio_heat"
)

// Config holds pipeline-level settings.
type Config struct {
	WindowCapacity      int           // Bars retained per symbol/timeframe
	StaleAfterBars      int           // Missed bar intervals before a symbol is stale
	SweepInterval       time.Duration // Staleness and expiration sweep cadence
	SymbolQueueCapacity int           // Per-symbol ingestion buffer
	SignalTTLHours      int           // Signal validity window
	RangeConfig         wyckoff.RangeConfig
}

func (c Config) withDefaults() Config {
	if c.WindowCapacity <= 0 {
		c.WindowCapacity = 200
	}
	if c.StaleAfterBars <= 0 {
		c.StaleAfterBars = 3
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.SymbolQueueCapacity <= 0 {
		c.SymbolQueueCapacity = 64
	}
	if c.SignalTTLHours <= 0 {
		c.SignalTTLHours = 48
	}
	return c
}

// symbolState is the per-symbol/timeframe worker state. Only its worker
// goroutine touches it after creation.
type symbolState struct {
	symbol string
	tf     market.Timeframe
	queue  chan market.Bar

	identifier    *wyckoff.RangeIdentifier
	priorBreakout *wyckoff.Pattern // Last accepted Spring or SOS, LPS context
	stale         bool
}

// Engine is the pipeline orchestrator.
type Engine struct {
	cfg        Config
	windows    *market.WindowManager
	volume     *analysis.VolumeAnalyzer
	detector   *wyckoff.Detector
	confidence *wyckoff.ConfidenceCalculator
	campaigns  *campaign.Manager
	riskCalc   *risk.Calculator
	bus        *events.Bus
	logger     zerolog.Logger

	mu      sync.Mutex
	symbols map[string]*symbolState
	signals map[string]*Signal // By campaign ID

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// New creates an engine from its collaborators.
func New(
	cfg Config,
	windows *market.WindowManager,
	volume *analysis.VolumeAnalyzer,
	detector *wyckoff.Detector,
	confidence *wyckoff.ConfidenceCalculator,
	campaigns *campaign.Manager,
	riskCalc *risk.Calculator,
	bus *events.Bus,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		cfg:        cfg.withDefaults(),
		windows:    windows,
		volume:     volume,
		detector:   detector,
		confidence: confidence,
		campaigns:  campaigns,
		riskCalc:   riskCalc,
		bus:        bus,
		logger:     logger.With().Str("component", "Engine").Logger(),
		symbols:    make(map[string]*symbolState),
		signals:    make(map[string]*Signal),
		stopChan:   make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})

	e.wg.Add(1)
	go e.sweepLoop()
	e.logger.Info().Msg("Engine started")
}

// Stop shuts down the sweep loop and all symbol workers, waiting for
// in-flight bars to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	for _, st := range e.symbols {
		close(st.queue)
	}
	e.symbols = make(map[string]*symbolState)
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info().Msg("Engine stopped")
}

// OnBar routes a closed bar into its symbol worker. Malformed input is
// reported through the event bus and dropped; it never stops the pipeline.
func (e *Engine) OnBar(bar market.Bar) {
	if err := bar.Validate(); err != nil {
		e.logger.Warn().Err(err).Str("symbol", bar.Symbol).Msg("Dropping malformed bar")
		e.bus.PublishError("engine", "malformed bar dropped", err)
		return
	}
	tf, err := market.ParseTimeframe(bar.Timeframe)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", bar.Symbol).Msg("Dropping bar with unknown timeframe")
		e.bus.PublishError("engine", "unknown timeframe", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	key := bar.Symbol + ":" + string(tf)
	st, ok := e.symbols[key]
	if !ok {
		st = &symbolState{
			symbol:     bar.Symbol,
			tf:         tf,
			queue:      make(chan market.Bar, e.cfg.SymbolQueueCapacity),
			identifier: wyckoff.NewRangeIdentifier(e.cfg.RangeConfig, e.volume),
		}
		e.symbols[key] = st
		e.wg.Add(1)
		go e.worker(st)
	}

	// The send stays under the mutex: Stop closes the queues while holding
	// it, so a bar in flight can never hit a closed channel.
	select {
	case st.queue <- bar:
	default:
		e.logger.Warn().Str("symbol", bar.Symbol).Msg("Symbol queue full, dropping bar")
		e.bus.PublishError("engine", "symbol queue full", fmt.Errorf("symbol %s", bar.Symbol))
	}
}

// Signals returns the signals generated so far, keyed by campaign ID.
func (e *Engine) Signals() []*Signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Signal, 0, len(e.signals))
	for _, s := range e.signals {
		out = append(out, s)
	}
	return out
}

func (e *Engine) worker(st *symbolState) {
	defer e.wg.Done()
	for bar := range st.queue {
		e.processBar(st, bar)
	}
}

func (e *Engine) processBar(st *symbolState, bar market.Bar) {
	if err := e.windows.Append(bar); err != nil {
		// Out-of-order and duplicate bars are data-quality events, not
		// pipeline failures.
		e.logger.Warn().Err(err).Str("symbol", st.symbol).Msg("Bar rejected by window")
		e.bus.PublishError("engine", "bar rejected", err)
		return
	}

	e.mu.Lock()
	recovered := st.stale
	st.stale = false
	e.mu.Unlock()
	if recovered {
		e.logger.Info().Str("symbol", st.symbol).Msg("Symbol data resumed")
		e.bus.Publish(events.Event{
			Type: events.EventSymbolRecovered,
			Data: map[string]interface{}{"symbol": st.symbol, "timeframe": string(st.tf)},
		})
	}

	bars := e.windows.Bars(st.symbol, st.tf)

	hadRange := st.identifier.Active()
	tr := st.identifier.Update(bars, st.tf)
	if hadRange != nil && tr == nil {
		// Close below Ice: the markdown settles the symbol's campaigns.
		e.resolveIceBreak(st.symbol, bar.Close, hadRange.Ice)
		st.priorBreakout = nil
		return
	}
	if tr == nil {
		return
	}

	// A close at the measured-move target settles the symbol's open
	// campaigns before any new detection runs on this bar.
	if bar.Close >= tr.Jump {
		e.resolveTargetReached(st.symbol, bar.Close, tr.Jump)
	}

	for _, p := range e.detect(st, bars, tr) {
		e.handlePattern(st, tr, p)
	}
}

func (e *Engine) detect(st *symbolState, bars []market.Bar, tr *wyckoff.TradingRange) []*wyckoff.Pattern {
	var found []*wyckoff.Pattern
	if p := e.detector.DetectSpring(bars, tr, st.tf); p != nil {
		found = append(found, p)
	}
	if p := e.detector.DetectSOS(bars, tr, st.tf); p != nil {
		found = append(found, p)
	}
	if p := e.detector.DetectLPS(bars, tr, st.tf, st.priorBreakout); p != nil {
		found = append(found, p)
	}
	if p := e.detector.DetectUTAD(bars, tr, st.tf); p != nil {
		found = append(found, p)
	}
	return found
}

func (e *Engine) handlePattern(st *symbolState, tr *wyckoff.TradingRange, p *wyckoff.Pattern) {
	result := e.confidence.Evaluate(p, tr.Phase)
	if !result.Accepted {
		e.logger.Debug().Str("symbol", p.Symbol).Str("pattern", string(p.Type)).
			Float64("score", result.Score).Msg("Pattern below confidence threshold")
		e.bus.PublishRejection(p.Symbol, string(p.Type), RejectLowConfidence, result.Reason)
		return
	}

	e.logger.Info().Str("symbol", p.Symbol).Str("pattern", string(p.Type)).
		Float64("score", result.Score).Str("grade", result.Grade).
		Str("quality", string(p.Quality)).Msg("Pattern detected")
	e.bus.Publish(events.Event{
		Type: events.EventPatternDetected,
		Data: map[string]interface{}{
			"symbol":    p.Symbol,
			"pattern":   string(p.Type),
			"quality":   string(p.Quality),
			"score":     result.Score,
			"grade":     result.Grade,
			"ratio":     p.VolumeRatio,
			"detected":  p.DetectedAt,
			"direction": string(p.Direction),
		},
	})

	st.identifier.ObservePattern(p.Type)
	if p.Type == wyckoff.Spring || p.Type == wyckoff.SOSBreakout {
		st.priorBreakout = p
	}

	c, created, rejection := e.campaigns.Submit(*p, tr.Phase)
	if rejection != nil {
		e.bus.PublishRejection(p.Symbol, string(p.Type), rejection.Code, rejection.Reason)
		return
	}

	if created {
		// Campaign levels are anchored to the range; freeze it so later
		// refinement cannot rewrite the structural stop under a live
		// campaign.
		tr.Lock()
		e.bus.Publish(events.Event{
			Type: events.EventCampaignCreated,
			Data: map[string]interface{}{"campaign_id": c.ID, "symbol": c.Symbol},
		})
	} else {
		e.bus.Publish(events.Event{
			Type: events.EventCampaignUpdated,
			Data: map[string]interface{}{
				"campaign_id": c.ID,
				"symbol":      c.Symbol,
				"patterns":    len(c.Patterns),
				"state":       string(c.State),
			},
		})
	}

	if c.State == campaign.StateActive {
		e.maybeSignal(c, tr, result)
	}
}

// maybeSignal emits a trade signal the first time a campaign activates,
// provided the portfolio heat limit admits its risk.
func (e *Engine) maybeSignal(c *campaign.Campaign, tr *wyckoff.TradingRange, result wyckoff.ConfidenceResult) {
	e.mu.Lock()
	_, already := e.signals[c.ID]
	e.mu.Unlock()
	if already {
		return
	}

	plan, err := e.riskCalc.PlanTrade(c.EntryPrice(), tr.Ice, tr.Jump)
	if err != nil {
		e.logger.Error().Err(err).Str("campaign_id", c.ID).Msg("Trade planning failed")
		e.bus.PublishError("engine", "trade planning failed", err)
		return
	}

	// Check and reservation must be one atomic step: another symbol worker
	// may be opening a campaign at the same time.
	if ok, reason := e.riskCalc.TryAllocate(c.ID, c.Symbol, plan); !ok {
		e.logger.Warn().Str("campaign_id", c.ID).Str("reason", reason).
			Msg("Signal suppressed by portfolio heat limit")
		e.bus.PublishRejection(c.Symbol, "signal", RejectPortfolioHeat, reason)
		return
	}

	now := time.Now().UTC()
	sig := &Signal{
		ID:           uuid.New().String(),
		CampaignID:   c.ID,
		Symbol:       c.Symbol,
		Timeframe:    c.Timeframe,
		Direction:    c.Direction,
		EntryPrice:   plan.Entry,
		StopPrice:    plan.Stop,
		TargetPrice:  plan.Target,
		PositionSize: plan.PositionSize,
		RiskDollars:  plan.RiskDollars,
		RMultiple:    plan.TargetRMultiple,
		Confidence:   result.Score,
		Grade:        result.Grade,
		GeneratedAt:  now,
		ExpiresAt:    now.Add(time.Duration(e.cfg.SignalTTLHours) * time.Hour),
	}

	e.mu.Lock()
	e.signals[c.ID] = sig
	e.mu.Unlock()

	e.logger.Info().Str("signal_id", sig.ID).Str("campaign_id", c.ID).
		Str("symbol", c.Symbol).Float64("entry", sig.EntryPrice).
		Float64("stop", sig.StopPrice).Float64("target", sig.TargetPrice).
		Int64("size", sig.PositionSize).Float64("r_multiple", sig.RMultiple).
		Msg("Signal generated")
	e.bus.Publish(events.Event{
		Type: events.EventSignalGenerated,
		Data: map[string]interface{}{
			"signal_id":   sig.ID,
			"campaign_id": c.ID,
			"symbol":      sig.Symbol,
			"direction":   string(sig.Direction),
			"entry":       sig.EntryPrice,
			"stop":        sig.StopPrice,
			"target":      sig.TargetPrice,
			"size":        sig.PositionSize,
			"r_multiple":  sig.RMultiple,
			"confidence":  sig.Confidence,
			"grade":       sig.Grade,
		},
	})
}

// resolveIceBreak settles the symbol's open campaigns after a close below
// the invalidation level. The markdown refutes accumulation campaigns and
// pays off active distribution ones.
func (e *Engine) resolveIceBreak(symbol string, close, ice float64) {
	reason := fmt.Sprintf("close %.4f broke invalidation level %.4f", close, ice)
	for _, c := range e.campaigns.Open() {
		if c.Symbol != symbol {
			continue
		}
		if c.Direction == wyckoff.Short && c.State == campaign.StateActive {
			if cc := e.campaigns.Complete(c.ID, reason); cc != nil {
				e.riskCalc.Release(cc.ID)
				e.bus.Publish(events.Event{
					Type: events.EventCampaignCompleted,
					Data: map[string]interface{}{"campaign_id": cc.ID, "symbol": symbol, "reason": reason},
				})
			}
			continue
		}
		if fc := e.campaigns.Fail(c.ID, reason); fc != nil {
			e.riskCalc.Release(fc.ID)
			e.bus.Publish(events.Event{
				Type: events.EventCampaignFailed,
				Data: map[string]interface{}{"campaign_id": fc.ID, "symbol": symbol, "reason": reason},
			})
		}
	}
}

// resolveTargetReached settles campaigns after a close at or above the
// measured-move target. The markup completes active accumulation
// campaigns and refutes distribution ones.
func (e *Engine) resolveTargetReached(symbol string, close, jump float64) {
	for _, c := range e.campaigns.Open() {
		if c.Symbol != symbol {
			continue
		}
		switch {
		case c.Direction == wyckoff.Long && c.State == campaign.StateActive:
			reason := fmt.Sprintf("close %.4f reached target %.4f", close, jump)
			if cc := e.campaigns.Complete(c.ID, reason); cc != nil {
				e.riskCalc.Release(cc.ID)
				e.bus.Publish(events.Event{
					Type: events.EventCampaignCompleted,
					Data: map[string]interface{}{"campaign_id": cc.ID, "symbol": symbol, "reason": reason},
				})
			}
		case c.Direction == wyckoff.Short:
			reason := fmt.Sprintf("close %.4f broke out above %.4f against distribution", close, jump)
			if fc := e.campaigns.Fail(c.ID, reason); fc != nil {
				e.riskCalc.Release(fc.ID)
				e.bus.Publish(events.Event{
					Type: events.EventCampaignFailed,
					Data: map[string]interface{}{"campaign_id": fc.ID, "symbol": symbol, "reason": reason},
				})
			}
		}
	}
}

// sweepLoop periodically expires stalled campaigns and flags symbols whose
// feed has gone quiet.
func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			now := time.Now().UTC()
			e.expireCampaigns(now)
			e.checkStaleness(now)
		}
	}
}

func (e *Engine) expireCampaigns(now time.Time) {
	for _, c := range e.campaigns.ExpireStale(now) {
		e.riskCalc.Release(c.ID)
		e.bus.Publish(events.Event{
			Type: events.EventCampaignFailed,
			Data: map[string]interface{}{
				"campaign_id": c.ID,
				"symbol":      c.Symbol,
				"reason":      c.FailureReason,
			},
		})
	}
}

func (e *Engine) checkStaleness(now time.Time) {
	e.mu.Lock()
	states := make([]*symbolState, 0, len(e.symbols))
	for _, st := range e.symbols {
		states = append(states, st)
	}
	e.mu.Unlock()

	for _, st := range states {
		last, ok := e.windows.LastBarTime(st.symbol, st.tf)
		if !ok {
			continue
		}
		threshold := time.Duration(e.cfg.StaleAfterBars) * st.tf.Duration()
		e.mu.Lock()
		newlyStale := now.Sub(last) > threshold && !st.stale
		if newlyStale {
			st.stale = true
		}
		e.mu.Unlock()
		if newlyStale {
			e.logger.Warn().Str("symbol", st.symbol).Str("timeframe", string(st.tf)).
				Time("last_bar", last).Msg("Symbol data stale")
			e.bus.Publish(events.Event{
				Type: events.EventSymbolStale,
				Data: map[string]interface{}{
					"symbol":    st.symbol,
					"timeframe": string(st.tf),
					"last_bar":  last,
				},
			})
		}
	}
}
