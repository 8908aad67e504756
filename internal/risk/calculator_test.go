package risk

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestPlanTradeSizing(t *testing.T) {
	rc := NewCalculator(Config{
		AccountEquity:   100000,
		MaxRiskPerTrade: 1000,
	})

	// Entry 50, stop 48: R=2, size=floor(1000/2)=500 shares.
	plan, err := rc.PlanTrade(50, 48, 56)
	if err != nil {
		t.Fatalf("PlanTrade failed: %v", err)
	}
	if plan.RiskPerShare != 2 {
		t.Errorf("R = %.2f, want 2", plan.RiskPerShare)
	}
	if plan.PositionSize != 500 {
		t.Errorf("size = %d, want 500", plan.PositionSize)
	}
	if plan.RiskDollars != 1000 {
		t.Errorf("risk dollars = %.2f, want 1000", plan.RiskDollars)
	}
	if plan.TargetRMultiple != 3 {
		t.Errorf("target R-multiple = %.2f, want 3", plan.TargetRMultiple)
	}
}

func TestPlanTradeFlooredToWholeShares(t *testing.T) {
	rc := NewCalculator(Config{AccountEquity: 100000, MaxRiskPerTrade: 1000})

	// R=3: 1000/3 = 333.33, floored to 333 shares risking 999.
	plan, err := rc.PlanTrade(50, 47, 59)
	if err != nil {
		t.Fatalf("PlanTrade failed: %v", err)
	}
	if plan.PositionSize != 333 {
		t.Errorf("size = %d, want 333", plan.PositionSize)
	}
	if plan.RiskDollars != 999 {
		t.Errorf("risk dollars = %.2f, want 999", plan.RiskDollars)
	}
}

func TestPlanTradeValidation(t *testing.T) {
	rc := NewCalculator(Config{AccountEquity: 100000, MaxRiskPerTrade: 1000})

	if _, err := rc.PlanTrade(0, 48, 56); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("expected ErrInvalidEntry, got %v", err)
	}
	if _, err := rc.PlanTrade(50, 50, 56); !errors.Is(err, ErrInvalidStop) {
		t.Errorf("expected ErrInvalidStop, got %v", err)
	}
}

func TestPortfolioHeatLimit(t *testing.T) {
	rc := NewCalculator(Config{
		AccountEquity:    100000,
		MaxRiskPerTrade:  1000,
		MaxPortfolioHeat: 6.0,
	})

	// Three open campaigns at $1000 each: heat 3%.
	for i, id := range []string{"c1", "c2", "c3"} {
		plan, _ := rc.PlanTrade(50, 48, 56)
		ok, reason := rc.CanAllocate(plan.RiskDollars)
		if !ok {
			t.Fatalf("campaign %d should fit under the limit: %s", i, reason)
		}
		rc.Register(id, "BTCUSDT", plan)
	}
	if got := rc.Heat(); got != 3.0 {
		t.Errorf("heat = %.2f%%, want 3.00%%", got)
	}

	// A fourth campaign needing $3500 would project 6.5%: rejected.
	ok, reason := rc.CanAllocate(3500)
	if ok {
		t.Error("allocation projecting past the heat limit must be rejected")
	}
	if reason == "" {
		t.Error("rejection must carry a reason")
	}

	// Exactly at the limit is allowed.
	if ok, reason := rc.CanAllocate(3000); !ok {
		t.Errorf("projection equal to the limit should pass: %s", reason)
	}
}

func TestTryAllocateRejectsPastLimitAndReserves(t *testing.T) {
	rc := NewCalculator(Config{AccountEquity: 100000, MaxRiskPerTrade: 1000, MaxPortfolioHeat: 6.0})

	ok, reason := rc.TryAllocate("c1", "BTCUSDT", &TradePlan{RiskPerShare: 2, PositionSize: 2000, RiskDollars: 4000})
	if !ok {
		t.Fatalf("4%% projection should fit under the limit: %s", reason)
	}
	if rc.Heat() != 4.0 {
		t.Fatalf("heat = %.2f%%, want 4.00%% reserved", rc.Heat())
	}

	ok, reason = rc.TryAllocate("c2", "ETHUSDT", &TradePlan{RiskPerShare: 1, PositionSize: 3000, RiskDollars: 3000})
	if ok {
		t.Error("projection past the heat limit must be rejected")
	}
	if reason == "" {
		t.Error("rejection must carry a reason")
	}
	if rc.Heat() != 4.0 {
		t.Errorf("heat = %.2f%%, a rejected allocation must reserve nothing", rc.Heat())
	}
}

func TestTryAllocateConcurrentOpeningsRespectLimit(t *testing.T) {
	rc := NewCalculator(Config{AccountEquity: 100000, MaxRiskPerTrade: 1000, MaxPortfolioHeat: 6.0})

	if ok, reason := rc.TryAllocate("seed", "BTCUSDT", &TradePlan{RiskPerShare: 1, PositionSize: 2000, RiskDollars: 2000}); !ok {
		t.Fatalf("seed allocation should fit: %s", reason)
	}

	// Two concurrent openings of $3500 each: either alone fits under the
	// $6000 ceiling, together they do not. Exactly one may win.
	plan := &TradePlan{RiskPerShare: 1, PositionSize: 3500, RiskDollars: 3500}
	var wg sync.WaitGroup
	var admitted int32
	for _, id := range []string{"c1", "c2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if ok, _ := rc.TryAllocate(id, "ETHUSDT", plan); ok {
				atomic.AddInt32(&admitted, 1)
			}
		}(id)
	}
	wg.Wait()

	if admitted != 1 {
		t.Fatalf("admitted = %d, want exactly 1", admitted)
	}
	if heat := rc.Heat(); heat > 6.0 {
		t.Errorf("heat = %.2f%%, exceeded the limit", heat)
	}
}

func TestReleaseFreesHeat(t *testing.T) {
	rc := NewCalculator(Config{AccountEquity: 100000, MaxRiskPerTrade: 1000, MaxPortfolioHeat: 6.0})

	plan, _ := rc.PlanTrade(50, 48, 56)
	rc.Register("c1", "BTCUSDT", plan)
	if rc.Heat() != 1.0 {
		t.Fatalf("heat = %.2f%%, want 1.00%%", rc.Heat())
	}

	rc.Release("c1")
	if rc.Heat() != 0 {
		t.Errorf("heat after release = %.2f%%, want 0", rc.Heat())
	}
}

func TestSnapshot(t *testing.T) {
	rc := NewCalculator(Config{AccountEquity: 100000, MaxRiskPerTrade: 1000, MaxPortfolioHeat: 6.0})

	plan, _ := rc.PlanTrade(50, 48, 56)
	rc.Register("c1", "BTCUSDT", plan)
	plan2, _ := rc.PlanTrade(30, 29, 33)
	rc.Register("c2", "ETHUSDT", plan2)

	snap := rc.Snapshot()
	if len(snap.OpenPositions) != 2 {
		t.Errorf("open positions = %d, want 2", len(snap.OpenPositions))
	}
	if snap.TotalRiskDollars != plan.RiskDollars+plan2.RiskDollars {
		t.Errorf("total risk = %.2f, want %.2f", snap.TotalRiskDollars, plan.RiskDollars+plan2.RiskDollars)
	}
	if snap.MaxHeatPct != 6.0 {
		t.Errorf("max heat = %.2f, want 6.0", snap.MaxHeatPct)
	}
}

func TestUpdateEquityChangesHeat(t *testing.T) {
	rc := NewCalculator(Config{AccountEquity: 100000, MaxRiskPerTrade: 1000, MaxPortfolioHeat: 6.0})

	plan, _ := rc.PlanTrade(50, 48, 56)
	rc.Register("c1", "BTCUSDT", plan)

	rc.UpdateEquity(50000)
	if rc.Heat() != 2.0 {
		t.Errorf("heat after drawdown = %.2f%%, want 2.00%%", rc.Heat())
	}
}
