// Package store persists campaigns and signals to PostgreSQL and publishes
// portfolio snapshots to Redis. Both stores are optional: the engine runs
// fully in memory when neither is configured.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"wyckoff-scanner/internal/campaign"
	"wyckoff-scanner/internal/engine"
)

// PostgresConfig holds connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (c PostgresConfig) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Repository persists campaign and signal history.
type Repository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewRepository connects to PostgreSQL and ensures the schema exists.
func NewRepository(ctx context.Context, cfg PostgresConfig, logger zerolog.Logger) (*Repository, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	r := &Repository{
		pool:   pool,
		logger: logger.With().Str("component", "Repository").Logger(),
	}
	if err := r.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	r.logger.Info().Str("database", cfg.Database).Msg("Database connected")
	return r, nil
}

// Close releases the connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

func (r *Repository) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS campaigns (
		id             TEXT PRIMARY KEY,
		symbol         TEXT NOT NULL,
		timeframe      TEXT NOT NULL,
		state          TEXT NOT NULL,
		direction      TEXT NOT NULL,
		phase          TEXT NOT NULL,
		patterns       JSONB NOT NULL,
		support_level  DOUBLE PRECISION NOT NULL,
		resistance_level DOUBLE PRECISION NOT NULL,
		strength_score DOUBLE PRECISION NOT NULL,
		volume_trend   TEXT NOT NULL,
		risk_level     TEXT NOT NULL,
		failure_reason TEXT,
		created_at     TIMESTAMPTZ NOT NULL,
		last_pattern_at TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_campaigns_symbol ON campaigns(symbol);
	CREATE INDEX IF NOT EXISTS idx_campaigns_state ON campaigns(state);

	CREATE TABLE IF NOT EXISTS signals (
		id            TEXT PRIMARY KEY,
		campaign_id   TEXT NOT NULL REFERENCES campaigns(id),
		symbol        TEXT NOT NULL,
		timeframe     TEXT NOT NULL,
		direction     TEXT NOT NULL,
		entry_price   DOUBLE PRECISION NOT NULL,
		stop_price    DOUBLE PRECISION NOT NULL,
		target_price  DOUBLE PRECISION NOT NULL,
		position_size BIGINT NOT NULL,
		risk_dollars  DOUBLE PRECISION NOT NULL,
		r_multiple    DOUBLE PRECISION NOT NULL,
		confidence    DOUBLE PRECISION NOT NULL,
		grade         TEXT NOT NULL,
		generated_at  TIMESTAMPTZ NOT NULL,
		expires_at    TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol);
	`
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveCampaign upserts a campaign row with its full pattern history.
func (r *Repository) SaveCampaign(ctx context.Context, c *campaign.Campaign) error {
	patterns, err := json.Marshal(c.Patterns)
	if err != nil {
		return fmt.Errorf("failed to marshal patterns: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO campaigns (
			id, symbol, timeframe, state, direction, phase, patterns,
			support_level, resistance_level, strength_score,
			volume_trend, risk_level, failure_reason,
			created_at, last_pattern_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW())
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			phase = EXCLUDED.phase,
			patterns = EXCLUDED.patterns,
			support_level = EXCLUDED.support_level,
			resistance_level = EXCLUDED.resistance_level,
			strength_score = EXCLUDED.strength_score,
			volume_trend = EXCLUDED.volume_trend,
			risk_level = EXCLUDED.risk_level,
			failure_reason = EXCLUDED.failure_reason,
			last_pattern_at = EXCLUDED.last_pattern_at,
			updated_at = NOW()`,
		c.ID, c.Symbol, c.Timeframe, string(c.State), string(c.Direction), string(c.Phase),
		patterns, c.SupportLevel, c.ResistanceLevel, c.StrengthScore,
		string(c.VolumeTrend), string(c.RiskLevel), c.FailureReason,
		c.CreatedAt, c.LastPatternAt)
	if err != nil {
		return fmt.Errorf("failed to save campaign %s: %w", c.ID, err)
	}
	return nil
}

// SaveSignal inserts a generated signal. Signals are immutable once
// emitted.
func (r *Repository) SaveSignal(ctx context.Context, s *engine.Signal) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO signals (
			id, campaign_id, symbol, timeframe, direction,
			entry_price, stop_price, target_price, position_size,
			risk_dollars, r_multiple, confidence, grade,
			generated_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO NOTHING`,
		s.ID, s.CampaignID, s.Symbol, s.Timeframe, string(s.Direction),
		s.EntryPrice, s.StopPrice, s.TargetPrice, s.PositionSize,
		s.RiskDollars, s.RMultiple, s.Confidence, s.Grade,
		s.GeneratedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save signal %s: %w", s.ID, err)
	}
	return nil
}

// CampaignHistory returns persisted campaigns for a symbol, most recent
// first.
func (r *Repository) CampaignHistory(ctx context.Context, symbol string, limit int) ([]map[string]interface{}, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, symbol, state, direction, phase, strength_score,
		       volume_trend, risk_level, created_at, last_pattern_at
		FROM campaigns WHERE symbol = $1
		ORDER BY created_at DESC LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		var (
			id, sym, state, direction, phase, trend, riskLevel string
			strength                                           float64
			createdAt, lastPatternAt                           time.Time
		)
		if err := rows.Scan(&id, &sym, &state, &direction, &phase, &strength,
			&trend, &riskLevel, &createdAt, &lastPatternAt); err != nil {
			return nil, fmt.Errorf("failed to scan campaign row: %w", err)
		}
		out = append(out, map[string]interface{}{
			"id":              id,
			"symbol":          sym,
			"state":           state,
			"direction":       direction,
			"phase":           phase,
			"strength_score":  strength,
			"volume_trend":    trend,
			"risk_level":      riskLevel,
			"created_at":      createdAt,
			"last_pattern_at": lastPatternAt,
		})
	}
	return out, rows.Err()
}
