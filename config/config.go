package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the root configuration object. Values load from config.json
// when present; environment variables override file values.
type Config struct {
	LoggingConfig  LoggingConfig  `json:"logging"`
	EngineConfig   EngineConfig   `json:"engine"`
	VolumeConfig   VolumeConfig   `json:"volume"`
	RangeConfig    RangeConfig    `json:"range"`
	DetectorConfig DetectorConfig `json:"detectors"`
	CampaignConfig CampaignConfig `json:"campaign"`
	RiskConfig     RiskConfig     `json:"risk"`
	FeedConfig     FeedConfig     `json:"feed"`
	StoreConfig    StoreConfig    `json:"store"`
	RedisConfig    RedisConfig    `json:"redis"`
	ServerConfig   ServerConfig   `json:"server"`
	NotifyConfig   NotifyConfig   `json:"notify"`
}

type LoggingConfig struct {
	Level      string `json:"level"`
	JSONFormat bool   `json:"json_format"`
	Output     string `json:"output"`
}

// EngineConfig holds pipeline-level settings.
type EngineConfig struct {
	WindowCapacity      int `json:"window_capacity"`       // Bars kept per symbol
	StaleAfterBars      int `json:"stale_after_bars"`      // Bar intervals without data before stale
	SweepIntervalSecs   int `json:"sweep_interval_secs"`   // Staleness/expiration sweep cadence
	SymbolQueueCapacity int `json:"symbol_queue_capacity"` // Per-symbol ingestion buffer
}

type VolumeConfig struct {
	AvgPeriod int `json:"avg_period"`
}

type RangeConfig struct {
	ClimaxVolumeRatio   float64 `json:"climax_volume_ratio"`
	ClimaxSpreadRatio   float64 `json:"climax_spread_ratio"`
	ClimaxClosePosition float64 `json:"climax_close_position"`
	RallyWindowBars     int     `json:"rally_window_bars"`
	RallyMinRetracement float64 `json:"rally_min_retracement"`
	IceBufferPct        float64 `json:"ice_buffer_pct"`
}

// DetectorConfig carries the per-pattern volume thresholds.
type DetectorConfig struct {
	SpringMaxVolumeRatio float64 `json:"spring_max_volume_ratio"`
	SOSMinVolumeRatio    float64 `json:"sos_min_volume_ratio"`
	UTADMinVolumeRatio   float64 `json:"utad_min_volume_ratio"`
	MinConfidence        float64 `json:"min_confidence"`
}

type CampaignConfig struct {
	WindowHours     int `json:"campaign_window_hours"`
	ExpirationHours int `json:"campaign_expiration_hours"`
	MaxConcurrent   int `json:"max_concurrent_campaigns"`
}

type RiskConfig struct {
	AccountEquity    float64 `json:"account_equity"`
	MaxRiskPerTrade  float64 `json:"max_risk_per_trade"`
	MaxPortfolioHeat float64 `json:"max_portfolio_heat"`
}

type FeedConfig struct {
	Enabled    bool     `json:"enabled"`
	WSBaseURL  string   `json:"ws_base_url"`
	Symbols    []string `json:"symbols"`
	Timeframes []string `json:"timeframes"`
}

type StoreConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ServerConfig struct {
	Enabled        bool   `json:"enabled"`
	Port           int    `json:"port"`
	Host           string `json:"host"`
	AllowedOrigins string `json:"allowed_origins"`
}

type NotifyConfig struct {
	Enabled          bool   `json:"enabled"`
	QueueSize        int    `json:"queue_size"`
	MaxRetries       int    `json:"max_retries"`
	BackoffBaseSecs  int    `json:"backoff_base_secs"`
	TelegramEnabled  bool   `json:"telegram_enabled"`
	TelegramBotToken string `json:"telegram_bot_token"`
	TelegramChatID   string `json:"telegram_chat_id"`
	DiscordEnabled   bool   `json:"discord_enabled"`
	DiscordWebhook   string `json:"discord_webhook_url"`
}

// Load reads config.json when present and applies environment overrides.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", defaultString(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"

	// Engine
	cfg.EngineConfig.WindowCapacity = getEnvIntOrDefault("ENGINE_WINDOW_CAPACITY", defaultInt(cfg.EngineConfig.WindowCapacity, 200))
	cfg.EngineConfig.StaleAfterBars = getEnvIntOrDefault("ENGINE_STALE_AFTER_BARS", defaultInt(cfg.EngineConfig.StaleAfterBars, 3))
	cfg.EngineConfig.SweepIntervalSecs = getEnvIntOrDefault("ENGINE_SWEEP_INTERVAL_SECS", defaultInt(cfg.EngineConfig.SweepIntervalSecs, 30))
	cfg.EngineConfig.SymbolQueueCapacity = getEnvIntOrDefault("ENGINE_SYMBOL_QUEUE_CAPACITY", defaultInt(cfg.EngineConfig.SymbolQueueCapacity, 64))

	// Volume / range / detectors
	cfg.VolumeConfig.AvgPeriod = getEnvIntOrDefault("VOLUME_AVG_PERIOD", defaultInt(cfg.VolumeConfig.AvgPeriod, 20))
	cfg.RangeConfig.ClimaxVolumeRatio = getEnvFloatOrDefault("RANGE_CLIMAX_VOLUME_RATIO", defaultFloat(cfg.RangeConfig.ClimaxVolumeRatio, 2.0))
	cfg.RangeConfig.ClimaxSpreadRatio = getEnvFloatOrDefault("RANGE_CLIMAX_SPREAD_RATIO", defaultFloat(cfg.RangeConfig.ClimaxSpreadRatio, 1.5))
	cfg.RangeConfig.ClimaxClosePosition = getEnvFloatOrDefault("RANGE_CLIMAX_CLOSE_POSITION", defaultFloat(cfg.RangeConfig.ClimaxClosePosition, 0.35))
	cfg.RangeConfig.RallyWindowBars = getEnvIntOrDefault("RANGE_RALLY_WINDOW_BARS", defaultInt(cfg.RangeConfig.RallyWindowBars, 10))
	cfg.RangeConfig.RallyMinRetracement = getEnvFloatOrDefault("RANGE_RALLY_MIN_RETRACEMENT", defaultFloat(cfg.RangeConfig.RallyMinRetracement, 0.33))
	cfg.RangeConfig.IceBufferPct = getEnvFloatOrDefault("RANGE_ICE_BUFFER_PCT", defaultFloat(cfg.RangeConfig.IceBufferPct, 2.0))
	cfg.DetectorConfig.SpringMaxVolumeRatio = getEnvFloatOrDefault("DETECTOR_SPRING_MAX_VOLUME_RATIO", defaultFloat(cfg.DetectorConfig.SpringMaxVolumeRatio, 0.70))
	cfg.DetectorConfig.SOSMinVolumeRatio = getEnvFloatOrDefault("DETECTOR_SOS_MIN_VOLUME_RATIO", defaultFloat(cfg.DetectorConfig.SOSMinVolumeRatio, 1.5))
	cfg.DetectorConfig.UTADMinVolumeRatio = getEnvFloatOrDefault("DETECTOR_UTAD_MIN_VOLUME_RATIO", defaultFloat(cfg.DetectorConfig.UTADMinVolumeRatio, 1.2))
	cfg.DetectorConfig.MinConfidence = getEnvFloatOrDefault("MIN_CONFIDENCE_THRESHOLD", defaultFloat(cfg.DetectorConfig.MinConfidence, 70))

	// Campaign
	cfg.CampaignConfig.WindowHours = getEnvIntOrDefault("CAMPAIGN_WINDOW_HOURS", defaultInt(cfg.CampaignConfig.WindowHours, 48))
	cfg.CampaignConfig.ExpirationHours = getEnvIntOrDefault("CAMPAIGN_EXPIRATION_HOURS", defaultInt(cfg.CampaignConfig.ExpirationHours, 72))
	cfg.CampaignConfig.MaxConcurrent = getEnvIntOrDefault("MAX_CONCURRENT_CAMPAIGNS", defaultInt(cfg.CampaignConfig.MaxConcurrent, 5))

	// Risk
	cfg.RiskConfig.AccountEquity = getEnvFloatOrDefault("RISK_ACCOUNT_EQUITY", defaultFloat(cfg.RiskConfig.AccountEquity, 100000))
	cfg.RiskConfig.MaxRiskPerTrade = getEnvFloatOrDefault("RISK_MAX_PER_TRADE", defaultFloat(cfg.RiskConfig.MaxRiskPerTrade, 1000))
	cfg.RiskConfig.MaxPortfolioHeat = getEnvFloatOrDefault("RISK_MAX_PORTFOLIO_HEAT", defaultFloat(cfg.RiskConfig.MaxPortfolioHeat, 6.0))

	// Feed
	cfg.FeedConfig.Enabled = getEnvOrDefault("FEED_ENABLED", boolString(cfg.FeedConfig.Enabled)) == "true"
	cfg.FeedConfig.WSBaseURL = getEnvOrDefault("FEED_WS_BASE_URL", defaultString(cfg.FeedConfig.WSBaseURL, "wss://stream.binance.com:9443"))
	if v := os.Getenv("FEED_SYMBOLS"); v != "" {
		cfg.FeedConfig.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("FEED_TIMEFRAMES"); v != "" {
		cfg.FeedConfig.Timeframes = strings.Split(v, ",")
	}
	if len(cfg.FeedConfig.Timeframes) == 0 {
		cfg.FeedConfig.Timeframes = []string{"1h"}
	}

	// Store
	cfg.StoreConfig.Enabled = getEnvOrDefault("DB_ENABLED", boolString(cfg.StoreConfig.Enabled)) == "true"
	cfg.StoreConfig.Host = getEnvOrDefault("DB_HOST", defaultString(cfg.StoreConfig.Host, "localhost"))
	cfg.StoreConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.StoreConfig.Port, 5432))
	cfg.StoreConfig.User = getEnvOrDefault("DB_USER", defaultString(cfg.StoreConfig.User, "postgres"))
	cfg.StoreConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.StoreConfig.Password)
	cfg.StoreConfig.Database = getEnvOrDefault("DB_NAME", defaultString(cfg.StoreConfig.Database, "wyckoff"))
	cfg.StoreConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultString(cfg.StoreConfig.SSLMode, "disable"))

	// Redis
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Server
	cfg.ServerConfig.Enabled = getEnvOrDefault("SERVER_ENABLED", "true") == "true"
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", defaultString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultString(cfg.ServerConfig.AllowedOrigins, "*"))

	// Notifications
	cfg.NotifyConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", boolString(cfg.NotifyConfig.Enabled)) == "true"
	cfg.NotifyConfig.QueueSize = getEnvIntOrDefault("NOTIFY_QUEUE_SIZE", defaultInt(cfg.NotifyConfig.QueueSize, 256))
	cfg.NotifyConfig.MaxRetries = getEnvIntOrDefault("NOTIFY_MAX_RETRIES", defaultInt(cfg.NotifyConfig.MaxRetries, 3))
	cfg.NotifyConfig.BackoffBaseSecs = getEnvIntOrDefault("NOTIFY_BACKOFF_BASE_SECS", defaultInt(cfg.NotifyConfig.BackoffBaseSecs, 2))
	cfg.NotifyConfig.TelegramEnabled = getEnvOrDefault("TELEGRAM_ENABLED", boolString(cfg.NotifyConfig.TelegramEnabled)) == "true"
	cfg.NotifyConfig.TelegramBotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotifyConfig.TelegramBotToken)
	cfg.NotifyConfig.TelegramChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotifyConfig.TelegramChatID)
	cfg.NotifyConfig.DiscordEnabled = getEnvOrDefault("DISCORD_ENABLED", boolString(cfg.NotifyConfig.DiscordEnabled)) == "true"
	cfg.NotifyConfig.DiscordWebhook = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotifyConfig.DiscordWebhook)
}

// Validate checks threshold consistency. A failure here is fatal: the
// engine refuses to run on a malformed configuration.
func (c *Config) Validate() error {
	if c.DetectorConfig.MinConfidence < 0 || c.DetectorConfig.MinConfidence > 100 {
		return fmt.Errorf("min_confidence must be within [0,100], got %.2f", c.DetectorConfig.MinConfidence)
	}
	if c.DetectorConfig.SpringMaxVolumeRatio <= 0 {
		return fmt.Errorf("spring_max_volume_ratio must be positive, got %.2f", c.DetectorConfig.SpringMaxVolumeRatio)
	}
	if c.DetectorConfig.SOSMinVolumeRatio <= c.DetectorConfig.SpringMaxVolumeRatio {
		return fmt.Errorf("sos_min_volume_ratio (%.2f) must exceed spring_max_volume_ratio (%.2f)",
			c.DetectorConfig.SOSMinVolumeRatio, c.DetectorConfig.SpringMaxVolumeRatio)
	}
	if c.CampaignConfig.WindowHours <= 0 {
		return fmt.Errorf("campaign_window_hours must be positive, got %d", c.CampaignConfig.WindowHours)
	}
	if c.CampaignConfig.ExpirationHours < c.CampaignConfig.WindowHours {
		return fmt.Errorf("campaign_expiration_hours (%d) must be at least campaign_window_hours (%d)",
			c.CampaignConfig.ExpirationHours, c.CampaignConfig.WindowHours)
	}
	if c.CampaignConfig.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent_campaigns must be positive, got %d", c.CampaignConfig.MaxConcurrent)
	}
	if c.RiskConfig.MaxPortfolioHeat <= 0 || c.RiskConfig.MaxPortfolioHeat > 100 {
		return fmt.Errorf("max_portfolio_heat must be within (0,100], got %.2f", c.RiskConfig.MaxPortfolioHeat)
	}
	if c.RiskConfig.MaxRiskPerTrade <= 0 {
		return fmt.Errorf("max_risk_per_trade must be positive, got %.2f", c.RiskConfig.MaxRiskPerTrade)
	}
	if c.RiskConfig.AccountEquity <= 0 {
		return fmt.Errorf("account_equity must be positive, got %.2f", c.RiskConfig.AccountEquity)
	}
	return nil
}

// Helper functions for environment variables

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func defaultString(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

func defaultInt(v, d int) int {
	if v == 0 {
		return d
	}
	return v
}

func defaultFloat(v, d float64) float64 {
	if v == 0 {
		return d
	}
	return v
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
