// Package config loads and validates the service configuration from a YAML
// file with environment-variable overrides, using viper as the teacher does.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete application configuration.
type Config struct {
	Exchange     ExchangeConfig     `mapstructure:"exchange"`
	Filter       FilterConfig       `mapstructure:"filter"`
	TradeStore   TradeStoreConfig   `mapstructure:"tradestore"`
	Baseline     BaselineConfig     `mapstructure:"baseline"`
	Percentile   PercentileConfig   `mapstructure:"percentile"`
	Anomaly      AnomalyConfig      `mapstructure:"anomaly"`
	AlertManager AlertManagerConfig `mapstructure:"alertmanager"`
	AlertStore   AlertStoreConfig   `mapstructure:"alertstore"`
	Discovery    DiscoveryConfig    `mapstructure:"discovery"`
	Monitor      MonitorConfig      `mapstructure:"monitor"`
	Health       HealthConfig       `mapstructure:"health"`
	Notifier     NotifierConfig     `mapstructure:"notifier"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Checkpoint   CheckpointConfig   `mapstructure:"checkpoint"`
	Embedding    EmbeddingConfig    `mapstructure:"embedding"`
	LLM          LLMConfig          `mapstructure:"llm"`
}

// ExchangeConfig holds the exchange HTTP/WS endpoints.
type ExchangeConfig struct {
	MarketsAPIURL       string        `mapstructure:"markets_api_url"`
	WSURL               string        `mapstructure:"ws_url"`
	LeaderStatusAPIURL  string        `mapstructure:"leader_status_api_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	WSOpenTimeout       time.Duration `mapstructure:"ws_open_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryDelayBase      time.Duration `mapstructure:"retry_delay_base"`
	ReconnectBackoff    time.Duration `mapstructure:"reconnect_backoff"`
	SubscribeBatchSize  int           `mapstructure:"subscribe_batch_size"`
	MarketRefreshPeriod time.Duration `mapstructure:"market_refresh_period"`
	MarketFetchCap      int           `mapstructure:"market_fetch_cap"`
	RateLimitPerSecond  float64       `mapstructure:"rate_limit_per_second"`
}

// FilterConfig holds Market Filter tunables (§4.1).
type FilterConfig struct {
	HotKeywords       []string `mapstructure:"hot_keywords"`
	InclusionKeywords []string `mapstructure:"inclusion_keywords"`
	ExclusionPatterns []string `mapstructure:"exclusion_patterns"`
	EndsWithinDays    int      `mapstructure:"ends_within_days"`
}

// TradeStoreConfig holds Trade Store tunables (§4.2).
type TradeStoreConfig struct {
	WindowSize     time.Duration `mapstructure:"window_size"`
	CleanupEvery   int           `mapstructure:"cleanup_every"`
}

// BaselineConfig holds Baseline Calculator tunables (§4.3, §6).
type BaselineConfig struct {
	WindowMs          int64 `mapstructure:"window_ms"`
	MinSamples        int   `mapstructure:"min_samples_for_baseline"`
}

// PercentileConfig holds Percentile Tracker tunables (§4.4, §6).
type PercentileConfig struct {
	LowPriceThreshold float64 `mapstructure:"low_price_threshold"`
	P90               float64 `mapstructure:"p90"`
	P95               float64 `mapstructure:"p95"`
	P99               float64 `mapstructure:"p99"`
	MaxSamples        int     `mapstructure:"max_samples"`
	MinSamples        int     `mapstructure:"min_samples"`
}

// AnomalyConfig holds Anomaly Engine thresholds (§4.5, §6).
type AnomalyConfig struct {
	LargeTradeMin       float64       `mapstructure:"large_trade_min"`
	LargeTradeHigh      float64       `mapstructure:"large_trade_high"`
	LargeTradeCritical  float64       `mapstructure:"large_trade_critical"`
	VolumeSpikeWindowMs int64         `mapstructure:"volume_spike_window_ms"`
	VolumeSpikeLow      float64       `mapstructure:"volume_spike_low"`
	VolumeSpikeHigh     float64       `mapstructure:"volume_spike_high"`
	VolumeSpikeCritical float64       `mapstructure:"volume_spike_critical"`
	PriceWindowMs       int64         `mapstructure:"price_window_ms"`
	PriceChangeLow      float64       `mapstructure:"price_change_low"`
	PriceChangeHigh     float64       `mapstructure:"price_change_high"`
	PriceChangeCritical float64       `mapstructure:"price_change_critical"`
	ZScoreLow           float64       `mapstructure:"z_score_low"`
	ZScoreHigh          float64       `mapstructure:"z_score_high"`
	ZScoreCritical      float64       `mapstructure:"z_score_critical"`
	MinSeverity         string        `mapstructure:"min_severity"`
}

// AlertManagerConfig holds Alert Manager tunables (§4.6, §6).
type AlertManagerConfig struct {
	CooldownMs      int64 `mapstructure:"cooldown_ms"`
	MaxAlertsPerHour int  `mapstructure:"max_alerts_per_hour"`
}

// AlertStoreConfig holds Alert Store tunables (§4.7).
type AlertStoreConfig struct {
	MaxAlerts     int           `mapstructure:"max_alerts"`
	SnapshotPath  string        `mapstructure:"snapshot_path"`
	PublishEvery  time.Duration `mapstructure:"publish_every"`
}

// DiscoveryConfig holds Discovery Pipeline tunables (§4.9, §6).
type DiscoveryConfig struct {
	ExcludedCategories []string      `mapstructure:"excluded_categories"`
	RescanInterval     time.Duration `mapstructure:"rescan_interval"`
	MinTimeGapDays     float64       `mapstructure:"min_time_gap_days"`
	MinConfidence      float64       `mapstructure:"min_confidence"`
	MaxPairsPerCluster int           `mapstructure:"max_pairs_per_cluster"`
	MinVolumeUSD       float64       `mapstructure:"min_volume_usd"`
	MinDaysToEnd       float64       `mapstructure:"min_days_to_end"`
	ClusterKMin        int           `mapstructure:"cluster_k_min"`
	ClusterKDivisor    int           `mapstructure:"cluster_k_divisor"`
	KMeansIterations   int           `mapstructure:"kmeans_iterations"`
	KMeansSeed         int64         `mapstructure:"kmeans_seed"`
	EmbeddingDim       int           `mapstructure:"embedding_dim"`
	StatePath          string        `mapstructure:"state_path"`
	MarketRetentionDays int          `mapstructure:"market_retention_days"`
}

// MonitorConfig holds Leader Monitor tunables (§4.11, §6).
type MonitorConfig struct {
	ResolutionCheckInterval time.Duration `mapstructure:"resolution_check_interval"`
	NearCertaintyThreshold  float64       `mapstructure:"near_certainty_threshold"`
	PerMarketDelay          time.Duration `mapstructure:"per_market_delay"`
}

// HealthConfig holds the readout endpoint's listen address.
type HealthConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// NotifierConfig holds the Telegram notifier settings (§6 external interfaces).
type NotifierConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig mirrors the teacher's telegram config block.
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// CheckpointConfig holds the optional warm-restart checkpoint store (SPEC_FULL §4).
type CheckpointConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// EmbeddingConfig holds the Discovery Pipeline's semantic-embedding HTTP
// provider settings. APIKey is typically supplied via the SURVEIL_EMBEDDING_API_KEY
// environment override rather than committed to the config file.
type EmbeddingConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LLMConfig holds the Discovery Pipeline's cluster-labeling / pair-evaluation
// LLM provider settings. APIKey is typically supplied via the
// SURVEIL_LLM_API_KEY environment override.
type LLMConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from path with environment-variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("SURVEIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.markets_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("exchange.ws_url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("exchange.leader_status_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("exchange.timeout", "30s")
	v.SetDefault("exchange.ws_open_timeout", "10s")
	v.SetDefault("exchange.max_retries", 3)
	v.SetDefault("exchange.retry_delay_base", "1s")
	v.SetDefault("exchange.reconnect_backoff", "5s")
	v.SetDefault("exchange.subscribe_batch_size", 100)
	v.SetDefault("exchange.market_refresh_period", "30m")
	v.SetDefault("exchange.market_fetch_cap", 2000)
	v.SetDefault("exchange.rate_limit_per_second", 5.0)

	v.SetDefault("filter.hot_keywords", []string{"resign", "indicted", "fomc", "ceasefire"})
	v.SetDefault("filter.inclusion_keywords", []string{
		"politics", "election", "president", "senate", "congress",
		"regulatory", "legal", "lawsuit", "sec", "fomc", "fed", "inflation",
		"gdp", "recession", "geopolitic", "war", "ceasefire", "treaty",
		"crypto", "bitcoin", "ethereum",
	})
	v.SetDefault("filter.exclusion_patterns", []string{
		"(?i)\\b(nfl|nba|mlb|nhl|soccer|tennis|golf)\\b",
		"(?i)\\b(oscars|grammys|box office|album of the year)\\b",
		"(?i)\\b(temperature|rainfall|snowfall|hurricane category)\\b",
		"(?i)\\bwill .* reach \\$\\d",
	})
	v.SetDefault("filter.ends_within_days", 7)

	v.SetDefault("tradestore.window_size", "24h")
	v.SetDefault("tradestore.cleanup_every", 50)

	v.SetDefault("baseline.window_ms", int64(86_400_000))
	v.SetDefault("baseline.min_samples_for_baseline", 100)

	v.SetDefault("percentile.low_price_threshold", 0.25)
	v.SetDefault("percentile.p90", 0.90)
	v.SetDefault("percentile.p95", 0.95)
	v.SetDefault("percentile.p99", 0.99)
	v.SetDefault("percentile.max_samples", 10000)
	v.SetDefault("percentile.min_samples", 50)

	v.SetDefault("anomaly.large_trade_min", 5000.0)
	v.SetDefault("anomaly.large_trade_high", 10000.0)
	v.SetDefault("anomaly.large_trade_critical", 25000.0)
	v.SetDefault("anomaly.volume_spike_window_ms", int64(300000))
	v.SetDefault("anomaly.volume_spike_low", 5.0)
	v.SetDefault("anomaly.volume_spike_high", 10.0)
	v.SetDefault("anomaly.volume_spike_critical", 20.0)
	v.SetDefault("anomaly.price_window_ms", int64(300000))
	v.SetDefault("anomaly.price_change_low", 0.05)
	v.SetDefault("anomaly.price_change_high", 0.10)
	v.SetDefault("anomaly.price_change_critical", 0.20)
	v.SetDefault("anomaly.z_score_low", 2.0)
	v.SetDefault("anomaly.z_score_high", 3.0)
	v.SetDefault("anomaly.z_score_critical", 4.0)
	v.SetDefault("anomaly.min_severity", "MEDIUM")

	v.SetDefault("alertmanager.cooldown_ms", int64(300000))
	v.SetDefault("alertmanager.max_alerts_per_hour", 20)

	v.SetDefault("alertstore.max_alerts", 1000)
	v.SetDefault("alertstore.snapshot_path", "./data/smart-money-alerts.json")
	v.SetDefault("alertstore.publish_every", "1h")

	v.SetDefault("discovery.excluded_categories", []string{"sports", "entertainment", "test"})
	v.SetDefault("discovery.rescan_interval", "24h")
	v.SetDefault("discovery.min_time_gap_days", 0.0)
	v.SetDefault("discovery.min_confidence", 0.5)
	v.SetDefault("discovery.max_pairs_per_cluster", 10)
	v.SetDefault("discovery.min_volume_usd", 10000.0)
	v.SetDefault("discovery.min_days_to_end", 7.0)
	v.SetDefault("discovery.cluster_k_min", 5)
	v.SetDefault("discovery.cluster_k_divisor", 10)
	v.SetDefault("discovery.kmeans_iterations", 10)
	v.SetDefault("discovery.kmeans_seed", int64(42))
	v.SetDefault("discovery.embedding_dim", 64)
	v.SetDefault("discovery.state_path", "./data/opportunity-state.json")
	v.SetDefault("discovery.market_retention_days", 30)

	v.SetDefault("monitor.resolution_check_interval", "30m")
	v.SetDefault("monitor.near_certainty_threshold", 0.90)
	v.SetDefault("monitor.per_market_delay", "200ms")

	v.SetDefault("health.listen_addr", ":8090")

	v.SetDefault("notifier.telegram.enabled", false)
	v.SetDefault("notifier.telegram.max_retries", 3)
	v.SetDefault("notifier.telegram.retry_delay_base", "1s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("checkpoint.enabled", false)
	v.SetDefault("checkpoint.db_path", "./data/checkpoint.db")

	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.timeout", "30s")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.timeout", "60s")
}

// Validate checks configuration values for internal consistency.
func (c *Config) Validate() error {
	if c.Exchange.MarketsAPIURL == "" {
		return fmt.Errorf("exchange.markets_api_url is required")
	}
	if c.Exchange.WSURL == "" {
		return fmt.Errorf("exchange.ws_url is required")
	}
	if c.Exchange.SubscribeBatchSize < 1 || c.Exchange.SubscribeBatchSize > 500 {
		return fmt.Errorf("exchange.subscribe_batch_size must be between 1 and 500")
	}
	if c.TradeStore.WindowSize < time.Minute {
		return fmt.Errorf("tradestore.window_size must be at least 1 minute")
	}
	if c.Percentile.MaxSamples < c.Percentile.MinSamples {
		return fmt.Errorf("percentile.max_samples must be >= percentile.min_samples")
	}
	if c.Percentile.LowPriceThreshold <= 0 || c.Percentile.LowPriceThreshold >= 1 {
		return fmt.Errorf("percentile.low_price_threshold must be within (0,1)")
	}
	validSeverity := map[string]bool{"LOW": true, "MEDIUM": true, "HIGH": true, "CRITICAL": true}
	if !validSeverity[c.Anomaly.MinSeverity] {
		return fmt.Errorf("anomaly.min_severity must be one of LOW, MEDIUM, HIGH, CRITICAL")
	}
	if c.AlertManager.MaxAlertsPerHour < 1 {
		return fmt.Errorf("alertmanager.max_alerts_per_hour must be at least 1")
	}
	if c.AlertStore.MaxAlerts < 1 {
		return fmt.Errorf("alertstore.max_alerts must be at least 1")
	}
	if c.Discovery.MinConfidence < 0 || c.Discovery.MinConfidence > 1 {
		return fmt.Errorf("discovery.min_confidence must be within [0,1]")
	}
	if c.Monitor.NearCertaintyThreshold <= 0 || c.Monitor.NearCertaintyThreshold > 1 {
		return fmt.Errorf("monitor.near_certainty_threshold must be within (0,1]")
	}
	if c.Notifier.Telegram.Enabled {
		if c.Notifier.Telegram.BotToken == "" {
			return fmt.Errorf("notifier.telegram.bot_token is required when telegram is enabled")
		}
		if c.Notifier.Telegram.ChatID == "" {
			return fmt.Errorf("notifier.telegram.chat_id is required when telegram is enabled")
		}
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	return nil
}
