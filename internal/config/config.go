// Package config defines all configuration for the box-arb execution core.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ARB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Kalshi     KalshiConfig     `mapstructure:"kalshi"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Unwind     UnwindConfig     `mapstructure:"unwind"`
	PreClose   PreCloseConfig   `mapstructure:"pre_close"`
	Volatility VolatilityConfig `mapstructure:"volatility"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// PolymarketConfig holds the Ethereum wallet and CLOB endpoints used to
// sign and submit Polymarket orders.
type PolymarketConfig struct {
	PrivateKey               string `mapstructure:"private_key"`
	SignatureType            int    `mapstructure:"signature_type"`
	FunderAddress            string `mapstructure:"funder_address"`
	ChainID                  int    `mapstructure:"chain_id"`
	CLOBBaseURL              string `mapstructure:"clob_base_url"`
	WSMarketURL              string `mapstructure:"ws_market_url"`
	ApiKey                   string `mapstructure:"api_key"`
	Secret                   string `mapstructure:"secret"`
	Passphrase               string `mapstructure:"passphrase"`
	RPCURL                   string `mapstructure:"rpc_url"`                    // Polygon JSON-RPC endpoint for on-chain balance reads
	ConditionalTokensAddress string `mapstructure:"conditional_tokens_address"` // CTF ERC-1155 contract
	CollateralAddress        string `mapstructure:"collateral_address"`         // USDC ERC-20 contract
}

// KalshiConfig holds the RSA key and REST/WS endpoints for the Kalshi adapter.
type KalshiConfig struct {
	AccessKeyID    string `mapstructure:"access_key_id"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	BaseURL        string `mapstructure:"base_url"`
	WSBaseURL      string `mapstructure:"ws_base_url"`
}

// RiskConfig sets hard limits evaluated by internal/guards and
// internal/state before every execution.
//
//   - MinEdgeNet: minimum net edge for an opportunity to pass guards.
//   - MaxNotional: cap on total deployed notional across all pending boxes.
//   - MaxDailyLoss: kill-switch threshold on daily realized + unwind loss.
//   - MaxOpenOrdersPerVenue: limit checked by guards.MaxOpenOrdersPerVenue;
//     guards.RunAll does not include that guard, so no execution path
//     evaluates it.
//   - CooldownAfterFailure: executor cooldown after a hedge/unwind failure.
//   - LegOrderTimeout: wall-clock budget per leg submission.
//   - MinPartialFillQty: below this, a Leg A partial fill is unwound, not hedged.
//   - SlippageBufferPerLeg: loaded from config; no component reads it.
type RiskConfig struct {
	MinEdgeNet           float64       `mapstructure:"min_edge_net"`
	MaxNotional          float64       `mapstructure:"max_notional"`
	MaxDailyLoss         float64       `mapstructure:"max_daily_loss"`
	MaxOpenOrdersPerVenue int          `mapstructure:"max_open_orders_per_venue"`
	CooldownAfterFailure time.Duration `mapstructure:"cooldown_after_failure"`
	LegOrderTimeout      time.Duration `mapstructure:"leg_order_timeout"`
	MinPartialFillQty    float64       `mapstructure:"min_partial_fill_qty"`
	SlippageBufferPerLeg float64       `mapstructure:"slippage_buffer_per_leg"`
}

// ExecutorConfig tunes the two-phase commit orchestrator's own behavior
// beyond the shared risk limits above.
type ExecutorConfig struct {
	PositionBalanceEpsilon float64 `mapstructure:"position_balance_epsilon"`
}

// UnwindConfig tunes the ladder-then-market unwind algorithm (§4.4).
type UnwindConfig struct {
	LadderSteps         int           `mapstructure:"ladder_steps"`
	LadderStepSize      float64       `mapstructure:"ladder_step_size"`
	LadderStepTimeout   time.Duration `mapstructure:"ladder_step_timeout"`
	MaxTotalTime        time.Duration `mapstructure:"max_total_time"`
	MarketFallbackRetries int         `mapstructure:"market_fallback_retries"`
}

// PreCloseConfig tunes the pre-close safety unwind timer (§4.6).
type PreCloseConfig struct {
	PreCloseWindow time.Duration `mapstructure:"pre_close_window"`
	RetainPct      float64       `mapstructure:"retain_pct"`
}

// VolatilityConfig tunes the oscillation-detection exit state machine (§4.7).
type VolatilityConfig struct {
	Enabled                bool          `mapstructure:"enabled"`
	MonitoringWindow       time.Duration `mapstructure:"monitoring_window"`
	HaltWindow             time.Duration `mapstructure:"halt_window"`
	CrossingThreshold      int           `mapstructure:"crossing_threshold"`
	RangeThresholdMinUSD   float64       `mapstructure:"range_threshold_min_usd"`
	RangeThresholdMaxUSD   float64       `mapstructure:"range_threshold_max_usd"`
	PatientThreshold       time.Duration `mapstructure:"patient_threshold"`
	BreakevenThreshold     time.Duration `mapstructure:"breakeven_threshold"`
	MinProfitPerShare      float64       `mapstructure:"min_profit_per_share"`
	SellPriceOffset        float64       `mapstructure:"sell_price_offset"`
	FailedTriggerCooldown  time.Duration `mapstructure:"failed_trigger_cooldown"`
	RingBufferSize         int           `mapstructure:"ring_buffer_size"`
}

// JournalConfig sets where the append-only execution audit log is written.
type JournalConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides. An optional
// .env file is loaded first (if present) so local credential files can
// populate the same environment variables viper reads.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("ARB_POLYMARKET_PRIVATE_KEY"); key != "" {
		cfg.Polymarket.PrivateKey = key
	}
	if key := os.Getenv("ARB_POLYMARKET_API_KEY"); key != "" {
		cfg.Polymarket.ApiKey = key
	}
	if secret := os.Getenv("ARB_POLYMARKET_SECRET"); secret != "" {
		cfg.Polymarket.Secret = secret
	}
	if pass := os.Getenv("ARB_POLYMARKET_PASSPHRASE"); pass != "" {
		cfg.Polymarket.Passphrase = pass
	}
	if path := os.Getenv("ARB_KALSHI_PRIVATE_KEY_PATH"); path != "" {
		cfg.Kalshi.PrivateKeyPath = path
	}
	if key := os.Getenv("ARB_KALSHI_ACCESS_KEY_ID"); key != "" {
		cfg.Kalshi.AccessKeyID = key
	}
	if os.Getenv("ARB_DRY_RUN") == "true" || os.Getenv("ARB_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Polymarket.PrivateKey == "" {
		return fmt.Errorf("polymarket.private_key is required (set ARB_POLYMARKET_PRIVATE_KEY)")
	}
	if c.Polymarket.ChainID == 0 {
		return fmt.Errorf("polymarket.chain_id is required (137 for mainnet)")
	}
	switch c.Polymarket.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("polymarket.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Polymarket.CLOBBaseURL == "" {
		return fmt.Errorf("polymarket.clob_base_url is required")
	}
	if c.Polymarket.RPCURL == "" {
		return fmt.Errorf("polymarket.rpc_url is required for on-chain balance reads")
	}
	if c.Polymarket.ConditionalTokensAddress == "" {
		return fmt.Errorf("polymarket.conditional_tokens_address is required")
	}
	if c.Polymarket.CollateralAddress == "" {
		return fmt.Errorf("polymarket.collateral_address is required")
	}
	if c.Kalshi.PrivateKeyPath == "" {
		return fmt.Errorf("kalshi.private_key_path is required (set ARB_KALSHI_PRIVATE_KEY_PATH)")
	}
	if c.Kalshi.BaseURL == "" {
		return fmt.Errorf("kalshi.base_url is required")
	}
	if c.Risk.MinEdgeNet < 0 {
		return fmt.Errorf("risk.min_edge_net must be >= 0")
	}
	if c.Risk.MaxNotional <= 0 {
		return fmt.Errorf("risk.max_notional must be > 0")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be > 0")
	}
	if c.Risk.LegOrderTimeout <= 0 {
		return fmt.Errorf("risk.leg_order_timeout must be > 0")
	}
	if c.Unwind.LadderSteps <= 0 {
		return fmt.Errorf("unwind.ladder_steps must be > 0")
	}
	if c.PreClose.RetainPct < 0 || c.PreClose.RetainPct >= 1 {
		return fmt.Errorf("pre_close.retain_pct must be in [0, 1)")
	}
	if c.Volatility.Enabled && c.Volatility.RingBufferSize <= 0 {
		return fmt.Errorf("volatility.ring_buffer_size must be > 0 when volatility.enabled")
	}
	return nil
}
