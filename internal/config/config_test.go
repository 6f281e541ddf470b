package config

import "testing"

func validConfig() *Config {
	return &Config{
		Polymarket: PolymarketConfig{
			PrivateKey:  "deadbeef",
			ChainID:     137,
			CLOBBaseURL: "https://clob.polymarket.com",
			RPCURL:      "https://polygon-rpc.example",
			ConditionalTokensAddress: "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045",
			CollateralAddress:        "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
		},
		Kalshi: KalshiConfig{
			PrivateKeyPath: "/etc/arb/kalshi.pem",
			BaseURL:        "https://api.elections.kalshi.com",
		},
		Risk: RiskConfig{
			MinEdgeNet:      0.01,
			MaxNotional:     5000,
			MaxDailyLoss:    500,
			LegOrderTimeout: 1,
		},
		Unwind: UnwindConfig{LadderSteps: 5},
		PreClose: PreCloseConfig{RetainPct: 0.05},
	}
}

func TestValidateOK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidateMissingFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing polymarket key", func(c *Config) { c.Polymarket.PrivateKey = "" }},
		{"missing chain id", func(c *Config) { c.Polymarket.ChainID = 0 }},
		{"bad signature type", func(c *Config) { c.Polymarket.SignatureType = 9 }},
		{"missing clob url", func(c *Config) { c.Polymarket.CLOBBaseURL = "" }},
		{"missing kalshi key path", func(c *Config) { c.Kalshi.PrivateKeyPath = "" }},
		{"missing kalshi base url", func(c *Config) { c.Kalshi.BaseURL = "" }},
		{"negative edge", func(c *Config) { c.Risk.MinEdgeNet = -0.1 }},
		{"zero max notional", func(c *Config) { c.Risk.MaxNotional = 0 }},
		{"zero max daily loss", func(c *Config) { c.Risk.MaxDailyLoss = 0 }},
		{"zero leg timeout", func(c *Config) { c.Risk.LegOrderTimeout = 0 }},
		{"zero ladder steps", func(c *Config) { c.Unwind.LadderSteps = 0 }},
		{"retain pct out of range", func(c *Config) { c.PreClose.RetainPct = 1 }},
		{"volatility ring buffer missing", func(c *Config) {
			c.Volatility.Enabled = true
			c.Volatility.RingBufferSize = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}
