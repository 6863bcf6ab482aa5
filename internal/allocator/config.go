package allocator

import "time"

const (
	PolicyEqualWeight = "equal_weight"
	PolicyRiskParity  = "risk_parity"
	PolicyMomentum    = "momentum"
)

// Config controls rebalancing.
type Config struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Policy   string        `json:"policy" yaml:"policy" validate:"oneof=equal_weight risk_parity momentum"`
	Symbols  []string      `json:"symbols" yaml:"symbols"`
	Interval time.Duration `json:"interval" yaml:"interval" validate:"gte=0"`

	DriftThreshold float64 `json:"driftThreshold" yaml:"drift_threshold" validate:"gte=0,lte=1"`
	CostAware      bool    `json:"costAware" yaml:"cost_aware"`
	FeeBps         float64 `json:"feeBps" yaml:"fee_bps" validate:"gte=0"`
	SlippageBps    float64 `json:"slippageBps" yaml:"slippage_bps" validate:"gte=0"`

	// Lookback is the number of returns used by risk_parity and momentum.
	Lookback        int     `json:"lookback" yaml:"lookback" validate:"gte=0"`
	TargetAnnualVol float64 `json:"targetAnnualVol" yaml:"target_annual_vol" validate:"gte=0"`
	PeriodsPerYear  float64 `json:"periodsPerYear" yaml:"periods_per_year" validate:"gte=0"`

	// StopPct places the stop of rebalancing signals; the target sits at twice
	// the distance.
	StopPct float64 `json:"stopPct" yaml:"stop_pct" validate:"gte=0,lt=0.5"`
}

// DefaultConfig rebalances daily with a 5% drift band.
func DefaultConfig() Config {
	return Config{
		Policy:          PolicyRiskParity,
		Interval:        24 * time.Hour,
		DriftThreshold:  0.05,
		CostAware:       true,
		FeeBps:          10,
		SlippageBps:     2,
		Lookback:        20,
		TargetAnnualVol: 0.25,
		PeriodsPerYear:  365,
		StopPct:         0.02,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Policy == "" {
		c.Policy = def.Policy
	}
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.Lookback <= 0 {
		c.Lookback = def.Lookback
	}
	if c.TargetAnnualVol <= 0 {
		c.TargetAnnualVol = def.TargetAnnualVol
	}
	if c.PeriodsPerYear <= 0 {
		c.PeriodsPerYear = def.PeriodsPerYear
	}
	if c.StopPct <= 0 {
		c.StopPct = def.StopPct
	}
	return c
}
