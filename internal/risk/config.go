package risk

import "time"

// Config holds admission limits and circuit-breaker policy.
type Config struct {
	RiskPerTrade      float64 `json:"riskPerTrade" yaml:"risk_per_trade" validate:"gt=0,lte=1"`
	ScaleByConfidence bool    `json:"scaleByConfidence" yaml:"scale_by_confidence"`
	QtyPrecision      int32   `json:"qtyPrecision" yaml:"qty_precision" validate:"gte=0,lte=18"`

	MaxTradesPerMinute     int     `json:"maxTradesPerMinute" yaml:"max_trades_per_minute" validate:"gt=0"`
	MaxTradesPerDay        int     `json:"maxTradesPerDay" yaml:"max_trades_per_day" validate:"gt=0"`
	MaxPositionExposurePct float64 `json:"maxPositionExposurePct" yaml:"max_position_exposure_pct" validate:"gt=0"`
	MaxTotalExposurePct    float64 `json:"maxTotalExposurePct" yaml:"max_total_exposure_pct" validate:"gt=0"`

	MaxDailyDrawdown       float64       `json:"maxDailyDrawdown" yaml:"max_daily_drawdown" validate:"gt=0,lt=1"`
	MaxConsecutiveFailures int           `json:"maxConsecutiveFailures" yaml:"max_consecutive_failures" validate:"gte=0"`
	MaxFailedOrdersPerHour int           `json:"maxFailedOrdersPerHour" yaml:"max_failed_orders_per_hour" validate:"gte=0"`
	ConnectivityGrace      time.Duration `json:"connectivityGrace" yaml:"connectivity_grace" validate:"gte=0"`
	Cooldown               time.Duration `json:"cooldown" yaml:"cooldown" validate:"gte=0"`
	FlattenOnTrigger       bool          `json:"flattenOnTrigger" yaml:"flatten_on_trigger"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RiskPerTrade:           0.01,
		QtyPrecision:           6,
		MaxTradesPerMinute:     6,
		MaxTradesPerDay:        1200,
		MaxPositionExposurePct: 0.25,
		MaxTotalExposurePct:    0.80,
		MaxDailyDrawdown:       0.04,
		MaxConsecutiveFailures: 5,
		MaxFailedOrdersPerHour: 10,
		ConnectivityGrace:      30 * time.Second,
		Cooldown:               60 * time.Minute,
	}
}
