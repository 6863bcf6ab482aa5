package execution

import (
	"time"

	"tradecore/internal/og"
	"tradecore/pkg/backoff"
)

// Config controls order routing.
type Config struct {
	CallTimeout time.Duration   `json:"callTimeout" yaml:"call_timeout" validate:"gt=0"`
	MaxAttempts int             `json:"maxAttempts" yaml:"max_attempts" validate:"gte=1,lte=10"`
	Backoff     backoff.Backoff `json:"backoff" yaml:"backoff"`

	// Synchronous places orders inline on Submit. Replay sets it.
	Synchronous bool `json:"-" yaml:"-"`
	// EscalateMismatches counts reconciliation mismatches toward the
	// breaker's failure streak.
	EscalateMismatches bool `json:"escalateMismatches" yaml:"escalate_mismatches"`

	// Fees holds the fill model per mode; the router only reports it.
	Fees map[string]og.FillModel `json:"fees" yaml:"fees"`
}

// DefaultConfig returns routing defaults: 3 attempts, 1s doubling backoff.
func DefaultConfig() Config {
	return Config{
		CallTimeout: 10 * time.Second,
		MaxAttempts: 3,
		Backoff:     backoff.Default(),
		Fees: map[string]og.FillModel{
			"replay":    {FeeBps: 10, SlippageBps: 2},
			"simulated": {FeeBps: 10, SlippageBps: 2},
			"live":      {FeeBps: 10, SlippageBps: 2},
		},
	}
}

// FillModel returns the model configured for mode, or the defaults.
func (c Config) FillModel(mode string) og.FillModel {
	if m, ok := c.Fees[mode]; ok {
		return m
	}
	return og.FillModel{FeeBps: 10, SlippageBps: 2}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.Backoff == (backoff.Backoff{}) {
		c.Backoff = def.Backoff
	}
	return c
}
