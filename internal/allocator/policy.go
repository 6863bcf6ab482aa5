package allocator

import (
	"math"

	"github.com/markcheno/go-talib"
	"github.com/yanun0323/errors"
)

const (
	minVolSamples = 20
	defaultVol    = 0.01
)

// Policy turns price history into target weights. Weights are fractions of
// equity and sum to at most 1.
type Policy interface {
	Name() string
	Weights(symbols []string, closes map[string][]float64) map[string]float64
}

// NewPolicy resolves the configured policy once.
func NewPolicy(cfg Config) (Policy, error) {
	cfg = cfg.withDefaults()
	switch cfg.Policy {
	case PolicyEqualWeight:
		return EqualWeight{}, nil
	case PolicyRiskParity:
		return RiskParity{Lookback: cfg.Lookback, TargetAnnualVol: cfg.TargetAnnualVol, PeriodsPerYear: cfg.PeriodsPerYear}, nil
	case PolicyMomentum:
		return Momentum{Lookback: cfg.Lookback}, nil
	default:
		return nil, errors.Errorf("unknown allocation policy: %s", cfg.Policy)
	}
}

// EqualWeight splits equity evenly.
type EqualWeight struct{}

func (EqualWeight) Name() string { return PolicyEqualWeight }

func (EqualWeight) Weights(symbols []string, _ map[string][]float64) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return out
	}
	w := 1 / float64(len(symbols))
	for _, s := range symbols {
		out[s] = w
	}
	return out
}

// RiskParity weights by inverse annualized volatility and scales the book
// down to the volatility target. It never levers up.
type RiskParity struct {
	Lookback        int
	TargetAnnualVol float64
	PeriodsPerYear  float64
}

func (RiskParity) Name() string { return PolicyRiskParity }

func (p RiskParity) Weights(symbols []string, closes map[string][]float64) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return out
	}
	vols := make(map[string]float64, len(symbols))
	inv := 0.0
	for _, s := range symbols {
		v := p.annualVol(closes[s])
		vols[s] = v
		inv += 1 / v
	}

	portfolioVol := 0.0
	for _, s := range symbols {
		out[s] = (1 / vols[s]) / inv
		portfolioVol += out[s] * vols[s]
	}
	scale := 1.0
	if portfolioVol > 0 && p.TargetAnnualVol > 0 {
		scale = math.Min(p.TargetAnnualVol/portfolioVol, 1)
	}
	for s := range out {
		out[s] *= scale
	}
	return out
}

func (p RiskParity) annualVol(closes []float64) float64 {
	returns := pctChange(tail(closes, p.Lookback+1))
	if len(returns) < minVolSamples {
		return defaultVol
	}
	std := talib.StdDev(returns, len(returns), 1)
	v := std[len(std)-1] * math.Sqrt(p.PeriodsPerYear)
	if v <= 0 || math.IsNaN(v) {
		return defaultVol
	}
	return v
}

// Momentum weights by positive rate of change over the lookback and falls
// back to equal weight when nothing trends up.
type Momentum struct {
	Lookback int
}

func (Momentum) Name() string { return PolicyMomentum }

func (p Momentum) Weights(symbols []string, closes map[string][]float64) map[string]float64 {
	scores := make(map[string]float64, len(symbols))
	total := 0.0
	for _, s := range symbols {
		series := closes[s]
		if p.Lookback <= 0 || len(series) <= p.Lookback {
			continue
		}
		roc := talib.Roc(series, p.Lookback)
		score := roc[len(roc)-1] / 100
		if score > 0 && !math.IsInf(score, 0) {
			scores[s] = score
			total += score
		}
	}
	if total == 0 {
		return EqualWeight{}.Weights(symbols, closes)
	}
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		out[s] = scores[s] / total
	}
	return out
}

func tail(xs []float64, n int) []float64 {
	if n <= 0 || len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

func pctChange(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}
