package state

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const defaultMaxSamples = 100_000

// Performance keeps a bounded equity curve and closed-trade tallies.
type Performance struct {
	max    int
	times  []time.Time
	equity []float64

	wins   int
	losses int
}

// Report summarizes the equity curve.
type Report struct {
	Samples     int       `json:"samples"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	StartEquity float64   `json:"startEquity"`
	EndEquity   float64   `json:"endEquity"`
	TotalReturn float64   `json:"totalReturn"`
	MaxDrawdown float64   `json:"maxDrawdown"`
	Sharpe      float64   `json:"sharpe"`
	Sortino     float64   `json:"sortino"`
	Trades      int       `json:"trades"`
	WinRate     float64   `json:"winRate"`
}

// NewPerformance creates a tracker keeping at most max samples.
func NewPerformance(max int) *Performance {
	if max <= 0 {
		max = defaultMaxSamples
	}
	return &Performance{max: max}
}

// Sample appends an equity observation.
func (p *Performance) Sample(ts time.Time, equity decimal.Decimal) {
	if p == nil {
		return
	}
	if len(p.equity) == p.max {
		p.times = p.times[1:]
		p.equity = p.equity[1:]
	}
	p.times = append(p.times, ts)
	p.equity = append(p.equity, equity.InexactFloat64())
}

// RecordClose tallies a position reduction by its realized PnL.
func (p *Performance) RecordClose(pnl decimal.Decimal) {
	if p == nil {
		return
	}
	if pnl.IsPositive() {
		p.wins++
	} else {
		p.losses++
	}
}

// Report computes the summary. Ratios are per sample period.
func (p *Performance) Report() Report {
	if p == nil || len(p.equity) == 0 {
		return Report{}
	}
	n := len(p.equity)
	r := Report{
		Samples:     n,
		Start:       p.times[0],
		End:         p.times[n-1],
		StartEquity: p.equity[0],
		EndEquity:   p.equity[n-1],
		Trades:      p.wins + p.losses,
	}
	if r.StartEquity != 0 {
		r.TotalReturn = r.EndEquity/r.StartEquity - 1
	}
	if r.Trades > 0 {
		r.WinRate = float64(p.wins) / float64(r.Trades)
	}

	peak := p.equity[0]
	for _, v := range p.equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > r.MaxDrawdown {
				r.MaxDrawdown = dd
			}
		}
	}

	if n < 2 {
		return r
	}
	returns := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if p.equity[i-1] == 0 {
			continue
		}
		returns = append(returns, p.equity[i]/p.equity[i-1]-1)
	}
	mean, std, downside := moments(returns)
	if std > 0 {
		r.Sharpe = mean / std
	}
	if downside > 0 {
		r.Sortino = mean / downside
	}
	return r
}

func moments(xs []float64) (mean, std, downside float64) {
	if len(xs) == 0 {
		return 0, 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sq, down float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
		if x < 0 {
			down += x * x
		}
	}
	std = math.Sqrt(sq / float64(len(xs)))
	downside = math.Sqrt(down / float64(len(xs)))
	return mean, std, downside
}
