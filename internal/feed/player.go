package feed

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"tradecore/internal/clock"
	"tradecore/internal/schema"
)

// Player feeds bars at a multiple of their recorded pace. Speed 0 plays
// them back to back.
type Player struct {
	bars    []schema.Bar
	speed   float64
	sleeper clock.Sleeper
}

// NewPlayer creates a player over bars sorted by time.
func NewPlayer(bars []schema.Bar, speed float64) *Player {
	return &Player{bars: bars, speed: speed, sleeper: clock.Real{}}
}

func (p *Player) WithSleeper(s clock.Sleeper) *Player {
	if s != nil {
		p.sleeper = s
	}
	return p
}

// Run calls fn for every bar until the feed ends, fn fails or ctx is done.
func (p *Player) Run(ctx context.Context, fn func(context.Context, schema.Bar) error) error {
	var prev time.Time
	for i, bar := range p.bars {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if p.speed > 0 && !prev.IsZero() {
			gap := time.Duration(float64(bar.Time.Sub(prev)) / p.speed)
			if err := p.sleeper.Sleep(ctx, gap); err != nil {
				return nil
			}
		}
		prev = bar.Time
		if err := fn(ctx, bar); err != nil {
			logs.Errorf("feed stopped, bar: %d, symbol: %s, err: %+v", i, bar.Symbol, err)
			return err
		}
	}
	logs.Infof("feed finished, bars: %d", len(p.bars))
	return nil
}

func (p *Player) Len() int {
	return len(p.bars)
}
