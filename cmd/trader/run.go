package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"tradecore/internal/chaos"
	"tradecore/internal/core"
	"tradecore/internal/feed"
	"tradecore/internal/obs"
	"tradecore/internal/og"
	"tradecore/internal/ops"
	"tradecore/internal/schema"
)

func runCmd() *cobra.Command {
	var reload time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the core in simulated or live mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := ops.Load(configPath)
			if err != nil {
				return err
			}
			if loaded.Mode == schema.ModeReplay {
				return errors.New("mode is replay, use the replay command")
			}
			return run(cmd.Context(), loaded, reload)
		},
	}
	cmd.Flags().DurationVar(&reload, "reload-interval", ops.ReloadInterval, "Config reload interval (0=disable)")
	return cmd
}

func run(ctx context.Context, loaded ops.Loaded, reload time.Duration) error {
	stopProfiler, err := obs.StartProfiler(loaded.Profiling)
	if err != nil {
		return err
	}
	defer stopProfiler()

	metrics := obs.NewMetrics()
	audit, err := core.OpenJournal(loaded.Journal, loaded.Mode, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := audit.Journal.Close(); err != nil {
			logs.Errorf("close journal failed, err: %+v", err)
		}
	}()

	ledger, seq, err := core.Recover(ctx, loaded.Journal, loaded.InitialCash)
	if err != nil {
		return err
	}
	audit.Journal.Resume(seq)

	gw, err := gateway(loaded)
	if err != nil {
		return err
	}

	cfg := core.ConfigFrom(loaded)
	cfg.Ledger = ledger
	cfg.Journal = audit.Journal
	cfg.Metrics = metrics
	if cfg.IDs, err = obs.NewSnowflake("ord", loaded.NodeID); err != nil {
		return err
	}
	if cfg.FlattenIDs, err = obs.NewSnowflake("flat", loaded.NodeID); err != nil {
		return err
	}
	c, err := core.New(cfg, gw)
	if err != nil {
		return err
	}
	defer func() {
		c.Close()
		if err := c.Checkpoint(loaded.Journal.SnapshotPath); err != nil {
			logs.Errorf("checkpoint failed, err: %+v", err)
		}
	}()

	srv := &http.Server{
		Addr:              loaded.Metrics.Listen,
		Handler:           newControl(c, audit, metrics).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return audit.Journal.Run(ctx) })
	eg.Go(func() error { return c.Run(ctx) })
	eg.Go(func() error {
		logs.Infof("control server listening, addr: %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "control server")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if loaded.Path != "" && reload > 0 {
		eg.Go(func() error {
			ops.Watch(ctx, loaded.Path, reload, c.Apply)
			return nil
		})
	}
	if loaded.Replay.Bars != "" {
		eg.Go(func() error { return playFeed(ctx, c, loaded.Replay) })
	}
	return eg.Wait()
}

// gateway builds the simulated venue or the live bridge.
func gateway(loaded ops.Loaded) (og.Gateway, error) {
	if loaded.Mode == schema.ModeLive {
		return og.NewBridge(loaded.Bridge), nil
	}
	simCfg := og.SimConfig{Fill: loaded.FillModel()}
	if loaded.Chaos.Enabled {
		engine, err := chaos.NewEngine(loaded.Chaos, func(ev og.Event, d time.Duration) og.Event {
			ev.Time = ev.Time.Add(d)
			return ev
		})
		if err != nil {
			return nil, errors.Wrap(err, "chaos config")
		}
		simCfg.Chaos = engine
		logs.Infof("chaos enabled, drop: %.3f, duplicate: %.3f, reorder: %d", loaded.Chaos.DropRate, loaded.Chaos.DuplicateRate, loaded.Chaos.ReorderWindow)
	}
	return og.NewSimGateway(simCfg), nil
}

// playFeed paces recorded bars into the core and submits recorded signals
// as their time passes.
func playFeed(ctx context.Context, c *core.Core, cfg ops.ReplayConfig) error {
	bars, err := feed.LoadBars(cfg.Bars)
	if err != nil {
		return err
	}
	var signals []schema.Signal
	if cfg.Signals != "" {
		if signals, err = feed.LoadSignals(cfg.Signals); err != nil {
			return err
		}
	}
	next := 0
	return feed.NewPlayer(bars, cfg.Speed).Run(ctx, func(ctx context.Context, bar schema.Bar) error {
		c.OnBar(ctx, bar)
		for next < len(signals) && !signals[next].Timestamp.After(bar.Time) {
			if err := c.Submit(signals[next]); err != nil {
				logs.Errorf("recorded signal dropped, index: %d, err: %+v", next, err)
			}
			next++
		}
		return nil
	})
}
