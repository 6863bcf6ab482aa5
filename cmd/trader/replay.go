package main

import (
	"os"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"go.uber.org/multierr"

	"tradecore/internal/core"
	"tradecore/internal/feed"
	"tradecore/internal/obs"
	"tradecore/internal/ops"
	"tradecore/internal/schema"
)

func replayCmd() *cobra.Command {
	var (
		bars    string
		signals string
		out     string
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded bars and signals and print a performance report",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			loaded, err := ops.Load(configPath)
			if err != nil {
				return err
			}
			if bars == "" {
				bars = loaded.Replay.Bars
			}
			if signals == "" {
				signals = loaded.Replay.Signals
			}
			if bars == "" {
				return errors.New("no bars to replay, set replay.bars or --bars")
			}

			barSet, err := feed.LoadBars(bars)
			if err != nil {
				return err
			}
			var sigSet []schema.Signal
			if signals != "" {
				if sigSet, err = feed.LoadSignals(signals); err != nil {
					return err
				}
			}

			metrics := obs.NewMetrics()
			audit, err := core.OpenJournal(loaded.Journal, schema.ModeReplay, metrics)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, audit.Journal.Close())
			}()

			cfg := core.ConfigFrom(loaded)
			cfg.Journal = audit.Journal
			cfg.Metrics = metrics
			replay, err := core.NewReplay(cfg, loaded.Execution.FillModel(schema.ModeReplay.String()), barSet, sigSet)
			if err != nil {
				return err
			}
			res, err := replay.Run(cmd.Context())
			if err != nil {
				return err
			}
			replay.Core().Close()

			report, err := sonic.ConfigStd.MarshalIndent(res, "", "  ")
			if err != nil {
				return errors.Wrap(err, "marshal report")
			}
			if out == "" {
				_, err = os.Stdout.Write(append(report, '\n'))
				return err
			}
			if err := os.WriteFile(out, report, 0o644); err != nil {
				return errors.Wrapf(err, "write report %s", out)
			}
			logs.Infof("replay report written, path: %s, total return: %.4f, max drawdown: %.4f", out, res.Performance.TotalReturn, res.Performance.MaxDrawdown)
			return nil
		},
	}
	cmd.Flags().StringVar(&bars, "bars", "", "Glob of bar CSV files (default: replay.bars)")
	cmd.Flags().StringVar(&signals, "signals", "", "Signals JSONL file (default: replay.signals)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Report output path (default: stdout)")
	return cmd
}
