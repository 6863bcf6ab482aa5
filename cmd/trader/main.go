package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "trader",
		Short:         "Trading control core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to YAML or JSON config")
	root.AddCommand(runCmd(), replayCmd())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	err := root.ExecuteContext(ctx)
	cancel()
	if err != nil {
		logs.Errorf("trader: %+v", err)
		os.Exit(1)
	}
}
