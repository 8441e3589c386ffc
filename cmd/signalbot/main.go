// Command signalbot runs the RSI/SMA crossover engine against Binance
// USDⓈ-M futures.
package main

import (
	"fmt"
	"os"

	"futures-signal-engine/config"
	"futures-signal-engine/internal/logger"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitOK     = 0
	exitError  = 1
	exitFailed = 2 // cycle ended FAILED
)

var cfg *config.Config

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "signalbot",
		Short:         "RSI/SMA crossover signal-to-order engine for Binance futures",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load()
			if err != nil {
				return err
			}
			level, err := logger.ParseLevel(c.LogLevel)
			if err != nil {
				return err
			}
			logger.Init("signalbot", level)
			cfg = c
			return nil
		},
	}

	root.AddCommand(newRunCmd(), newCycleCmd(), newIndicatorsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "signalbot: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitOK)
}
