package main

import (
	"encoding/json"
	"os"

	"futures-signal-engine/internal/execution"

	"github.com/spf13/cobra"
)

func newCycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run exactly one cycle and print its result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.scheduler(cfg.Strategy.Params).RunNow(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if res.Outcome == execution.OutcomeFailed {
				a.Close()
				os.Exit(exitFailed)
			}
			return nil
		},
	}
}
