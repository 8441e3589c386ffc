package main

import (
	"fmt"
	"text/tabwriter"

	"futures-signal-engine/internal/exchange/binance"
	"futures-signal-engine/internal/indicator"
	"futures-signal-engine/internal/model"
	"futures-signal-engine/internal/strategy"

	"github.com/spf13/cobra"
)

func newIndicatorsCmd() *cobra.Command {
	var (
		symbol   string
		interval string
		rsi      int
		sma      int
		limit    int
		rows     int
	)
	cmd := &cobra.Command{
		Use:   "indicators",
		Short: "Fetch candles and print the RSI and SMA-of-RSI series with the current signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := cfg.Strategy.Params()
			if symbol != "" {
				p.Symbol = symbol
			}
			if interval != "" {
				p.Interval = interval
			}
			if rsi > 0 {
				p.RSIPeriod = rsi
			}
			if sma > 0 {
				p.SMAPeriod = sma
			}
			if limit > 0 {
				p.KlineLimit = limit
			}
			if err := p.Validate(); err != nil {
				return err
			}

			client := binance.NewClient(binance.Config{Testnet: cfg.Testnet, RateLimit: cfg.ExchangeRateLimit})
			klines, err := client.GetKlines(cmd.Context(), p.Symbol, p.Interval, p.Limit())
			if err != nil {
				return err
			}
			ev, err := strategy.Evaluate(model.Closes(klines), p.RSIPeriod, p.SMAPeriod)
			if err != nil {
				return err
			}

			start := 0
			if rows > 0 && len(klines) > rows {
				start = len(klines) - rows
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "OPEN TIME\tCLOSE\tRSI\tSMA")
			for i := start; i < len(klines); i++ {
				fmt.Fprintf(tw, "%s\t%g\t%s\t%s\n",
					klines[i].OpenTime.UTC().Format("2006-01-02 15:04"),
					klines[i].Close, cell(ev.RSI, i), cell(ev.SMA, i))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s %s rsi=%d sma=%d signal=%s\n",
				p.Symbol, p.Interval, p.RSIPeriod, p.SMAPeriod, ev.Signal)
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "override SYMBOL")
	cmd.Flags().StringVar(&interval, "interval", "", "override INTERVAL")
	cmd.Flags().IntVar(&rsi, "rsi", 0, "override RSI_PERIOD")
	cmd.Flags().IntVar(&sma, "sma", 0, "override SMA_PERIOD")
	cmd.Flags().IntVar(&limit, "limit", 0, "override KLINE_LIMIT")
	cmd.Flags().IntVar(&rows, "rows", 20, "rows to print, 0 for all")
	return cmd
}

func cell(s indicator.Series, i int) string {
	if i >= len(s) || !s[i].Valid {
		return "-"
	}
	return fmt.Sprintf("%.4f", s[i].Value)
}
