package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/example/go-style-transfer/internal/logging"
	"github.com/example/go-style-transfer/internal/server"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show engine counters of a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.ListenAddr
			}

			report, err := server.FetchStats(cmd.Context(), addr)
			if err != nil {
				return err
			}

			renderStats(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP server address to query")

	return cmd
}

func renderStats(w io.Writer, r server.StatsReport) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	if logging.IsTerminal(w) {
		tw.Style().Color.Header = text.Colors{text.Bold}
	}

	tw.AppendHeader(table.Row{"Field", "Value"})

	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	tw.AppendRows([]table.Row{
		{"state", r.State},
		{"logical size", r.Sizes.Logical},
		{"model size", r.Sizes.Model},
		{"output size", r.Sizes.Output},
		{"cycles", u(r.Cycles)},
		{"failures", u(r.Failures)},
		{"input drops", u(r.InputDrops)},
		{"unread drops", u(r.UnreadDrops)},
		{"discarded", u(r.Discarded)},
		{"last inference", fmt.Sprintf("%d ms", r.LastInferenceMS)},
	})
	if r.LastError != "" {
		tw.AppendRow(table.Row{"last error", r.LastError})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})

	tw.Render()
}
