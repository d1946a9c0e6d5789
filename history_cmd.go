package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vrct-tts/connector/internal/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:     "history",
	Short:   "Show recent synthesis requests",
	Example: paragraph("vrct-tts history\nvrct-tts history --limit 50"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !viper.GetBool("history.enabled") {
			return errors.New("history is disabled in the configuration")
		}

		s, err := openHistory(cmd.Context())
		if err != nil {
			return err
		}
		defer closeLogged("history", s.Close)

		records, err := s.Recent(cmd.Context(), historyLimit)
		if err != nil {
			return fmt.Errorf("unable to read history: %w", err)
		}
		printHistory(cmd, records)
		return nil
	},
}

func printHistory(cmd *cobra.Command, records []history.Record) {
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, faint("no requests recorded yet"))
		return
	}

	for _, r := range records {
		status := keyword("ok  ")
		if !r.OK() {
			status = failed(runewidth.FillRight(strconv.Itoa(r.Code), 4))
		}
		source := r.Engine
		if r.CacheHit {
			source += " (cached)"
		}
		fmt.Fprintf(out, "%s %s %s %s %s\n",
			faint(runewidth.FillRight(humanize.Time(r.CreatedAt), 16)),
			status,
			runewidth.FillRight(source, 17),
			faint(runewidth.FillLeft(humanize.Bytes(uint64(r.Bytes)), 8)), //nolint:gosec
			runewidth.Truncate(r.Text, 48, "…"))
	}
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of requests to show")
}
