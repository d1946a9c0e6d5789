package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vrct-tts/connector/internal/cache"
)

var cacheOlderThan time.Duration

var (
	cacheCmd = &cobra.Command{
		Use:     "cache",
		Short:   "Show the audio cache",
		Example: paragraph("vrct-tts cache\nvrct-tts cache clear --older-than 168h"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newCache()
			if err != nil {
				return err
			}
			defer closeLogged("cache", m.Close)

			printCacheStats(cmd, m.Stats())
			return nil
		},
	}

	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete cached audio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newCache()
			if err != nil {
				return err
			}
			defer closeLogged("cache", m.Close)

			before := m.Stats()
			if cacheOlderThan > 0 {
				n := m.Prune(cacheOlderThan)
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries older than %s\n", n, cacheOlderThan)
				return nil
			}
			if err := m.Clear(); err != nil {
				return fmt.Errorf("unable to clear cache: %w", err)
			}
			if before.Disk != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries (%s)\n",
					before.Disk.ItemCount, humanize.Bytes(uint64(before.Disk.Size))) //nolint:gosec
			}
			return nil
		},
	}
)

func printCacheStats(cmd *cobra.Command, s cache.ManagerStats) {
	out := cmd.OutOrStdout()
	if s.Disk == nil {
		fmt.Fprintln(out, faint("disk cache disabled"))
		return
	}
	fmt.Fprintf(out, "%s %d entries, %s of %s\n", heading("disk"),
		s.Disk.ItemCount,
		humanize.Bytes(uint64(s.Disk.Size)),     //nolint:gosec
		humanize.Bytes(uint64(s.Disk.Capacity))) //nolint:gosec
	if !s.Disk.LastEvict.IsZero() {
		fmt.Fprintf(out, "%s %s\n", faint("last eviction"), humanize.Time(s.Disk.LastEvict))
	}
}

func init() {
	cacheClearCmd.Flags().DurationVar(&cacheOlderThan, "older-than", 0, "only remove entries created before this age")
	cacheCmd.AddCommand(cacheClearCmd)
}
