package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vrct-tts/connector/internal/audio"
)

var devicesHost string

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Short:   "List audio output devices",
	Long:    paragraph(fmt.Sprintf("\nList playback devices grouped by host API. Use the %s as primary_device or secondary_device.", keyword("index"))),
	Example: paragraph("vrct-tts devices\nvrct-tts devices --host wasapi"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		router, err := newRouter()
		if err != nil {
			return err
		}
		defer closeLogged("audio", router.Close)

		devices, err := router.Devices(devicesHost)
		if err != nil {
			return fmt.Errorf("unable to list devices: %w", err)
		}
		if len(devices) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), faint("no output devices found"))
			return nil
		}

		hosts, groups := audio.GroupByHost(devices)
		out := cmd.OutOrStdout()
		for i, host := range hosts {
			if i > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "%s %s\n", heading(host), faint(fmt.Sprintf("(%s devices)", humanize.Comma(int64(len(groups[host]))))))
			for _, d := range groups[host] {
				mark := " "
				if d.Default {
					mark = keyword("*")
				}
				fmt.Fprintf(out, "  %s %3d  %s\n", mark, d.Index, d.Name)
			}
		}
		return nil
	},
}

func init() {
	devicesCmd.Flags().StringVar(&devicesHost, "host", "", "only list devices of this host API")
}
