package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/sflow/pkg/audio/portaudio"
)

func newDevicesCmd(_ *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := portaudio.Init(); err != nil {
				return err
			}
			defer func() {
				if err := portaudio.Terminate(); err != nil {
					slog.Warn("portaudio terminate", "err", err)
				}
			}()

			devs, err := portaudio.Devices()
			if err != nil {
				return err
			}
			if len(devs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no input devices found")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "DEFAULT\tNAME\tHOST API\tCHANNELS\tRATE")
			for _, d := range devs {
				mark := ""
				if d.Default {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.0f\n", mark, d.Name, d.HostAPI, d.MaxInputChannels, d.DefaultSampleRate)
			}
			return tw.Flush()
		},
	}
}
