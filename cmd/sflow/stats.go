package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/sflow/internal/usage"
)

func newStatsCmd(g *globals) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show accumulated usage and the estimated cost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := g.loadConfig()
			if err != nil {
				return err
			}
			t, err := openTracker(cfg.Usage.Path)
			if err != nil {
				return err
			}
			if reset {
				if err := t.Reset(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "usage statistics reset")
				return nil
			}
			printStats(cmd.OutOrStdout(), t.Snapshot(), cfg.Usage.Pricing)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "zero the totals")
	return cmd
}

func printStats(w io.Writer, t usage.Totals, p usage.Pricing) {
	c := t.Costs(p)
	secs := int(t.AudioSeconds)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Since:\t%s\n", t.LastReset.Local().Format("2006-01-02 15:04"))
	fmt.Fprintf(tw, "Utterances:\t%d\n", t.Utterances)
	fmt.Fprintf(tw, "Audio transcribed:\t%dm %ds\t$%.4f\n", secs/60, secs%60, c.Transcription)
	fmt.Fprintf(tw, "Prompt tokens:\t%d\t$%.4f\n", t.PromptTokens, c.Input)
	fmt.Fprintf(tw, "Completion tokens:\t%d\t$%.4f\n", t.CompletionTokens, c.Output)
	fmt.Fprintf(tw, "Estimated total:\t\t$%.4f\n", c.Total())
	_ = tw.Flush()
}
