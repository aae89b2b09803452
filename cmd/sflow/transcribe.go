package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MrWong99/sflow/internal/app"
	"github.com/MrWong99/sflow/internal/usage"
	"github.com/MrWong99/sflow/pkg/types"
)

func newTranscribeCmd(g *globals) *cobra.Command {
	var translate, raw bool
	cmd := &cobra.Command{
		Use:   "transcribe <file.wav>",
		Short: "Transcribe and correct a WAV file, printing the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.loadConfig()
			if err != nil {
				return err
			}
			providers, err := buildProviders(cfg)
			if err != nil {
				return err
			}

			mode := types.ModeCorrection
			if translate {
				mode = types.ModeTranslation
			}

			var rec *usage.Tracker
			if t, err := openTracker(cfg.Usage.Path); err != nil {
				slog.Warn("usage statistics unavailable", "err", err)
			} else {
				rec = t
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			var tr app.Transcript
			if rec != nil {
				tr, err = app.TranscribeFile(ctx, cfg, providers, args[0], mode, rec)
			} else {
				tr, err = app.TranscribeFile(ctx, cfg, providers, args[0], mode, nil)
			}
			if err != nil {
				return err
			}

			if tr.Fallback {
				slog.Warn("correction failed, printing the raw transcript", "err", tr.Cause)
			}
			out := cmd.OutOrStdout()
			if raw {
				fmt.Fprintln(out, tr.Raw)
				return nil
			}
			fmt.Fprintln(out, tr.Text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&translate, "translate", false, "translate RU<->EN instead of correcting")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the transcript before correction")
	return cmd
}

// openTracker opens the stats file at path, or the default location when
// path is empty.
func openTracker(path string) (*usage.Tracker, error) {
	if path == "" {
		p, err := usage.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return usage.Open(path)
}
