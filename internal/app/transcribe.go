package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/sflow/internal/config"
	"github.com/MrWong99/sflow/internal/observe"
	"github.com/MrWong99/sflow/internal/remote"
	"github.com/MrWong99/sflow/internal/vocab"
	"github.com/MrWong99/sflow/pkg/audio"
	"github.com/MrWong99/sflow/pkg/fault"
	"github.com/MrWong99/sflow/pkg/types"
)

// Transcript is the result of a one-shot transcription.
type Transcript struct {
	// Raw is the transcript after vocabulary snapping.
	Raw string

	// Text is the corrected or translated text, or Raw when correction fell
	// back.
	Text string

	// Fallback reports that correction failed; Cause holds the reason.
	Fallback bool
	Cause    error

	Usage types.Usage
}

// TranscribeFile runs an existing WAV file through transcription and
// correction (or translation) without touching the clipboard. The file is
// left in place. Usage is recorded on rec when it is non-nil.
func TranscribeFile(ctx context.Context, cfg *config.Config, providers *Providers, path string, mode types.Mode, rec interface{ Record(types.Usage) error }) (Transcript, error) {
	if !mode.IsValid() {
		return Transcript{}, fmt.Errorf("app: invalid mode %q", mode)
	}
	u, err := audio.OpenUtterance(path)
	if err != nil {
		return Transcript{}, err
	}

	client := remote.New(providers.STT, providers.LLM,
		remote.WithPolicy(cfg.RetryPolicy()),
		remote.WithProviderNames(cfg.Providers.STT.Name, cfg.Providers.LLM.Name),
	)
	req := remote.NewRequest(u, nil, mode, cfg.Settings())

	ctx, span := observe.StartSpan(ctx, "app.transcribe_file")
	var spanErr error
	defer func() { observe.EndSpan(span, spanErr) }()

	record := func(usage types.Usage) {
		if rec == nil {
			return
		}
		if err := rec.Record(usage); err != nil {
			slog.Warn("usage: record failed", "err", err)
		}
	}

	tr, err := client.Transcribe(ctx, req)
	record(tr.Usage)
	if err != nil {
		spanErr = err
		return Transcript{Usage: tr.Usage}, err
	}

	out := Transcript{Raw: tr.Text, Usage: tr.Usage}
	if words := req.Settings.Vocabulary; len(words) > 0 {
		out.Raw, _ = vocab.New().Apply(out.Raw, vocab.Prepare(words))
	}
	if strings.TrimSpace(out.Raw) == "" {
		spanErr = fault.New(fault.NoAudioCaptured, "transcribe file", nil)
		return out, spanErr
	}

	cr, err := client.CorrectOrTranslate(ctx, req, out.Raw)
	record(cr.Usage)
	out.Usage = out.Usage.Add(cr.Usage)
	if err != nil {
		spanErr = err
		return out, err
	}
	out.Text = cr.Text
	out.Fallback = cr.Fallback
	out.Cause = cr.Cause
	return out, nil
}
