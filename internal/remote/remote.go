// Package remote is the retrying client in front of the transcription and
// correction providers.
//
// Every call is wrapped in [resilience.Retry]: rate limits and connection
// failures are retried with exponential backoff, everything else fails after
// one attempt. Errors leave this package classified by [fault.Kind].
// Correction never fails outright: when the model cannot be reached the
// original transcript is handed back as a fallback so the user still gets
// their words.
package remote

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/sflow/internal/observe"
	"github.com/MrWong99/sflow/internal/prompt"
	"github.com/MrWong99/sflow/internal/resilience"
	"github.com/MrWong99/sflow/pkg/audio"
	"github.com/MrWong99/sflow/pkg/fault"
	"github.com/MrWong99/sflow/pkg/provider/llm"
	"github.com/MrWong99/sflow/pkg/provider/stt"
	"github.com/MrWong99/sflow/pkg/types"
)

// Defaults applied when a Settings field is empty.
const (
	DefaultTranscriptionModel = "whisper-1"
	DefaultCorrectionModel    = "gpt-4o-mini"
	DefaultLanguage           = "ru"
	DefaultContextBudget      = 3000
)

var (
	errMissingKey    = errors.New("api key is not set")
	errEmptyResponse = errors.New("model returned an empty reply")
)

// Settings is the per-utterance snapshot of user-editable configuration.
// It is copied into every [Request] so a config reload never affects an
// utterance already in flight.
type Settings struct {
	APIKey             string
	CorrectionAPIKey   string
	TranscriptionModel string
	CorrectionModel    string
	Language           string
	ContextBudget      int
	CorrectionPrompt   string
	TranslationPrompt  string
	UserContext        string
	Vocabulary         []string
}

// withDefaults returns s with empty fields filled in.
func (s Settings) withDefaults() Settings {
	if s.TranscriptionModel == "" {
		s.TranscriptionModel = DefaultTranscriptionModel
	}
	if s.CorrectionModel == "" {
		s.CorrectionModel = DefaultCorrectionModel
	}
	if s.Language == "" {
		s.Language = DefaultLanguage
	}
	if s.CorrectionAPIKey == "" {
		s.CorrectionAPIKey = s.APIKey
	}
	return s
}

// Request is everything needed to process one utterance. It is built once at
// dispatch and never mutated afterwards.
type Request struct {
	Utterance     *audio.Utterance
	History       []types.Turn
	Mode          types.Mode
	UserContext   string
	ContextBudget int
	Settings      Settings
}

// NewRequest builds a Request from a settings snapshot. history is copied.
func NewRequest(u *audio.Utterance, history []types.Turn, mode types.Mode, s Settings) Request {
	h := make([]types.Turn, len(history))
	copy(h, history)
	s.Vocabulary = append([]string(nil), s.Vocabulary...)
	return Request{
		Utterance:     u,
		History:       h,
		Mode:          mode,
		UserContext:   s.UserContext,
		ContextBudget: s.ContextBudget,
		Settings:      s,
	}
}

// Result is the outcome of a remote call.
type Result struct {
	// Text is the transcript, the corrected text, or the original transcript
	// when Fallback is set.
	Text string

	// Usage is the quota consumed by the call.
	Usage types.Usage

	// Fallback reports that correction failed and Text is the input unchanged.
	Fallback bool

	// Cause is the classified error behind a fallback.
	Cause error
}

// Client issues transcription and correction requests with retries.
// It is safe for concurrent use.
type Client struct {
	stt     stt.Provider
	llm     llm.Provider
	policy  resilience.Policy
	metrics *observe.Metrics
	sttName string
	llmName string
	onRetry func(op string, n int, err error, delay time.Duration)
}

// Option is a functional option for Client.
type Option func(*Client)

// WithPolicy sets the retry policy. Default: [resilience.DefaultPolicy].
func WithPolicy(p resilience.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithProviderNames sets the provider labels used in metrics and logs.
func WithProviderNames(sttName, llmName string) Option {
	return func(c *Client) {
		c.sttName = sttName
		c.llmName = llmName
	}
}

// WithRetryHook registers a callback invoked before every backoff wait.
func WithRetryHook(fn func(op string, n int, err error, delay time.Duration)) Option {
	return func(c *Client) { c.onRetry = fn }
}

// New creates a Client over the given providers.
func New(s stt.Provider, l llm.Provider, opts ...Option) *Client {
	c := &Client{
		stt:     s,
		llm:     l,
		policy:  resilience.DefaultPolicy(),
		sttName: "stt",
		llmName: "llm",
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Policy returns the retry policy in use.
func (c *Client) Policy() resilience.Policy { return c.policy }

// Transcribe sends the utterance audio to the speech-to-text provider.
//
// A missing API key fails immediately with [fault.InvalidCredential] without
// touching the audio or the provider. The audio file is reopened for each
// attempt. Usage reports the utterance length in seconds.
func (c *Client) Transcribe(ctx context.Context, req Request) (Result, error) {
	const op = "remote: transcribe"
	s := req.Settings.withDefaults()
	if s.APIKey == "" {
		return Result{}, fault.New(fault.InvalidCredential, op, errMissingKey)
	}
	if req.Utterance == nil {
		return Result{}, fault.New(fault.NoAudioCaptured, op, nil)
	}

	ctx, span := observe.StartSpan(ctx, "remote.transcribe", trace.WithAttributes(
		attribute.Int64("utterance.seq", int64(req.Utterance.Seq())),
		attribute.Float64("utterance.seconds", req.Utterance.Seconds()),
		attribute.String("model", s.TranscriptionModel),
	))
	start := time.Now()

	text, err := resilience.Retry(ctx, c.policy, c.retryOptions(ctx, op, c.sttName, "stt"), func(ctx context.Context) (string, error) {
		f, err := req.Utterance.Open()
		if err != nil {
			return "", fault.New(fault.TranscriptionFailed, op, err)
		}
		defer f.Close()

		res, err := c.stt.Transcribe(ctx, stt.Request{
			Audio:    f,
			Filename: filepath.Base(f.Name()),
			Model:    s.TranscriptionModel,
			Language: s.Language,
			Prompt:   vocabularyHint(s.Vocabulary),
			APIKey:   s.APIKey,
		})
		c.recordAttempt(ctx, c.sttName, "stt", err)
		if err != nil {
			return "", fault.Classify(op, err, fault.TranscriptionFailed)
		}
		return res.Text, nil
	})

	c.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)
	if err != nil {
		c.recordFailure(ctx, c.sttName, err)
		return Result{}, err
	}
	return Result{
		Text:  strings.TrimSpace(text),
		Usage: types.Usage{AudioSeconds: req.Utterance.Seconds()},
	}, nil
}

// CorrectOrTranslate runs text through the language model using the prompt
// for req.Mode, the conversation window and the user context.
//
// Remote failures never surface as errors: the result carries the input text
// unchanged with Fallback set and Cause holding the classified error. Only
// context cancellation is returned as an error.
func (c *Client) CorrectOrTranslate(ctx context.Context, req Request, text string) (Result, error) {
	const op = "remote: correct"
	s := req.Settings.withDefaults()
	if s.CorrectionAPIKey == "" {
		return fallback(text, fault.New(fault.InvalidCredential, op, errMissingKey)), nil
	}

	system := prompt.Build(req.Mode, req.History, req.ContextBudget, s.CorrectionPrompt, s.TranslationPrompt, req.UserContext)

	ctx, span := observe.StartSpan(ctx, "remote.correct", trace.WithAttributes(
		attribute.String("mode", string(req.Mode)),
		attribute.String("model", s.CorrectionModel),
		attribute.Int("history.turns", len(req.History)),
	))
	start := time.Now()

	resp, err := resilience.Retry(ctx, c.policy, c.retryOptions(ctx, op, c.llmName, "llm"), func(ctx context.Context) (*llm.CompletionResponse, error) {
		resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: system,
			Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
			Model:        s.CorrectionModel,
			APIKey:       s.CorrectionAPIKey,
		})
		c.recordAttempt(ctx, c.llmName, "llm", err)
		if err != nil {
			return nil, fault.Classify(op, err, fault.CorrectionFailed)
		}
		return resp, nil
	})

	c.metrics.CorrectionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("mode", string(req.Mode))))
	observe.EndSpan(span, err)

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return Result{}, err
		}
		c.recordFailure(ctx, c.llmName, err)
		return fallback(text, err), nil
	}

	usage := types.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	c.metrics.RecordTokens(ctx, usage.PromptTokens, usage.CompletionTokens)

	out := strings.TrimSpace(resp.Content)
	if out == "" {
		r := fallback(text, fault.New(fault.CorrectionFailed, op, errEmptyResponse))
		r.Usage = usage
		return r, nil
	}
	return Result{Text: out, Usage: usage}, nil
}

func fallback(text string, cause error) Result {
	return Result{Text: text, Fallback: true, Cause: cause}
}

func (c *Client) retryOptions(ctx context.Context, op, provider, kind string) resilience.Options {
	return resilience.Options{
		Transient: fault.IsTransient,
		OnRetry: func(n int, err error, delay time.Duration) {
			c.metrics.RecordProviderRetry(ctx, provider, kind)
			observe.Logger(ctx).Warn("retrying remote call",
				"op", op, "provider", provider, "retry", n, "delay", delay, "err", err)
			if c.onRetry != nil {
				c.onRetry(op, n, err, delay)
			}
		},
	}
}

func (c *Client) recordAttempt(ctx context.Context, provider, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordProviderRequest(ctx, provider, kind, status)
}

func (c *Client) recordFailure(ctx context.Context, provider string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	kind, ok := fault.KindOf(err)
	if !ok {
		kind = "unclassified"
	}
	c.metrics.RecordProviderError(ctx, provider, string(kind))
}

// vocabularyHint renders the user vocabulary as a transcription prompt so
// the recognizer prefers those spellings.
func vocabularyHint(words []string) string {
	var kept []string
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, ", ")
}
