// Package openai provides a batch STT provider backed by the OpenAI audio
// transcription endpoint (whisper-1 and the gpt-4o transcribe models).
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/sflow/pkg/fault"
	"github.com/MrWong99/sflow/pkg/provider/openaiutil"
	"github.com/MrWong99/sflow/pkg/provider/stt"
)

const (
	defaultModel    = "whisper-1"
	defaultFilename = "audio.wav"
)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

var _ stt.Provider = (*Provider)(nil)

type config struct {
	client   openaiutil.ClientConfig
	model    string
	language string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.client.BaseURL = url
	}
}

// WithModel sets the default transcription model. Default: "whisper-1".
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithLanguage sets the default language hint (ISO-639-1).
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.client.HTTPClient = hc
	}
}

// WithTimeout sets a per-request HTTP timeout. Ignored when WithHTTPClient is
// also given.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.client.Timeout = d
	}
}

// New constructs a Provider. apiKey may be empty when every request carries
// its own key via [stt.Request.APIKey].
func New(apiKey string, opts ...Option) *Provider {
	cfg := &config{model: defaultModel}
	cfg.client.APIKey = apiKey
	for _, o := range opts {
		o(cfg)
	}
	return &Provider{
		client:   openaiutil.NewClient(cfg.client),
		model:    cfg.model,
		language: cfg.language,
	}
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if req.Audio == nil {
		return nil, fmt.Errorf("openai: transcribe: audio must not be nil")
	}
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	lang := p.language
	if req.Language != "" {
		lang = req.Language
	}
	filename := req.Filename
	if filename == "" {
		filename = defaultFilename
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(req.Audio, filename, contentType(filename)),
		Model: oai.AudioModel(model),
	}
	if lang != "" {
		params.Language = param.NewOpt(lang)
	}
	if req.Prompt != "" {
		params.Prompt = param.NewOpt(req.Prompt)
	}

	var reqOpts []option.RequestOption
	if req.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(req.APIKey))
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, openaiutil.Classify("openai: transcribe", err, fault.TranscriptionFailed)
	}
	return &stt.Result{Text: strings.TrimSpace(resp.Text), Language: lang}, nil
}

func contentType(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(filename, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(filename, ".m4a"):
		return "audio/mp4"
	case strings.HasSuffix(filename, ".ogg"):
		return "audio/ogg"
	case strings.HasSuffix(filename, ".webm"):
		return "audio/webm"
	}
	return "application/octet-stream"
}
