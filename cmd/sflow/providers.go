package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/sflow/internal/app"
	"github.com/MrWong99/sflow/internal/config"
	"github.com/MrWong99/sflow/internal/remote"
	"github.com/MrWong99/sflow/pkg/provider/llm"
	"github.com/MrWong99/sflow/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/sflow/pkg/provider/llm/openai"
	"github.com/MrWong99/sflow/pkg/provider/stt"
	oaistt "github.com/MrWong99/sflow/pkg/provider/stt/openai"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// The OpenAI-backed providers share hc so connections are pooled across
// utterances.
func registerBuiltinProviders(reg *config.Registry, hc *http.Client) {
	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []oaistt.Option{oaistt.WithHTTPClient(hc)}
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		return oaistt.New(entry.APIKey, opts...), nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []oaillm.Option{oaillm.WithHTTPClient(hc)}
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining backends go through any-llm. They share the pattern:
	// optional APIKey + optional BaseURL.
	for _, providerName := range anyllm.Supported {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// buildProviders instantiates the providers named in cfg.
func buildProviders(cfg *config.Config) (*app.Providers, error) {
	timeout := remote.DefaultTimeout
	if d, ok := optDuration(cfg.Providers.STT.Options, "timeout"); ok {
		timeout = d
	}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, remote.NewHTTPClient(timeout))

	sp, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name, "model", cfg.Providers.STT.Model)

	lp, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)

	return &app.Providers{STT: sp, LLM: lp}, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration string such as "30s" from provider Options.
func optDuration(opts map[string]any, key string) (time.Duration, bool) {
	s := optString(opts, key)
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		slog.Warn("ignoring invalid provider option", "key", key, "value", s)
		return 0, false
	}
	return d, true
}
