// Package config provides the configuration schema, loader, and provider registry
// for the S-Flow dictation client.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/sflow/internal/hotkey"
	"github.com/MrWong99/sflow/internal/notify"
	"github.com/MrWong99/sflow/internal/remote"
	"github.com/MrWong99/sflow/internal/resilience"
	"github.com/MrWong99/sflow/internal/usage"
	"github.com/MrWong99/sflow/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for S-Flow.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	LogLevel      LogLevel            `yaml:"log_level"`
	Audio         AudioConfig         `yaml:"audio"`
	Hotkeys       HotkeysConfig       `yaml:"hotkeys"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Dictation     DictationConfig     `yaml:"dictation"`
	Retry         RetryConfig         `yaml:"retry"`
	Usage         UsageConfig         `yaml:"usage"`
	Server        ServerConfig        `yaml:"server"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// AudioConfig selects the input device and PCM layout.
type AudioConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// Device is the input device name. Empty selects the system default.
	Device string `yaml:"device"`

	// TempDir holds utterance WAV files. Empty uses the OS temp dir.
	TempDir string `yaml:"temp_dir"`
}

// HotkeysConfig holds the global key combinations.
type HotkeysConfig struct {
	Dictate   string `yaml:"dictate"`
	Translate string `yaml:"translate"`
	Cancel    string `yaml:"cancel"`
}

// ProvidersConfig declares which provider implementation to use for each
// remote stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1", "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// DictationConfig holds the settings read once per utterance. All of them
// apply live on reload.
type DictationConfig struct {
	// Language is the transcription language hint (ISO-639-1).
	Language string `yaml:"language"`

	// ContextChars is the character budget of the conversation window.
	ContextChars int `yaml:"context_chars"`

	// CorrectionPrompt and TranslationPrompt override the built-in templates.
	// "{{history}}" marks where the conversation window goes.
	CorrectionPrompt  string `yaml:"correction_prompt"`
	TranslationPrompt string `yaml:"translation_prompt"`

	// UserContext is appended to every prompt.
	UserContext string `yaml:"user_context"`

	// PasteDelay is the wait between the clipboard write and Ctrl+V.
	PasteDelay time.Duration `yaml:"paste_delay"`

	// RestoreClipboard puts the previous clipboard contents back after pasting.
	RestoreClipboard bool `yaml:"restore_clipboard"`

	// Vocabulary lists names and terms that transcripts are snapped to.
	Vocabulary []string `yaml:"vocabulary"`
}

// RetryConfig configures the backoff for transient remote failures.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// UsageConfig configures usage statistics.
type UsageConfig struct {
	// Path is the stats file. Empty uses the user config dir.
	Path    string        `yaml:"path"`
	Pricing usage.Pricing `yaml:"pricing"`
}

// ServerConfig configures the local status server.
type ServerConfig struct {
	// ListenAddr is the TCP address for /healthz, /readyz and /metrics.
	// Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`
}

// NotificationsConfig controls desktop notifications.
type NotificationsConfig struct {
	Enabled bool          `yaml:"enabled"`
	Locale  notify.Locale `yaml:"locale"`
}

// DefaultListenAddr is the status server address used by [Default].
const DefaultListenAddr = "127.0.0.1:9464"

// Default returns the built-in configuration. [Load] decodes on top of it, so
// omitted keys keep these values.
func Default() *Config {
	f := audio.DefaultFormat()
	p := resilience.DefaultPolicy()
	return &Config{
		LogLevel: LogInfo,
		Audio: AudioConfig{
			SampleRate:      f.SampleRate,
			Channels:        f.Channels,
			FramesPerBuffer: f.FramesPerBuffer,
		},
		Hotkeys: HotkeysConfig{
			Dictate:   hotkey.DefaultDictate,
			Translate: hotkey.DefaultTranslate,
			Cancel:    hotkey.DefaultCancel,
		},
		Providers: ProvidersConfig{
			STT: ProviderEntry{Name: "openai", Model: remote.DefaultTranscriptionModel},
			LLM: ProviderEntry{Name: "openai", Model: remote.DefaultCorrectionModel},
		},
		Dictation: DictationConfig{
			Language:     remote.DefaultLanguage,
			ContextChars: remote.DefaultContextBudget,
			PasteDelay:   200 * time.Millisecond,
		},
		Retry: RetryConfig{
			MaxRetries: p.MaxRetries,
			BaseDelay:  p.BaseDelay,
			MaxDelay:   p.MaxDelay,
		},
		Usage:         UsageConfig{Pricing: usage.DefaultPricing()},
		Server:        ServerConfig{ListenAddr: DefaultListenAddr},
		Notifications: NotificationsConfig{Enabled: true, Locale: notify.DefaultLocale},
	}
}

// Settings returns the per-utterance snapshot handed to the dictation
// pipeline.
func (c *Config) Settings() remote.Settings {
	return remote.Settings{
		APIKey:             c.Providers.STT.APIKey,
		CorrectionAPIKey:   c.Providers.LLM.APIKey,
		TranscriptionModel: c.Providers.STT.Model,
		CorrectionModel:    c.Providers.LLM.Model,
		Language:           c.Dictation.Language,
		ContextBudget:      c.Dictation.ContextChars,
		CorrectionPrompt:   c.Dictation.CorrectionPrompt,
		TranslationPrompt:  c.Dictation.TranslationPrompt,
		UserContext:        c.Dictation.UserContext,
		Vocabulary:         append([]string(nil), c.Dictation.Vocabulary...),
	}
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() resilience.Policy {
	return resilience.Policy{
		MaxRetries: c.Retry.MaxRetries,
		BaseDelay:  c.Retry.BaseDelay,
		MaxDelay:   c.Retry.MaxDelay,
	}
}

// AudioFormat converts the audio section.
func (c *Config) AudioFormat() audio.Format {
	return audio.Format{
		SampleRate:      c.Audio.SampleRate,
		Channels:        c.Audio.Channels,
		FramesPerBuffer: c.Audio.FramesPerBuffer,
	}
}

// Bindings converts the hotkeys section.
func (c *Config) Bindings() hotkey.Bindings {
	return hotkey.Bindings{
		Dictate:   c.Hotkeys.Dictate,
		Translate: c.Hotkeys.Translate,
		Cancel:    c.Hotkeys.Cancel,
	}
}
