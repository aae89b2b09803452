package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by [ApplyEnv].
const (
	EnvOpenAIKey = "OPENAI_API_KEY"
	EnvLogLevel  = "SFLOW_LOG_LEVEL"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// DefaultPath returns the config file location under the user config dir.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: locate config dir: %w", err)
	}
	return filepath.Join(dir, "sflow", "config.yaml"), nil
}

// Load reads the YAML configuration file at path on top of [Default], applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is [Load], except that a missing file yields [Default] with
// environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	slog.Info("config: file not found, using defaults", "path", path)
	cfg = Default()
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. The environment is not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the process
// environment. Variables already set are kept. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
		slog.Debug("config: loaded env file", "path", p)
	}
	return nil
}

// ApplyEnv fills empty OpenAI provider keys from OPENAI_API_KEY and overrides
// the log level from SFLOW_LOG_LEVEL.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if key, ok := lookup(EnvOpenAIKey); ok && key != "" {
		for _, e := range []*ProviderEntry{&cfg.Providers.STT, &cfg.Providers.LLM} {
			if e.APIKey == "" && e.Name == "openai" {
				e.APIKey = key
			}
		}
	}
	if lvl, ok := lookup(EnvLogLevel); ok && lvl != "" {
		cfg.LogLevel = LogLevel(strings.ToLower(lvl))
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if err := cfg.AudioFormat().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}

	if _, err := cfg.Bindings().Parse(); err != nil {
		errs = append(errs, fmt.Errorf("hotkeys: %w", err))
	}

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	if cfg.Providers.STT.APIKey == "" {
		slog.Warn("providers.stt.api_key is empty; dictation will fail until a key is set",
			"env", EnvOpenAIKey)
	}

	d := cfg.Dictation
	if d.ContextChars < 0 {
		errs = append(errs, fmt.Errorf("dictation.context_chars %d must be >= 0", d.ContextChars))
	}
	if d.PasteDelay < 0 {
		errs = append(errs, fmt.Errorf("dictation.paste_delay %s must be >= 0", d.PasteDelay))
	}

	if err := cfg.RetryPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}

	p := cfg.Usage.Pricing
	if p.TranscriptionPerMinute < 0 || p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
		errs = append(errs, errors.New("usage.pricing values must be >= 0"))
	}

	if l := cfg.Notifications.Locale; l != "" && !l.IsValid() {
		errs = append(errs, fmt.Errorf("notifications.locale %q is invalid; valid values: en, ru", l))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
