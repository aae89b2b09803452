package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Live fields are applied by the running app; the rest only take effect
// after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DictationChanged covers every field read per utterance: the dictation
	// section and the provider keys and models.
	DictationChanged bool

	PasteChanged         bool
	NotificationsChanged bool
	PricingChanged       bool

	// RestartRequired lists the sections whose changes need a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DictationChanged || d.PasteChanged ||
		d.NotificationsChanged || d.PricingChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	od, nd := old.Dictation, new.Dictation
	if od.Language != nd.Language ||
		od.ContextChars != nd.ContextChars ||
		od.CorrectionPrompt != nd.CorrectionPrompt ||
		od.TranslationPrompt != nd.TranslationPrompt ||
		od.UserContext != nd.UserContext ||
		!slices.Equal(od.Vocabulary, nd.Vocabulary) ||
		old.Providers.STT.APIKey != new.Providers.STT.APIKey ||
		old.Providers.LLM.APIKey != new.Providers.LLM.APIKey ||
		old.Providers.STT.Model != new.Providers.STT.Model ||
		old.Providers.LLM.Model != new.Providers.LLM.Model {
		d.DictationChanged = true
	}

	if od.PasteDelay != nd.PasteDelay || od.RestoreClipboard != nd.RestoreClipboard {
		d.PasteChanged = true
	}
	if old.Notifications != new.Notifications {
		d.NotificationsChanged = true
	}
	if old.Usage.Pricing != new.Usage.Pricing {
		d.PricingChanged = true
	}

	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Hotkeys != new.Hotkeys {
		d.RestartRequired = append(d.RestartRequired, "hotkeys")
	}
	if providerRestart(old.Providers.STT, new.Providers.STT) || providerRestart(old.Providers.LLM, new.Providers.LLM) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Retry != new.Retry {
		d.RestartRequired = append(d.RestartRequired, "retry")
	}
	if old.Usage.Path != new.Usage.Path {
		d.RestartRequired = append(d.RestartRequired, "usage.path")
	}
	if old.Server != new.Server {
		d.RestartRequired = append(d.RestartRequired, "server")
	}

	return d
}

// providerRestart reports changes that require rebuilding the provider.
// Keys and models travel with each request and are not included.
func providerRestart(old, new ProviderEntry) bool {
	return old.Name != new.Name || old.BaseURL != new.BaseURL || !reflect.DeepEqual(old.Options, new.Options)
}
