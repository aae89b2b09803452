package notify

import "github.com/MrWong99/sflow/pkg/fault"

// Locale selects the language of user-facing messages.
type Locale string

const (
	LocaleEN Locale = "en"
	LocaleRU Locale = "ru"
)

// DefaultLocale is used when the configured locale is unknown.
const DefaultLocale = LocaleRU

// IsValid reports whether l has a message table.
func (l Locale) IsValid() bool {
	_, ok := messages[l]
	return ok
}

var messages = map[Locale]map[fault.Kind]string{
	LocaleEN: {
		fault.InvalidCredential:   "Error: Invalid API Key",
		fault.RateLimited:         "Error: Rate Limit Exceeded",
		fault.ConnectionFailed:    "Error: No Connection",
		fault.RemoteServiceError:  "Error: API Error",
		fault.TranscriptionFailed: "Error: Transcription Failed",
		fault.CorrectionFailed:    "Correction failed, original text pasted",
		fault.AudioDeviceError:    "Error: Audio recording failed",
		fault.NoAudioCaptured:     "No audio captured",
	},
	LocaleRU: {
		fault.InvalidCredential:   "Ошибка: неверный API-ключ",
		fault.RateLimited:         "Ошибка: превышен лимит запросов",
		fault.ConnectionFailed:    "Ошибка: нет соединения",
		fault.RemoteServiceError:  "Ошибка: сбой API",
		fault.TranscriptionFailed: "Ошибка: не удалось распознать речь",
		fault.CorrectionFailed:    "Коррекция не удалась, вставлен исходный текст",
		fault.AudioDeviceError:    "Ошибка: не удалось записать звук",
		fault.NoAudioCaptured:     "Звук не записан",
	},
}

// Message returns the localized text for kind. Unknown locales fall back to
// [DefaultLocale]; unknown kinds yield a generic error string.
func Message(l Locale, kind fault.Kind) string {
	table, ok := messages[l]
	if !ok {
		table = messages[DefaultLocale]
	}
	if msg, ok := table[kind]; ok {
		return msg
	}
	if l == LocaleEN {
		return "Error: " + string(kind)
	}
	return "Ошибка: " + string(kind)
}
