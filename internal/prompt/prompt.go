// Package prompt builds the system instruction sent with every correction or
// translation request.
//
// Building happens in three steps:
//
//  1. [Template] picks the base instruction for the request mode, preferring
//     a user-configured template over the built-in one.
//  2. [Window] selects the most recent conversation turns that fit a
//     character budget.
//  3. [Assemble] injects the window into the template and appends the
//     optional user context.
//
// All functions are pure and safe for concurrent use.
package prompt

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/sflow/pkg/types"
)

const (
	// Placeholder marks where the history window goes inside a template.
	Placeholder = "{{history}}"

	// NoContext replaces Placeholder when the window is empty.
	NoContext = "Нет контекста."

	historyLabel = "\n\nContext History:\n"
	bullet       = "- "
)

// DefaultCorrection is the built-in correction instruction.
const DefaultCorrection = "Ты — помощник, который исправляет распознанный текст. Контекст:\n" + Placeholder

// DefaultTranslation is the built-in RU<->EN translation instruction.
const DefaultTranslation = "Ты — профессиональный переводчик. Твоя задача — перевести предоставленный текст, сохраняя смысл и учитывая контекст.\n" +
	"### КОНТЕКСТ ДИАЛОГА:\n" + Placeholder + "\n" +
	"### ПРАВИЛА:\n" +
	"- Если текст на русском, переведи его на английский.\n" +
	"- Если текст на английском, переведи его на русский.\n" +
	"- Верни ТОЛЬКО переведенный текст."

// Template returns the base instruction for mode. A non-empty custom template
// for the mode wins over the built-in one.
func Template(mode types.Mode, correction, translation string) string {
	if mode == types.ModeTranslation {
		if strings.TrimSpace(translation) != "" {
			return translation
		}
		return DefaultTranslation
	}
	if strings.TrimSpace(correction) != "" {
		return correction
	}
	return DefaultCorrection
}

// Window returns the newest turns of history whose combined text length stays
// strictly below budget, formatted one per line as "- text" in chronological
// order. Turns are taken newest first and selection stops at the first turn
// that does not fit, so the result is always a contiguous suffix of history.
// Lengths are counted in characters and exclude the bullet prefix.
func Window(history []types.Turn, budget int) string {
	if budget <= 0 || len(history) == 0 {
		return ""
	}

	var picked []string
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		text := history[i].Text
		n := utf8.RuneCountInString(text)
		if used+n >= budget {
			break
		}
		used += n
		picked = append(picked, bullet+text)
	}
	if len(picked) == 0 {
		return ""
	}
	slices.Reverse(picked)
	return strings.Join(picked, "\n")
}

// Assemble combines template, the history window and the user context.
//
// When template contains [Placeholder], it is replaced with window, or with
// [NoContext] when window is empty. Otherwise window is appended as a labelled
// block, only when non-empty. A non-empty userContext is always appended last
// as "[USER CONTEXT: ...]".
func Assemble(template, window, userContext string) string {
	var b strings.Builder
	if strings.Contains(template, Placeholder) {
		fill := window
		if fill == "" {
			fill = NoContext
		}
		b.WriteString(strings.ReplaceAll(template, Placeholder, fill))
	} else {
		b.WriteString(template)
		if window != "" {
			b.WriteString(historyLabel)
			b.WriteString(window)
		}
	}
	if userContext != "" {
		b.WriteString("\n\n[USER CONTEXT: ")
		b.WriteString(userContext)
		b.WriteString("]")
	}
	return b.String()
}

// Build is Template, Window and Assemble in one call.
func Build(mode types.Mode, history []types.Turn, budget int, correction, translation, userContext string) string {
	return Assemble(Template(mode, correction, translation), Window(history, budget), userContext)
}
