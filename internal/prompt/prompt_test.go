package prompt_test

import (
	"math/rand/v2"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/MrWong99/sflow/internal/prompt"
	"github.com/MrWong99/sflow/pkg/types"
)

func turns(texts ...string) []types.Turn {
	out := make([]types.Turn, len(texts))
	for i, s := range texts {
		out[i] = types.Turn{Text: s, IsBot: true}
	}
	return out
}

func TestWindow_OnlyNewestFits(t *testing.T) {
	t.Parallel()

	h := turns(strings.Repeat("a", 10), strings.Repeat("b", 10), strings.Repeat("c", 10))
	got := prompt.Window(h, 15)
	want := "- " + strings.Repeat("c", 10)
	if got != want {
		t.Errorf("Window = %q, want %q", got, want)
	}
}

func TestWindow_ChronologicalOrder(t *testing.T) {
	t.Parallel()

	h := turns("first", "second", "third")
	got := prompt.Window(h, 100)
	want := "- first\n- second\n- third"
	if got != want {
		t.Errorf("Window = %q, want %q", got, want)
	}
}

func TestWindow_StopsAtFirstOverflow(t *testing.T) {
	t.Parallel()

	// "tiny" would fit on its own, but the longer turn before it in the walk
	// stops selection.
	h := turns("tiny", strings.Repeat("x", 50), "new")
	got := prompt.Window(h, 20)
	if got != "- new" {
		t.Errorf("Window = %q, want %q", got, "- new")
	}
}

func TestWindow_BudgetIsStrict(t *testing.T) {
	t.Parallel()

	h := turns("12345")
	if got := prompt.Window(h, 5); got != "" {
		t.Errorf("Window(len 5, budget 5) = %q, want empty", got)
	}
	if got := prompt.Window(h, 6); got != "- 12345" {
		t.Errorf("Window(len 5, budget 6) = %q, want %q", got, "- 12345")
	}
}

func TestWindow_CountsCharactersNotBytes(t *testing.T) {
	t.Parallel()

	h := turns("привет") // 6 runes, 12 bytes
	if got := prompt.Window(h, 7); got != "- привет" {
		t.Errorf("Window = %q, want %q", got, "- привет")
	}
}

func TestWindow_EmptyCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		history []types.Turn
		budget  int
	}{
		{"nil history", nil, 100},
		{"zero budget", turns("a"), 0},
		{"negative budget", turns("a"), -5},
	}
	for _, tc := range tests {
		if got := prompt.Window(tc.history, tc.budget); got != "" {
			t.Errorf("%s: Window = %q, want empty", tc.name, got)
		}
	}
}

// TestWindow_SuffixProperty checks, over random histories and budgets, that
// the selected text stays under budget and is a contiguous newest suffix.
func TestWindow_SuffixProperty(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	for iter := range 500 {
		n := rng.IntN(8)
		h := make([]types.Turn, n)
		for i := range h {
			h[i] = types.Turn{Text: strings.Repeat(string(rune('a'+i)), 1+rng.IntN(20)), IsBot: true}
		}
		budget := rng.IntN(80) - 5

		got := prompt.Window(h, budget)
		if got == "" {
			continue
		}
		lines := strings.Split(got, "\n")
		total := 0
		for _, l := range lines {
			if !strings.HasPrefix(l, "- ") {
				t.Fatalf("iter %d: line %q missing bullet", iter, l)
			}
			total += utf8.RuneCountInString(strings.TrimPrefix(l, "- "))
		}
		if total >= budget {
			t.Fatalf("iter %d: total %d >= budget %d", iter, total, budget)
		}
		suffix := h[len(h)-len(lines):]
		for i, l := range lines {
			if strings.TrimPrefix(l, "- ") != suffix[i].Text {
				t.Fatalf("iter %d: line %d = %q, want %q", iter, i, l, suffix[i].Text)
			}
		}
	}
}

func TestAssemble_Placeholder(t *testing.T) {
	t.Parallel()

	got := prompt.Assemble("Fix text. Context:\n{{history}}", "- hello", "")
	want := "Fix text. Context:\n- hello"
	if got != want {
		t.Errorf("Assemble = %q, want %q", got, want)
	}
}

func TestAssemble_PlaceholderWithEmptyWindow(t *testing.T) {
	t.Parallel()

	got := prompt.Assemble("Context: {{history}}", "", "")
	want := "Context: " + prompt.NoContext
	if got != want {
		t.Errorf("Assemble = %q, want %q", got, want)
	}
}

func TestAssemble_NoPlaceholder(t *testing.T) {
	t.Parallel()

	if got := prompt.Assemble("Fix text.", "", ""); got != "Fix text." {
		t.Errorf("empty window: Assemble = %q, want %q", got, "Fix text.")
	}

	got := prompt.Assemble("Fix text.", "- a\n- b", "")
	want := "Fix text.\n\nContext History:\n- a\n- b"
	if got != want {
		t.Errorf("Assemble = %q, want %q", got, want)
	}
}

func TestAssemble_UserContextAlwaysLast(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template string
		window   string
		want     string
	}{
		{"placeholder", "T {{history}}", "- a", "T - a\n\n[USER CONTEXT: medical notes]"},
		{"trailing block", "T", "- a", "T\n\nContext History:\n- a\n\n[USER CONTEXT: medical notes]"},
		{"no window", "T", "", "T\n\n[USER CONTEXT: medical notes]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := prompt.Assemble(tc.template, tc.window, "medical notes"); got != tc.want {
				t.Errorf("Assemble = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAssemble_UserContextWrittenVerbatim(t *testing.T) {
	t.Parallel()

	got := prompt.Assemble("T", "", "  Go developer \n")
	want := "T\n\n[USER CONTEXT:   Go developer \n]"
	if got != want {
		t.Errorf("Assemble = %q, want %q", got, want)
	}
}

func TestTemplate(t *testing.T) {
	t.Parallel()

	if got := prompt.Template(types.ModeCorrection, "", ""); got != prompt.DefaultCorrection {
		t.Errorf("default correction template not used: %q", got)
	}
	if got := prompt.Template(types.ModeTranslation, "", ""); got != prompt.DefaultTranslation {
		t.Errorf("default translation template not used: %q", got)
	}
	if got := prompt.Template(types.ModeCorrection, "mine", "theirs"); got != "mine" {
		t.Errorf("Template(correction) = %q, want %q", got, "mine")
	}
	if got := prompt.Template(types.ModeTranslation, "mine", "theirs"); got != "theirs" {
		t.Errorf("Template(translation) = %q, want %q", got, "theirs")
	}
	if got := prompt.Template(types.ModeTranslation, "", "   "); got != prompt.DefaultTranslation {
		t.Errorf("blank custom template should fall back, got %q", got)
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	got := prompt.Build(types.ModeTranslation, turns("hello"), 100, "", "", "")
	if !strings.Contains(got, "- hello") {
		t.Errorf("Build output missing history: %q", got)
	}
	if strings.Contains(got, prompt.Placeholder) {
		t.Errorf("Build output still contains placeholder: %q", got)
	}
}
