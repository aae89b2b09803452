// Package vocab snaps misrecognized words in a transcript onto a user
// vocabulary of names and terms.
//
// Matching uses Double Metaphone phonetic codes to find candidates and
// Jaro-Winkler similarity to rank them:
//
//  1. Phonetic pass: a window of transcript tokens is compared with every
//     vocabulary term of the same word count. When every aligned token pair
//     shares a Double Metaphone code, the term is accepted if the mean
//     Jaro-Winkler score reaches the phonetic threshold (default 0.70).
//
//  2. Fuzzy pass: when no phonetic candidate exists, the term is accepted on
//     Jaro-Winkler alone with a higher threshold (default 0.85). Tokens
//     without phonetic codes (non-Latin scripts) never enter this pass, so
//     inflected Cyrillic forms keep their endings.
//
// Case-insensitive exact hits always snap to the vocabulary spelling.
// Punctuation around a token is preserved.
package vocab

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
	defaultMinRunes          = 3
)

// Option is a functional option for configuring a [Snapper].
type Option func(*Snapper)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(s *Snapper) {
		s.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(s *Snapper) {
		s.fuzzyThreshold = threshold
	}
}

// WithMinRunes sets the shortest token (in runes) eligible for inexact
// matching. Shorter tokens only snap on exact hits. Default: 3.
func WithMinRunes(n int) Option {
	return func(s *Snapper) {
		s.minRunes = n
	}
}

// Snapper matches transcript text against a [Vocabulary]. It is read-only
// after construction and safe for concurrent use.
type Snapper struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minRunes          int
}

// New returns a [Snapper] configured with the supplied options.
func New(opts ...Option) *Snapper {
	s := &Snapper{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minRunes:          defaultMinRunes,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Replacement records one snapped span.
type Replacement struct {
	Original string
	Term     string
	Score    float64
}

// term is a vocabulary entry with precomputed tokens and codes.
type term struct {
	canonical string
	lower     string
	tokens    []string
	codes     []map[string]struct{} // per token
}

// Vocabulary is a prepared list of terms. Build it once per settings change
// with [Prepare].
type Vocabulary struct {
	terms    []term
	maxWords int
}

// Prepare normalises words into a [Vocabulary]. Blank and duplicate entries
// are dropped.
func Prepare(words []string) *Vocabulary {
	v := &Vocabulary{}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		canonical := strings.Join(strings.Fields(w), " ")
		if canonical == "" {
			continue
		}
		lower := strings.ToLower(canonical)
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}

		t := term{canonical: canonical, lower: lower, tokens: strings.Fields(lower)}
		for _, tok := range t.tokens {
			t.codes = append(t.codes, codes(tok))
		}
		v.terms = append(v.terms, t)
		if len(t.tokens) > v.maxWords {
			v.maxWords = len(t.tokens)
		}
	}
	return v
}

// Len returns the number of terms.
func (v *Vocabulary) Len() int {
	if v == nil {
		return 0
	}
	return len(v.terms)
}

// Match finds the term best matching phrase, which may span several words.
// When matched is false, result equals phrase and score is 0.
func (s *Snapper) Match(phrase string, v *Vocabulary) (result string, score float64, matched bool) {
	if v.Len() == 0 {
		return phrase, 0, false
	}
	tokens := strings.Fields(strings.ToLower(phrase))
	if len(tokens) == 0 {
		return phrase, 0, false
	}
	if t, sc, ok := s.best(tokens, v); ok {
		return t.canonical, sc, true
	}
	return phrase, 0, false
}

// Apply snaps every matching span in text and returns the new text with the
// replacements made. Longer windows are tried first so multi-word terms win
// over partial single-word hits. Whitespace is normalised to single spaces
// only when at least one replacement happened.
func (s *Snapper) Apply(text string, v *Vocabulary) (string, []Replacement) {
	if v.Len() == 0 {
		return text, nil
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return text, nil
	}
	toks := make([]token, len(fields))
	for i, f := range fields {
		toks[i] = splitToken(f)
	}

	var (
		out  []string
		reps []Replacement
	)
	for i := 0; i < len(toks); {
		maxN := min(v.maxWords, len(toks)-i)
		matched := false
		for n := maxN; n >= 1; n-- {
			window := toks[i : i+n]
			if !joinable(window) {
				continue
			}
			words := make([]string, n)
			for j, tk := range window {
				words[j] = strings.ToLower(tk.core)
			}
			t, sc, ok := s.best(words, v)
			if !ok {
				continue
			}
			original := joinCores(window)
			if original != t.canonical {
				reps = append(reps, Replacement{Original: original, Term: t.canonical, Score: sc})
			}
			out = append(out, window[0].prefix+t.canonical+window[n-1].suffix)
			i += n
			matched = true
			break
		}
		if !matched {
			out = append(out, fields[i])
			i++
		}
	}
	if len(reps) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), reps
}

// best returns the highest scoring term for the lower-cased tokens.
func (s *Snapper) best(tokens []string, v *Vocabulary) (term, float64, bool) {
	full := strings.Join(tokens, " ")
	var (
		bestTerm     term
		bestScore    float64
		bestPhonetic bool
		found        bool
	)
	for _, t := range v.terms {
		if len(t.tokens) != len(tokens) {
			continue
		}
		if t.lower == full {
			return t, 1, true
		}
		score, phonetic, coded, ok := s.score(tokens, t)
		if !ok {
			continue
		}
		switch {
		case phonetic && score >= s.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				bestTerm, bestScore, bestPhonetic, found = t, score, true, true
			}
		case coded && !bestPhonetic && score >= s.fuzzyThreshold && score > bestScore:
			bestTerm, bestScore, found = t, score, true
		}
	}
	return bestTerm, bestScore, found
}

// score returns the mean pairwise Jaro-Winkler similarity of aligned tokens,
// whether every pair shares a phonetic code, and whether every compared
// token on both sides has at least one code. Tokens shorter than the minimum
// length must equal their counterpart exactly, otherwise ok is false.
func (s *Snapper) score(tokens []string, t term) (score float64, phonetic, coded, ok bool) {
	var sum float64
	phonetic, coded = true, true
	for i, tok := range tokens {
		if utf8.RuneCountInString(tok) < s.minRunes {
			if tok != t.tokens[i] {
				return 0, false, false, false
			}
			sum++
			continue
		}
		sum += matchr.JaroWinkler(tok, t.tokens[i], false)
		tc := codes(tok)
		if len(tc) == 0 || len(t.codes[i]) == 0 {
			coded = false
		}
		if phonetic && !overlap(tc, t.codes[i]) {
			phonetic = false
		}
	}
	return sum / float64(len(tokens)), phonetic, coded, true
}

// codes returns the Double Metaphone codes of word. Empty codes (produced
// for words without consonants or outside the Latin alphabet) are excluded.
func codes(word string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		out[p] = struct{}{}
	}
	if s != "" {
		out[s] = struct{}{}
	}
	return out
}

// overlap returns true if the two code sets share at least one code.
func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// token is a whitespace-delimited field split into leading punctuation, the
// word itself and trailing punctuation.
type token struct {
	prefix, core, suffix string
}

func splitToken(field string) token {
	isWord := func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }
	start := strings.IndexFunc(field, isWord)
	if start < 0 {
		return token{prefix: field}
	}
	end := strings.LastIndexFunc(field, isWord)
	_, size := utf8.DecodeRuneInString(field[end:])
	end += size
	return token{prefix: field[:start], core: field[start:end], suffix: field[end:]}
}

// joinable reports whether window can be treated as one phrase: every token
// has a word core and no punctuation separates them.
func joinable(window []token) bool {
	for i, tk := range window {
		if tk.core == "" {
			return false
		}
		if i > 0 && tk.prefix != "" {
			return false
		}
		if i < len(window)-1 && tk.suffix != "" {
			return false
		}
	}
	return true
}

func joinCores(window []token) string {
	parts := make([]string, len(window))
	for i, tk := range window {
		parts[i] = tk.core
	}
	return strings.Join(parts, " ")
}
