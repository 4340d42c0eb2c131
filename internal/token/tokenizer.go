// Package token normalizes mixed-language text and scores token-set overlap.
// It approximates word boundaries in unsegmented languages with character
// n-grams instead of depending on a segmentation dictionary.
package token

import (
	"regexp"
	"strings"
)

var (
	latinRunRe = regexp.MustCompile(`[a-z0-9]+`)
	cjkRunRe   = regexp.MustCompile(`[\x{3040}-\x{30ff}\x{4e00}-\x{9fff}]+`)
	spaceRe    = regexp.MustCompile(`\s+`)

	// Common full-width punctuation folded to half-width before splitting.
	punctFolder = strings.NewReplacer(
		"（", "(",
		"）", ")",
		"，", ",",
		"．", ".",
		"・", " ",
		"－", "-",
		"―", "-",
		"−", "-",
	)
)

// Normalize lowercases text, folds full-width punctuation to half-width and
// collapses whitespace. It is a fixed point: Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	t := strings.ToLower(text)
	t = punctFolder.Replace(t)
	t = spaceRe.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// Tokenize normalizes text and extracts a deduplicated token set in
// first-seen order. Latin letter/digit runs become whole-word tokens; every
// CJK run additionally contributes all contiguous 2- and 3-character
// substrings. Empty input yields an empty set.
func Tokenize(text string) []string {
	t := Normalize(text)
	if t == "" {
		return nil
	}

	var tokens []string
	tokens = append(tokens, latinRunRe.FindAllString(t, -1)...)

	for _, block := range cjkRunRe.FindAllString(t, -1) {
		runes := []rune(block)
		tokens = append(tokens, ngrams(runes, 2)...)
		tokens = append(tokens, ngrams(runes, 3)...)
	}

	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

func ngrams(runes []rune, n int) []string {
	if len(runes) < n {
		return nil
	}
	out := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		out = append(out, string(runes[i:i+n]))
	}
	return out
}
