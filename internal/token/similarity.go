package token

import (
	"math"
	"sort"
	"unicode/utf8"
)

// MaxMatchedTokens bounds how many intersection tokens are surfaced as
// evidence for a single score.
const MaxMatchedTokens = 40

// Score computes binary cosine similarity between two token sequences treated
// as sets: |A∩B| / sqrt(|A|·|B|). The result is always in [0, 1] and
// symmetric. The returned matched tokens are the intersection ordered by
// descending token length then lexicographically, truncated to
// MaxMatchedTokens. Either side empty scores 0 with no matches.
func Score(a, b []string) (float64, []string) {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0, nil
	}

	var inter []string
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter = append(inter, tok)
		}
	}
	if len(inter) == 0 {
		return 0, nil
	}

	score := float64(len(inter)) / math.Sqrt(float64(len(setA))*float64(len(setB)))

	// Longer tokens first: they are the more specific evidence.
	sort.Slice(inter, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(inter[i]), utf8.RuneCountInString(inter[j])
		if li != lj {
			return li > lj
		}
		return inter[i] < inter[j]
	})
	if len(inter) > MaxMatchedTokens {
		inter = inter[:MaxMatchedTokens]
	}

	return score, inter
}

func toSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}
