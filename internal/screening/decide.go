// Package screening processes external evaluation requests end to end: build
// a transaction from the caller's payload, run the pipeline, decide an
// outcome, and deliver it to the caller's webhook.
package screening

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hmoriya/tradegate/internal/model"
)

// reviewBand is the fraction of the threshold above which a maybe is worth a
// human review rather than being waved through.
const reviewBand = 0.6

// Decision is the reviewer-facing outcome for one screening request.
type Decision struct {
	Status    model.ScreeningStatus
	Reason    string
	Followups []string
}

// Decide derives the outcome from a run's match rows. The strongest match
// drives the decision: a hit at or above the threshold confirms control, a
// maybe near the threshold asks for review, weak maybes clear the item, and
// no matches at all means the caller must supply more information.
func Decide(matches []model.RunMatch, threshold float64) Decision {
	if len(matches) == 0 {
		return Decision{
			Status:    model.StatusNeedsMoreInfo,
			Reason:    "no rule matches; the usage description is too thin to screen",
			Followups: followupQuestions(nil),
		}
	}

	sorted := make([]model.RunMatch, len(matches))
	copy(sorted, matches)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Match.Score > sorted[j].Match.Score
	})
	top := sorted[0]

	label := top.Rule.ItemNo
	if top.Rule.Title != "" {
		label += " / " + top.Rule.Title
	}

	if top.Match.Decision == model.DecisionHit && top.Match.Score >= threshold {
		return Decision{
			Status: model.StatusHitConfirmed,
			Reason: fmt.Sprintf("confirmed hit: %s (score %.3f, threshold %.2f)",
				label, top.Match.Score, threshold),
		}
	}

	if top.Match.Score >= threshold*reviewBand {
		return Decision{
			Status: model.StatusNeedsReview,
			Reason: fmt.Sprintf("near-threshold match needs review: %s (score %.3f, threshold %.2f)",
				label, top.Match.Score, threshold),
			Followups: followupQuestions(top.Match.Evidence),
		}
	}

	return Decision{
		Status: model.StatusNonControlled,
		Reason: fmt.Sprintf("no match strong enough to control: best %s (score %.3f, threshold %.2f)",
			label, top.Match.Score, threshold),
	}
}

var lithoKeywords = []string{"露光", "リソ", "フォト", "現像", "感光", "resist", "litho"}
var cryptoKeywords = []string{"暗号", "crypto", "encryption"}

// followupQuestions picks clarifying questions for the caller based on the
// flavor of the strongest rule. Minimal keyword routing; a rule-to-template
// table can replace this once the catalog stabilizes.
func followupQuestions(ev *model.Evidence) []string {
	if ev == nil {
		return []string{
			"Describe the concrete use (which product, which process step).",
			"List the item's main components, concentrations and supply form.",
			"Who is the end user and destination country (catch-all screening)?",
		}
	}

	haystack := strings.ToLower(ev.RuleTitle + " " + ev.RuleItemNo + " " + ev.RuleSnippet)
	if containsAny(haystack, lithoKeywords) {
		return []string{
			"Which process step is targeted (coating, exposure, PEB, development, cleaning)?",
			"Is the exposure wavelength fixed (KrF 248nm, ArF 193nm, i-line)?",
			"Is the use confirmed for semiconductor manufacturing, or R&D/education?",
			"What are the main components (resin, PAG, solvent) and the supply form?",
			"Who is the end user and destination country (catch-all screening)?",
		}
	}
	if containsAny(haystack, cryptoKeywords) {
		return []string{
			"Does the item implement cryptography, and with what key lengths and algorithms?",
			"Can the user enable or change the cryptographic function, or is it fixed?",
			"What is the end use and who is the end user?",
		}
	}
	return []string{
		"Describe the concrete use (which product, which process step).",
		"List the item's key specifications (performance, precision, concentration, size).",
		"Who is the end user and destination country (catch-all screening)?",
	}
}

func containsAny(s string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
