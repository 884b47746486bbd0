package eval

import (
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
)

// Scores are the per-question quality metrics, each in [0,1].
type Scores struct {
	Faithfulness     float64 `json:"faithfulness"`
	Answerability    float64 `json:"answerability"`
	CitationCoverage float64 `json:"citation_coverage"`
	Completeness     float64 `json:"completeness"`
	Coherence        float64 `json:"coherence"`
	Currency         float64 `json:"currency"`
}

// Overall is the unweighted mean of the six metrics.
func (s Scores) Overall() float64 {
	return (s.Faithfulness + s.Answerability + s.CitationCoverage + s.Completeness + s.Coherence + s.Currency) / 6
}

var (
	sentenceSplit = regexp.MustCompile(`[.!?]+`)
	markerPattern = regexp.MustCompile(`\[#\d+\]`)
)

var refusalWords = []string{"cannot", "unable", "impossible", "unclear", "insufficient"}

// Faithfulness is the share of answer sentences with keyword support in at
// least one evidence text. A sentence is supported when it shares
// min(3, 30% of its words) words with the evidence.
func Faithfulness(answer string, evidence []string) float64 {
	if strings.TrimSpace(answer) == "" || len(evidence) == 0 {
		return 0
	}
	contexts := make([]map[string]bool, 0, len(evidence))
	for _, e := range evidence {
		contexts = append(contexts, wordSet(e))
	}
	var sentences, supported int
	for _, s := range sentenceSplit.Split(answer, -1) {
		words := wordSet(s)
		if len(words) == 0 {
			continue
		}
		sentences++
		need := math.Min(3, float64(len(words))*0.3)
		for _, ctx := range contexts {
			overlap := 0
			for w := range words {
				if ctx[w] {
					overlap++
				}
			}
			if float64(overlap) >= need {
				supported++
				break
			}
		}
	}
	if sentences == 0 {
		return 0
	}
	return float64(supported) / float64(sentences)
}

func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = true
	}
	return out
}

// CitationCoverage weighs how many citations the answer actually uses (0.6)
// against how many of them point somewhere real (0.4).
func CitationCoverage(answer string, citations []core.Citation) float64 {
	if len(citations) == 0 {
		return 0
	}
	distinct := map[string]bool{}
	for _, m := range markerPattern.FindAllString(answer, -1) {
		distinct[m] = true
	}
	used := math.Min(1, float64(len(distinct))/float64(len(citations)))
	valid := 0
	for _, c := range citations {
		if validLink(c.URL) {
			valid++
		}
	}
	return used*0.6 + float64(valid)/float64(len(citations))*0.4
}

func validLink(u string) bool {
	if u == "" {
		return false
	}
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return true
	}
	_, err := os.Stat(u)
	return err == nil
}

// Answerability checks that the run did what the question called for:
// answer it, refuse it, or fail cleanly.
func Answerability(answer string, unanswerable bool, runErr error, expected Expected) float64 {
	lower := strings.ToLower(answer)
	switch expected.AnswerType {
	case AnswerRefusal:
		if unanswerable {
			return 1
		}
		for _, w := range refusalWords {
			if strings.Contains(lower, w) {
				return 1
			}
		}
		return 0
	case AnswerError:
		if runErr != nil || strings.TrimSpace(answer) == "" || strings.Contains(lower, "error") {
			return 1
		}
		return 0
	default:
		if runErr == nil && !unanswerable && len(strings.TrimSpace(answer)) > 50 {
			return 1
		}
		return 0
	}
}

// Completeness is the share of expected terms found in the answer, or 0.8
// when the question names none.
func Completeness(answer string, terms []string) float64 {
	if len(terms) == 0 {
		return 0.8
	}
	lower := strings.ToLower(answer)
	found := 0
	for _, t := range terms {
		if strings.Contains(lower, strings.ToLower(t)) {
			found++
		}
	}
	return float64(found) / float64(len(terms))
}

// Coherence rewards structure, a reasonable length and inline citations.
func Coherence(answer string) float64 {
	if strings.TrimSpace(answer) == "" {
		return 0
	}
	score := 0.0
	if strings.Contains(answer, "**") || strings.Contains(answer, "#") {
		score += 0.3
	}
	for _, m := range []string{"•", "-", "1.", "2."} {
		if strings.Contains(answer, m) {
			score += 0.2
			break
		}
	}
	switch words := len(strings.Fields(answer)); {
	case words >= 50 && words <= 500:
		score += 0.3
	case words < 50:
		score += 0.1
	}
	if strings.Contains(answer, "[#") {
		score += 0.2
	}
	return math.Min(score, 1)
}

// Currency is 1 unless the question needs recent information. Then it is
// the share of citations dated this year or last, or a small constant
// based on whether the answer mentions the current year when nothing is
// cited.
func Currency(answer string, citations []core.Citation, requiresRecent bool, now time.Time) float64 {
	if !requiresRecent {
		return 1
	}
	year := now.Year()
	this, last := strconv.Itoa(year), strconv.Itoa(year-1)
	if len(citations) == 0 {
		if strings.Contains(answer, this) {
			return 0.5
		}
		return 0.2
	}
	recent := 0
	for _, c := range citations {
		if strings.Contains(c.Date, this) || strings.Contains(c.Date, last) {
			recent++
		}
	}
	return float64(recent) / float64(len(citations))
}
