package eval

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// DefaultThreshold is the overall score a dataset must reach to pass.
const DefaultThreshold = 0.7

// Summary aggregates the successful results of a report.
type Summary struct {
	Total             int     `json:"total_questions"`
	Succeeded         int     `json:"successful_questions"`
	ErrorRate         float64 `json:"error_rate"`
	Averages          Scores  `json:"averages"`
	AverageConfidence float64 `json:"avg_confidence"`
	AverageSeconds    float64 `json:"avg_duration_seconds"`
	Overall           float64 `json:"overall_score"`
}

// Report holds every result of one evaluation.
type Report struct {
	Dataset     string    `json:"dataset,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Results     []Result  `json:"results"`
	Summary     Summary   `json:"summary"`
}

func NewReport(dataset string, results []Result) *Report {
	return &Report{Dataset: dataset, GeneratedAt: time.Now().UTC(), Results: results, Summary: Summarize(results)}
}

// Summarize averages the metrics over results that did not error. With no
// successful results every average is zero.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	if s.Total == 0 {
		return s
	}
	var sum Scores
	var conf, secs float64
	for _, r := range results {
		if r.Failed() {
			continue
		}
		s.Succeeded++
		sum.Faithfulness += r.Scores.Faithfulness
		sum.Answerability += r.Scores.Answerability
		sum.CitationCoverage += r.Scores.CitationCoverage
		sum.Completeness += r.Scores.Completeness
		sum.Coherence += r.Scores.Coherence
		sum.Currency += r.Scores.Currency
		conf += r.Confidence
		secs += r.Seconds
	}
	s.ErrorRate = float64(s.Total-s.Succeeded) / float64(s.Total)
	if s.Succeeded == 0 {
		return s
	}
	n := float64(s.Succeeded)
	s.Averages = Scores{
		Faithfulness:     sum.Faithfulness / n,
		Answerability:    sum.Answerability / n,
		CitationCoverage: sum.CitationCoverage / n,
		Completeness:     sum.Completeness / n,
		Coherence:        sum.Coherence / n,
		Currency:         sum.Currency / n,
	}
	s.AverageConfidence = conf / n
	s.AverageSeconds = secs / n
	s.Overall = s.Averages.Overall()
	return s
}

// Check returns ErrBelowThreshold when the overall score is under threshold.
func (r *Report) Check(threshold float64) error {
	if r.Summary.Overall < threshold {
		return fmt.Errorf("%w: %.3f < %.3f", ErrBelowThreshold, r.Summary.Overall, threshold)
	}
	return nil
}

// WriteTable prints one row per question followed by the aggregates.
func (r *Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tDIFFICULTY\tFAITH\tANSWER\tCITE\tCOMPLETE\tCOHERE\tCURRENCY\tOVERALL\tCONF\tSECONDS\tERROR")
	for _, res := range r.Results {
		sc := res.Scores
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.1f\t%s\n",
			res.ID, res.Category, res.Difficulty,
			sc.Faithfulness, sc.Answerability, sc.CitationCoverage, sc.Completeness, sc.Coherence, sc.Currency,
			res.Overall, res.Confidence, res.Seconds, res.ErrorKind)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	s := r.Summary
	_, err := fmt.Fprintf(w, "\nquestions %d, succeeded %d, error rate %.2f\n"+
		"faithfulness %.3f  answerability %.3f  citation coverage %.3f\n"+
		"completeness %.3f  coherence %.3f  currency %.3f\n"+
		"confidence %.3f  duration %.1fs  overall %.3f\n",
		s.Total, s.Succeeded, s.ErrorRate,
		s.Averages.Faithfulness, s.Averages.Answerability, s.Averages.CitationCoverage,
		s.Averages.Completeness, s.Averages.Coherence, s.Averages.Currency,
		s.AverageConfidence, s.AverageSeconds, s.Overall)
	return err
}

func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
