package eval

import (
	"context"
	"errors"
	"time"

	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pipeline runs one research request to completion.
type Pipeline interface {
	Run(ctx context.Context, req core.Request, sinks ...core.Sink) (*core.Result, error)
}

// Options tune a Runner.
type Options struct {
	Concurrency int
	FastMode    bool
	MaxSources  int
}

// Result is the outcome of one question.
type Result struct {
	ID           string        `json:"id"`
	Question     string        `json:"question"`
	Category     string        `json:"category"`
	Difficulty   string        `json:"difficulty"`
	RunID        string        `json:"run_id,omitempty"`
	Answer       string        `json:"answer"`
	Confidence   float64       `json:"confidence"`
	Citations    int           `json:"citations"`
	Unanswerable bool          `json:"unanswerable,omitempty"`
	Duration     time.Duration `json:"-"`
	Seconds      float64       `json:"duration_seconds"`
	Scores       Scores        `json:"scores"`
	Overall      float64       `json:"overall"`
	Error        string        `json:"error,omitempty"`
	ErrorKind    string        `json:"error_kind,omitempty"`
}

// Failed reports whether the run errored.
func (r Result) Failed() bool { return r.Error != "" }

// Runner evaluates a dataset against a pipeline.
type Runner struct {
	pipeline Pipeline
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

func NewRunner(p Pipeline, opts Options, logger *zap.Logger) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxSources <= 0 {
		opts.MaxSources = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{pipeline: p, opts: opts, logger: logger.Named("eval"), now: time.Now}
}

// Run evaluates every question, at most Concurrency at a time, and returns
// the report with results in dataset order. A failing question is scored,
// not fatal; only cancellation of ctx stops the run.
func (r *Runner) Run(ctx context.Context, ds *Dataset) (*Report, error) {
	results := make([]Result, len(ds.Questions))
	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, item := range ds.Questions {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = r.evaluate(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewReport(ds.Name, results), nil
}

func (r *Runner) evaluate(ctx context.Context, item Item) Result {
	res := Result{ID: item.ID, Question: item.Question, Category: item.Category, Difficulty: item.Difficulty}
	req := core.Request{
		Question:      item.Question,
		Context:       item.Context,
		FastMode:      r.opts.FastMode,
		MaxSources:    r.opts.MaxSources,
		RequireRecent: item.RequiresRecent,
	}
	start := r.now()
	out, err := r.pipeline.Run(ctx, req)
	res.Duration = r.now().Sub(start)
	res.Seconds = res.Duration.Seconds()

	if err != nil {
		res.Error = err.Error()
		res.ErrorKind = string(core.KindOf(err))
		res.Scores.Answerability = Answerability("", false, err, item.Expected)
		res.Overall = res.Scores.Overall()
		r.logger.Info("question failed", zap.String("id", item.ID), zap.String("kind", res.ErrorKind), zap.Error(err))
		return res
	}

	res.RunID = out.RunID
	res.Answer = out.Answer
	res.Confidence = out.Confidence
	res.Citations = len(out.Citations)
	res.Unanswerable = out.Unanswerable
	res.Scores = Scores{
		Faithfulness:     Faithfulness(out.Answer, evidenceOf(out)),
		Answerability:    Answerability(out.Answer, out.Unanswerable, nil, item.Expected),
		CitationCoverage: CitationCoverage(out.Answer, out.Citations),
		Completeness:     Completeness(out.Answer, item.Expected.AnswerContains),
		Coherence:        Coherence(out.Answer),
		Currency:         Currency(out.Answer, out.Citations, item.RequiresRecent, r.now()),
	}
	res.Overall = res.Scores.Overall()
	r.logger.Info("question scored",
		zap.String("id", item.ID),
		zap.Float64("overall", res.Overall),
		zap.Float64("confidence", res.Confidence),
		zap.Duration("duration", res.Duration))
	return res
}

func evidenceOf(out *core.Result) []string {
	if out.State == nil {
		return nil
	}
	ev := make([]string, 0, len(out.State.Findings))
	for _, f := range out.State.Findings {
		ev = append(ev, f.Claim+" "+f.Evidence)
	}
	return ev
}

// ErrBelowThreshold is returned by Report.Check when the overall score is
// too low.
var ErrBelowThreshold = errors.New("overall score below threshold")
