package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
)

var (
	goodColor  = lipgloss.Color("#8BC34A")
	warnColor  = lipgloss.Color("#FFC107")
	badColor   = lipgloss.Color("#E53935")
	infoColor  = lipgloss.Color("#2196F3")
	mutedColor = lipgloss.Color("#8A8F98")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(infoColor)
	phaseStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(badColor)
	okStyle    = lipgloss.NewStyle().Foreground(goodColor)
)

// confidenceStyle colours a confidence: green from 0.7, yellow from 0.5,
// red below.
func confidenceStyle(c float64) lipgloss.Style {
	s := lipgloss.NewStyle().Bold(true)
	switch {
	case c >= 0.7:
		return s.Foreground(goodColor)
	case c >= 0.5:
		return s.Foreground(warnColor)
	default:
		return s.Foreground(badColor)
	}
}

func renderConfidence(c float64) string {
	return confidenceStyle(c).Render(fmt.Sprintf("%.2f", c))
}

// renderMarkdown renders md for the terminal, falling back to the raw text
// when the renderer cannot be built.
func renderMarkdown(md string, width int) string {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func printAnswer(w io.Writer, res *core.Result) {
	fmt.Fprint(w, renderMarkdown(res.Answer, 100))
	line := fmt.Sprintf("confidence %s  %s  run %s", renderConfidence(res.Confidence),
		mutedStyle.Render(res.Duration.Round(100*time.Millisecond).String()), mutedStyle.Render(res.RunID))
	if res.Unanswerable {
		line += "  " + errorStyle.Render("unanswerable")
	}
	fmt.Fprintln(w, line)
}

// progressSink prints pipeline events as they happen. Tokens are written
// inline so the synthesizer's answer appears as it is generated.
type progressSink struct {
	mu       sync.Mutex
	w        io.Writer
	inTokens bool
}

func newProgressSink(w io.Writer) *progressSink { return &progressSink{w: w} }

func (p *progressSink) Send(_ context.Context, ev core.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.Type == core.EventToken {
		p.inTokens = true
		_, err := fmt.Fprint(p.w, ev.Content)
		return err
	}
	if p.inTokens {
		fmt.Fprintln(p.w)
		p.inTokens = false
	}
	line := describe(ev)
	if line == "" {
		return nil
	}
	_, err := fmt.Fprintln(p.w, line)
	return err
}

func describe(ev core.Event) string {
	phase := phaseStyle.Render(string(ev.Phase))
	switch ev.Type {
	case core.EventPhaseStart:
		s := "▶ " + phase
		if ev.Iteration > 1 {
			s += mutedStyle.Render(fmt.Sprintf(" (round %d)", ev.Iteration))
		}
		if ev.Description != "" {
			s += " " + mutedStyle.Render(ev.Description)
		}
		return s
	case core.EventPhaseComplete:
		return okStyle.Render("✔ ") + phase + " " + mutedStyle.Render(phaseDetail(ev))
	case core.EventPhaseSkip:
		return mutedStyle.Render("↷ "+string(ev.Phase)+" skipped: "+ev.Reason)
	case core.EventToolStart:
		return "  → " + ev.Tool + " " + mutedStyle.Render(truncate(ev.Input, 80))
	case core.EventToolEnd:
		if ev.Failed {
			return "  " + errorStyle.Render("✘ "+ev.Tool) + " " + mutedStyle.Render(truncate(ev.Output, 80))
		}
		return "  " + okStyle.Render("← "+ev.Tool) + " " + mutedStyle.Render(truncate(ev.Output, 80))
	case core.EventPipelineComplete:
		conf := 0.0
		if ev.Confidence != nil {
			conf = *ev.Confidence
		}
		return titleStyle.Render("■ complete") + " confidence " + renderConfidence(conf)
	case core.EventError:
		if ev.Error == nil {
			return errorStyle.Render("■ error")
		}
		return errorStyle.Render(fmt.Sprintf("■ %s", ev.Error.Kind)) + " " + ev.Error.Message
	}
	return ""
}

func phaseDetail(ev core.Event) string {
	var parts []string
	if len(ev.Tools) > 0 {
		parts = append(parts, "tools "+strings.Join(ev.Tools, ", "))
	}
	if ev.FindingsCount != nil {
		parts = append(parts, fmt.Sprintf("%d findings", *ev.FindingsCount))
	}
	if ev.QualityScore != nil {
		parts = append(parts, fmt.Sprintf("quality %.2f", *ev.QualityScore))
	}
	if ev.IssueCount != nil {
		parts = append(parts, fmt.Sprintf("%d issues", *ev.IssueCount))
	}
	if ev.AnswerLength != nil {
		parts = append(parts, fmt.Sprintf("%d chars", *ev.AnswerLength))
	}
	if ev.Degraded {
		parts = append(parts, "degraded")
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
