// Package diff turns two snapshot texts into a human-readable change summary.
package diff

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/JakeFAU/source-monitor/internal/monitor"
)

// Defaults applied by New for zero options.
const (
	DefaultContextLines    = 2
	DefaultMaxPreviewLines = 120
	DefaultMaxCitations    = 3
	DefaultMaxQuoteChars   = 200
)

// Summaries for the degenerate cases.
const (
	SummaryUnavailable = "Content changed; diff unavailable."
	SummaryIdentical   = "No textual differences detected."
)

// Change values recorded on citations.
const (
	ChangeAdded   = "added"
	ChangeRemoved = "removed"
)

// Options bounds the explanation.
type Options struct {
	ContextLines    int
	MaxPreviewLines int
	MaxCitations    int
	MaxQuoteChars   int
}

// Explanation is the finding-facing description of a change.
type Explanation struct {
	Summary     string
	DiffPreview string
	Citations   []monitor.Citation
	Hunks       int
}

// Explainer builds Explanations from unified diffs.
type Explainer struct {
	opts Options
}

// New builds an Explainer.
func New(opts Options) *Explainer {
	if opts.ContextLines <= 0 {
		opts.ContextLines = DefaultContextLines
	}
	if opts.MaxPreviewLines <= 0 {
		opts.MaxPreviewLines = DefaultMaxPreviewLines
	}
	if opts.MaxCitations <= 0 {
		opts.MaxCitations = DefaultMaxCitations
	}
	if opts.MaxQuoteChars <= 0 {
		opts.MaxQuoteChars = DefaultMaxQuoteChars
	}
	return &Explainer{opts: opts}
}

// Explain compares the previous and current text.
func (e *Explainer) Explain(prev, cur string) Explanation {
	if prev == cur {
		return Explanation{Summary: SummaryIdentical}
	}
	if prev == "" || cur == "" {
		return Explanation{Summary: SummaryUnavailable}
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(prev),
		B:        difflib.SplitLines(cur),
		FromFile: "previous",
		ToFile:   "current",
		Context:  e.opts.ContextLines,
	})
	if err != nil || strings.TrimSpace(text) == "" {
		return Explanation{Summary: SummaryUnavailable}
	}

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	body := lines
	// Only the two file headers are skipped; content lines may start with
	// "--" or "++" too.
	if len(body) >= 2 && strings.HasPrefix(body[0], "--- ") && strings.HasPrefix(body[1], "+++ ") {
		body = body[2:]
	}
	var (
		hunks     int
		hunk      string
		citations []monitor.Citation
	)
	for _, line := range body {
		switch {
		case strings.HasPrefix(line, "@@"):
			hunks++
			hunk = line
		case strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-"):
			if len(citations) >= e.opts.MaxCitations {
				continue
			}
			quote := strings.TrimSpace(line[1:])
			if quote == "" {
				continue
			}
			change := ChangeAdded
			if line[0] == '-' {
				change = ChangeRemoved
			}
			citations = append(citations, monitor.Citation{
				Hunk:   hunk,
				Quote:  truncateRunes(quote, e.opts.MaxQuoteChars),
				Change: change,
			})
		}
	}
	if hunks == 0 {
		return Explanation{Summary: SummaryIdentical}
	}

	return Explanation{
		Summary:     fmt.Sprintf("Detected %d changed section(s) with %d citation(s).", hunks, len(citations)),
		DiffPreview: preview(lines, e.opts.MaxPreviewLines),
		Citations:   citations,
		Hunks:       hunks,
	}
}

func preview(lines []string, limit int) string {
	if len(lines) <= limit {
		return strings.Join(lines, "\n")
	}
	kept := append([]string(nil), lines[:limit]...)
	kept = append(kept, fmt.Sprintf("... (%d more diff lines truncated)", len(lines)-limit))
	return strings.Join(kept, "\n")
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
