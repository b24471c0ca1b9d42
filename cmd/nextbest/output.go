package main

import (
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/MrWong99/nextbest/internal/evaluate"
	"github.com/MrWong99/nextbest/internal/store"
	"github.com/MrWong99/nextbest/internal/store/postgres"
)

// maxCellRunes caps sentence columns so wide transcripts keep the table readable.
const maxCellRunes = 60

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

// printSummary writes the aggregate scores of a run. decoys labels the
// per-decoy means and may be shorter than sum.MeanDecoys.
func printSummary(w io.Writer, sum evaluate.Summary, decoys []string) error {
	t := newTable("metric", "value").
		Row("run", sum.RunID).
		Row("transcripts", strconv.Itoa(sum.Transcripts)).
		Row("windows", strconv.Itoa(sum.Windows)).
		Row("scored", strconv.Itoa(sum.Scored())).
		Row("skipped", strconv.Itoa(sum.Skipped)).
		Row("mean actual", formatScore(sum.MeanActual)).
		Row("mean lexical", formatScore(sum.MeanLexical)).
		Row("mean self", formatScore(sum.MeanSelf))
	for i, m := range sum.MeanDecoys {
		label := fmt.Sprintf("decoy %d", i+1)
		if i < len(decoys) {
			label = "decoy " + truncate(decoys[i], 30)
		}
		t.Row(label, formatScore(m))
	}
	t.Row("separation", formatScore(sum.Separation())).
		Row("prompt tokens", strconv.Itoa(sum.PromptTokens)).
		Row("completion tokens", strconv.Itoa(sum.CompletionTokens))

	_, err := fmt.Fprintln(w, t.String())
	return err
}

// printWindows writes one row per stored window.
func printWindows(w io.Writer, records []store.ResultRecord) error {
	t := newTable("transcript", "window", "actual", "lexical", "proposed", "ground truth")
	for _, r := range records {
		actual, lexical := formatScore(r.ActualScore), formatScore(r.LexicalScore)
		proposed := truncate(r.Proposed, maxCellRunes)
		if r.SkipReason != "" {
			actual, lexical, proposed = "-", "-", "skipped: "+r.SkipReason
		}
		t.Row(
			filepath.Base(r.Transcript),
			strconv.Itoa(r.Window),
			actual,
			lexical,
			proposed,
			truncate(r.Actual, maxCellRunes),
		)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

// printNeighbours writes the stored ground truths closest to one proposal.
func printNeighbours(w io.Writer, rec store.ResultRecord, neighbours []postgres.Neighbour) error {
	title := fmt.Sprintf("%s #%d: %s", filepath.Base(rec.Transcript), rec.Window, truncate(rec.Proposed, maxCellRunes))
	if _, err := fmt.Fprintln(w, titleStyle.Render(title)); err != nil {
		return err
	}
	t := newTable("distance", "run", "transcript", "window", "ground truth")
	for _, n := range neighbours {
		t.Row(
			strconv.FormatFloat(n.Distance, 'f', 4, 64),
			truncate(n.RunID, 8),
			filepath.Base(n.Transcript),
			strconv.Itoa(n.Window),
			truncate(n.Actual, maxCellRunes),
		)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func formatScore(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
