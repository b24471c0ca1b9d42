package evaluate

import (
	"math"
	"time"

	"github.com/MrWong99/nextbest/internal/store"
	"github.com/MrWong99/nextbest/pkg/provider/llm"
)

// Skip reasons recorded on [Result.SkipReason].
const (
	// SkipContextWindow marks a window whose prompt does not fit the chat
	// model's context window after reserving the completion budget.
	SkipContextWindow = "context_window"

	// SkipNoMessages marks a window with no agent or customer turns, which
	// leaves nothing to send.
	SkipNoMessages = "no_messages"

	// SkipEmptyText marks a window whose ground truth or model response is
	// empty after normalization. Embedding APIs reject empty inputs.
	SkipEmptyText = "empty_text"
)

// Result is the outcome of evaluating one window.
type Result struct {
	// Transcript is the path the window was read from.
	Transcript string

	// Window is the zero-based index of the window within its transcript.
	Window int

	// Messages are the chat messages sent as context.
	Messages []llm.Message

	// Proposed is the normalized model response. Actual is the normalized
	// ground truth.
	Proposed string
	Actual   string

	// SelfScore is the proposed embedding scored against itself; close to 1
	// for unit-length embeddings.
	SelfScore float64

	// ActualScore is the proposed embedding scored against the ground truth.
	ActualScore float64

	// LexicalScore is the Jaro-Winkler similarity of Proposed and Actual.
	LexicalScore float64

	// DecoyScores holds one score per configured decoy, in decoy order.
	DecoyScores []float64

	Usage llm.Usage

	ProposedEmbedding []float32
	ActualEmbedding   []float32

	// Skipped is set when the window was not scored; SkipReason says why and
	// all scores are zero. Usage is kept when the model was already called.
	Skipped    bool
	SkipReason string
}

// Record converts r into its stored form.
func (r Result) Record() store.ResultRecord {
	return store.ResultRecord{
		Transcript:        r.Transcript,
		Window:            r.Window,
		Proposed:          r.Proposed,
		Actual:            r.Actual,
		SelfScore:         r.SelfScore,
		ActualScore:       r.ActualScore,
		LexicalScore:      r.LexicalScore,
		DecoyScores:       r.DecoyScores,
		PromptTokens:      r.Usage.PromptTokens,
		CompletionTokens:  r.Usage.CompletionTokens,
		SkipReason:        r.SkipReason,
		ProposedEmbedding: r.ProposedEmbedding,
		ActualEmbedding:   r.ActualEmbedding,
		CreatedAt:         time.Now().UTC(),
	}
}

// Summary aggregates the results of a run.
type Summary struct {
	RunID       string
	Transcripts int

	// Windows counts every window, skipped ones included.
	Windows int
	Skipped int

	// Means over scored windows. Zero when nothing was scored.
	MeanActual  float64
	MeanLexical float64
	MeanSelf    float64

	// MeanDecoys holds the mean score of each decoy, in decoy order.
	MeanDecoys []float64

	// PromptTokens and CompletionTokens total the reported usage.
	PromptTokens     int
	CompletionTokens int
}

// Scored returns the number of windows that received a score.
func (s Summary) Scored() int {
	return s.Windows - s.Skipped
}

// Summarize aggregates stored results. Transcripts counts the distinct
// transcript paths seen.
func Summarize(runID string, records []store.ResultRecord) Summary {
	s := Summary{RunID: runID, Windows: len(records)}
	seen := make(map[string]struct{})
	var (
		sumActual, sumLexical, sumSelf float64
		sumDecoys                      []float64
	)
	for _, r := range records {
		seen[r.Transcript] = struct{}{}
		s.PromptTokens += r.PromptTokens
		s.CompletionTokens += r.CompletionTokens
		if r.SkipReason != "" {
			s.Skipped++
			continue
		}
		sumActual += r.ActualScore
		sumLexical += r.LexicalScore
		sumSelf += r.SelfScore
		for len(sumDecoys) < len(r.DecoyScores) {
			sumDecoys = append(sumDecoys, 0)
		}
		for i, d := range r.DecoyScores {
			sumDecoys[i] += d
		}
	}
	s.Transcripts = len(seen)

	if n := float64(s.Scored()); n > 0 {
		s.MeanActual = sumActual / n
		s.MeanLexical = sumLexical / n
		s.MeanSelf = sumSelf / n
		s.MeanDecoys = make([]float64, len(sumDecoys))
		for i, d := range sumDecoys {
			s.MeanDecoys[i] = d / n
		}
	}
	return s
}

// Separation is the mean actual score minus the highest mean decoy score. A
// positive value means proposals sit closer to what the agent said than to
// any unrelated sentence. NaN when there are no decoys.
func (s Summary) Separation() float64 {
	if len(s.MeanDecoys) == 0 {
		return math.NaN()
	}
	best := s.MeanDecoys[0]
	for _, d := range s.MeanDecoys[1:] {
		best = max(best, d)
	}
	return s.MeanActual - best
}
