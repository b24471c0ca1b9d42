// Package evaluate measures how close a chat model's next-best response comes
// to what the human agent actually said.
//
// For every window of a transcript the [Evaluator] sends the interactions to
// the chat provider, embeds the proposal, the ground truth and a set of decoy
// sentences in one batch, and scores the proposal against each of them. The
// decoys give a baseline: a useful model scores the ground truth well above
// unrelated text.
//
//	ev := evaluate.New(chat, embedder, evaluate.WithDecoys(decoys), evaluate.WithStore(st))
//	sum, err := ev.Run(ctx, paths)
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/nextbest/internal/observe"
	"github.com/MrWong99/nextbest/internal/similarity"
	"github.com/MrWong99/nextbest/internal/store"
	"github.com/MrWong99/nextbest/internal/transcript"
	"github.com/MrWong99/nextbest/pkg/provider/embeddings"
	"github.com/MrWong99/nextbest/pkg/provider/llm"
)

const defaultConcurrency = 4

// Evaluator scores chat model proposals against transcript ground truth. It
// is safe for concurrent use once constructed.
type Evaluator struct {
	chat     llm.Provider
	embedder embeddings.Provider

	chatName      string
	embeddingName string

	decoys         []string
	concurrency    int
	store          store.Store
	metrics        *observe.Metrics
	strictChannels bool
	maxTokens      int
	temperature    float64
	systemPrompt   string
}

// Option is a functional option for [New].
type Option func(*Evaluator)

// WithDecoys sets the unrelated sentences every proposal is also scored
// against. They are normalized before embedding.
func WithDecoys(decoys []string) Option {
	return func(e *Evaluator) {
		e.decoys = make([]string, len(decoys))
		for i, d := range decoys {
			e.decoys[i] = transcript.Normalize(d)
		}
	}
}

// WithConcurrency bounds the windows evaluated in parallel. Values below 1
// are ignored. Defaults to 4.
func WithConcurrency(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithStore persists the run and every result.
func WithStore(s store.Store) Option {
	return func(e *Evaluator) { e.store = s }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithStrictChannels rejects transcripts containing a channel other than
// agent or customer.
func WithStrictChannels(strict bool) Option {
	return func(e *Evaluator) { e.strictChannels = strict }
}

// WithMaxTokens sets the completion budget. It is also reserved from the
// model's context window when deciding whether a window fits.
func WithMaxTokens(n int) Option {
	return func(e *Evaluator) { e.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(e *Evaluator) { e.temperature = t }
}

// WithSystemPrompt prepends an instruction to every completion request.
func WithSystemPrompt(prompt string) Option {
	return func(e *Evaluator) { e.systemPrompt = prompt }
}

// WithProviderNames sets the names used for the provider metric attribute
// and recorded on the run. The chat name should identify the model.
func WithProviderNames(chat, embedding string) Option {
	return func(e *Evaluator) {
		e.chatName = chat
		e.embeddingName = embedding
	}
}

// New creates an [Evaluator].
func New(chat llm.Provider, embedder embeddings.Provider, opts ...Option) *Evaluator {
	e := &Evaluator{
		chat:          chat,
		embedder:      embedder,
		chatName:      "llm",
		embeddingName: embedder.ModelID(),
		concurrency:   defaultConcurrency,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// ─────────────────────────────────────────────────────────────────────────────
// Run
// ─────────────────────────────────────────────────────────────────────────────

// Run evaluates every transcript in paths under a new run ID. When a store is
// configured the run and each result are saved. The first transcript or
// provider error aborts the run.
func (e *Evaluator) Run(ctx context.Context, paths []string) (*Summary, error) {
	runID := uuid.NewString()
	ctx, span := observe.StartSpan(ctx, "evaluate.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.transcripts", len(paths)),
		),
	)

	if e.store != nil {
		run := store.Run{
			ID:             runID,
			ChatModel:      e.chatName,
			EmbeddingModel: e.embeddingName,
			Decoys:         e.decoys,
			StartedAt:      time.Now().UTC(),
			Transcripts:    len(paths),
		}
		if err := e.store.SaveRun(ctx, run); err != nil {
			err = fmt.Errorf("evaluate: save run: %w", err)
			observe.EndSpan(span, err)
			return nil, err
		}
	}

	log := observe.Logger(ctx)
	log.Info("evaluation started", "run_id", runID, "transcripts", len(paths), "decoys", len(e.decoys))

	var records []store.ResultRecord
	for _, p := range paths {
		results, err := e.EvaluateTranscript(ctx, runID, p)
		if err != nil {
			observe.EndSpan(span, err)
			return nil, err
		}
		for _, r := range results {
			records = append(records, r.Record())
		}
	}

	sum := Summarize(runID, records)
	sum.Transcripts = len(paths)
	log.Info("evaluation finished",
		"run_id", runID,
		"windows", sum.Windows,
		"skipped", sum.Skipped,
		"mean_actual", sum.MeanActual,
		"mean_lexical", sum.MeanLexical,
	)
	observe.EndSpan(span, nil)
	return &sum, nil
}

// EvaluateTranscript loads path, builds its windows and evaluates them
// concurrently. Results are returned in window order. runID is only used to
// save results when a store is configured.
func (e *Evaluator) EvaluateTranscript(ctx context.Context, runID, path string) (_ []Result, err error) {
	ctx, span := observe.StartSpan(ctx, "evaluate.transcript",
		trace.WithAttributes(attribute.String("transcript.path", path)),
	)
	defer func() { observe.EndSpan(span, err) }()

	e.metrics.ActiveTranscripts.Add(ctx, 1)
	defer e.metrics.ActiveTranscripts.Add(ctx, -1)

	rows, err := transcript.Load(path)
	if err != nil {
		return nil, err
	}
	var aggOpts []transcript.AggregateOption
	if e.strictChannels {
		aggOpts = append(aggOpts, transcript.WithStrictChannels())
	}
	turns, err := transcript.AggregateTurns(rows, aggOpts...)
	if err != nil {
		var pe *transcript.ParsingError
		if errors.As(err, &pe) && pe.Path == "" {
			pe.Path = path
		}
		return nil, err
	}
	windows := transcript.BuildWindows(turns)
	span.SetAttributes(attribute.Int("transcript.windows", len(windows)))
	observe.Logger(ctx).Debug("transcript windowed",
		"path", path, "rows", len(rows), "turns", len(turns), "windows", len(windows))

	results := make([]Result, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, w := range windows {
		g.Go(func() error {
			res, err := e.EvaluateWindow(gctx, w)
			if err != nil {
				return fmt.Errorf("evaluate: %s window %d: %w", path, i, err)
			}
			res.Transcript = path
			res.Window = i
			if e.store != nil {
				if err := e.store.SaveResult(gctx, runID, res.Record()); err != nil {
					return fmt.Errorf("evaluate: save %s window %d: %w", path, i, err)
				}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Window
// ─────────────────────────────────────────────────────────────────────────────

// EvaluateWindow proposes a response for w and scores it. A window whose
// prompt would not fit the model's context window is returned as skipped
// without calling either provider. Windows with an empty ground truth or an
// empty model response are skipped before embedding. The returned Result has
// no transcript or window index set.
func (e *Evaluator) EvaluateWindow(ctx context.Context, w transcript.Window) (_ Result, err error) {
	ctx, span := observe.StartSpan(ctx, "evaluate.window",
		trace.WithAttributes(attribute.Int("window.interactions", len(w.Interactions))),
	)
	defer func() { observe.EndSpan(span, err) }()

	res := Result{
		Messages: transcript.ToMessages(w),
		Actual:   transcript.Normalize(w.Actual.Text),
	}
	if len(res.Messages) == 0 {
		return e.skip(ctx, span, res, SkipNoMessages), nil
	}
	if res.Actual == "" {
		return e.skip(ctx, span, res, SkipEmptyText), nil
	}

	budget, err := e.promptBudget()
	if err != nil {
		return Result{}, err
	}
	if budget > 0 {
		tokens, err := e.chat.CountTokens(res.Messages)
		if err != nil {
			return Result{}, fmt.Errorf("count tokens: %w", err)
		}
		span.SetAttributes(attribute.Int("window.prompt_tokens", tokens))
		if tokens > budget {
			observe.Logger(ctx).Debug("window exceeds context budget", "tokens", tokens, "budget", budget)
			return e.skip(ctx, span, res, SkipContextWindow), nil
		}
	}

	resp, err := e.complete(ctx, res.Messages)
	if err != nil {
		return Result{}, err
	}
	res.Proposed = transcript.Normalize(resp.Content)
	res.Usage = resp.Usage
	if res.Proposed == "" {
		observe.Logger(ctx).Warn("model returned an empty proposal", "completion_tokens", resp.Usage.CompletionTokens)
		return e.skip(ctx, span, res, SkipEmptyText), nil
	}

	texts := make([]string, 0, 2+len(e.decoys))
	texts = append(texts, res.Proposed, res.Actual)
	texts = append(texts, e.decoys...)
	vecs, err := e.embed(ctx, texts)
	if err != nil {
		return Result{}, err
	}
	res.ProposedEmbedding, res.ActualEmbedding = vecs[0], vecs[1]

	if res.SelfScore, err = similarity.Dot(vecs[0], vecs[0]); err != nil {
		return Result{}, fmt.Errorf("score self: %w", err)
	}
	if res.ActualScore, err = similarity.Dot(vecs[0], vecs[1]); err != nil {
		return Result{}, fmt.Errorf("score actual: %w", err)
	}
	res.DecoyScores = make([]float64, len(e.decoys))
	for i, v := range vecs[2:] {
		if res.DecoyScores[i], err = similarity.Dot(vecs[0], v); err != nil {
			return Result{}, fmt.Errorf("score decoy %d: %w", i, err)
		}
	}
	res.LexicalScore = similarity.Lexical(res.Proposed, res.Actual)

	e.metrics.RecordWindowScored(ctx, res.ActualScore)
	span.SetAttributes(
		attribute.Float64("window.score.actual", res.ActualScore),
		attribute.Float64("window.score.lexical", res.LexicalScore),
	)
	return res, nil
}

// promptBudget returns the number of prompt tokens a window may use, or 0 when
// the model does not report a context window.
func (e *Evaluator) promptBudget() (int, error) {
	caps := e.chat.Capabilities()
	if caps.ContextWindow <= 0 {
		return 0, nil
	}
	budget := caps.ContextWindow - e.maxTokens
	if budget <= 0 {
		return 0, fmt.Errorf("max tokens %d leave no room in a %d token context window", e.maxTokens, caps.ContextWindow)
	}
	return budget, nil
}

func (e *Evaluator) skip(ctx context.Context, span trace.Span, res Result, reason string) Result {
	res.Skipped = true
	res.SkipReason = reason
	e.metrics.RecordWindowSkipped(ctx, reason)
	span.SetAttributes(attribute.String("window.skip_reason", reason))
	return res
}

func (e *Evaluator) complete(ctx context.Context, msgs []llm.Message) (*llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := e.chat.Complete(ctx, llm.CompletionRequest{
		Messages:     msgs,
		Temperature:  e.temperature,
		MaxTokens:    e.maxTokens,
		SystemPrompt: e.systemPrompt,
	})
	e.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", e.chatName)))
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		e.metrics.RecordProviderRequest(ctx, e.chatName, "llm", "error")
		e.metrics.RecordProviderError(ctx, e.chatName, "llm")
		return nil, fmt.Errorf("complete: %w", err)
	}
	e.metrics.RecordProviderRequest(ctx, e.chatName, "llm", "ok")
	return resp, nil
}

func (e *Evaluator) embed(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := e.embedder.EmbedBatch(ctx, texts)
	e.metrics.EmbeddingsDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", e.embeddingName)))
	if err == nil && len(vecs) != len(texts) {
		err = fmt.Errorf("got %d embeddings for %d texts", len(vecs), len(texts))
	}
	if err != nil {
		e.metrics.RecordProviderRequest(ctx, e.embeddingName, "embeddings", "error")
		e.metrics.RecordProviderError(ctx, e.embeddingName, "embeddings")
		return nil, fmt.Errorf("embed: %w", err)
	}
	e.metrics.RecordProviderRequest(ctx, e.embeddingName, "embeddings", "ok")
	return vecs, nil
}
