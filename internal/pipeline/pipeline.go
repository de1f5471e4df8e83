package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/apresai/newsdesk/internal/llm"
	"github.com/apresai/newsdesk/internal/observability"
	"github.com/apresai/newsdesk/internal/progress"
	"github.com/apresai/newsdesk/internal/quality"
	"github.com/apresai/newsdesk/internal/stage"
	"github.com/apresai/newsdesk/internal/story"
)

// Validation keys in Episode.Validations.
const (
	ValidationResearch = "research"
	ValidationSummary  = "summary"
	ValidationScript   = "script"
	ValidationFinal    = "final"
)

// Episode is the output of one run. It is not modified after Run returns.
type Episode struct {
	Date     string `json:"date"`
	Research string `json:"research"`
	Summary  string `json:"summary"`
	// Draft is the written script before editing.
	Draft  string `json:"draft"`
	Script string `json:"script"`
	// Stories are the records parsed from Summary.
	Stories     []story.Record            `json:"stories"`
	Validations map[string]quality.Result `json:"validations"`
	Editor      bool                      `json:"editor"`
	Provider    string                    `json:"provider,omitempty"`
	Model       string                    `json:"model,omitempty"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// Options control a single run.
type Options struct {
	// Date is the episode date. Zero means today (UTC).
	Date time.Time
	// Editor enables the edit stage.
	Editor bool
}

// StageError reports the stage a run failed in.
type StageError struct {
	Stage   string
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Orchestrator runs the research, prioritize, write, and edit stages in
// order against a shared completion client. It holds no per-run state, so
// one Orchestrator serves concurrent runs.
type Orchestrator struct {
	client       llm.Completer
	logger       *slog.Logger
	progress     progress.Callback
	metrics      *observability.Metrics
	tracer       trace.Tracer
	stageTimeout time.Duration
	provider     string
	model        string
	now          func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithProgress(cb progress.Callback) Option {
	return func(o *Orchestrator) { o.progress = cb }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStageTimeout bounds each completion call. Zero disables the bound.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stageTimeout = d }
}

// WithProvenance records which provider and model produced episodes.
func WithProvenance(provider, model string) Option {
	return func(o *Orchestrator) {
		o.provider = provider
		o.model = model
	}
}

func withClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator around client.
func New(client llm.Completer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:   client,
		logger:   slog.Default(),
		progress: progress.NopCallback,
		tracer:   otel.Tracer(observability.TracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one pipeline run. Validation issues never stop the run; a
// completion failure aborts it with a *StageError wrapping the client error.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Episode, error) {
	runStart := o.now()
	target := opts.Date
	if target.IsZero() {
		target = runStart.UTC()
	}
	target = time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, time.UTC)
	date := target.Format(stage.DateLayout)

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("episode.date", date),
		attribute.Bool("pipeline.editor", opts.Editor),
	))
	defer span.End()

	logger := o.logger.With("date", date, "editor", opts.Editor)
	logger.InfoContext(ctx, "pipeline started")

	ep := &Episode{
		Date:        date,
		Validations: make(map[string]quality.Result, 4),
		Editor:      opts.Editor,
		Provider:    o.provider,
		Model:       o.model,
	}

	var (
		research story.Digest
		summary  story.Digest
		step     int
	)
	total := stepCount(opts.Editor)

	for state := StateResearching; state != StateDone; state = state.next(opts.Editor) {
		step++

		var req stage.Request
		switch state {
		case StateResearching:
			req = stage.NewResearch(target)
		case StatePrioritizing:
			req = stage.NewPrioritize(target, research)
		case StateWriting:
			req = stage.NewWrite(target, summary)
		case StateEditing:
			req = stage.NewEdit(ep.Draft)
		}

		o.progress(progress.Event{
			Stage:     progress.Stage(req.Stage),
			Message:   state.describe(date, research, summary),
			Percent:   float64(step-1) / float64(total),
			StepNum:   step,
			StepTotal: total,
			Elapsed:   o.now().Sub(runStart),
		})

		text, result, err := o.runStage(ctx, logger, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.progress(progress.Event{
				Stage:   progress.Stage(req.Stage),
				Message: fmt.Sprintf("%s failed", req.Stage),
				Elapsed: o.now().Sub(runStart),
				Error:   err,
			})
			return nil, err
		}

		switch state {
		case StateResearching:
			ep.Research = text
			research = story.NewDigest(text)
			ep.Validations[ValidationResearch] = result
		case StatePrioritizing:
			ep.Summary = text
			summary = story.NewDigest(text)
			ep.Stories = summary.Records
			ep.Validations[ValidationSummary] = result
			o.reviewStories(ctx, logger, target, summary.Records)
		case StateWriting:
			ep.Draft = text
			ep.Script = text
			ep.Validations[ValidationScript] = result
			ep.Validations[ValidationFinal] = result
		case StateEditing:
			ep.Script = text
			ep.Validations[ValidationFinal] = result
		}
	}

	ep.GeneratedAt = o.now().UTC()
	final := ep.Validations[ValidationFinal]
	span.SetAttributes(
		attribute.Bool("episode.valid", final.Valid),
		attribute.Int("episode.stories", final.StoryCount),
	)
	logger.InfoContext(ctx, "pipeline complete",
		"valid", final.Valid,
		"story_count", final.StoryCount,
		"script_chars", len(ep.Script),
		"elapsed", o.now().Sub(runStart).Round(time.Millisecond).String(),
	)
	o.progress(progress.Event{
		Stage:     progress.StageComplete,
		Message:   fmt.Sprintf("Script ready for %s (%d stories)", date, final.StoryCount),
		Percent:   1,
		StepNum:   total,
		StepTotal: total,
		Elapsed:   o.now().Sub(runStart),
		Issues:    len(final.Issues),
		Date:      date,
	})
	return ep, nil
}

// runStage makes one completion call, filters the output, and validates it.
func (o *Orchestrator) runStage(ctx context.Context, logger *slog.Logger, req stage.Request) (string, quality.Result, error) {
	ctx, span := o.tracer.Start(ctx, "stage."+string(req.Stage), trace.WithAttributes(
		attribute.String("stage.name", string(req.Stage)),
		attribute.Int("stage.max_tokens", req.MaxTokens),
	))
	defer span.End()

	if o.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.stageTimeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := o.client.Complete(ctx, req.LLM())
	elapsed := time.Since(start)
	if o.metrics != nil {
		o.metrics.StageDuration.WithLabelValues(string(req.Stage), o.provider).Observe(elapsed.Seconds())
	}
	if err != nil {
		kind := "unknown"
		var se *llm.ServiceError
		switch {
		case errors.As(err, &se):
			kind = string(se.Kind)
		case errors.Is(err, context.DeadlineExceeded):
			kind = "timeout"
		case errors.Is(err, context.Canceled):
			kind = "canceled"
		}
		if o.metrics != nil {
			o.metrics.StageErrors.WithLabelValues(string(req.Stage), kind).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		logger.ErrorContext(ctx, "stage failed", "stage", req.Stage, "kind", kind, "error", err)
		return "", quality.Result{}, &StageError{Stage: string(req.Stage), Message: "completion failed", Err: err}
	}

	text, removed := quality.CleanCount(raw)
	result := quality.ForStage(req.Stage).Check(text)

	span.SetAttributes(
		attribute.Int("stage.story_count", result.StoryCount),
		attribute.Int("stage.citation_count", result.CitationCount),
		attribute.Int("stage.leakage_removed", removed),
		attribute.Bool("stage.valid", result.Valid),
	)
	if o.metrics != nil {
		if removed > 0 {
			o.metrics.LeakageLines.WithLabelValues(string(req.Stage)).Add(float64(removed))
		}
		if !result.Valid {
			o.metrics.ValidationFailures.WithLabelValues(string(req.Stage)).Inc()
		}
	}

	attrs := []any{
		"stage", req.Stage,
		"chars", len(text),
		"story_count", result.StoryCount,
		"citation_count", result.CitationCount,
		"leakage_removed", removed,
		"elapsed", elapsed.Round(time.Millisecond).String(),
	}
	if result.Valid {
		logger.InfoContext(ctx, "stage complete", attrs...)
	} else {
		logger.WarnContext(ctx, "stage output failed validation", append(attrs, "issues", result.Issues)...)
	}
	return text, result, nil
}

// reviewStories logs prioritized records that break the selection rules.
// The records are kept as-is.
func (o *Orchestrator) reviewStories(ctx context.Context, logger *slog.Logger, target time.Time, records []story.Record) {
	for _, r := range records {
		if !r.InWindow(target) {
			logger.WarnContext(ctx, "story outside 24-hour window", "number", r.Number, "headline", r.Headline, "story_date", r.Date, "note", r.Note)
		}
		if !r.Attributed() {
			logger.WarnContext(ctx, "story missing source", "number", r.Number, "headline", r.Headline)
		}
		if name, ok := r.Mentions(stage.ExcludedCompanies); ok {
			logger.WarnContext(ctx, "story mentions excluded company", "number", r.Number, "headline", r.Headline, "company", name)
		}
	}
}
