package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/apresai/newsdesk/internal/observability"
	"github.com/apresai/newsdesk/internal/pipeline"
	"github.com/apresai/newsdesk/internal/quality"
	"github.com/apresai/newsdesk/internal/stage"
	"github.com/apresai/newsdesk/internal/store"
)

var tracer = otel.Tracer(observability.TracerName + "/server")

// ErrBusy is returned when max_runs generations are already running.
var ErrBusy = errors.New("too many generations in progress")

// failureSaveTimeout bounds the error-marker write after a failed run.
const failureSaveTimeout = 10 * time.Second

// Generator runs the pipeline. *pipeline.Orchestrator implements it.
type Generator interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Episode, error)
}

// Publisher archives a finished episode and returns its script URL.
type Publisher interface {
	Upload(ctx context.Context, ep *pipeline.Episode) (string, error)
}

// GenerateResult is what a trigger returns to its caller.
type GenerateResult struct {
	Date        string                    `json:"date"`
	Script      string                    `json:"script"`
	DigestID    string                    `json:"digest_id"`
	Created     bool                      `json:"created"`
	Status      store.Status              `json:"status"`
	Validations map[string]quality.Result `json:"validations,omitempty"`
	ScriptURL   string                    `json:"script_url,omitempty"`
	Error       string                    `json:"error,omitempty"`
}

// ServiceConfig holds generation defaults.
type ServiceConfig struct {
	MaxRuns  int
	Editor   bool
	Provider string
	Model    string
}

// Service generates and persists episodes for the HTTP and MCP triggers.
type Service struct {
	gen     Generator
	store   store.EpisodeStore
	archive Publisher
	metrics *observability.Metrics
	log     *slog.Logger
	cfg     ServiceConfig
	now     func() time.Time

	mu      sync.Mutex
	running int
}

// NewService creates a Service. archive and metrics may be nil.
func NewService(gen Generator, st store.EpisodeStore, archive Publisher, metrics *observability.Metrics, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.MaxRuns <= 0 {
		cfg.MaxRuns = 3
	}
	return &Service{
		gen:     gen,
		store:   st,
		archive: archive,
		metrics: metrics,
		log:     logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// DefaultEditor is the editor setting used when a request omits it.
func (s *Service) DefaultEditor() bool {
	return s.cfg.Editor
}

func (s *Service) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running >= s.cfg.MaxRuns {
		return false
	}
	s.running++
	if s.metrics != nil {
		s.metrics.InFlight.Inc()
	}
	return true
}

func (s *Service) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--
	if s.metrics != nil {
		s.metrics.InFlight.Dec()
	}
}

func (s *Service) count(outcome string) {
	if s.metrics != nil {
		s.metrics.Generations.WithLabelValues(outcome).Inc()
	}
}

// Generate runs the pipeline for date (zero means today) and stores the
// result. A pipeline failure is not returned as an error: the error marker
// is stored in place of the script and returned with status failed.
func (s *Service) Generate(ctx context.Context, date time.Time, editor bool) (*GenerateResult, error) {
	if date.IsZero() {
		date = s.now().UTC()
	}
	day := date.Format(stage.DateLayout)

	ctx, span := tracer.Start(ctx, "service.generate", trace.WithAttributes(
		attribute.String("episode.date", day),
		attribute.Bool("pipeline.editor", editor),
	))
	defer span.End()

	if !s.acquire() {
		s.count("rejected")
		span.SetStatus(codes.Error, "busy")
		return nil, fmt.Errorf("%w (max %d)", ErrBusy, s.cfg.MaxRuns)
	}
	defer s.release()

	log := s.log.With("date", day, "editor", editor)

	ep, err := s.gen.Run(ctx, pipeline.Options{Date: date, Editor: editor})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		log.ErrorContext(ctx, "Script generation failed, storing error marker", "error", err)

		// The run may have failed because ctx was cancelled at shutdown; the
		// marker must still be written.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureSaveTimeout)
		saved, serr := s.store.SaveFailure(saveCtx, store.Failure{
			Date:     day,
			Editor:   editor,
			Provider: s.cfg.Provider,
			Model:    s.cfg.Model,
			Err:      err,
		})
		cancel()
		s.count("failed")
		if serr != nil {
			return nil, fmt.Errorf("save failed episode: %w", serr)
		}
		return &GenerateResult{
			Date:     day,
			Script:   store.FailureScript(err),
			DigestID: saved.ID,
			Created:  saved.Created,
			Status:   store.StatusFailed,
			Error:    err.Error(),
		}, nil
	}

	saved, err := s.store.Save(ctx, ep)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		s.count("failed")
		return nil, fmt.Errorf("save episode: %w", err)
	}

	res := &GenerateResult{
		Date:        ep.Date,
		Script:      ep.Script,
		DigestID:    saved.ID,
		Created:     saved.Created,
		Status:      store.StatusComplete,
		Validations: ep.Validations,
	}

	if s.archive != nil {
		url, err := s.archive.Upload(ctx, ep)
		if err != nil {
			log.WarnContext(ctx, "Archive upload failed", "error", err)
		} else if err := s.store.SetScriptURL(ctx, ep.Date, url); err != nil {
			log.WarnContext(ctx, "Save script URL failed", "error", err)
		} else {
			res.ScriptURL = url
		}
	}

	span.SetAttributes(attribute.String("episode.id", saved.ID), attribute.Bool("episode.created", saved.Created))
	log.InfoContext(ctx, "Episode stored", "episode_id", saved.ID, "created", saved.Created, "valid", ep.Validations[pipeline.ValidationFinal].Valid)
	s.count("complete")
	return res, nil
}
