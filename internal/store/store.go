// Package store persists generated episodes, one per calendar date.
package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/apresai/newsdesk/internal/pipeline"
	"github.com/apresai/newsdesk/internal/quality"
)

// Status is the outcome recorded for a date.
type Status string

const (
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// ErrNotFound is returned by Get when no episode exists for the date.
var ErrNotFound = errors.New("episode not found")

// Record is a stored episode.
type Record struct {
	ID          string                    `json:"episode_id"`
	Date        string                    `json:"date"`
	Status      Status                    `json:"status"`
	Research    string                    `json:"research,omitempty"`
	Summary     string                    `json:"summary,omitempty"`
	Script      string                    `json:"script"`
	Validations map[string]quality.Result `json:"validations,omitempty"`
	Editor      bool                      `json:"editor"`
	Provider    string                    `json:"provider,omitempty"`
	Model       string                    `json:"model,omitempty"`
	ScriptURL   string                    `json:"script_url,omitempty"`
	Error       string                    `json:"error,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// SaveResult identifies the stored record.
type SaveResult struct {
	ID string
	// Created is false when an existing record for the date was overwritten.
	Created bool
}

// EpisodeStore keeps at most one record per date. Saving a date that already
// exists overwrites its text fields and keeps its ID.
type EpisodeStore interface {
	Save(ctx context.Context, ep *pipeline.Episode) (SaveResult, error)
	SaveFailure(ctx context.Context, f Failure) (SaveResult, error)
	SetScriptURL(ctx context.Context, date, url string) error
	Get(ctx context.Context, date string) (*Record, error)
	// List returns records newest date first. The returned cursor is empty on
	// the last page.
	List(ctx context.Context, limit int, cursor string) ([]Record, string, error)
}

// Failure describes a run that produced no script.
type Failure struct {
	Date     string
	Editor   bool
	Provider string
	Model    string
	Err      error
}

// FailureScript is the marker stored in place of a script when generation fails.
func FailureScript(err error) string {
	return fmt.Sprintf("[LLM call failed: %v]", err)
}

// DefaultListLimit applies when List is called with limit <= 0.
const DefaultListLimit = 20

// MaxListLimit caps a single List page.
const MaxListLimit = 100

// ClampListLimit maps limit into 1..MaxListLimit, using DefaultListLimit for
// non-positive values.
func ClampListLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

// NewEpisodeID generates a ULID for a new episode.
func NewEpisodeID(now time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate ulid: %w", err)
	}
	return id.String(), nil
}
