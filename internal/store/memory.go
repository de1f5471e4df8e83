package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/apresai/newsdesk/internal/pipeline"
	"github.com/apresai/newsdesk/internal/quality"
)

// Memory is an in-process EpisodeStore for the CLI and tests.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{records: map[string]Record{}, now: time.Now}
}

func (m *Memory) Save(_ context.Context, ep *pipeline.Episode) (SaveResult, error) {
	return m.upsert(ep.Date, func(r *Record) {
		r.Status = StatusComplete
		r.Research = ep.Research
		r.Summary = ep.Summary
		r.Script = ep.Script
		r.Validations = copyValidations(ep.Validations)
		r.Editor = ep.Editor
		r.Provider = ep.Provider
		r.Model = ep.Model
		r.Error = ""
	})
}

func (m *Memory) SaveFailure(_ context.Context, f Failure) (SaveResult, error) {
	return m.upsert(f.Date, func(r *Record) {
		r.Status = StatusFailed
		r.Research = ""
		r.Summary = ""
		r.Validations = nil
		r.Script = FailureScript(f.Err)
		r.Editor = f.Editor
		r.Provider = f.Provider
		r.Model = f.Model
		r.Error = f.Err.Error()
	})
}

func (m *Memory) upsert(date string, apply func(*Record)) (SaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	r, exists := m.records[date]
	if !exists {
		id, err := NewEpisodeID(now)
		if err != nil {
			return SaveResult{}, err
		}
		r = Record{ID: id, Date: date, CreatedAt: now}
	}
	apply(&r)
	r.UpdatedAt = now
	m.records[date] = r
	return SaveResult{ID: r.ID, Created: !exists}, nil
}

func (m *Memory) SetScriptURL(_ context.Context, date, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[date]
	if !ok {
		return ErrNotFound
	}
	r.ScriptURL = url
	m.records[date] = r
	return nil
}

func (m *Memory) Get(_ context.Context, date string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[date]
	if !ok {
		return nil, ErrNotFound
	}
	r.Validations = copyValidations(r.Validations)
	return &r, nil
}

// List pages by date; the cursor is the last date returned.
func (m *Memory) List(_ context.Context, limit int, cursor string) ([]Record, string, error) {
	limit = ClampListLimit(limit)

	m.mu.RLock()
	dates := make([]string, 0, len(m.records))
	for d := range m.records {
		if cursor == "" || d < cursor {
			dates = append(dates, d)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	var next string
	if len(dates) > limit {
		dates = dates[:limit]
		next = dates[limit-1]
	}
	out := make([]Record, 0, len(dates))
	for _, d := range dates {
		out = append(out, m.records[d])
	}
	m.mu.RUnlock()

	return out, next, nil
}

func copyValidations(in map[string]quality.Result) map[string]quality.Result {
	if in == nil {
		return nil
	}
	out := make(map[string]quality.Result, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
