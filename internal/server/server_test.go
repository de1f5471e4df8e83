package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apresai/newsdesk/internal/llm/llmtest"
	"github.com/apresai/newsdesk/internal/observability"
	"github.com/apresai/newsdesk/internal/pipeline"
	"github.com/apresai/newsdesk/internal/quality"
	"github.com/apresai/newsdesk/internal/stage"
	"github.com/apresai/newsdesk/internal/store"
)

var validScript = func() string {
	lines := make([]string, 0, stage.EpisodeStories)
	for i := 1; i <= stage.EpisodeStories; i++ {
		lines = append(lines, fmt.Sprintf("STORY %d: TechCrunch reports release %d.", i, i))
	}
	return strings.Join(lines, "\n")
}()

// fakeGenerator returns a fixed episode for the requested date.
type fakeGenerator struct {
	mu    sync.Mutex
	opts  []pipeline.Options
	err   error
	block chan struct{}
	start chan struct{}
}

func (f *fakeGenerator) Run(ctx context.Context, opts pipeline.Options) (*pipeline.Episode, error) {
	f.mu.Lock()
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	if f.start != nil {
		f.start <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	result := quality.Validate(validScript, stage.EpisodeStories)
	return &pipeline.Episode{
		Date:        opts.Date.Format(stage.DateLayout),
		Research:    "STORY: research",
		Summary:     "STORY 1: One",
		Draft:       validScript,
		Script:      validScript,
		Validations: map[string]quality.Result{pipeline.ValidationScript: result, pipeline.ValidationFinal: result},
		Editor:      opts.Editor,
	}, nil
}

func (f *fakeGenerator) calls() []pipeline.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Options(nil), f.opts...)
}

type fakePublisher struct {
	err error
}

func (p fakePublisher) Upload(_ context.Context, ep *pipeline.Episode) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return "https://cdn.test/scripts/" + ep.Date + ".txt", nil
}

type testEnv struct {
	gen     *fakeGenerator
	store   *store.Memory
	reg     *prometheus.Registry
	svc     *Service
	handler http.Handler
}

func newTestEnv(t *testing.T, gen Generator, archive Publisher, maxRuns int) *testEnv {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	st := store.NewMemory()
	logger := observability.DiscardLogger()
	svc := NewService(gen, st, archive, metrics, ServiceConfig{MaxRuns: maxRuns, Editor: true, Provider: "test", Model: "scripted"}, logger)
	srv := New(context.Background(), svc, st, reg, Config{Port: 0, Version: "test"}, logger)

	env := &testEnv{store: st, reg: reg, svc: svc, handler: srv.Handler()}
	if fg, ok := gen.(*fakeGenerator); ok {
		env.gen = fg
	}
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{}, nil, 1)

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestGenerate_Created(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{}, fakePublisher{}, 1)

	rec := env.do(t, http.MethodPost, "/api/v1/generate-script", `{"date":"2025-05-25","editor":false}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res GenerateResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "2025-05-25", res.Date)
	assert.Equal(t, validScript, res.Script)
	assert.NotEmpty(t, res.DigestID)
	assert.True(t, res.Created)
	assert.Equal(t, store.StatusComplete, res.Status)
	assert.True(t, res.Validations[pipeline.ValidationFinal].Valid)
	assert.Equal(t, "https://cdn.test/scripts/2025-05-25.txt", res.ScriptURL)

	calls := env.gen.calls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Editor)
	assert.Equal(t, time.Date(2025, 5, 25, 0, 0, 0, 0, time.UTC), calls[0].Date)

	stored, err := env.store.Get(context.Background(), "2025-05-25")
	require.NoError(t, err)
	assert.Equal(t, res.DigestID, stored.ID)
	assert.Equal(t, res.ScriptURL, stored.ScriptURL)
}

func TestGenerate_SecondRunUpdates(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{}, nil, 1)

	first := env.do(t, http.MethodPost, "/api/v1/generate-script", `{"date":"2025-05-25"}`)
	require.Equal(t, http.StatusCreated, first.Code)
	second := env.do(t, http.MethodPost, "/api/v1/generate-script", `{"date":"2025-05-25"}`)
	require.Equal(t, http.StatusCreated, second.Code)

	var a, b GenerateResult
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.True(t, a.Created)
	assert.False(t, b.Created)
	assert.Equal(t, a.DigestID, b.DigestID)
}

func TestGenerate_DefaultEditor(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{}, nil, 1)

	rec := env.do(t, http.MethodPost, "/api/v1/generate-script", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	calls := env.gen.calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Editor)
	assert.False(t, calls[0].Date.IsZero())
}

func TestGenerate_FailureStoresMarker(t *testing.T) {
	client := llmtest.NewScripted().FailOn(0, errors.New("rate limited"))
	orch := pipeline.New(client, pipeline.WithLogger(observability.DiscardLogger()))
	env := newTestEnv(t, orch, nil, 1)

	rec := env.do(t, http.MethodPost, "/api/v1/generate-script", `{"date":"2025-05-25"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res GenerateResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, store.StatusFailed, res.Status)
	assert.True(t, strings.HasPrefix(res.Script, "[LLM call failed: "), res.Script)
	assert.Contains(t, res.Script, "rate limited")
	assert.Equal(t, 1, client.Calls())

	stored, err := env.store.Get(context.Background(), "2025-05-25")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, stored.Status)
	assert.Equal(t, res.Script, stored.Script)
}

// liveCtxStore refuses failure writes on a cancelled context, the way the
// DynamoDB client does.
type liveCtxStore struct {
	store.EpisodeStore
	hadDeadline bool
}

func (s *liveCtxStore) SaveFailure(ctx context.Context, f store.Failure) (store.SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return store.SaveResult{}, err
	}
	_, s.hadDeadline = ctx.Deadline()
	return s.EpisodeStore.SaveFailure(ctx, f)
}

func TestGenerate_FailureSavedAfterCancel(t *testing.T) {
	mem := store.NewMemory()
	st := &liveCtxStore{EpisodeStore: mem}
	gen := &fakeGenerator{block: make(chan struct{})}
	svc := NewService(gen, st, nil, observability.NewMetrics(prometheus.NewRegistry()),
		ServiceConfig{MaxRuns: 1}, observability.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := svc.Generate(ctx, time.Date(2025, 5, 25, 0, 0, 0, 0, time.UTC), true)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, res.Status)
	assert.Equal(t, "[LLM call failed: context canceled]", res.Script)
	assert.True(t, st.hadDeadline, "the marker write is bounded")

	stored, err := mem.Get(context.Background(), "2025-05-25")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, stored.Status)
	assert.Equal(t, res.DigestID, stored.ID)
}

func TestGenerate_FailureReplacesEarlierRun(t *testing.T) {
	gen := &fakeGenerator{}
	env := newTestEnv(t, gen, nil, 1)
	h := NewHandlers(env.svc, env.store, observability.DiscardLogger())

	rec := env.do(t, http.MethodPost, "/api/v1/generate-script", `{"date":"2025-05-25"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	gen.mu.Lock()
	gen.err = errors.New("quota")
	gen.mu.Unlock()
	rec = env.do(t, http.MethodPost, "/api/v1/generate-script", `{"date":"2025-05-25"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	stored, err := env.store.Get(context.Background(), "2025-05-25")
	require.NoError(t, err)
	assert.Empty(t, stored.Research)
	assert.Empty(t, stored.Summary)
	assert.Nil(t, stored.Validations)

	res, err := h.HandleListEpisodes(context.Background(), callTool(nil))
	require.NoError(t, err)
	var list struct {
		Episodes []map[string]any `json:"episodes"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, res)), &list))
	require.Len(t, list.Episodes, 1)
	assert.Equal(t, "failed", list.Episodes[0]["status"])
	assert.NotContains(t, list.Episodes[0], "valid")
}

func TestGenerate_BadDate(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{}, nil, 1)

	for _, body := range []string{`{"date":"25-05-2025"}`, `{"date":"2025-13-01"}`, `not json`} {
		rec := env.do(t, http.MethodPost, "/api/v1/generate-script", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, env.gen.calls())
}

func TestGenerate_Busy(t *testing.T) {
	gen := &fakeGenerator{block: make(chan struct{}), start: make(chan struct{}, 1)}
	env := newTestEnv(t, gen, nil, 1)

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- env.do(t, http.MethodPost, "/api/v1/generate-script", `{"date":"2025-05-25"}`)
	}()
	<-gen.start

	rec := env.do(t, http.MethodPost, "/api/v1/generate-script", `{"date":"2025-05-26"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	close(gen.block)
	first := <-done
	assert.Equal(t, http.StatusCreated, first.Code)
}

func TestGetEpisode(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{}, nil, 1)

	rec := env.do(t, http.MethodGet, "/api/v1/episodes/2025-05-25", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/episodes/yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/generate-script", `{"date":"2025-05-25"}`).Code)

	rec = env.do(t, http.MethodGet, "/api/v1/episodes/2025-05-25", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got store.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "2025-05-25", got.Date)
	assert.Equal(t, validScript, got.Script)
}

func TestListEpisodes(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{}, nil, 1)
	for _, d := range []string{"2025-05-23", "2025-05-25", "2025-05-24"} {
		require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/generate-script", `{"date":"`+d+`"}`).Code)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/episodes?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 2, page.Count)
	assert.Equal(t, "2025-05-25", page.Episodes[0].Date)
	assert.Equal(t, "2025-05-24", page.Episodes[1].Date)
	require.NotEmpty(t, page.NextCursor)

	rec = env.do(t, http.MethodGet, "/api/v1/episodes?limit=2&cursor="+page.NextCursor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rest ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rest))
	require.Equal(t, 1, rest.Count)
	assert.Equal(t, "2025-05-23", rest.Episodes[0].Date)
	assert.Empty(t, rest.NextCursor)

	rec = env.do(t, http.MethodGet, "/api/v1/episodes?limit=500", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{}, nil, 1)

	body, err := json.Marshal(ValidateRequest{Text: "Let me search for news\n" + validScript, ExpectedStories: 10})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/validate", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ValidateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, validScript, resp.Cleaned)
	assert.Equal(t, 1, resp.RemovedLines)
	assert.Equal(t, 10, resp.Result.StoryCount)
	assert.False(t, resp.Result.HasLeakage)
	assert.True(t, resp.Result.Valid, resp.Result.Issues)

	rec = env.do(t, http.MethodPost, "/api/v1/validate", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{}, nil, 1)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/generate-script", `{"date":"2025-05-25"}`).Code)

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `newsdesk_generations_total{outcome="complete"} 1`)
}

func TestArchiveFailureKeepsEpisode(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{}, fakePublisher{err: errors.New("s3 down")}, 1)

	res, err := env.svc.Generate(context.Background(), time.Date(2025, 5, 25, 0, 0, 0, 0, time.UTC), false)
	require.NoError(t, err)
	assert.Equal(t, store.StatusComplete, res.Status)
	assert.Empty(t, res.ScriptURL)
}

func callTool(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func toolText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestMCPTools(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{}, nil, 1)
	h := NewHandlers(env.svc, env.store, observability.DiscardLogger())
	ctx := context.Background()

	res, err := h.HandleGenerateEpisode(ctx, callTool(map[string]any{"date": "2025-05-25", "editor": false}))
	require.NoError(t, err)
	require.False(t, res.IsError, toolText(t, res))
	var gen GenerateResult
	require.NoError(t, json.Unmarshal([]byte(toolText(t, res)), &gen))
	assert.Equal(t, "2025-05-25", gen.Date)
	assert.False(t, env.gen.calls()[0].Editor)

	res, err = h.HandleGetEpisode(ctx, callTool(map[string]any{"date": "2025-05-25"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	var rec store.Record
	require.NoError(t, json.Unmarshal([]byte(toolText(t, res)), &rec))
	assert.Equal(t, gen.DigestID, rec.ID)

	res, err = h.HandleListEpisodes(ctx, callTool(map[string]any{"limit": float64(5)}))
	require.NoError(t, err)
	var list struct {
		Episodes []map[string]any `json:"episodes"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, res)), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "2025-05-25", list.Episodes[0]["date"])
	assert.Equal(t, true, list.Episodes[0]["valid"])
}

func TestMCPTools_Errors(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{}, nil, 1)
	h := NewHandlers(env.svc, env.store, observability.DiscardLogger())
	ctx := context.Background()

	res, err := h.HandleGetEpisode(ctx, callTool(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = h.HandleGetEpisode(ctx, callTool(map[string]any{"date": "2025-05-25"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, toolText(t, res), "not found")

	res, err = h.HandleGenerateEpisode(ctx, callTool(map[string]any{"date": "May 25"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Empty(t, env.gen.calls())
}

func TestMCPListEpisodes_ClampsLimit(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{}, nil, 1)
	h := NewHandlers(env.svc, env.store, observability.DiscardLogger())
	ctx := context.Background()

	for i := 0; i < store.MaxListLimit+5; i++ {
		day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
		_, err := env.store.Save(ctx, &pipeline.Episode{Date: day.Format(stage.DateLayout), Script: "x"})
		require.NoError(t, err)
	}

	tests := []struct {
		limit float64
		want  int
	}{
		{1e12, store.MaxListLimit},
		{-5, store.DefaultListLimit},
		{3, 3},
	}
	for _, tt := range tests {
		res, err := h.HandleListEpisodes(ctx, callTool(map[string]any{"limit": tt.limit}))
		require.NoError(t, err)
		require.False(t, res.IsError, toolText(t, res))
		var list struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal([]byte(toolText(t, res)), &list))
		assert.Equal(t, tt.want, list.Count, "limit %v", tt.limit)
	}
}

func TestToolDefs(t *testing.T) {
	var names []string
	for _, tool := range ToolDefs() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"generate_episode", "get_episode", "list_episodes"}, names)
}
