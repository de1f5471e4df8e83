package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/apresai/newsdesk/internal/pipeline"
	"github.com/apresai/newsdesk/internal/stage"
	"github.com/apresai/newsdesk/internal/store"
)

// ToolDefs returns the MCP tool definitions.
func ToolDefs() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "generate_episode",
			Description: "Generate the AI news podcast script for a date. Runs research, prioritization, writing and optional editing, stores the episode, and returns the script with validation results.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"date": map[string]any{
						"type":        "string",
						"description": "Episode date as YYYY-MM-DD (default: today, UTC)",
					},
					"editor": map[string]any{
						"type":        "boolean",
						"description": "Run the editorial polish stage (default: server setting)",
					},
				},
			},
		},
		{
			Name:        "get_episode",
			Description: "Get the stored episode for a date, including its script, status, and validation results.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"date": map[string]any{
						"type":        "string",
						"description": "Episode date as YYYY-MM-DD",
					},
				},
				Required: []string{"date"},
			},
		},
		{
			Name:        "list_episodes",
			Description: "List stored episodes, newest date first.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results (default 20, max 100)",
						"default":     store.DefaultListLimit,
						"minimum":     1,
						"maximum":     store.MaxListLimit,
					},
					"cursor": map[string]any{
						"type":        "string",
						"description": "Pagination cursor from a previous list_episodes call",
					},
				},
			},
		},
	}
}

// NewMCP builds the MCP server with the episode tools registered.
func NewMCP(svc *Service, st store.EpisodeStore, version string, logger *slog.Logger) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer(
		"newsdesk",
		version,
		mcpserver.WithToolCapabilities(true),
	)
	h := NewHandlers(svc, st, logger)
	tools := ToolDefs()
	s.AddTool(tools[0], h.HandleGenerateEpisode)
	s.AddTool(tools[1], h.HandleGetEpisode)
	s.AddTool(tools[2], h.HandleListEpisodes)
	return s
}

// Handlers contains tool handler implementations.
type Handlers struct {
	svc   *Service
	store store.EpisodeStore
	log   *slog.Logger
}

// NewHandlers creates tool handlers.
func NewHandlers(svc *Service, st store.EpisodeStore, logger *slog.Logger) *Handlers {
	return &Handlers{svc: svc, store: st, log: logger}
}

// HandleGenerateEpisode runs a generation and returns the stored result.
func (h *Handlers) HandleGenerateEpisode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.generate_episode")
	defer span.End()

	dateStr := mcp.ParseString(req, "date", "")
	editor := mcp.ParseBoolean(req, "editor", h.svc.DefaultEditor())
	span.SetAttributes(attribute.String("date", dateStr), attribute.Bool("editor", editor))

	date, err := parseOptionalDate(dateStr)
	if err != nil {
		span.SetStatus(codes.Error, "invalid date")
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := h.svc.Generate(ctx, date, editor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to generate episode: %v", err)), nil
	}

	span.SetAttributes(attribute.String("episode_id", res.DigestID))
	h.log.InfoContext(ctx, "Episode generated via MCP", "date", res.Date, "episode_id", res.DigestID, "status", res.Status)
	return jsonResult(res)
}

// HandleGetEpisode returns the stored episode for a date.
func (h *Handlers) HandleGetEpisode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.get_episode")
	defer span.End()

	date := mcp.ParseString(req, "date", "")
	if date == "" {
		span.SetStatus(codes.Error, "missing date")
		return mcp.NewToolResultError("date is required"), nil
	}
	if _, err := stage.ParseDate(date); err != nil {
		span.SetStatus(codes.Error, "invalid date")
		return mcp.NewToolResultError(err.Error()), nil
	}
	span.SetAttributes(attribute.String("date", date))

	rec, err := h.store.Get(ctx, date)
	if errors.Is(err, store.ErrNotFound) {
		span.SetStatus(codes.Error, "not found")
		return mcp.NewToolResultError(fmt.Sprintf("episode for %s not found", date)), nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get episode failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to get episode: %v", err)), nil
	}
	return jsonResult(rec)
}

// HandleListEpisodes returns a page of episodes without their full text.
func (h *Handlers) HandleListEpisodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.list_episodes")
	defer span.End()

	limit := store.ClampListLimit(parseIntParam(req, "limit", store.DefaultListLimit))
	cursor := mcp.ParseString(req, "cursor", "")
	span.SetAttributes(attribute.Int("limit", limit), attribute.String("cursor", cursor))

	records, next, err := h.store.List(ctx, limit, cursor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list episodes failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to list episodes: %v", err)), nil
	}
	span.SetAttributes(attribute.Int("result_count", len(records)))

	episodes := make([]map[string]any, 0, len(records))
	for _, r := range records {
		e := map[string]any{
			"episode_id": r.ID,
			"date":       r.Date,
			"status":     r.Status,
			"created_at": r.CreatedAt,
		}
		if final, ok := r.Validations[pipeline.ValidationFinal]; ok {
			e["valid"] = final.Valid
			e["story_count"] = final.StoryCount
		}
		if r.ScriptURL != "" {
			e["script_url"] = r.ScriptURL
		}
		if r.Error != "" {
			e["error"] = r.Error
		}
		episodes = append(episodes, e)
	}

	result := map[string]any{
		"episodes": episodes,
		"count":    len(episodes),
	}
	if next != "" {
		result["next_cursor"] = next
	}
	return jsonResult(result)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func parseIntParam(req mcp.CallToolRequest, key string, defaultVal int) int {
	args := req.GetArguments()
	if args == nil {
		return defaultVal
	}
	raw, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultVal
	}
}
