package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var geminiModels = map[string]string{
	"gemini-flash": "gemini-2.5-flash",
	"gemini-pro":   "gemini-2.5-pro",
}

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini completes via the generateContent REST endpoint, offering the
// google_search tool for WebSearch requests.
type Gemini struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewGemini(apiKey, model string, timeout time.Duration) *Gemini {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	modelID := geminiModels[model]
	if modelID == "" {
		modelID = model
	}
	if modelID == "" {
		modelID = geminiModels["gemini-flash"]
	}
	return &Gemini{
		model:      modelID,
		apiKey:     apiKey,
		baseURL:    geminiBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	Tools            []geminiTool    `json:"tools,omitempty"`
	GenerationConfig *geminiGenCfg   `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiTool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type geminiGenCfg struct {
	MaxOutputTokens int `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	body := geminiRequest{
		GenerationConfig: &geminiGenCfg{MaxOutputTokens: req.MaxTokens},
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		body.Contents = append(body.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}
	if req.WebSearch {
		body.Tools = []geminiTool{{GoogleSearch: &struct{}{}}}
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// Kept out of the URL so transport errors never echo it.
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	res, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", newServiceError("gemini", 0, fmt.Errorf("send request: %w", err))
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return "", newServiceError("gemini", 0, fmt.Errorf("read response: %w", err))
	}
	if res.StatusCode != http.StatusOK {
		return "", newServiceError("gemini", res.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(respBody))))
	}

	var resp geminiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", nil
	}
	var parts []string
	for _, p := range resp.Candidates[0].Content.Parts {
		parts = append(parts, p.Text)
	}
	return strings.TrimSpace(strings.Join(parts, "")), nil
}
