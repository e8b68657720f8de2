package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cyberdevstudio/internal/sberrors"
)

const placeholderSummary = "(agent returned no summary)"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        float64       `json:"top_p"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// llmClient composes a two-message chat completion request against a
// configured endpoint and parses (or falls back from) its JSON payload.
type llmClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func newLLMClient(endpoint, apiKey string, timeout time.Duration) *llmClient {
	return &llmClient{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *llmClient) complete(ctx context.Context, systemPrompt, userPrompt string, model string, params Parameters) (Outcome, error) {
	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		TopP:        params.TopP,
	})
	if err != nil {
		return Outcome{}, sberrors.AgentFailed(fmt.Sprintf("failed to marshal request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, sberrors.AgentFailed(fmt.Sprintf("failed to build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{}, sberrors.Network(err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, sberrors.Network(fmt.Sprintf("failed to read response: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{}, sberrors.AgentFailed(fmt.Sprintf("%d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || len(parsed.Choices) == 0 {
		return Outcome{}, sberrors.AgentFailed("agent response contained no choices")
	}
	content := parsed.Choices[0].Message.Content

	return parseOutcome(content), nil
}

// parseOutcome tries to decode content as {summary, insights?, actions?}; on
// failure it collapses to a plaintext summary. A successful parse keeps its
// insights and actions even when summary came back empty, and the empty
// summary is replaced by the placeholder; the raw text becomes the summary
// only when parsing fails.
func parseOutcome(content string) Outcome {
	var structured struct {
		Summary  string   `json:"summary"`
		Insights []string `json:"insights"`
		Actions  []Action `json:"actions"`
	}
	if err := json.Unmarshal([]byte(content), &structured); err == nil {
		summary := strings.TrimSpace(structured.Summary)
		if summary == "" {
			summary = placeholderSummary
		}
		return Outcome{
			Summary:     summary,
			Insights:    structured.Insights,
			Actions:     structured.Actions,
			RawResponse: content,
		}
	}

	summary := strings.TrimSpace(content)
	if summary == "" {
		summary = placeholderSummary
	}
	return Outcome{Summary: summary, RawResponse: content}
}
