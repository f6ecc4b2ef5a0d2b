package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"CitySense/internal/config"
	"CitySense/internal/domain"
	"CitySense/internal/infrastructure/ml"
	"CitySense/internal/ports"
)

const service = "llm"

// ChatGPTClient implements the extraction and escalation ports on top of an OpenAI-compatible
// chat completions API.
type ChatGPTClient struct {
	endpoint         string
	model            string
	apiKey           string
	extractionPrompt string
	escalationPrompt string
	maxChars         int
	httpClient       *http.Client
}

var (
	_ ports.Extractor        = (*ChatGPTClient)(nil)
	_ ports.ContentGenerator = (*ChatGPTClient)(nil)
)

// NewChatGPTClient builds a client from configuration.
func NewChatGPTClient(cfg config.LLMConfig) *ChatGPTClient {
	return &ChatGPTClient{
		endpoint:         cfg.Endpoint,
		model:            cfg.Model,
		apiKey:           cfg.APIKey,
		extractionPrompt: promptOr(cfg.ExtractionPrompt, defaultExtractionPrompt),
		escalationPrompt: promptOr(cfg.EscalationPrompt, defaultEscalationPrompt),
		maxChars:         cfg.MaxEscalationChars,
		httpClient:       &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
	Messages       []chatMessage     `json:"messages"`
}

// complete sends one system and one user message and returns the first choice's content.
func (c *ChatGPTClient) complete(ctx context.Context, system, user string, jsonObject bool) (string, error) {
	if c.endpoint == "" || c.model == "" {
		return "", errors.New("chatgpt client misconfigured")
	}

	payload := chatRequest{
		Model:       c.model,
		Temperature: 0.2,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	if jsonObject {
		payload.ResponseFormat = map[string]string{"type": "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", domain.Permanent(service, fmt.Errorf("marshal chatgpt payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", domain.Permanent(service, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		return "", domain.Transient(service, fmt.Errorf("chat completion: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		statusErr := fmt.Errorf("chatgpt error %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
		if ml.RetryableStatus(resp.StatusCode) {
			return "", domain.Transient(service, statusErr)
		}
		return "", domain.Permanent(service, statusErr)
	}

	var wrapper struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return "", domain.Permanent(service, fmt.Errorf("decode chatgpt response: %w", err))
	}
	if len(wrapper.Choices) == 0 {
		return "", domain.Permanent(service, errors.New("empty chatgpt response"))
	}

	return strings.TrimSpace(wrapper.Choices[0].Message.Content), nil
}

func promptOr(prompt, fallback string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return fallback
	}
	return prompt
}
