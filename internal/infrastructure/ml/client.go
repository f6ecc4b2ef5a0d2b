package ml

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"CitySense/internal/config"
	"CitySense/internal/domain"
	"CitySense/internal/ports"
)

const (
	service     = "classifier"
	maxSeverity = 10
)

// Client talks to the multimodal classification service.
type Client struct {
	endpoint string
	apiKey   string
	scale    float64
	http     *http.Client
}

var _ ports.Classifier = (*Client)(nil)

// NewClient creates a reusable HTTP client. Timeouts are enforced per attempt by the caller's context.
func NewClient(cfg config.MLConfig) *Client {
	scale := cfg.AuthenticityScale
	if scale <= 0 {
		scale = 1
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		scale:    scale,
		http:     &http.Client{},
	}
}

type classifyRequest struct {
	Image       string `json:"image"`
	ContentType string `json:"content_type"`
	Description string `json:"description"`
}

// Classify sends the image and description and returns a category, a severity in [0,10] and an
// authenticity normalized to [0,1].
func (c *Client) Classify(ctx context.Context, image []byte, description string) (domain.Classification, error) {
	payload := classifyRequest{
		Image:       base64.StdEncoding.EncodeToString(image),
		ContentType: http.DetectContentType(image),
		Description: description,
	}

	var out domain.Classification
	if err := c.post(ctx, "/classify", payload, &out); err != nil {
		return domain.Classification{}, err
	}

	return c.normalize(out)
}

func (c *Client) normalize(out domain.Classification) (domain.Classification, error) {
	out.Category = strings.TrimSpace(out.Category)
	if out.Category == "" {
		return domain.Classification{}, domain.Permanent(service, errors.New("empty category"))
	}
	if !inRange(out.Severity, maxSeverity) {
		return domain.Classification{}, domain.Permanent(service, fmt.Errorf("severity %v outside [0,%d]", out.Severity, maxSeverity))
	}
	if !inRange(out.Authenticity, c.scale) {
		return domain.Classification{}, domain.Permanent(service, fmt.Errorf("authenticity %v outside [0,%v]", out.Authenticity, c.scale))
	}
	out.Authenticity /= c.scale
	return out, nil
}

func inRange(v, upper float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= upper
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Permanent(service, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return domain.Permanent(service, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("do request: %w", err)
		}
		return domain.Transient(service, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
		if RetryableStatus(resp.StatusCode) {
			return domain.Transient(service, statusErr)
		}
		return domain.Permanent(service, statusErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return domain.Permanent(service, fmt.Errorf("decode response: %w", err))
	}

	return nil
}

// RetryableStatus reports whether an HTTP status is worth another attempt.
func RetryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
