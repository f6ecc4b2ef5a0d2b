package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"CitySense/internal/domain"
)

const defaultExtractionPrompt = `You normalize civic issue reports from Indian cities.
Return STRICT JSON ONLY with keys: category, summary, landmarks, hazards.
Rules:
- category is one short lowercase label such as pothole, garbage, streetlight, waterlogging, sewage, encroachment
- summary max 200 chars
- landmarks and hazards are arrays of short strings, possibly empty
- use ONLY the provided data; no invented facts or locations`

// Extract asks the model to normalize the classification output and description into a JSON object.
func (c *ChatGPTClient) Extract(ctx context.Context, classification domain.Classification, description string) (map[string]any, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "- classifier_category: %s\n", safeString(classification.Category))
	fmt.Fprintf(&b, "- severity: %.2f\n", classification.Severity)
	fmt.Fprintf(&b, "- authenticity: %.2f\n", classification.Authenticity)
	fmt.Fprintf(&b, "- description: %s\n", safeString(description))

	content, err := c.complete(ctx, c.extractionPrompt, b.String(), true)
	if err != nil {
		return nil, err
	}

	payload, err := parseExtraction(content)
	if err != nil {
		return nil, domain.Permanent(service, err)
	}
	return payload, nil
}

func parseExtraction(content string) (map[string]any, error) {
	obj := extractJSONObject(content)
	if obj == "" {
		return nil, errors.New("no json object found")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}

	if raw, ok := payload["category"]; ok {
		category, isString := raw.(string)
		if !isString {
			return nil, fmt.Errorf("category must be a string, got %T", raw)
		}
		payload["category"] = strings.ToLower(strings.TrimSpace(category))
	}
	return payload, nil
}

// extractJSONObject returns the first balanced {...} in input, tolerating prose or code fences
// around it.
func extractJSONObject(input string) string {
	start := strings.Index(input, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(input); i++ {
		ch := input[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return input[start : i+1]
			}
		}
	}
	return ""
}

func safeString(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "-"
	}
	return v
}
