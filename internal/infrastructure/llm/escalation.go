package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"CitySense/internal/domain"
	"CitySense/internal/ports"
)

const defaultEscalationPrompt = `You write one public post escalating a civic issue to the responsible municipal authority.
Rules:
- plain text only, no markdown, no HTML
- max 280 characters including hashtags
- state the issue, the location and how long it has been reported
- mention community support when votes are given
- use ONLY the provided data; no invented facts`

// GenerateEscalation writes the public escalation text for the day's top report.
func (c *ChatGPTClient) GenerateEscalation(ctx context.Context, brief ports.EscalationBrief) (string, error) {
	content, err := c.complete(ctx, c.escalationPrompt, buildEscalationPrompt(brief), false)
	if err != nil {
		return "", err
	}

	text := Truncate(PlainText(content), c.maxChars)
	if text == "" {
		return "", domain.Permanent(service, errors.New("empty escalation text"))
	}
	return text, nil
}

func buildEscalationPrompt(brief ports.EscalationBrief) string {
	r := brief.Report

	var b strings.Builder
	fmt.Fprintf(&b, "Escalation date: %s\n", brief.Date)
	fmt.Fprintf(&b, "- report_id: %s\n", r.ID)
	fmt.Fprintf(&b, "- category: %s\n", safeString(r.Category))
	fmt.Fprintf(&b, "- description: %s\n", safeString(r.Description))
	if r.SeverityScore != nil {
		fmt.Fprintf(&b, "- severity: %.1f/10\n", *r.SeverityScore)
	}
	if r.AuthenticityScore != nil {
		fmt.Fprintf(&b, "- authenticity: %.2f\n", *r.AuthenticityScore)
	}
	if r.CompositeScore != nil {
		fmt.Fprintf(&b, "- composite: %.2f\n", *r.CompositeScore)
	}
	fmt.Fprintf(&b, "- votes: %d up, %d down\n", r.Votes.Upvotes, r.Votes.Downvotes)
	if r.Location != nil {
		fmt.Fprintf(&b, "- location: %.5f, %.5f\n", r.Location.Latitude, r.Location.Longitude)
	}
	fmt.Fprintf(&b, "- reported_at: %s\n", r.CreatedAt.UTC().Format(time.RFC3339))
	return b.String()
}
