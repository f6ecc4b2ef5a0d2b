package llm

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText strips markup from model output and collapses whitespace.
func PlainText(raw string) string {
	text := raw
	if strings.ContainsAny(raw, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
			doc.Find("script, style").Remove()
			text = strings.Join(textNodes(doc.Selection, nil), " ")
		}
	}
	text = strings.Trim(strings.TrimSpace(text), "\"")
	return strings.Join(strings.Fields(text), " ")
}

// textNodes collects text in document order so that adjacent block elements do not run together.
func textNodes(s *goquery.Selection, out []string) []string {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			out = append(out, c.Text())
			return
		}
		out = textNodes(c, out)
	})
	return out
}

// Truncate caps text at limit runes, cutting at the last word boundary when one is close.
// A non-positive limit leaves text unchanged.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}

	cut := runes[:limit]
	if i := lastSpace(cut); i > limit*3/4 {
		cut = cut[:i]
	}
	return strings.TrimSpace(string(cut))
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}
