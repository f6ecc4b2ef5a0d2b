package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"CitySense/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier sends operator alerts to a Telegram chat via bot API.
type Notifier struct {
	apiBase  string
	botToken string
	chatID   string
	client   *http.Client
}

var _ ports.Alerter = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		apiBase:  defaultAPIBase,
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// WithAPIBase points the notifier at another Bot API server.
func (n *Notifier) WithAPIBase(base string) *Notifier {
	n.apiBase = strings.TrimRight(base, "/")
	return n
}

// Alert posts a plain-text failure notice.
func (n *Notifier) Alert(ctx context.Context, alert ports.Alert) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", formatAlert(alert))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

func formatAlert(alert ports.Alert) string {
	return fmt.Sprintf("CitySense %s failed for %s\n%s\nRe-trigger once the cause is fixed.", alert.Task, alert.Key, alert.Reason)
}

// LogAlerter writes alerts to the log when no chat is configured.
type LogAlerter struct {
	Logger *slog.Logger
}

var _ ports.Alerter = LogAlerter{}

// Alert logs the failure at error level.
func (l LogAlerter) Alert(_ context.Context, alert ports.Alert) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("task failed permanently", "task", alert.Task, "key", alert.Key, "reason", alert.Reason)
	return nil
}

// NewAlerter returns a Telegram notifier when both credentials are set, otherwise a LogAlerter.
func NewAlerter(botToken, chatID string, logger *slog.Logger) ports.Alerter {
	if botToken == "" || chatID == "" {
		return LogAlerter{Logger: logger}
	}
	return NewNotifier(botToken, chatID)
}
