// Package notify reports the pipeline outcome to a chat channel via a
// Mattermost incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/botship/botship/internal/pipeline/types"
)

// Config holds the webhook target. The webhook URL is a secret and is
// never logged.
type Config struct {
	WebhookURL string
	Channel    string
	BotName    string // sender display name and message prefix

	// IncludeFailedStage appends the failed stage to the failure message.
	// Off by default so the base templates stay exact.
	IncludeFailedStage bool
}

// Notifier posts outcome messages. Exactly one message is sent per run,
// selected by outcome; there is no partial-success message.
type Notifier struct {
	logger     *slog.Logger
	cfg        Config
	httpClient *http.Client
}

// NewNotifier creates a Notifier.
func NewNotifier(cfg Config, logger *slog.Logger) *Notifier {
	return &Notifier{
		logger:     logger,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// payload is the incoming-webhook request body.
type payload struct {
	Channel  string `json:"channel"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

// Notify sends the outcome message for a run. A notification failure is
// not recursively reported; it surfaces only in the run log and the
// returned error.
func (n *Notifier) Notify(ctx context.Context, outcome types.Outcome, failedStage types.Stage, runURL string) error {
	text := n.message(outcome, failedStage, runURL)

	body, err := json.Marshal(payload{
		Channel:  n.cfg.Channel,
		Username: n.cfg.BotName,
		Text:     text,
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification rejected with status %d", resp.StatusCode)
	}

	n.logger.Info("notification sent", "outcome", outcome, "channel", n.cfg.Channel)
	return nil
}

// message renders one of the two outcome templates.
func (n *Notifier) message(outcome types.Outcome, failedStage types.Stage, runURL string) string {
	if outcome == types.OutcomeSuccess {
		return fmt.Sprintf("%s - Build successful! :rocket: [View build details](%s)", n.cfg.BotName, runURL)
	}

	text := fmt.Sprintf("%s - Build failed! :x: [View build details](%s)", n.cfg.BotName, runURL)
	if n.cfg.IncludeFailedStage && failedStage != "" {
		text = fmt.Sprintf("%s (stage: %s)", text, failedStage)
	}
	return text
}

// RunURL constructs the deep link to the run's detail page from the server
// URL, repository identifier and run identifier.
func RunURL(serverURL, repository, runID string) string {
	return fmt.Sprintf("%s/%s/actions/runs/%s", serverURL, repository, runID)
}
