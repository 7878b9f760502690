// Package trigger runs the pipeline in response to commit-push events
// delivered over NATS. A queue group ensures each event is handled by a
// single pipeline worker.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	natsclient "github.com/botship/botship/internal/shared/nats"
)

// Subject carrying build requests.
const Subject = "build.requested"

const queueGroup = "pipeline-workers"

// Event is a commit-push build request.
type Event struct {
	Repository string `json:"repository"`
	Ref        string `json:"ref"`
	Version    string `json:"version,omitempty"`
}

// Runner executes one pipeline run for an event.
type Runner interface {
	RunFor(ctx context.Context, ev Event) error
}

// Listener subscribes to build requests and dispatches them to the runner.
type Listener struct {
	logger *slog.Logger
	client *natsclient.Client
	runner Runner
}

// NewListener creates a Listener over an established NATS connection.
func NewListener(client *natsclient.Client, runner Runner, logger *slog.Logger) *Listener {
	return &Listener{logger: logger, client: client, runner: runner}
}

// Listen subscribes and blocks until ctx is cancelled. Runs are executed
// sequentially per worker; each event is one pipeline run with its own
// outcome notification.
func (l *Listener) Listen(ctx context.Context) error {
	sub, err := l.client.QueueSubscribe(Subject, queueGroup, func(msg *nats.Msg) {
		ev, err := DecodeEvent(msg.Data)
		if err != nil {
			l.logger.Error("discarding malformed build request", "error", err)
			return
		}

		l.logger.Info("build requested",
			"repository", ev.Repository,
			"ref", ev.Ref,
			"version", ev.Version,
		)

		if err := l.runner.RunFor(ctx, ev); err != nil {
			// The run already reported its own failure; this is diagnostic.
			l.logger.Error("triggered run failed", "repository", ev.Repository, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", Subject, err)
	}
	defer sub.Unsubscribe()

	l.logger.Info("listening for build requests", "subject", Subject, "queue_group", queueGroup)
	<-ctx.Done()
	return nil
}

// DecodeEvent parses and validates a build request payload.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode build request: %w", err)
	}
	if ev.Repository == "" {
		return Event{}, fmt.Errorf("build request has no repository")
	}
	return ev, nil
}
