package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/botship/botship/internal/pipeline/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestNotify_SuccessTemplate(t *testing.T) {
	var got payload
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier(Config{
		WebhookURL: server.URL,
		Channel:    "builds",
		BotName:    "release-bot",
	}, discardLogger())

	url := RunURL("https://ci.example.com", "org/repo", "42")
	if err := n.Notify(context.Background(), types.OutcomeSuccess, "", url); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected exactly one webhook call, got %d", calls)
	}
	if got.Channel != "builds" || got.Username != "release-bot" {
		t.Errorf("unexpected target: %#v", got)
	}
	want := "release-bot - Build successful! :rocket: [View build details](https://ci.example.com/org/repo/actions/runs/42)"
	if got.Text != want {
		t.Errorf("text = %q, want %q", got.Text, want)
	}
}

func TestNotify_FailureTemplate(t *testing.T) {
	var got payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier(Config{
		WebhookURL: server.URL,
		Channel:    "builds",
		BotName:    "release-bot",
	}, discardLogger())

	if err := n.Notify(context.Background(), types.OutcomeFailure, types.StagePush, "https://ci.example.com/org/repo/actions/runs/43"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := "release-bot - Build failed! :x: [View build details](https://ci.example.com/org/repo/actions/runs/43)"
	if got.Text != want {
		t.Errorf("text = %q, want %q", got.Text, want)
	}
}

func TestNotify_FailureTemplateWithStage(t *testing.T) {
	var got payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier(Config{
		WebhookURL:         server.URL,
		Channel:            "builds",
		BotName:            "release-bot",
		IncludeFailedStage: true,
	}, discardLogger())

	if err := n.Notify(context.Background(), types.OutcomeFailure, types.StageAuth, "https://ci.example.com/org/repo/actions/runs/44"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := "release-bot - Build failed! :x: [View build details](https://ci.example.com/org/repo/actions/runs/44) (stage: auth)"
	if got.Text != want {
		t.Errorf("text = %q, want %q", got.Text, want)
	}
}

func TestNotify_RejectedStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid webhook", http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewNotifier(Config{WebhookURL: server.URL, Channel: "builds", BotName: "release-bot"}, discardLogger())

	if err := n.Notify(context.Background(), types.OutcomeSuccess, "", "u"); err == nil {
		t.Fatal("expected error for rejected notification")
	}
}
