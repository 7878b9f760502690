package trigger

import (
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"repository":"org/repo","ref":"abc1234567","version":"v1.0.0"}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.Repository != "org/repo" || ev.Ref != "abc1234567" || ev.Version != "v1.0.0" {
		t.Fatalf("unexpected event: %#v", ev)
	}
}

func TestDecodeEvent_MissingRepository(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"ref":"main"}`)); err == nil {
		t.Fatal("expected error for missing repository")
	}
}

func TestDecodeEvent_MalformedJSON(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
