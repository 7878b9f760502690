package recipe

import (
	"strings"
	"testing"

	"github.com/docker/go-connections/nat"
)

const hardenedRecipe = `
FROM python:3.12-slim

ARG VERSION=latest
ARG REVISION
ARG CREATED
ARG SOURCE_URL

LABEL org.opencontainers.image.title="chatbot" \
      org.opencontainers.image.description="Mattermost chat automation service" \
      org.opencontainers.image.source="${SOURCE_URL}" \
      org.opencontainers.image.version="${VERSION}" \
      org.opencontainers.image.revision="${REVISION}" \
      org.opencontainers.image.created="${CREATED}"

RUN useradd --create-home --shell /usr/sbin/nologin bot
WORKDIR /app
COPY requirements.txt .
RUN pip install --no-cache-dir -r requirements.txt
RUN chown -R bot:bot /app
USER bot
COPY --chown=bot:bot . .

EXPOSE 8065
CMD ["python", "bot.py"]
`

func TestParse_ArgsLabelsAndRuntime(t *testing.T) {
	rec, err := Parse(strings.NewReader(hardenedRecipe))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	for _, arg := range []string{"VERSION", "REVISION", "CREATED", "SOURCE_URL"} {
		found := false
		for _, a := range rec.Args {
			if a == arg {
				found = true
			}
		}
		if !found {
			t.Errorf("arg %s not parsed, got %#v", arg, rec.Args)
		}
	}

	if refs := rec.Labels["org.opencontainers.image.revision"]; len(refs) != 1 || refs[0] != "REVISION" {
		t.Errorf("revision label refs = %#v", refs)
	}
	if refs := rec.Labels["org.opencontainers.image.title"]; len(refs) != 0 {
		t.Errorf("title label should reference no args, got %#v", refs)
	}

	if rec.FinalUser != "bot" {
		t.Errorf("final user = %q, want bot", rec.FinalUser)
	}
	if len(rec.ExposedPorts) != 1 || rec.ExposedPorts[0] != nat.Port("8065/tcp") {
		t.Errorf("exposed ports = %#v", rec.ExposedPorts)
	}
}

func TestValidateArgs_StrictFailsOnMissing(t *testing.T) {
	rec, err := Parse(strings.NewReader(hardenedRecipe))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	supplied := map[string]string{
		"VERSION":  "latest",
		"REVISION": "abc1234",
		// CREATED and SOURCE_URL deliberately missing
	}

	missing, err := ValidateArgs(rec, supplied, ValidationStrict)
	if err == nil {
		t.Fatal("expected strict validation to fail on unsupplied arguments")
	}
	if len(missing) != 2 {
		t.Fatalf("expected 2 missing bindings, got %#v", missing)
	}
}

func TestValidateArgs_AllowEmptyReportsButPasses(t *testing.T) {
	rec, err := Parse(strings.NewReader(hardenedRecipe))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	missing, err := ValidateArgs(rec, map[string]string{}, ValidationAllowEmpty)
	if err != nil {
		t.Fatalf("allow-empty mode should not fail, got %v", err)
	}
	if len(missing) != 4 {
		t.Fatalf("expected 4 missing bindings reported, got %#v", missing)
	}
}

func TestValidateArgs_AllSuppliedPasses(t *testing.T) {
	rec, err := Parse(strings.NewReader(hardenedRecipe))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	supplied := map[string]string{
		"VERSION":    "latest",
		"REVISION":   "abc1234",
		"CREATED":    "2024-01-01T00:00:00Z",
		"SOURCE_URL": "https://github.com/org/repo",
	}

	missing, err := ValidateArgs(rec, supplied, ValidationStrict)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected no missing bindings, got %#v", missing)
	}
}

func TestCheckRuntimeContract(t *testing.T) {
	rec, err := Parse(strings.NewReader(hardenedRecipe))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := CheckRuntimeContract(rec, nat.Port("8065/tcp"), true); err != nil {
		t.Errorf("hardened recipe should satisfy the runtime contract: %v", err)
	}
	if err := CheckRuntimeContract(rec, nat.Port("8080/tcp"), false); err == nil {
		t.Error("expected failure for unexposed port")
	}

	rootRecipe := "FROM alpine\nEXPOSE 8065\nUSER root\n"
	rootRec, err := Parse(strings.NewReader(rootRecipe))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := CheckRuntimeContract(rootRec, nat.Port("8065/tcp"), true); err == nil {
		t.Error("expected failure for privileged runtime user")
	}
}
