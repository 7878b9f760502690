package types

import (
	"fmt"
	"time"
)

// BuildContext carries the provenance metadata of a single pipeline run.
// It is derived once at the start of a run and never recomputed, so the
// labels, tags and run record all see the same commit and timestamp.
type BuildContext struct {
	Repository string // "org/repo"
	CommitSHA  string // full commit hash
	ShortSHA   string // 7-char abbreviation, always a prefix of CommitSHA
	CreatedAt  string // UTC, RFC 3339 second precision ("2024-01-01T00:00:00Z")
	Version    string // release tag, or "latest" when no release is in progress
}

// SourceURL returns the canonical source location for the provenance labels.
func (c BuildContext) SourceURL() string {
	return fmt.Sprintf("https://github.com/%s", c.Repository)
}

// ImageRef identifies one tag of an image in a registry.
type ImageRef struct {
	Registry     string // e.g. "ghcr.io"
	Organization string // e.g. "botship"
	Name         string // image name
	Tag          string // "latest" or short commit hash
}

// String renders the full reference, e.g. "ghcr.io/botship/bot:abc1234".
func (r ImageRef) String() string {
	return fmt.Sprintf("%s/%s/%s:%s", r.Registry, r.Organization, r.Name, r.Tag)
}

// Outcome is the terminal state of a pipeline run. Exactly one outcome is
// produced per run and it selects exactly one notification template.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Stage names the pipeline stages, used in the stage error taxonomy and in
// the run log.
type Stage string

const (
	StageCheckout Stage = "checkout"
	StageTooling  Stage = "tooling"
	StageAuth     Stage = "auth"
	StageBuild    Stage = "build"
	StagePush     Stage = "push"
	StageNotify   Stage = "notify"
)

// StageError wraps a stage failure with the stage it occurred in. Every
// stage failure is terminal for the run.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with the stage it failed in.
func NewStageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// RunResult summarizes a completed pipeline run.
type RunResult struct {
	RunID       string
	Outcome     Outcome
	Context     BuildContext
	ImageDigest string     // image ID of the built image, empty on pre-build failure
	PushedRefs  []ImageRef // refs that actually landed in the registry
	FailedStage Stage      // set when Outcome is failure
	Duration    time.Duration
}
