// Package pipeline orchestrates the build-and-publish pipeline for the
// chat bot's container image: source acquisition, metadata derivation,
// registry authentication, image build and tag, publish, and exactly one
// outcome notification.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/botship/botship/internal/pipeline/image"
	"github.com/botship/botship/internal/pipeline/metadata"
	"github.com/botship/botship/internal/pipeline/notify"
	"github.com/botship/botship/internal/pipeline/recipe"
	"github.com/botship/botship/internal/pipeline/registry"
	"github.com/botship/botship/internal/pipeline/runstore"
	"github.com/botship/botship/internal/pipeline/source"
	"github.com/botship/botship/internal/pipeline/trigger"
	"github.com/botship/botship/internal/pipeline/types"
	"github.com/botship/botship/internal/shared/config"
)

// SourceFetcher materializes an exact commit into a work directory.
type SourceFetcher interface {
	Fetch(ctx context.Context, repository, ref string) (*source.Checkout, func(), error)
}

// ImageBuilder builds, inspects and pushes the image.
type ImageBuilder interface {
	Ready(ctx context.Context) error
	Build(ctx context.Context, req image.BuildRequest) (*image.BuildOutput, error)
	VerifyExposedPort(ctx context.Context, ref types.ImageRef, port nat.Port) error
	Push(ctx context.Context, refs []types.ImageRef, encodedAuth string) ([]types.ImageRef, error)
}

// RegistryAuthenticator establishes push credentials before the build.
type RegistryAuthenticator interface {
	Login(ctx context.Context) error
	EncodedAuth() (string, error)
}

// Notifier reports the run outcome to the chat channel.
type Notifier interface {
	Notify(ctx context.Context, outcome types.Outcome, failedStage types.Stage, runURL string) error
}

// RunStore records run history. May be nil when no database is configured.
type RunStore interface {
	RecordStart(ctx context.Context, runID, repository, commitSHA, version string, startedAt time.Time) error
	RecordOutcome(ctx context.Context, runID string, result *types.RunResult) error
	LatestSuccessful(ctx context.Context, repository string) (*runstore.Run, error)
}

// Service runs the pipeline.
type Service struct {
	cfg      *config.PipelineConfig
	logger   *slog.Logger
	fetcher  SourceFetcher
	builder  ImageBuilder
	auth     RegistryAuthenticator
	notifier Notifier
	store    RunStore // nil when history is disabled

	now      func() time.Time
	newRunID func() string
}

// NewService wires the pipeline from configuration: docker client, source
// fetcher, image builder, registry authenticator, notifier, and the
// optional run store.
func NewService(ctx context.Context, cfg *config.PipelineConfig, logger *slog.Logger) (*Service, error) {
	fetcher, err := source.NewFetcher(cfg.WorkDir, cfg.RepoToken, logger.With("component", "source"))
	if err != nil {
		return nil, fmt.Errorf("failed to create source fetcher: %w", err)
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	builder := image.NewBuilder(dockerClient, cfg.Dockerfile, logger.With("component", "image"))

	auth := registry.NewAuthenticator(dockerClient, registry.Credentials{
		Host:     cfg.RegistryHost,
		Username: cfg.RegistryUsername,
		Token:    cfg.RegistryToken,
	}, logger.With("component", "registry"))

	notifier := notify.NewNotifier(notify.Config{
		WebhookURL:         cfg.WebhookURL,
		Channel:            cfg.NotifyChannel,
		BotName:            cfg.BotName,
		IncludeFailedStage: cfg.NotifyIncludeStage,
	}, logger.With("component", "notify"))

	var store RunStore
	if cfg.DatabaseURL != "" {
		s, err := runstore.NewStore(ctx, cfg.DatabaseURL, logger.With("component", "runstore"))
		if err != nil {
			return nil, fmt.Errorf("failed to create run store: %w", err)
		}
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
		store = s
	}

	return &Service{
		cfg:      cfg,
		logger:   logger,
		fetcher:  fetcher,
		builder:  builder,
		auth:     auth,
		notifier: notifier,
		store:    store,
		now:      time.Now,
		newRunID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}, nil
}

// Run executes one pipeline run end to end and sends exactly one outcome
// notification. The returned result is non-nil even on failure; the error
// is the stage error that terminated the run, if any.
func (s *Service) Run(ctx context.Context) (*types.RunResult, error) {
	runID := s.newRunID()
	startedAt := s.now()

	s.logger.Info("pipeline run starting",
		"run_id", runID,
		"repository", s.cfg.Repository,
		"ref", s.cfg.Ref,
	)

	result, runErr := s.execute(ctx, runID, startedAt)
	result.RunID = runID
	result.Duration = s.now().Sub(startedAt)

	if s.store != nil {
		if err := s.store.RecordOutcome(ctx, runID, result); err != nil {
			s.logger.Warn("failed to record run outcome", "run_id", runID, "error", err)
		}
	}

	// Exactly one notification per run, success or failure. A notification
	// failure is logged but never re-notified.
	runURL := notify.RunURL(s.cfg.ServerURL, s.cfg.Repository, runID)
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(notifyCtx, result.Outcome, result.FailedStage, runURL); err != nil {
		s.logger.Error("failed to send outcome notification",
			"run_id", runID,
			"outcome", result.Outcome,
			"error", err,
		)
		if runErr == nil {
			runErr = types.NewStageError(types.StageNotify, err)
		}
	}

	if result.Outcome == types.OutcomeSuccess {
		s.logger.Info("pipeline run succeeded",
			"run_id", runID,
			"image_digest", result.ImageDigest,
			"duration", result.Duration,
		)
	} else {
		s.logger.Error("pipeline run failed",
			"run_id", runID,
			"failed_stage", result.FailedStage,
			"duration", result.Duration,
			"error", runErr,
		)
	}

	return result, runErr
}

// RunFor executes one run for a triggered build request, overriding the
// configured source coordinates with the event's.
func (s *Service) RunFor(ctx context.Context, ev trigger.Event) error {
	runCfg := *s.cfg
	runCfg.Repository = ev.Repository
	runCfg.Ref = ev.Ref
	runCfg.Version = ev.Version

	runSvc := *s
	runSvc.cfg = &runCfg

	_, err := runSvc.Run(ctx)
	return err
}

// execute runs the build-and-publish stages in order. Every stage failure
// is terminal and short-circuits the remaining stages.
func (s *Service) execute(ctx context.Context, runID string, startedAt time.Time) (*types.RunResult, error) {
	result := &types.RunResult{Outcome: types.OutcomeFailure}

	fail := func(stage types.Stage, err error) (*types.RunResult, error) {
		result.FailedStage = stage
		return result, types.NewStageError(stage, err)
	}

	// Stage 1: source acquisition.
	checkoutCtx, cancel := context.WithTimeout(ctx, s.cfg.CheckoutTimeout)
	checkout, cleanup, err := s.fetcher.Fetch(checkoutCtx, s.cfg.Repository, s.cfg.Ref)
	cancel()
	if err != nil {
		return fail(types.StageCheckout, err)
	}
	defer cleanup()

	// Stage 2: metadata derivation. Computed once; the same BuildContext is
	// threaded unchanged through labels, build arguments and tags.
	bc, err := metadata.Derive(s.cfg.Repository, checkout.CommitSHA, s.now(), s.cfg.Version)
	if err != nil {
		return fail(types.StageCheckout, err)
	}
	result.Context = bc

	if s.store != nil {
		if err := s.store.RecordStart(ctx, runID, bc.Repository, bc.CommitSHA, bc.Version, startedAt); err != nil {
			s.logger.Warn("failed to record run start", "run_id", runID, "error", err)
		}
	}

	// Stage 3: tool provisioning. The build toolchain here is the docker
	// daemon; an unreachable daemon fails the run before credentials or
	// build time are spent.
	if err := s.builder.Ready(ctx); err != nil {
		return fail(types.StageTooling, err)
	}

	buildArgs := metadata.BuildArgs(bc)

	// Recipe inspection happens before any expensive work: in strict mode
	// a label bound to an unsupplied argument fails here instead of
	// silently emitting empty metadata.
	rec, err := recipe.ParseFile(filepath.Join(checkout.Dir, s.cfg.Dockerfile))
	if err != nil {
		return fail(types.StageBuild, err)
	}
	missing, err := recipe.ValidateArgs(rec, buildArgs, recipe.ValidationMode(s.cfg.LabelValidation))
	if err != nil {
		return fail(types.StageBuild, err)
	}
	if len(missing) > 0 {
		s.logger.Warn("labels will be emitted empty", "run_id", runID, "labels", missing)
	}

	servicePort, err := nat.NewPort("tcp", fmt.Sprintf("%d", s.cfg.ServicePort))
	if err != nil {
		return fail(types.StageBuild, err)
	}
	if err := recipe.CheckRuntimeContract(rec, servicePort, s.cfg.RequireUnprivileged); err != nil {
		return fail(types.StageBuild, err)
	}

	// Stage 4: registry authentication, before the build so a credential
	// failure is discovered without spending build time.
	if err := s.auth.Login(ctx); err != nil {
		return fail(types.StageAuth, err)
	}
	encodedAuth, err := s.auth.EncodedAuth()
	if err != nil {
		return fail(types.StageAuth, err)
	}

	// Stage 5: build once, tag twice.
	refs := metadata.ImageRefs(bc, s.cfg.RegistryHost, s.cfg.ImageOrganization, s.cfg.ImageName)
	labels := metadata.Labels(bc, metadata.ImageDetails{
		Title:       s.cfg.ImageTitle,
		Description: s.cfg.ImageDescription,
		Authors:     s.cfg.ImageAuthors,
		Vendor:      s.cfg.ImageVendor,
		License:     s.cfg.ImageLicense,
	})

	buildCtx, cancel := context.WithTimeout(ctx, s.cfg.BuildTimeout)
	out, err := s.builder.Build(buildCtx, image.BuildRequest{
		ContextDir: checkout.Dir,
		Refs:       refs,
		BuildArgs:  buildArgs,
		Labels:     labels,
	})
	if err != nil {
		cancel()
		return fail(types.StageBuild, err)
	}
	result.ImageDigest = out.ImageID

	if err := s.builder.VerifyExposedPort(buildCtx, refs[0], servicePort); err != nil {
		cancel()
		return fail(types.StageBuild, err)
	}
	cancel()

	// Optional ordering guard on the floating tag: the "latest" alias is
	// shared mutable state across concurrent runs, and without the guard
	// the final state is whichever push lands last.
	if s.cfg.LatestGuard && s.store != nil {
		last, err := s.store.LatestSuccessful(ctx, bc.Repository)
		if err != nil {
			return fail(types.StagePush, err)
		}
		if last != nil && last.CommitSHA != bc.CommitSHA && last.StartedAt.After(startedAt) {
			return fail(types.StagePush, fmt.Errorf(
				"refusing to overwrite latest: commit %s was pushed by a newer run", last.CommitSHA[:7]))
		}
	}

	// Stage 6: publish. A failed push of either tag is run failure even if
	// the other tag already landed.
	pushCtx, cancel := context.WithTimeout(ctx, s.cfg.PushTimeout)
	pushed, err := s.builder.Push(pushCtx, refs, encodedAuth)
	cancel()
	result.PushedRefs = pushed
	if err != nil {
		return fail(types.StagePush, err)
	}

	result.Outcome = types.OutcomeSuccess
	return result, nil
}
