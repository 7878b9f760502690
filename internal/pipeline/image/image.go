// Package image builds the bot's container image and publishes it to the
// registry using the Docker API.
package image

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/client"

	"github.com/botship/botship/internal/pipeline/types"
)

// Builder builds and pushes images via the docker daemon.
type Builder struct {
	logger       *slog.Logger
	dockerClient *client.Client
	dockerfile   string
}

// NewBuilder creates a Builder over an established docker client.
func NewBuilder(dockerClient *client.Client, dockerfile string, logger *slog.Logger) *Builder {
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	return &Builder{
		logger:       logger,
		dockerClient: dockerClient,
		dockerfile:   dockerfile,
	}
}

// Ready verifies the docker daemon is reachable. An unreachable daemon is a
// tool-provisioning failure, reported before any build is attempted.
func (b *Builder) Ready(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ping, err := b.dockerClient.Ping(pingCtx)
	if err != nil {
		return fmt.Errorf("docker daemon is not available: %w", err)
	}
	// Tool versions go to the run log for auditability.
	b.logger.Info("docker daemon available", "api_version", ping.APIVersion)
	return nil
}

// BuildRequest is everything the build stage needs: the checked-out source
// tree plus the metadata derived once at the start of the run.
type BuildRequest struct {
	ContextDir string
	Refs       []types.ImageRef // all tags assigned to the single built image
	BuildArgs  map[string]string
	Labels     map[string]string
}

// BuildOutput describes the built image.
type BuildOutput struct {
	ImageID string // sha256 image ID, identical for every ref
	Size    int64
}

// Close releases the docker client.
func (b *Builder) Close() error {
	return b.dockerClient.Close()
}
