package image

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/build"
	imagetypes "github.com/docker/docker/api/types/image"
	"github.com/docker/go-connections/nat"
	"github.com/moby/go-archive"
	"github.com/samber/lo"

	"github.com/botship/botship/internal/pipeline/types"
)

// Build builds the image once and assigns every requested ref to the
// resulting image. No second build occurs between tag assignments, so both
// the floating and the immutable ref reference the identical image.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*BuildOutput, error) {
	dockerfilePath := filepath.Join(req.ContextDir, b.dockerfile)
	if _, err := os.Stat(dockerfilePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("dockerfile %s not found in repository", b.dockerfile)
	}

	tags := lo.Map(req.Refs, func(r types.ImageRef, _ int) string { return r.String() })
	b.logger.Info("building image", "tags", tags, "dir", req.ContextDir)

	buildContext, err := archive.TarWithOptions(req.ContextDir, &archive.TarOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create build context: %w", err)
	}
	defer buildContext.Close()

	buildArgs := make(map[string]*string, len(req.BuildArgs))
	for name, value := range req.BuildArgs {
		buildArgs[name] = &value
	}

	buildOptions := build.ImageBuildOptions{
		Tags:        tags,
		Dockerfile:  b.dockerfile,
		BuildArgs:   buildArgs,
		Labels:      req.Labels,
		Remove:      true,
		ForceRemove: true,
	}

	buildResponse, err := b.dockerClient.ImageBuild(ctx, buildContext, buildOptions)
	if err != nil {
		return nil, fmt.Errorf("docker build failed: %w", err)
	}
	defer buildResponse.Body.Close()

	if err := decodeStream(buildResponse.Body, func(line string) {
		b.logger.Debug("build output", "line", strings.TrimRight(line, "\n"))
	}); err != nil {
		return nil, fmt.Errorf("docker build failed: %w", err)
	}

	out, err := b.inspect(ctx, req.Refs)
	if err != nil {
		return nil, err
	}

	b.logger.Info("image built", "image_id", out.ImageID[:19], "size", out.Size)
	return out, nil
}

// inspect resolves every ref to its image ID and verifies they all point at
// the identical image.
func (b *Builder) inspect(ctx context.Context, refs []types.ImageRef) (*BuildOutput, error) {
	var out BuildOutput
	for _, ref := range refs {
		imageInspect, err := b.dockerClient.ImageInspect(ctx, ref.String())
		if err != nil {
			return nil, fmt.Errorf("failed to inspect image %s: %w", ref, err)
		}
		if out.ImageID == "" {
			out.ImageID = imageInspect.ID
			out.Size = imageInspect.Size
			continue
		}
		if imageInspect.ID != out.ImageID {
			return nil, fmt.Errorf("tag %s resolves to %s, expected %s", ref, imageInspect.ID, out.ImageID)
		}
	}
	return &out, nil
}

// VerifyExposedPort checks that the built image exposes the port the
// deploy environment expects (8065 for the bot).
func (b *Builder) VerifyExposedPort(ctx context.Context, ref types.ImageRef, port nat.Port) error {
	imageInspect, err := b.dockerClient.ImageInspect(ctx, ref.String())
	if err != nil {
		return fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}
	if imageInspect.Config == nil {
		return fmt.Errorf("image %s has no config", ref)
	}
	for exposed := range imageInspect.Config.ExposedPorts {
		if string(exposed) == string(port) {
			return nil
		}
	}
	return fmt.Errorf("image %s does not expose port %s", ref, port)
}

// Push pushes every ref to the registry in order. The push is all-or-
// nothing per tag: a failed push of a later ref leaves the earlier refs in
// the registry (no compensating delete is issued) but still fails the run.
// The refs that landed before the failure are returned either way.
func (b *Builder) Push(ctx context.Context, refs []types.ImageRef, encodedAuth string) ([]types.ImageRef, error) {
	var pushed []types.ImageRef
	for _, ref := range refs {
		b.logger.Info("pushing image", "ref", ref.String())

		pushResponse, err := b.dockerClient.ImagePush(ctx, ref.String(), imagetypes.PushOptions{
			RegistryAuth: encodedAuth,
		})
		if err != nil {
			return pushed, fmt.Errorf("docker push failed for %s: %w", ref, err)
		}

		err = decodeStream(pushResponse, func(line string) {
			b.logger.Debug("push output", "line", line)
		})
		pushResponse.Close()
		if err != nil {
			return pushed, fmt.Errorf("docker push failed for %s: %w", ref, err)
		}

		pushed = append(pushed, ref)
	}
	return pushed, nil
}
