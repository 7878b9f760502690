// Package registry handles authentication against the target image
// registry. Login runs before the build stage so credential failures are
// discovered before any build time is spent.
package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	regtypes "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
)

// Credentials is a username/token pair sourced from the environment. The
// token is never logged.
type Credentials struct {
	Host     string
	Username string
	Token    string
}

// Authenticator exchanges credentials for registry push access.
type Authenticator struct {
	logger       *slog.Logger
	dockerClient *client.Client
	creds        Credentials
}

// NewAuthenticator creates an Authenticator using the given docker client.
func NewAuthenticator(dockerClient *client.Client, creds Credentials, logger *slog.Logger) *Authenticator {
	return &Authenticator{logger: logger, dockerClient: dockerClient, creds: creds}
}

// Login verifies the credentials against the registry host. A failure here
// is terminal for the run and must short-circuit to the failure
// notification without attempting a build.
func (a *Authenticator) Login(ctx context.Context) error {
	auth := regtypes.AuthConfig{
		Username:      a.creds.Username,
		Password:      a.creds.Token,
		ServerAddress: a.creds.Host,
	}

	resp, err := a.dockerClient.RegistryLogin(ctx, auth)
	if err != nil {
		return fmt.Errorf("registry login failed for %s: %w", a.creds.Host, err)
	}

	a.logger.Info("registry login succeeded", "registry", a.creds.Host, "status", resp.Status)
	return nil
}

// EncodedAuth returns the auth payload attached to push operations:
// base64 URL-encoded JSON, the format the docker API expects.
func (a *Authenticator) EncodedAuth() (string, error) {
	auth := regtypes.AuthConfig{
		Username:      a.creds.Username,
		Password:      a.creds.Token,
		ServerAddress: a.creds.Host,
	}

	encoded, err := json.Marshal(auth)
	if err != nil {
		return "", fmt.Errorf("failed to encode registry auth: %w", err)
	}
	return base64.URLEncoding.EncodeToString(encoded), nil
}
