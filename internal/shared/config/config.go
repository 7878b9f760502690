package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// BaseConfig contains common configuration for all services
type BaseConfig struct {
	ServiceName string `env:"SERVICE_NAME"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // development, staging, production
}

// PipelineConfig contains configuration for the build-and-publish pipeline.
// Secrets (registry token, webhook URL, database URL, repo token) are
// sourced from the environment and never logged in cleartext.
type PipelineConfig struct {
	BaseConfig `envPrefix:"PIPELINE_"`

	// Source
	Repository string `env:"PIPELINE_REPOSITORY" required:"true"` // "org/repo"
	Ref        string `env:"PIPELINE_REF"`                        // commit, branch or tag; repo default branch when empty
	RepoToken  string `env:"PIPELINE_REPO_TOKEN"`                 // access token for private repositories
	WorkDir    string `env:"PIPELINE_WORK_DIR" envDefault:"/tmp/botship-builds"`

	// Image
	Dockerfile        string `env:"PIPELINE_DOCKERFILE" envDefault:"Dockerfile"`
	ImageName         string `env:"PIPELINE_IMAGE_NAME" required:"true"`
	ImageOrganization string `env:"PIPELINE_IMAGE_ORG" required:"true"`
	Version           string `env:"PIPELINE_VERSION"` // release tag; "latest" when empty
	ServicePort       int    `env:"PIPELINE_SERVICE_PORT" envDefault:"8065"`

	// Image details surfaced as provenance labels
	ImageTitle       string `env:"PIPELINE_IMAGE_TITLE" envDefault:"chatbot"`
	ImageDescription string `env:"PIPELINE_IMAGE_DESCRIPTION" envDefault:"Mattermost chat automation service"`
	ImageAuthors     string `env:"PIPELINE_IMAGE_AUTHORS"`
	ImageVendor      string `env:"PIPELINE_IMAGE_VENDOR"`
	ImageLicense     string `env:"PIPELINE_IMAGE_LICENSE" envDefault:"MIT"`

	// Registry
	RegistryHost     string `env:"PIPELINE_REGISTRY_HOST" required:"true"`
	RegistryUsername string `env:"PIPELINE_REGISTRY_USERNAME" required:"true"`
	RegistryToken    string `env:"PIPELINE_REGISTRY_TOKEN" required:"true"`

	// Recipe validation: "strict" fails the run when a label references an
	// unsupplied build argument, "allow-empty" keeps the silent-empty
	// behavior of the reviewed recipe.
	LabelValidation     string `env:"PIPELINE_LABEL_VALIDATION" envDefault:"allow-empty"`
	RequireUnprivileged bool   `env:"PIPELINE_REQUIRE_UNPRIVILEGED" envDefault:"true"`

	// Notification
	WebhookURL         string `env:"PIPELINE_WEBHOOK_URL" required:"true"`
	NotifyChannel      string `env:"PIPELINE_NOTIFY_CHANNEL" required:"true"`
	BotName            string `env:"PIPELINE_BOT_NAME" envDefault:"release-bot"`
	ServerURL          string `env:"PIPELINE_SERVER_URL" required:"true"` // run-detail deep links
	NotifyIncludeStage bool   `env:"PIPELINE_NOTIFY_INCLUDE_STAGE" envDefault:"false"`

	// Run history (optional; disabled when unset)
	DatabaseURL string `env:"PIPELINE_DATABASE_URL"`
	// LatestGuard refuses to overwrite the floating tag with a commit older
	// than the last recorded successful push. Requires the run store.
	LatestGuard bool `env:"PIPELINE_LATEST_GUARD" envDefault:"false"`

	// Stage timeouts; a timeout is run failure.
	CheckoutTimeout time.Duration `env:"PIPELINE_CHECKOUT_TIMEOUT_MS" envDefault:"5m"`
	BuildTimeout    time.Duration `env:"PIPELINE_BUILD_TIMEOUT_MS" envDefault:"30m"`
	PushTimeout     time.Duration `env:"PIPELINE_PUSH_TIMEOUT_MS" envDefault:"10m"`
	NotifyTimeout   time.Duration `env:"PIPELINE_NOTIFY_TIMEOUT_MS" envDefault:"30s"`
}

// DaemonConfig contains configuration for the event-triggered daemon.
type DaemonConfig struct {
	PipelineConfig
	NATS NATSConfig `envPrefix:"PIPELINED_"`
}

// NATSConfig contains configuration for NATS messaging
type NATSConfig struct {
	URLs          []string      `env:"NATS_URLS" envSeparator:"," envDefault:"nats://localhost:4222"`
	MaxReconnects int           `env:"NATS_MAX_RECONNECTS" envDefault:"-1"`
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT_MS" envDefault:"2s"`
	Timeout       time.Duration `env:"NATS_TIMEOUT_MS" envDefault:"5s"`
}

// LoadPipelineConfig loads configuration for a one-shot pipeline run
func LoadPipelineConfig() (*PipelineConfig, error) {
	config, err := env.ParseAs[PipelineConfig]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse Pipeline config: %w", err)
	}

	// Set service name if not provided
	if config.ServiceName == "" {
		config.ServiceName = "pipeline"
	}

	return &config, nil
}

// LoadDaemonConfig loads configuration for the event-triggered daemon
func LoadDaemonConfig() (*DaemonConfig, error) {
	config, err := env.ParseAs[DaemonConfig]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse Daemon config: %w", err)
	}

	if config.ServiceName == "" {
		config.ServiceName = "pipelined"
	}

	return &config, nil
}
