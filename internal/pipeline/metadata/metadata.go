package metadata

import (
	"fmt"
	"strings"
	"time"

	"github.com/botship/botship/internal/pipeline/types"
)

// shortSHALen matches the abbreviation length used by the checkout tool so
// the revision label and the immutable tag never disagree.
const shortSHALen = 7

// OCI label keys written into every built image. This is a public contract:
// any consumer can recover the exact commit and build time of a tag by
// inspecting its labels.
const (
	LabelTitle       = "org.opencontainers.image.title"
	LabelDescription = "org.opencontainers.image.description"
	LabelSource      = "org.opencontainers.image.source"
	LabelURL         = "org.opencontainers.image.url"
	LabelVersion     = "org.opencontainers.image.version"
	LabelRevision    = "org.opencontainers.image.revision"
	LabelAuthors     = "org.opencontainers.image.authors"
	LabelVendor      = "org.opencontainers.image.vendor"
	LabelLicenses    = "org.opencontainers.image.licenses"
	LabelCreated     = "org.opencontainers.image.created"
)

// Build arguments consumed by the recipe's LABEL directives. The recipe
// declares the binding once; arguments it does not declare are silently
// omitted from the image.
const (
	ArgVersion   = "VERSION"
	ArgRevision  = "REVISION"
	ArgCreated   = "CREATED"
	ArgSourceURL = "SOURCE_URL"
)

// ImageDetails describes the image this pipeline publishes, independent of
// any single run.
type ImageDetails struct {
	Title       string
	Description string
	Authors     string
	Vendor      string
	License     string
}

// Derive computes the BuildContext for a run. It is a pure function of
// (repository, commit hash, now, version): no external state, so a run can
// compute it exactly once and thread it unchanged through build, label and
// tag steps.
func Derive(repository, commitSHA string, now time.Time, version string) (types.BuildContext, error) {
	if repository == "" {
		return types.BuildContext{}, fmt.Errorf("repository is required")
	}
	if len(commitSHA) < shortSHALen {
		return types.BuildContext{}, fmt.Errorf("commit hash %q is shorter than the %d-char abbreviation", commitSHA, shortSHALen)
	}
	if version == "" {
		version = "latest"
	}

	return types.BuildContext{
		Repository: repository,
		CommitSHA:  commitSHA,
		ShortSHA:   commitSHA[:shortSHALen],
		CreatedAt:  now.UTC().Format("2006-01-02T15:04:05Z"),
		Version:    version,
	}, nil
}

// Labels renders the provenance label set for a run. Every key maps to a
// non-empty value when the corresponding detail is supplied.
func Labels(bc types.BuildContext, details ImageDetails) map[string]string {
	return map[string]string{
		LabelTitle:       details.Title,
		LabelDescription: details.Description,
		LabelSource:      bc.SourceURL(),
		LabelURL:         bc.SourceURL(),
		LabelVersion:     bc.Version,
		LabelRevision:    bc.ShortSHA,
		LabelAuthors:     details.Authors,
		LabelVendor:      details.Vendor,
		LabelLicenses:    details.License,
		LabelCreated:     bc.CreatedAt,
	}
}

// BuildArgs returns the build-argument map passed to the image build. The
// recipe consumes these to populate its LABEL directives.
func BuildArgs(bc types.BuildContext) map[string]string {
	return map[string]string{
		ArgVersion:   bc.Version,
		ArgRevision:  bc.ShortSHA,
		ArgCreated:   bc.CreatedAt,
		ArgSourceURL: bc.SourceURL(),
	}
}

// ImageRefs returns the two references assigned to the single built image:
// the floating "latest" alias and the immutable commit tag.
func ImageRefs(bc types.BuildContext, registry, organization, name string) []types.ImageRef {
	base := types.ImageRef{
		Registry:     registry,
		Organization: organization,
		Name:         strings.ToLower(name),
	}

	floating := base
	floating.Tag = "latest"

	immutable := base
	immutable.Tag = bc.ShortSHA

	return []types.ImageRef{floating, immutable}
}
