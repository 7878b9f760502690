// Package source materializes an exact commit of the bot's repository into
// a clean per-run workspace.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Checkout is the result of a completed source acquisition: the working
// tree on disk and the resolved commit hash.
type Checkout struct {
	Dir       string
	CommitSHA string // full hash of the checked-out commit
}

// Fetcher clones repositories into a work directory.
type Fetcher struct {
	logger  *slog.Logger
	workDir string
	token   string // access token for private repositories, may be empty
}

// NewFetcher creates a Fetcher rooted at workDir.
func NewFetcher(workDir, token string, logger *slog.Logger) (*Fetcher, error) {
	if workDir == "" {
		workDir = "/tmp/botship-builds"
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	return &Fetcher{logger: logger, workDir: workDir, token: token}, nil
}

// Fetch clones repository ("org/repo") and checks out ref, which may be a
// commit hash, branch or tag. It returns the checkout and a cleanup
// function that removes the working tree. Transient network failures are
// not retried; they propagate as run failure.
func (f *Fetcher) Fetch(ctx context.Context, repository, ref string) (*Checkout, func(), error) {
	buildDir := filepath.Join(f.workDir, fmt.Sprintf("build-%d", time.Now().UnixNano()))
	if err := os.MkdirAll(buildDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create build directory: %w", err)
	}

	cleanup := func() {
		if err := os.RemoveAll(buildDir); err != nil {
			f.logger.Warn("failed to cleanup build directory", "dir", buildDir, "error", err)
		}
	}

	repoURL := fmt.Sprintf("https://github.com/%s.git", repository)
	f.logger.Debug("cloning repository", "url", repoURL, "ref", ref)

	var auth *githttp.BasicAuth
	if f.token != "" {
		auth = &githttp.BasicAuth{Username: "x-access-token", Password: f.token}
	}

	repo, err := git.PlainCloneContext(ctx, buildDir, false, &git.CloneOptions{
		URL:  repoURL,
		Auth: auth,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("git clone failed: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	if ref != "" {
		hash, err := resolveRef(repo, ref)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		if err := worktree.Checkout(&git.CheckoutOptions{Hash: hash}); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("git checkout failed: %w", err)
		}
	}

	head, err := repo.Head()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	commit := head.Hash().String()
	f.logger.Debug("repository checked out", "commit", commit)

	return &Checkout{Dir: buildDir, CommitSHA: commit}, cleanup, nil
}

// resolveRef maps a commit hash, branch or tag to a commit hash.
func resolveRef(repo *git.Repository, ref string) (plumbing.Hash, error) {
	if plumbing.IsHash(ref) {
		return plumbing.NewHash(ref), nil
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to resolve ref %q: %w", ref, err)
	}
	return *hash, nil
}
