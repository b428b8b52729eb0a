// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package publisher wraps the version-control side of a sweep: clones,
// work branches, commits, pushes, and pull requests. The control plane
// treats these as an opaque capability; this implementation shells out
// to git and the gh CLI.
package publisher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/heimgewebe/sichter/pkg/adapters"
	"github.com/heimgewebe/sichter/pkg/common"
)

// BranchPrefix is the namespace for generated work branches.
const BranchPrefix = "sichter/autofix-"

// DefaultBranch is the assumed default remote branch.
const DefaultBranch = "main"

// Publisher is the version-control capability used by the job processor.
type Publisher interface {
	// ListRepos enumerates the repository names of an org via the forge.
	ListRepos(ctx context.Context, org string) ([]string, error)
	// LocalRepos lists the locally-cloned repository names.
	LocalRepos() ([]string, error)
	// EnsureClone makes sure a working tree exists and returns its path.
	EnsureClone(ctx context.Context, org, repo string) (string, error)
	// FreshBranch creates a new work branch off the default remote branch.
	FreshBranch(ctx context.Context, repoDir string) (string, error)
	// ChangedFiles lists paths changed vs. the default remote branch.
	ChangedFiles(ctx context.Context, repoDir string) ([]string, error)
	// CommitIfChanges stages everything and commits when the tree differs
	// from HEAD; reports whether a commit was made.
	CommitIfChanges(ctx context.Context, repoDir, message string) (bool, error)
	// Push publishes the branch with lease-safe force semantics.
	Push(ctx context.Context, repoDir, branch string) error
	// CreateOrUpdatePR opens a pull request for the branch, or returns
	// the existing one, and yields its URL.
	CreateOrUpdatePR(ctx context.Context, repoDir, repo, branch string) (string, error)
}

// GitHub publishes through git and the gh CLI. Working trees live under
// base, one directory per repository name.
type GitHub struct {
	base   string
	runner common.Runner
	logger adapters.Logger
	now    func() time.Time
}

// NewGitHub creates a publisher over the given clone base directory.
func NewGitHub(base string, runner common.Runner, logger adapters.Logger) *GitHub {
	if logger == nil {
		logger = adapters.NewNoOpLogger()
	}
	return &GitHub{base: base, runner: runner, logger: logger, now: time.Now}
}

// ListRepos asks the forge for the org's repositories.
func (g *GitHub) ListRepos(ctx context.Context, org string) ([]string, error) {
	result, err := g.runner.Run(ctx, "", "gh", "repo", "list", org,
		"--limit", "100", "--json", "name", "-q", ".[].name")
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("failed to list repositories: %s", strings.TrimSpace(result.Stderr))
	}

	var repos []string
	for _, line := range strings.Split(result.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			repos = append(repos, line)
		}
	}
	return repos, nil
}

// LocalRepos lists the clone base's directories that hold a git tree.
func (g *GitHub) LocalRepos() ([]string, error) {
	entries, err := os.ReadDir(g.base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list clone base: %w", err)
	}

	var repos []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(g.base, entry.Name(), ".git")); err == nil {
			repos = append(repos, entry.Name())
		}
	}
	return repos, nil
}

// EnsureClone clones org/repo under the base unless a tree already exists.
func (g *GitHub) EnsureClone(ctx context.Context, org, repo string) (string, error) {
	dir := filepath.Join(g.base, repo)
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return dir, nil
	}

	result, err := g.runner.Run(ctx, "", "gh", "repo", "clone", org+"/"+repo, dir)
	if err != nil {
		return "", fmt.Errorf("failed to clone %s/%s: %w", org, repo, err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("failed to clone %s/%s: %s", org, repo, strings.TrimSpace(result.Stderr))
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return "", fmt.Errorf("clone of %s/%s left no git tree", org, repo)
	}
	return dir, nil
}

// FreshBranch fetches, detaches onto the default remote branch, and
// creates a timestamped work branch there.
func (g *GitHub) FreshBranch(ctx context.Context, repoDir string) (string, error) {
	g.git(ctx, repoDir, "fetch", "origin", "--prune", "--tags")

	if r, err := g.git(ctx, repoDir, "switch", "--detach", "origin/"+DefaultBranch); err != nil || r.ExitCode != 0 {
		// Older git lacks switch.
		if r, err := g.git(ctx, repoDir, "checkout", "--detach", "origin/"+DefaultBranch); err != nil || r.ExitCode != 0 {
			return "", fmt.Errorf("failed to detach onto origin/%s: %s", DefaultBranch, gitFailure(r, err))
		}
	}

	branch := BranchPrefix + g.now().UTC().Format("20060102-150405")
	if r, err := g.git(ctx, repoDir, "switch", "-C", branch); err != nil || r.ExitCode != 0 {
		if r, err := g.git(ctx, repoDir, "checkout", "-B", branch); err != nil || r.ExitCode != 0 {
			return "", fmt.Errorf("failed to create branch %s: %s", branch, gitFailure(r, err))
		}
	}
	return branch, nil
}

// ChangedFiles diffs HEAD against the default remote branch.
func (g *GitHub) ChangedFiles(ctx context.Context, repoDir string) ([]string, error) {
	result, err := g.git(ctx, repoDir, "diff", "--name-only", "origin/"+DefaultBranch+"...HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to diff against origin/%s: %w", DefaultBranch, err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("failed to diff against origin/%s: %s", DefaultBranch, strings.TrimSpace(result.Stderr))
	}

	var files []string
	for _, line := range strings.Split(result.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// CommitIfChanges stages the whole tree and commits when anything is staged.
func (g *GitHub) CommitIfChanges(ctx context.Context, repoDir, message string) (bool, error) {
	if _, err := g.git(ctx, repoDir, "add", "-A"); err != nil {
		return false, fmt.Errorf("failed to stage changes: %w", err)
	}

	diff, err := g.git(ctx, repoDir, "diff", "--cached", "--quiet")
	if err != nil {
		return false, fmt.Errorf("failed to check staged changes: %w", err)
	}
	if diff.ExitCode == 0 {
		return false, nil
	}

	commit, err := g.git(ctx, repoDir, "commit", "-m", message)
	if err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	if commit.ExitCode != 0 {
		return false, fmt.Errorf("failed to commit: %s", strings.TrimSpace(commit.Stderr))
	}
	return true, nil
}

// Push publishes the branch, refusing to clobber remote work.
func (g *GitHub) Push(ctx context.Context, repoDir, branch string) error {
	result, err := g.git(ctx, repoDir, "push", "--set-upstream", "origin", branch, "--force-with-lease")
	if err != nil {
		return fmt.Errorf("failed to push %s: %w", branch, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("failed to push %s: %s", branch, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// CreateOrUpdatePR returns the branch's PR, creating one when none exists.
func (g *GitHub) CreateOrUpdatePR(ctx context.Context, repoDir, repo, branch string) (string, error) {
	if url := g.prURL(ctx, repoDir, branch); url != "" {
		return url, nil
	}

	result, err := g.runner.Run(ctx, repoDir, "gh", "pr", "create",
		"--base", DefaultBranch, "--fill",
		"--title", fmt.Sprintf("Sichter: auto PR (%s)", repo),
		"--label", "sichter", "--label", "automation")
	if err != nil {
		return "", fmt.Errorf("failed to create pull request: %w", err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("failed to create pull request: %s", strings.TrimSpace(result.Stderr))
	}

	if url := g.prURL(ctx, repoDir, branch); url != "" {
		return url, nil
	}
	return "", fmt.Errorf("pull request for %s created but not resolvable", branch)
}

func (g *GitHub) prURL(ctx context.Context, repoDir, branch string) string {
	result, err := g.runner.Run(ctx, repoDir, "gh", "pr", "view", branch, "--json", "url", "-q", ".url")
	if err != nil || result.ExitCode != 0 {
		return ""
	}
	return strings.TrimSpace(result.Stdout)
}

func (g *GitHub) git(ctx context.Context, repoDir string, args ...string) (common.Result, error) {
	return g.runner.Run(ctx, repoDir, "git", args...)
}

func gitFailure(r common.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	return strings.TrimSpace(r.Stderr)
}
