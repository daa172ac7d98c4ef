// Package vcs reads release information from the deployment's git working tree.
package vcs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"upgrader/internal/runner"
)

// DefaultVersionLimit is used when ListVersions is called with a non-positive limit.
const DefaultVersionLimit = 30

const queryTimeout = 2 * time.Minute

// Source provides the release tags and working-tree state of a deployment.
type Source interface {
	// ListVersions returns up to limit tags, newest first. Failures yield an empty slice.
	ListVersions(ctx context.Context, limit int) []string
	// CurrentRef describes the checked-out revision, or "" when it cannot be determined.
	CurrentRef(ctx context.Context) string
	// TagExists reports whether version names a tag, along with the command output.
	TagExists(ctx context.Context, version string) (bool, string)
	// Clean reports whether tracked files are unmodified. err is set when the
	// state could not be read at all.
	Clean(ctx context.Context) (clean bool, output string, err error)
}

// Git implements Source by shelling out to git in Root.
type Git struct {
	runner runner.Runner
	root   string
	logger *slog.Logger
}

// NewGit creates a Git source for the working tree at root.
func NewGit(r runner.Runner, root string) *Git {
	return &Git{
		runner: r,
		root:   root,
		logger: slog.With("component", "vcs", "root", root),
	}
}

// Root returns the working tree path.
func (g *Git) Root() string {
	return g.root
}

func (g *Git) git(ctx context.Context, args ...string) runner.Result {
	return g.runner.Run(ctx, runner.Command{
		Args:    append([]string{"git"}, args...),
		Dir:     g.root,
		Timeout: queryTimeout,
	})
}

func (g *Git) ListVersions(ctx context.Context, limit int) []string {
	if limit <= 0 {
		limit = DefaultVersionLimit
	}

	res := g.git(ctx, "tag", "--list")
	if !res.OK {
		g.logger.Warn("Failed to list tags", "exitCode", res.ExitCode, "output", res.Output)
		return []string{}
	}

	tags := make([]string, 0)
	for _, line := range strings.Split(res.Output, "\n") {
		if tag := strings.TrimSpace(line); tag != "" {
			tags = append(tags, tag)
		}
	}

	SortDescending(tags)
	if len(tags) > limit {
		tags = tags[:limit]
	}
	return tags
}

func (g *Git) CurrentRef(ctx context.Context) string {
	res := g.git(ctx, "describe", "--tags", "--always")
	if !res.OK {
		return ""
	}
	return strings.TrimSpace(res.Output)
}

func (g *Git) TagExists(ctx context.Context, version string) (bool, string) {
	res := g.git(ctx, "show-ref", "--verify", "--quiet", "refs/tags/"+version)
	return res.OK, res.Output
}

func (g *Git) Clean(ctx context.Context) (bool, string, error) {
	res := g.git(ctx, "status", "--porcelain", "--untracked-files=no")
	if !res.OK {
		return false, res.Output, fmt.Errorf("git status exited with %d", res.ExitCode)
	}
	out := strings.TrimSpace(res.Output)
	return out == "", out, nil
}

// Ready verifies that Root is a git working tree.
func (g *Git) Ready(ctx context.Context) error {
	res := g.git(ctx, "rev-parse", "--is-inside-work-tree")
	if !res.OK || strings.TrimSpace(res.Output) != "true" {
		return fmt.Errorf("%s is not a git working tree: %s", g.root, res.Output)
	}
	return nil
}

var _ Source = (*Git)(nil)
