// Package publish commits exported files to a git repository and
// pushes them to a remote, so exports can feed a dataset repo.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/midah/vscsync/internal/config"
)

// ErrNotARepo indicates the configured repo directory has no .git.
var ErrNotARepo = errors.New("publish directory is not a git repository")

const execTimeout = 60 * time.Second

// Publisher stages, commits and pushes exports.
type Publisher struct {
	repoDir string
	remote  string
	branch  string
	logger  *log.Logger
}

// New builds a publisher from the publish configuration. The repo
// directory must already be a clone with the remote configured.
func New(cfg config.PublishConfig, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.New(os.Stderr, "[publish] ", log.LstdFlags)
	}
	remote := cfg.Remote
	if remote == "" {
		remote = "origin"
	}
	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}
	return &Publisher{
		repoDir: cfg.RepoDir,
		remote:  remote,
		branch:  branch,
		logger:  logger,
	}
}

// Publish stages everything under the repo, commits if anything
// changed, and pushes. A run with no changes is a no-op and returns
// (false, nil).
func (p *Publisher) Publish(ctx context.Context, message string) (bool, error) {
	if fi, err := os.Stat(p.repoDir); err != nil || !fi.IsDir() {
		return false, fmt.Errorf("%w: %s", ErrNotARepo, p.repoDir)
	}
	if _, err := os.Stat(p.repoDir + "/.git"); err != nil {
		return false, fmt.Errorf("%w: %s", ErrNotARepo, p.repoDir)
	}

	if _, err := p.git(ctx, "add", "-A"); err != nil {
		return false, fmt.Errorf("git add failed: %w", err)
	}

	// Exit status 1 from diff --cached --quiet means staged changes.
	if _, err := p.git(ctx, "diff", "--cached", "--quiet"); err == nil {
		p.logger.Println("No changes to publish")
		return false, nil
	}

	if message == "" {
		message = fmt.Sprintf("Update exports %s", time.Now().UTC().Format(time.RFC3339))
	}
	if _, err := p.git(ctx, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("git commit failed: %w", err)
	}

	if _, err := p.git(ctx, "push", p.remote, p.branch); err != nil {
		return false, fmt.Errorf("git push failed: %w", err)
	}

	p.logger.Printf("Published exports to %s/%s", p.remote, p.branch)
	return true, nil
}

// Commit stages and commits without pushing, for offline use.
func (p *Publisher) Commit(ctx context.Context, message string) (bool, error) {
	if _, err := p.git(ctx, "add", "-A"); err != nil {
		return false, fmt.Errorf("git add failed: %w", err)
	}
	if _, err := p.git(ctx, "diff", "--cached", "--quiet"); err == nil {
		return false, nil
	}
	if message == "" {
		message = fmt.Sprintf("Update exports %s", time.Now().UTC().Format(time.RFC3339))
	}
	if _, err := p.git(ctx, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("git commit failed: %w", err)
	}
	return true, nil
}

// git runs a git subcommand in the repo directory with a timeout,
// returning stdout and folding stderr into the error.
func (p *Publisher) git(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = p.repoDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
