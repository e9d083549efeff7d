// Package worktree wraps git worktree for per-sub-spec working copies. The
// manifest merely stores the resulting path; branch naming follows
// {metaSpecId}-{subSpecId}.
package worktree

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"specloom/internal/domain"
)

type Manager struct {
	// RepoPath is the primary checkout worktrees are created from.
	RepoPath string
	// BaseDir is where new worktrees are placed, one directory per branch.
	BaseDir string
}

func (m Manager) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = m.RepoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// Add creates a worktree and branch for the sub-spec and returns its path.
// If the branch already exists it is checked out instead of recreated.
func (m Manager) Add(metaSpecID, subSpecID string) (string, error) {
	if _, err := m.git("rev-parse", "--git-dir"); err != nil {
		return "", fmt.Errorf("%s is not a git repository", m.RepoPath)
	}
	branch := domain.BranchName(metaSpecID, subSpecID)
	path, err := filepath.Abs(filepath.Join(m.BaseDir, branch))
	if err != nil {
		return "", err
	}
	if _, err := m.git("rev-parse", "--verify", "refs/heads/"+branch); err == nil {
		if _, err := m.git("worktree", "add", path, branch); err != nil {
			return "", err
		}
		return path, nil
	}
	if _, err := m.git("worktree", "add", "-b", branch, path); err != nil {
		return "", err
	}
	return path, nil
}

// Remove detaches the worktree for the sub-spec. The branch is kept; branch
// cleanup after merge is a separate concern.
func (m Manager) Remove(metaSpecID, subSpecID string) error {
	branch := domain.BranchName(metaSpecID, subSpecID)
	path, err := filepath.Abs(filepath.Join(m.BaseDir, branch))
	if err != nil {
		return err
	}
	_, err = m.git("worktree", "remove", "--force", path)
	return err
}

// List returns the worktree paths git knows about for the repo.
func (m Manager) List() ([]string, error) {
	out, err := m.git("worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, rest)
		}
	}
	return paths, nil
}
