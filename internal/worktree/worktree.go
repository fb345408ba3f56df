// Package worktree manages per-agent Git worktrees so that many workers can
// mutate the shared source tree concurrently without file-level contention,
// shelling out to git via os/exec.
package worktree

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrWorktreeCreate = errors.New("worktree create failed")
	ErrWorktreeRemove = errors.New("worktree remove failed")
)

// Info describes a single worktree.
type Info struct {
	Path    string
	Branch  string
	AgentID string
	IsMain  bool
}

// Manager is the exclusive owner of the agentID -> path mapping: a
// function, at most one active worktree per agent.
type Manager struct {
	repoPath     string
	worktreeBase string

	mu      sync.Mutex
	byAgent map[string]string
}

func New(repoPath string, worktreeBase string) (*Manager, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, errors.Wrap(err, "resolve repo path")
	}
	base := worktreeBase
	if base == "" {
		base = filepath.Join(abs, ".worktrees")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, errors.Wrap(err, "create worktree base dir")
	}
	return &Manager{repoPath: abs, worktreeBase: base, byAgent: make(map[string]string)}, nil
}

// sanitize replaces "/" and spaces with "-" so a branch name is safe to
// use as a worktree directory component.
func sanitize(branch string) string {
	r := strings.NewReplacer("/", "-", " ", "-")
	return r.Replace(branch)
}

func (m *Manager) run(ctx context.Context, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoPath
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Create allocates a worktree at <worktreeBase>/<sanitized-branch> (the
// base defaults to <repo>/.worktrees),
// forking branchName from baseBranch if it does not yet exist. If the
// directory already exists it is reused and re-associated with agentID.
func (m *Manager) Create(ctx context.Context, branchName, agentID, baseBranch string) (string, error) {
	if baseBranch == "" {
		baseBranch = "main"
	}
	safe := sanitize(branchName)
	path := filepath.Join(m.worktreeBase, safe)

	if _, err := os.Stat(path); err == nil {
		m.mu.Lock()
		if agentID != "" {
			m.byAgent[agentID] = path
		}
		m.mu.Unlock()
		return path, nil
	}

	if _, _, err := m.run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+branchName); err != nil {
		if _, stderr, err := m.run(ctx, "branch", branchName, baseBranch); err != nil {
			return "", errors.Wrapf(ErrWorktreeCreate, "create branch %q from %q: %s", branchName, baseBranch, stderr)
		}
	}

	if _, stderr, err := m.run(ctx, "worktree", "add", path, branchName); err != nil {
		return "", errors.Wrapf(ErrWorktreeCreate, "%s", stderr)
	}

	m.mu.Lock()
	if agentID != "" {
		m.byAgent[agentID] = path
	}
	m.mu.Unlock()
	return path, nil
}

// Remove detaches the worktree at path; if detach fails and the directory
// still exists, it is force-removed and stale refs are pruned.
func (m *Manager) Remove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove", path}
	if force {
		args = append(args, "--force")
	}
	if _, stderr, err := m.run(ctx, args...); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return errors.Wrapf(ErrWorktreeRemove, "%s; fallback rmtree: %v", stderr, rmErr)
			}
		} else {
			return errors.Wrapf(ErrWorktreeRemove, "%s", stderr)
		}
	}

	m.mu.Lock()
	for agentID, p := range m.byAgent {
		if p == path {
			delete(m.byAgent, agentID)
		}
	}
	m.mu.Unlock()
	return nil
}

// List parses `git worktree list --porcelain` into Info records.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	stdout, stderr, err := m.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, errors.Wrapf(ErrWorktreeRemove, "list worktrees: %s", stderr)
	}

	m.mu.Lock()
	pathToAgent := make(map[string]string, len(m.byAgent))
	for agent, path := range m.byAgent {
		pathToAgent[path] = agent
	}
	m.mu.Unlock()

	var out []Info
	var curPath, curBranch string
	flush := func() {
		if curPath == "" {
			return
		}
		out = append(out, Info{
			Path:    curPath,
			Branch:  curBranch,
			AgentID: pathToAgent[curPath],
			IsMain:  curPath == m.repoPath,
		})
		curPath, curBranch = "", ""
	}

	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			curPath = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			curBranch = strings.TrimPrefix(line, "branch refs/heads/")
		}
	}
	flush()
	return out, nil
}

// PathFor returns the worktree assigned to agentID, if any.
func (m *Manager) PathFor(agentID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byAgent[agentID]
	return p, ok
}

// CleanupAll removes every non-main worktree and prunes stale references,
// used at shutdown or project completion.
func (m *Manager) CleanupAll(ctx context.Context) error {
	list, err := m.List(ctx)
	if err != nil {
		return err
	}
	for _, wt := range list {
		if !wt.IsMain {
			if err := m.Remove(ctx, wt.Path, true); err != nil {
				return err
			}
		}
	}
	_, _, _ = m.run(ctx, "worktree", "prune")

	m.mu.Lock()
	m.byAgent = make(map[string]string)
	m.mu.Unlock()
	return nil
}
