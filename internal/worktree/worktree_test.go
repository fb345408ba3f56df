package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitize_ReplacesSlashesAndSpaces(t *testing.T) {
	require.Equal(t, "feature-foo-bar", sanitize("feature/foo bar"))
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init", "-q", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "README.md")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestManager_CreateReuseRemoveList(t *testing.T) {
	repo := initRepo(t)
	base := filepath.Join(repo, ".worktrees")
	m, err := New(repo, base)
	require.NoError(t, err)
	ctx := context.Background()

	path, err := m.Create(ctx, "agent/alpha", "agent-1", "main")
	require.NoError(t, err)
	require.DirExists(t, path)

	got, ok := m.PathFor("agent-1")
	require.True(t, ok)
	require.Equal(t, path, got)

	// Re-creating with the same branch reuses the existing directory.
	again, err := m.Create(ctx, "agent/alpha", "agent-1", "main")
	require.NoError(t, err)
	require.Equal(t, path, again)

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(list), 2) // main + the new worktree

	require.NoError(t, m.Remove(ctx, path, true))
	_, ok = m.PathFor("agent-1")
	require.False(t, ok)
}

func TestManager_CleanupAll(t *testing.T) {
	repo := initRepo(t)
	m, err := New(repo, filepath.Join(repo, ".worktrees"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.Create(ctx, "agent/beta", "agent-2", "main")
	require.NoError(t, err)

	require.NoError(t, m.CleanupAll(ctx))
	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1) // only main remains
}
