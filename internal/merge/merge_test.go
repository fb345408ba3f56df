package merge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAutoResolve_StrategiesAndIdempotency(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.py")
	conflicted := "line1\n<<<<<<< HEAD\nY\n=======\nX\n>>>>>>> feat/a\nline3\n"
	require.NoError(t, os.WriteFile(path, []byte(conflicted), 0o644))

	r := &Resolver{repoPath: dir}
	// Skip the git add step by calling the pure resolve logic directly
	// through a repo-less resolver; git add will fail since dir isn't a
	// repo, so exercise parse+rewrite only.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)
	ours, theirs, ok := parseConflict(content)
	require.True(t, ok)
	require.Equal(t, "Y\n", ours)
	require.Equal(t, "X\n", theirs)

	resolvedTheirs := conflictPattern.ReplaceAllString(content, theirs)
	require.Equal(t, "line1\nX\nline3\n", resolvedTheirs)

	resolvedOurs := conflictPattern.ReplaceAllString(content, ours)
	require.Equal(t, "line1\nY\nline3\n", resolvedOurs)

	resolvedCombined := conflictPattern.ReplaceAllString(content, ours+theirs)
	require.Equal(t, "line1\nY\nX\nline3\n", resolvedCombined)

	// Idempotency: re-parsing the already-resolved content finds no hunk.
	_, _, ok = parseConflict(resolvedTheirs)
	require.False(t, ok)
	_ = r
}

func initConflictingRepo(t *testing.T) (repoPath, conflictedFile string) {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	file := filepath.Join(dir, "shared.txt")

	run("init", "-q", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(file, []byte("base\n"), 0o644))
	run("add", "shared.txt")
	run("commit", "-q", "-m", "initial")

	run("checkout", "-q", "-b", "feature")
	require.NoError(t, os.WriteFile(file, []byte("feature change\n"), 0o644))
	run("commit", "-q", "-am", "feature change")

	run("checkout", "-q", "main")
	require.NoError(t, os.WriteFile(file, []byte("main change\n"), 0o644))
	run("commit", "-q", "-am", "main change")

	return dir, "shared.txt"
}

// TestAutoResolve_ResolvesRelativeToRepoPathNotCWD guards against
// AutoResolve reading/writing the conflicted path relative to the
// process's current working directory instead of the resolver's
// repoPath, which is the normal case once the daemon runs with
// --repo-path pointed at a repo it isn't cwd'd into.
func TestAutoResolve_ResolvesRelativeToRepoPathNotCWD(t *testing.T) {
	repo, file := initConflictingRepo(t)

	elsewhere := t.TempDir()
	require.NotEqual(t, repo, elsewhere)
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(elsewhere))
	defer os.Chdir(cwd)

	r := New(repo)
	ctx := context.Background()

	result, err := r.MergeBranch(ctx, "feature", "main")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, []string{file}, result.RemainingConflicts)

	resolved, err := r.AutoResolve(ctx, file, StrategyTheirs)
	require.NoError(t, err)
	require.True(t, resolved)

	raw, err := os.ReadFile(filepath.Join(repo, file))
	require.NoError(t, err)
	require.Equal(t, "feature change\n", string(raw))
	require.NoFileExists(t, filepath.Join(elsewhere, file))

	status, stderr, err := r.run(ctx, "status", "--porcelain")
	require.NoErrorf(t, err, stderr)
	require.Empty(t, status, "resolved file should be staged, not left dirty")
}
